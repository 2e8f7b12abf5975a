package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skunkforce/node-agnostic-datastream-interface/descriptor"
	"github.com/skunkforce/node-agnostic-datastream-interface/envelope"
	"github.com/skunkforce/node-agnostic-datastream-interface/errors"
	"github.com/skunkforce/node-agnostic-datastream-interface/metric"
	"github.com/skunkforce/node-agnostic-datastream-interface/registry"
)

// receiverNode collects delivered envelopes and releases them, the way a
// well-behaved node does.
type receiverNode struct {
	received []*envelope.Envelope
}

func (n *receiverNode) Receive(env *envelope.Envelope) {
	n.received = append(n.received, env)
	env.Release()
}

func newTestGraph(t *testing.T) (*Router, *registry.Registry, envelope.Handle, *receiverNode) {
	t.Helper()

	reg := registry.New()
	node := &receiverNode{}
	h, err := reg.Create(node.Receive)
	require.NoError(t, err)

	desc := descriptor.New("1.0.0", "sink", descriptor.Channels{
		Input: []descriptor.Channel{
			{Number: 1, Name: "samples"},
			{Number: envelope.ChannelConfiguration, Name: "configuration"},
		},
		Output: []descriptor.Channel{},
	})
	require.NoError(t, reg.SetDescriptor(h, desc))

	return New(reg), reg, h, node
}

func TestSend_Success(t *testing.T) {
	r, _, h, node := newTestGraph(t)

	env := envelope.New(`{"k":1}`, []byte("payload"), 1, 99)
	require.NoError(t, r.Send(env, h))

	require.Len(t, node.received, 1)
	assert.True(t, env.Released(), "receiver must have released the envelope")
}

func TestSend_NeverCreatedHandle(t *testing.T) {
	r, _, _, node := newTestGraph(t)

	released := false
	env := envelope.New("{}", nil, 1, 99, envelope.WithFree(func(*envelope.Envelope) { released = true }))

	err := r.Send(env, 12345)
	assert.ErrorIs(t, err, errors.ErrNotInitialized)
	assert.Empty(t, node.received)
	assert.False(t, released, "failed send must never free the envelope")

	// Caller retains ownership and cleans up.
	env.Release()
	assert.True(t, released)
}

func TestSend_DestroyedHandle(t *testing.T) {
	r, reg, h, _ := newTestGraph(t)
	require.NoError(t, reg.Destroy(h))

	env := envelope.New("{}", nil, 1, 99)
	err := r.Send(env, h)
	assert.ErrorIs(t, err, errors.ErrInvalidNode)
	assert.False(t, env.Released())
	env.Release()
}

func TestSend_UndeclaredChannel(t *testing.T) {
	r, _, h, node := newTestGraph(t)

	env := envelope.New("{}", nil, 42, 99)
	err := r.Send(env, h)

	assert.ErrorIs(t, err, errors.ErrInvalidChannel)
	assert.Empty(t, node.received)
	assert.False(t, env.Released(), "ownership stays with the caller")
	env.Release()
}

func TestSend_NodeWithoutDescriptor(t *testing.T) {
	reg := registry.New()
	h, err := reg.Create(func(env *envelope.Envelope) { env.Release() })
	require.NoError(t, err)

	env := envelope.New("{}", nil, 1, 99)
	err = New(reg).Send(env, h)
	assert.ErrorIs(t, err, errors.ErrInvalidChannel,
		"no descriptor means no declared input channels")
	env.Release()
}

func TestSend_SendOnlyDestination(t *testing.T) {
	reg := registry.New()
	h, err := reg.Create(nil)
	require.NoError(t, err)
	require.NoError(t, reg.SetDescriptor(h, descriptor.New("1.0.0", "", descriptor.Channels{
		Input: []descriptor.Channel{{Number: 1}},
	})))

	env := envelope.New("{}", nil, 1, 99)
	err = New(reg).Send(env, h)
	assert.ErrorIs(t, err, errors.ErrInvalidNode)
	env.Release()
}

func TestSend_ControlMessageValidation(t *testing.T) {
	reg := registry.New()
	var received []*envelope.Envelope
	require.NoError(t, reg.CreateContext(func(env *envelope.Envelope) {
		received = append(received, env)
		env.Release()
	}))
	require.NoError(t, reg.SetDescriptor(envelope.ContextHandle,
		descriptor.New("1.0.0", "context controller", descriptor.Channels{
			Input: []descriptor.Channel{
				{Number: envelope.ChannelConfigureContext, Name: "configure context"},
			},
		})))
	r := New(reg)

	// Structurally invalid control message never reaches the controller.
	bad := envelope.New(`{"type":"context.node.create","instance_name":"t1"}`,
		nil, envelope.ChannelConfigureContext, 99)
	err := r.Send(bad, envelope.ContextHandle)
	assert.ErrorIs(t, err, errors.ErrInvalidMessage)
	assert.Empty(t, received)
	bad.Release()

	// Valid one is delivered.
	good := envelope.New(`{"type":"context.nodes","id":"r1"}`,
		nil, envelope.ChannelConfigureContext, 99)
	require.NoError(t, r.Send(good, envelope.ContextHandle))
	assert.Len(t, received, 1)
}

func TestSend_NilEnvelope(t *testing.T) {
	r, _, h, _ := newTestGraph(t)
	assert.ErrorIs(t, r.Send(nil, h), errors.ErrInvalidMessage)
}

func TestSend_Metrics(t *testing.T) {
	reg := registry.New()
	m := metric.NewMetrics()
	r := New(reg, WithMetrics(m))

	env := envelope.New("{}", nil, 1, 99)
	_ = r.Send(env, 7)
	env.Release()

	// One rejected delivery recorded under its status label.
	h, err := reg.Create(func(e *envelope.Envelope) { e.Release() })
	require.NoError(t, err)
	require.NoError(t, reg.SetDescriptor(h, descriptor.New("1.0.0", "", descriptor.Channels{
		Input: []descriptor.Channel{{Number: 2}},
	})))
	require.NoError(t, r.Send(envelope.New("{}", nil, 2, 99), h))
}
