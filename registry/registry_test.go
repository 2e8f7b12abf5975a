package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skunkforce/node-agnostic-datastream-interface/descriptor"
	"github.com/skunkforce/node-agnostic-datastream-interface/envelope"
	"github.com/skunkforce/node-agnostic-datastream-interface/errors"
)

func testDescriptor() descriptor.Descriptor {
	return descriptor.New("1.0.0", "test node", descriptor.Channels{
		Input:  []descriptor.Channel{{Number: 1, Name: "samples"}},
		Output: []descriptor.Channel{{Number: 2, Name: "filtered"}},
	})
}

func TestCreate_AllocatesFreshHandles(t *testing.T) {
	r := New()

	h1, err := r.Create(func(*envelope.Envelope) {})
	require.NoError(t, err)
	h2, err := r.Create(nil) // send-only node
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
	assert.NotEqual(t, envelope.ContextHandle, h1, "handle 0 is reserved")
	assert.NotEqual(t, envelope.ContextHandle, h2)
	assert.Equal(t, 2, r.Count())
}

func TestCreateContext(t *testing.T) {
	r := New()

	// Handle 0 unresolvable before the controller is installed.
	_, _, err := r.Lookup(envelope.ContextHandle)
	assert.ErrorIs(t, err, errors.ErrNotInitialized)

	require.NoError(t, r.CreateContext(func(*envelope.Envelope) {}))

	receive, _, err := r.Lookup(envelope.ContextHandle)
	require.NoError(t, err)
	assert.NotNil(t, receive)

	assert.Error(t, r.CreateContext(func(*envelope.Envelope) {}), "second controller must be rejected")
	assert.Error(t, r.CreateContext(nil), "controller requires a receive callback")
}

func TestLookup_ErrorTaxonomy(t *testing.T) {
	r := New()
	h, err := r.Create(func(*envelope.Envelope) {})
	require.NoError(t, err)

	// Never-created handle.
	_, _, err = r.Lookup(h + 100)
	assert.ErrorIs(t, err, errors.ErrNotInitialized)

	// Destroyed handle.
	require.NoError(t, r.Destroy(h))
	_, _, err = r.Lookup(h)
	assert.ErrorIs(t, err, errors.ErrInvalidNode)
}

func TestDestroy(t *testing.T) {
	r := New()
	h, err := r.Create(nil)
	require.NoError(t, err)

	require.NoError(t, r.Destroy(h))
	assert.Equal(t, 0, r.Count())

	err = r.Destroy(h)
	assert.ErrorIs(t, err, errors.ErrInvalidNode, "double destroy is a reported failure")
}

func TestDestroy_CascadesConnections(t *testing.T) {
	r := New()
	a, _ := r.Create(nil)
	b, _ := r.Create(nil)
	c, _ := r.Create(nil)

	require.NoError(t, r.Connect(Connection{Source: a, SourceChannel: 1, Target: b, TargetChannel: 1}))
	require.NoError(t, r.Connect(Connection{Source: b, SourceChannel: 2, Target: c, TargetChannel: 2}))
	require.NoError(t, r.Connect(Connection{Source: c, SourceChannel: 3, Target: a, TargetChannel: 3}))
	require.Equal(t, 3, r.ConnectionCount())

	require.NoError(t, r.Destroy(b))

	remaining := r.Connections()
	require.Len(t, remaining, 1)
	assert.Equal(t, Connection{Source: c, SourceChannel: 3, Target: a, TargetChannel: 3}, remaining[0])
}

func TestSetDescriptor_Validates(t *testing.T) {
	r := New()
	h, _ := r.Create(nil)

	bad := testDescriptor()
	bad.Version = ""
	assert.Error(t, r.SetDescriptor(h, bad))

	require.NoError(t, r.SetDescriptor(h, testDescriptor()))

	desc, err := r.Descriptor(h)
	require.NoError(t, err)
	assert.True(t, desc.Channels.HasInput(1))
}

func TestDescriptor_MissingCases(t *testing.T) {
	r := New()
	h, _ := r.Create(nil)

	_, err := r.Descriptor(h)
	assert.ErrorIs(t, err, errors.ErrNoDescriptor)

	_, err = r.Descriptor(h + 5)
	assert.ErrorIs(t, err, errors.ErrNotInitialized)
}

func TestDescriptorInto_BufferSizing(t *testing.T) {
	r := New()
	h, _ := r.Create(nil)
	require.NoError(t, r.SetDescriptor(h, testDescriptor()))

	full, err := r.DescriptorJSON(h)
	require.NoError(t, err)

	// Too small: reports the required length, writes nothing.
	small := make([]byte, 4)
	n, err := r.DescriptorInto(h, small)
	assert.ErrorIs(t, err, errors.ErrBufferTooSmall)
	assert.Equal(t, len(full), n)
	assert.Equal(t, make([]byte, 4), small)

	// Retry with the reported size succeeds.
	buf := make([]byte, n)
	n, err = r.DescriptorInto(h, buf)
	require.NoError(t, err)
	assert.Equal(t, full, buf[:n])
}

func TestConnect_Lifecycle(t *testing.T) {
	r := New()
	a, _ := r.Create(nil)
	b, _ := r.Create(nil)
	edge := Connection{Source: a, SourceChannel: 2, Target: b, TargetChannel: 1}

	require.NoError(t, r.Connect(edge))
	assert.ErrorIs(t, r.Connect(edge), errors.ErrConnectionExists)

	require.NoError(t, r.Disconnect(edge))
	assert.ErrorIs(t, r.Disconnect(edge), errors.ErrConnectionMissing,
		"second disconnect is a reported failure, not a crash")
}

func TestConnect_RequiresLiveEndpoints(t *testing.T) {
	r := New()
	a, _ := r.Create(nil)

	err := r.Connect(Connection{Source: a, SourceChannel: 1, Target: a + 9, TargetChannel: 1})
	assert.ErrorIs(t, err, errors.ErrNotInitialized)

	b, _ := r.Create(nil)
	require.NoError(t, r.Destroy(b))
	err = r.Connect(Connection{Source: b, SourceChannel: 1, Target: a, TargetChannel: 1})
	assert.ErrorIs(t, err, errors.ErrInvalidNode)
}

func TestConnections_StableOrder(t *testing.T) {
	r := New()
	a, _ := r.Create(nil)
	b, _ := r.Create(nil)

	require.NoError(t, r.Connect(Connection{Source: b, SourceChannel: 1, Target: a, TargetChannel: 1}))
	require.NoError(t, r.Connect(Connection{Source: a, SourceChannel: 2, Target: b, TargetChannel: 1}))
	require.NoError(t, r.Connect(Connection{Source: a, SourceChannel: 1, Target: b, TargetChannel: 1}))

	conns := r.Connections()
	require.Len(t, conns, 3)
	assert.Equal(t, envelope.Channel(1), conns[0].SourceChannel)
	assert.Equal(t, envelope.Channel(2), conns[1].SourceChannel)
	assert.Equal(t, a, conns[0].Source)
	assert.Equal(t, b, conns[2].Source)
}
