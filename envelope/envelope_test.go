package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skunkforce/node-agnostic-datastream-interface/errors"
)

func TestNew_Defaults(t *testing.T) {
	env := New(`{"type":"context.nodes","id":"r1"}`, []byte{1, 2, 3}, 7, 42)

	assert.Equal(t, `{"type":"context.nodes","id":"r1"}`, env.Meta)
	assert.Equal(t, []byte{1, 2, 3}, env.Data)
	assert.Equal(t, Channel(7), env.Channel)
	assert.Equal(t, Handle(42), env.Sender)
	assert.EqualValues(t, 0, env.MetaHash)
	require.NotNil(t, env.Free, "free callback must never be nil")
	assert.False(t, env.Released())
}

func TestNew_Options(t *testing.T) {
	var freed *Envelope
	env := New("{}", nil, 1, 3,
		WithMetaHash(0xDEAD),
		WithFree(func(e *Envelope) { freed = e }),
	)

	assert.EqualValues(t, 0xDEAD, env.MetaHash)
	env.Release()
	assert.Same(t, env, freed)
}

func TestWithFree_NilKeepsDefault(t *testing.T) {
	env := New("{}", []byte("x"), 1, 3, WithFree(nil))
	require.NotNil(t, env.Free)
	env.Release()
	assert.Empty(t, env.Meta)
	assert.Nil(t, env.Data)
}

func TestRelease_RunsExactlyOnce(t *testing.T) {
	calls := 0
	env := New("{}", nil, 1, 3, WithFree(func(*Envelope) { calls++ }))

	env.Release()
	assert.Equal(t, 1, calls)
	assert.True(t, env.Released())

	assert.PanicsWithValue(t, errors.ErrEnvelopeConsumed,
		func() { env.Release() }, "double release must panic")
	assert.Equal(t, 1, calls, "free must not run twice")
}

func TestFreeBytes_DropsReferences(t *testing.T) {
	env := New("meta", []byte("payload"), 1, 3)
	env.Release()

	assert.Empty(t, env.Meta)
	assert.Nil(t, env.Data)
}

func TestChannel_Partitioning(t *testing.T) {
	tests := []struct {
		name     string
		channel  Channel
		reserved bool
		valid    bool
	}{
		{"zero", 0, false, true},
		{"user range top", ChannelUserMax, false, true},
		{"configure context", ChannelConfigureContext, true, true},
		{"between reserved", 0xF001, true, false},
		{"configuration", ChannelConfiguration, true, true},
		{"above configuration", 0xF101, true, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.reserved, test.channel.Reserved())
			assert.Equal(t, test.valid, test.channel.Valid())
		})
	}
}
