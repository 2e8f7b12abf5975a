package envelope

import (
	"sync/atomic"

	"github.com/skunkforce/node-agnostic-datastream-interface/errors"
)

// Handle is an opaque 64-bit identifier for a node, unique within a running
// process. Handle 0 is reserved for the context controller and always
// resolves while the system is alive.
type Handle uint64

// ContextHandle is the reserved handle of the context controller.
const ContextHandle Handle = 0

// Channel is a numbered multiplexing lane on a node. Channels are declared
// as input and/or output in the node's descriptor.
type Channel uint32

// Reserved channel numbers. User-defined channels must be at or below
// ChannelUserMax; values above ChannelConfiguration are reserved for future
// standardization.
const (
	// ChannelUserMax is the highest user-defined channel number.
	ChannelUserMax Channel = 0xEFFF

	// ChannelConfigureContext is the reserved "configure context" channel.
	// Nodes declare it as an output; the context controller declares it as
	// its command input.
	ChannelConfigureContext Channel = 0xF000

	// ChannelConfiguration is the reserved "configuration" channel, declared
	// as input and/or output by most nodes. The context controller delivers
	// control confirmations on it.
	ChannelConfiguration Channel = 0xF100
)

// Reserved reports whether the channel number lies outside the user-defined
// range.
func (c Channel) Reserved() bool {
	return c > ChannelUserMax
}

// Valid reports whether the channel number is usable in a descriptor: either
// user-defined or one of the two standardized reserved channels.
func (c Channel) Valid() bool {
	return c <= ChannelUserMax || c == ChannelConfigureContext || c == ChannelConfiguration
}

// FreeFunc releases an envelope's meta and data resources. It runs exactly
// once per envelope, invoked by whichever party owns the envelope when it is
// done with it.
type FreeFunc func(*Envelope)

// Envelope is the message unit exchanged between nodes: a JSON metadata
// string paired with a binary payload, multiplexed over a channel.
//
// Ownership contract: the sender allocates Meta and Data and owns the
// envelope until a send succeeds. After a successful send the receiver owns
// it and must eventually call Release; the sender must not touch the envelope
// again. After a failed send ownership never transferred and the sender must
// eventually call Release itself. Release runs the Free callback exactly
// once; a second Release is a contract violation and panics.
//
// Construction uses functional options in the style of the rest of the
// module:
//
//	env := envelope.New(meta, data, channel, sender)
//	env := envelope.New(meta, data, channel, sender, envelope.WithMetaHash(h))
type Envelope struct {
	// Meta is the JSON metadata text. For control messages this is the
	// complete control document including the "type" discriminator.
	Meta string

	// MetaHash is an optional hash of Meta for cheap comparison; 0 means
	// unset.
	MetaHash uint64

	// Data is the binary payload, interpreted according to Meta.
	Data []byte

	// Channel selects the receiving node's input channel.
	Channel Channel

	// Sender identifies the node the envelope originates from. Confirmations
	// from the context controller are routed back to this handle.
	Sender Handle

	// Free releases Meta and Data. Never nil after New.
	Free FreeFunc

	released atomic.Bool
}

// Option is a functional option for configuring Envelope construction.
type Option func(*Envelope)

// WithMetaHash sets the optional metadata hash.
func WithMetaHash(hash uint64) Option {
	return func(e *Envelope) {
		e.MetaHash = hash
	}
}

// WithFree replaces the default release callback. The callback must release
// everything Meta and Data refer to and must tolerate being the terminal
// touch of the envelope.
func WithFree(free FreeFunc) Option {
	return func(e *Envelope) {
		if free != nil {
			e.Free = free
		}
	}
}

// FreeBytes is the stock release callback. It drops the envelope's
// references so the garbage collector can reclaim Meta and Data. Receivers
// building upstream envelopes without special resource handling use it via
// New's default.
func FreeBytes(e *Envelope) {
	e.Meta = ""
	e.Data = nil
}

// New creates an envelope owned by the caller. The Free callback defaults to
// FreeBytes.
func New(meta string, data []byte, channel Channel, sender Handle, opts ...Option) *Envelope {
	e := &Envelope{
		Meta:    meta,
		Data:    data,
		Channel: channel,
		Sender:  sender,
		Free:    FreeBytes,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Release invokes the Free callback. It must be called exactly once, by the
// envelope's current owner. A second call panics: double release is the
// memory-safety analog of a double free and is never a routine outcome.
func (e *Envelope) Release() {
	if !e.released.CompareAndSwap(false, true) {
		panic(errors.ErrEnvelopeConsumed)
	}
	if e.Free != nil {
		e.Free(e)
	}
}

// Released reports whether Release has already run. Useful in tests
// asserting the ownership contract.
func (e *Envelope) Released() bool {
	return e.released.Load()
}
