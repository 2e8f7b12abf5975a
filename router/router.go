// Package router implements channel-addressed envelope delivery between
// nodes.
//
// Delivery is synchronous: Send resolves the destination, validates the
// envelope's channel against the destination's declared input set, and runs
// the destination's receive callback in the caller's execution context.
// There is no queueing at this layer; Send returns after the callback has
// taken the envelope. A misbehaving receiver therefore stalls its sender,
// which is the documented trade for the "ownership transfers exactly once,
// immediately" guarantee.
//
// Ownership: on a nil return the receive callback owns the envelope and will
// eventually release it. On any error the envelope is untouched, no callback
// ran, and the caller still owns it.
package router

import (
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/skunkforce/node-agnostic-datastream-interface/envelope"
	"github.com/skunkforce/node-agnostic-datastream-interface/errors"
	"github.com/skunkforce/node-agnostic-datastream-interface/metric"
	"github.com/skunkforce/node-agnostic-datastream-interface/registry"
	"github.com/skunkforce/node-agnostic-datastream-interface/schema"
)

// Router resolves destinations through the registry and hands envelopes to
// their receive callbacks.
type Router struct {
	registry *registry.Registry
	metrics  *metric.Metrics
	logger   *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithMetrics attaches routing instrumentation.
func WithMetrics(m *metric.Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// WithLogger attaches a structured logger for delivery failures.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// New creates a router over the given registry.
func New(reg *registry.Registry, opts ...Option) *Router {
	r := &Router{registry: reg}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// statusLabel maps a routing outcome to its metric label, mirroring the
// protocol status code names.
func statusLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case stderrors.Is(err, errors.ErrNotInitialized):
		return "not_initialized"
	case stderrors.Is(err, errors.ErrInvalidChannel):
		return "invalid_channel"
	case stderrors.Is(err, errors.ErrInvalidMessage):
		return "invalid_message"
	case stderrors.Is(err, errors.ErrInvalidNode):
		return "invalid_node"
	default:
		return "error"
	}
}

// Send delivers env to the node identified by destination.
//
// Failure order: destination resolution first (not-initialized, then
// invalid-node), channel membership second, control message structure last
// (context controller destinations only). On success the callback has run
// and owns the envelope.
func (r *Router) Send(env *envelope.Envelope, destination envelope.Handle) error {
	start := time.Now()
	err := r.send(env, destination)
	r.metrics.ObserveDelivery(statusLabel(err), time.Since(start))

	if err != nil && r.logger != nil && env != nil {
		r.logger.Debug("envelope rejected",
			"destination", uint64(destination),
			"channel", uint32(env.Channel),
			"sender", uint64(env.Sender),
			"error", err)
	}
	return err
}

func (r *Router) send(env *envelope.Envelope, destination envelope.Handle) error {
	if env == nil {
		return errors.WrapInvalid(errors.ErrInvalidMessage, "Router", "Send", "envelope presence check")
	}

	receive, desc, err := r.registry.Lookup(destination)
	if err != nil {
		return errors.Wrap(err, "Router", "Send", "destination resolution")
	}

	if !desc.Channels.HasInput(env.Channel) {
		return errors.WrapInvalid(errors.ErrInvalidChannel, "Router", "Send", "input channel check")
	}

	if receive == nil {
		// Send-only nodes declare no receive callback and cannot be a
		// destination.
		return errors.WrapInvalid(errors.ErrInvalidNode, "Router", "Send", "receive callback check")
	}

	// Control messages are structurally validated before the controller
	// sees them; an invalid message never reaches controller state.
	if destination == envelope.ContextHandle && !schema.ValidRaw([]byte(env.Meta)) {
		return errors.WrapInvalid(errors.ErrInvalidMessage, "Router", "Send", "control message validation")
	}

	// Ownership transfers here. The callback releases the envelope; the
	// caller must not touch it again.
	receive(env)
	return nil
}
