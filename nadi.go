package nadi

import (
	"log/slog"

	"github.com/skunkforce/node-agnostic-datastream-interface/control"
	"github.com/skunkforce/node-agnostic-datastream-interface/descriptor"
	"github.com/skunkforce/node-agnostic-datastream-interface/envelope"
	"github.com/skunkforce/node-agnostic-datastream-interface/metric"
	"github.com/skunkforce/node-agnostic-datastream-interface/registry"
	"github.com/skunkforce/node-agnostic-datastream-interface/router"
)

// System is one running datastream context: a node registry, the router
// that moves envelopes between nodes, and the context controller installed
// at handle 0.
type System struct {
	registry   *registry.Registry
	router     *router.Router
	controller *control.Controller
	metrics    *metric.Metrics
	logger     *slog.Logger
}

// Option configures a System.
type Option func(*System)

// WithLogger attaches a structured logger to the system and everything it
// builds.
func WithLogger(logger *slog.Logger) Option {
	return func(s *System) {
		s.logger = logger
	}
}

// WithMetrics attaches instrumentation to the router and controller.
func WithMetrics(m *metric.Metrics) Option {
	return func(s *System) {
		s.metrics = m
	}
}

// NewSystem creates a system with the context controller live at handle 0.
func NewSystem(opts ...Option) (*System, error) {
	s := &System{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registry = registry.New()
	s.router = router.New(s.registry,
		router.WithMetrics(s.metrics),
		router.WithLogger(s.logger))
	s.controller = control.New(s.registry, s.router,
		control.WithMetrics(s.metrics),
		control.WithLogger(s.logger))

	if err := s.registry.CreateContext(s.controller.Receive); err != nil {
		return nil, err
	}
	if err := s.registry.SetDescriptor(envelope.ContextHandle, s.controller.Descriptor()); err != nil {
		return nil, err
	}

	return s, nil
}

// Create allocates a node handle for the given receive capability. A nil
// receive creates a send-only node.
func (s *System) Create(receive registry.ReceiveFunc) (envelope.Handle, error) {
	h, err := s.registry.Create(receive)
	if err == nil {
		s.syncGraphMetrics()
	}
	return h, err
}

// Destroy removes a node and every connection touching it.
func (s *System) Destroy(handle envelope.Handle) error {
	err := s.registry.Destroy(handle)
	if err == nil {
		s.syncGraphMetrics()
	}
	return err
}

// Send delivers an envelope to the destination node. On success ownership of
// the envelope transfers to the receiver; on failure the caller keeps it and
// must eventually call Free.
func (s *System) Send(env *envelope.Envelope, destination envelope.Handle) error {
	return s.router.Send(env, destination)
}

// Free releases an envelope the caller still owns, for example after a
// failed send.
func (s *System) Free(env *envelope.Envelope) {
	env.Release()
}

// SetDescriptor installs a node's descriptor, validating its channels.
func (s *System) SetDescriptor(handle envelope.Handle, desc descriptor.Descriptor) error {
	return s.registry.SetDescriptor(handle, desc)
}

// Descriptor returns a node's descriptor.
func (s *System) Descriptor(handle envelope.Handle) (descriptor.Descriptor, error) {
	return s.registry.Descriptor(handle)
}

// DescriptorJSON returns a node's descriptor as serialized JSON.
func (s *System) DescriptorJSON(handle envelope.Handle) ([]byte, error) {
	return s.registry.DescriptorJSON(handle)
}

// DescriptorInto writes the serialized descriptor into buf and returns the
// number of bytes required. A short buffer yields ErrBufferTooSmall with the
// required length, so callers can retry with exact capacity.
func (s *System) DescriptorInto(handle envelope.Handle, buf []byte) (int, error) {
	return s.registry.DescriptorInto(handle, buf)
}

// RegisterAbstract publishes an abstract node type for creation through the
// control channel.
func (s *System) RegisterAbstract(at control.AbstractType) error {
	return s.controller.RegisterAbstract(at)
}

// Registry exposes the node registry, for wiring transports and gateways.
func (s *System) Registry() *registry.Registry {
	return s.registry
}

// Router exposes the envelope router.
func (s *System) Router() *router.Router {
	return s.router
}

// Controller exposes the context controller.
func (s *System) Controller() *control.Controller {
	return s.controller
}

func (s *System) syncGraphMetrics() {
	s.metrics.SetGraphSize(s.registry.Count(), s.registry.ConnectionCount())
}
