// Package natsbridge joins a local NADI graph to a remote one over NATS.
//
// A Bridge participates in the local graph as an ordinary node: envelopes
// delivered to it are published on the outbound subject, and messages
// arriving on the inbound subject are rebuilt into envelopes and routed to a
// configured local destination. Meta travels in message headers, the binary
// payload as the message body, so neither side re-encodes the other's data.
package natsbridge

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/skunkforce/node-agnostic-datastream-interface/descriptor"
	"github.com/skunkforce/node-agnostic-datastream-interface/envelope"
	"github.com/skunkforce/node-agnostic-datastream-interface/errors"
	"github.com/skunkforce/node-agnostic-datastream-interface/router"
)

// Header names of the envelope wire format.
const (
	HeaderMeta     = "Nadi-Meta"
	HeaderMetaHash = "Nadi-Meta-Hash"
	HeaderChannel  = "Nadi-Channel"
	HeaderSender   = "Nadi-Sender"
)

// Config holds bridge configuration.
type Config struct {
	// URL of the NATS server, e.g. nats://localhost:4222.
	URL string

	// Name identifies this bridge in connection metadata and logs.
	Name string

	// OutboundSubject receives envelopes delivered to the bridge node.
	OutboundSubject string

	// InboundSubject is subscribed for envelopes from the remote side. Empty
	// disables the inbound direction.
	InboundSubject string

	// Destination is the local node inbound envelopes are routed to.
	Destination envelope.Handle

	// InputChannels are the channels the bridge accepts for forwarding.
	// Remote-bound traffic is validated against this set like any other
	// node's input set.
	InputChannels []descriptor.Channel

	// ConnectTimeout bounds the initial connection attempt. Zero means the
	// NATS client default.
	ConnectTimeout time.Duration
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Bridge", "Validate", "URL presence check")
	}
	if c.OutboundSubject == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Bridge", "Validate", "outbound subject presence check")
	}
	if c.InboundSubject != "" && c.Destination == envelope.ContextHandle {
		// Inbound traffic goes to a data node; pointing remote peers at the
		// context controller is a configuration mistake.
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Bridge", "Validate", "inbound destination check")
	}
	return nil
}

// Bridge is the NATS transport node.
type Bridge struct {
	config Config
	router *router.Router
	logger *slog.Logger

	conn    *nats.Conn
	sub     *nats.Subscription
	handle  envelope.Handle
	started atomic.Bool

	// Statistics
	published int64
	delivered int64
	dropped   int64
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// New creates a bridge. The caller registers it in the graph and then calls
// Bind with the allocated handle before Start.
func New(cfg Config, rt *router.Router, opts ...Option) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Bridge{
		config: cfg,
		router: rt,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Bind records the bridge's own handle. Inbound envelopes carry it as their
// local sender.
func (b *Bridge) Bind(handle envelope.Handle) {
	b.handle = handle
}

// Descriptor declares the bridge's channels: the configured input set for
// remote-bound traffic, mirrored as outputs for traffic arriving from the
// remote side.
func (b *Bridge) Descriptor() descriptor.Descriptor {
	return descriptor.New(descriptor.InterfaceVersion, "NATS envelope bridge", descriptor.Channels{
		Input:  b.config.InputChannels,
		Output: b.config.InputChannels,
	})
}

// Start connects to the NATS server and subscribes the inbound subject.
func (b *Bridge) Start() error {
	if !b.started.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Bridge", "Start", "already started check")
	}

	opts := []nats.Option{
		nats.Name(b.config.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err == nil {
				err = errors.ErrConnectionLost
			}
			b.logger.Warn("nats disconnected", "bridge", b.config.Name, "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.logger.Info("nats reconnected", "bridge", b.config.Name, "url", nc.ConnectedUrl())
		}),
	}
	if b.config.ConnectTimeout > 0 {
		opts = append(opts, nats.Timeout(b.config.ConnectTimeout))
	}

	conn, err := nats.Connect(b.config.URL, opts...)
	if err != nil {
		b.started.Store(false)
		if stderrors.Is(err, nats.ErrTimeout) {
			err = fmt.Errorf("%w: %v", errors.ErrConnectionTimeout, err)
		}
		return errors.WrapTransient(err, "Bridge", "Start", "NATS connection")
	}
	b.conn = conn

	if b.config.InboundSubject != "" {
		sub, err := conn.Subscribe(b.config.InboundSubject, b.handleInbound)
		if err != nil {
			conn.Close()
			b.conn = nil
			b.started.Store(false)
			return errors.WrapTransient(err, "Bridge", "Start", "inbound subscription")
		}
		b.sub = sub
	}

	b.logger.Info("bridge started",
		"bridge", b.config.Name,
		"outbound", b.config.OutboundSubject,
		"inbound", b.config.InboundSubject)
	return nil
}

// Stop drains the subscription and closes the connection.
func (b *Bridge) Stop() error {
	if !b.started.CompareAndSwap(true, false) {
		return nil
	}
	if b.sub != nil {
		if err := b.sub.Drain(); err != nil {
			b.logger.Warn("subscription drain failed", "bridge", b.config.Name, "error", err)
		}
		b.sub = nil
	}
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
	return nil
}

// Receive implements the node capability. The bridge owns the envelope from
// here on and always releases it; publish failures are handled internally
// because the sender's send already succeeded.
func (b *Bridge) Receive(env *envelope.Envelope) {
	defer env.Release()

	if b.conn == nil || !b.started.Load() {
		atomic.AddInt64(&b.dropped, 1)
		b.logger.Warn("envelope dropped",
			"bridge", b.config.Name, "error", errors.ErrNoConnection)
		return
	}

	if err := b.conn.PublishMsg(encodeMsg(b.config.OutboundSubject, env)); err != nil {
		atomic.AddInt64(&b.dropped, 1)
		b.logger.Warn("publish failed", "bridge", b.config.Name, "error", err)
		return
	}
	atomic.AddInt64(&b.published, 1)
}

// handleInbound rebuilds an envelope from a NATS message and routes it to
// the configured local destination.
func (b *Bridge) handleInbound(msg *nats.Msg) {
	env, err := decodeMsg(msg, b.handle)
	if err != nil {
		atomic.AddInt64(&b.dropped, 1)
		b.logger.Warn("inbound message rejected", "bridge", b.config.Name, "error", err)
		return
	}

	if err := b.router.Send(env, b.config.Destination); err != nil {
		atomic.AddInt64(&b.dropped, 1)
		b.logger.Warn("inbound delivery failed", "bridge", b.config.Name, "error", err)
		env.Release()
		return
	}
	atomic.AddInt64(&b.delivered, 1)
}

// Stats reports published, delivered, and dropped counts.
func (b *Bridge) Stats() (published, delivered, dropped int64) {
	return atomic.LoadInt64(&b.published), atomic.LoadInt64(&b.delivered), atomic.LoadInt64(&b.dropped)
}

// encodeMsg maps an envelope onto the wire: meta and addressing in headers,
// payload as the body.
func encodeMsg(subject string, env *envelope.Envelope) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Header.Set(HeaderMeta, env.Meta)
	msg.Header.Set(HeaderChannel, strconv.FormatUint(uint64(env.Channel), 10))
	msg.Header.Set(HeaderSender, strconv.FormatUint(uint64(env.Sender), 10))
	if env.MetaHash != 0 {
		msg.Header.Set(HeaderMetaHash, strconv.FormatUint(env.MetaHash, 10))
	}
	msg.Data = env.Data
	return msg
}

// decodeMsg rebuilds an envelope. The local sender is the bridge itself;
// the remote sender handle is meaningless in this process and is not
// preserved as an addressable value.
func decodeMsg(msg *nats.Msg, localSender envelope.Handle) (*envelope.Envelope, error) {
	channelText := msg.Header.Get(HeaderChannel)
	if channelText == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("missing %s header", HeaderChannel),
			"Bridge", "decodeMsg", "channel header check")
	}
	channel, err := strconv.ParseUint(channelText, 10, 32)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Bridge", "decodeMsg", "channel header parsing")
	}

	var opts []envelope.Option
	if hashText := msg.Header.Get(HeaderMetaHash); hashText != "" {
		hash, err := strconv.ParseUint(hashText, 10, 64)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Bridge", "decodeMsg", "meta hash header parsing")
		}
		opts = append(opts, envelope.WithMetaHash(hash))
	}

	meta := msg.Header.Get(HeaderMeta)
	return envelope.New(meta, msg.Data, envelope.Channel(channel), localSender, opts...), nil
}
