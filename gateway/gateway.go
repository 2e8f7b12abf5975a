// Package gateway exposes the control channel over WebSocket.
//
// Each connection becomes a session node in the graph: frames from the
// client are validated and sent to the context controller on the configure
// channel, and confirms routed back to the session node are written to the
// socket. Closing the connection destroys the node, which cascades its
// connections like any other node removal.
package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skunkforce/node-agnostic-datastream-interface/descriptor"
	"github.com/skunkforce/node-agnostic-datastream-interface/envelope"
	"github.com/skunkforce/node-agnostic-datastream-interface/errors"
	"github.com/skunkforce/node-agnostic-datastream-interface/registry"
	"github.com/skunkforce/node-agnostic-datastream-interface/router"
	"github.com/skunkforce/node-agnostic-datastream-interface/schema"
)

const readDeadline = 1 * time.Second

// Gateway upgrades HTTP requests to WebSocket control sessions.
type Gateway struct {
	registry *registry.Registry
	router   *router.Router
	logger   *slog.Logger
	upgrader websocket.Upgrader

	sessions   map[string]*session
	sessionsMu sync.RWMutex

	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup

	connectionsTotal int64
	framesRejected   int64
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// New creates a gateway backed by the given graph.
func New(reg *registry.Registry, rt *router.Router, opts ...Option) *Gateway {
	g := &Gateway{
		registry: reg,
		router:   rt,
		logger:   slog.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		sessions: make(map[string]*session),
		shutdown: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// session is one connected control client and its graph node.
type session struct {
	id      string
	conn    *websocket.Conn
	handle  envelope.Handle
	writeMu sync.Mutex
	logger  *slog.Logger
}

// sessionDescriptor declares a session node: it accepts configuration
// confirms and emits configure requests.
func sessionDescriptor() descriptor.Descriptor {
	return descriptor.New("1.0.0", "WebSocket control session", descriptor.Channels{
		Input: []descriptor.Channel{
			{Number: envelope.ChannelConfiguration, Name: "configuration"},
		},
		Output: []descriptor.Channel{
			{Number: envelope.ChannelConfigureContext, Name: "configure context"},
		},
	})
}

// ServeHTTP upgrades the request and runs the session until the client
// disconnects or the gateway shuts down.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-g.shutdown:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sess := &session{
		id:     fmt.Sprintf("session-%d", atomic.AddInt64(&g.connectionsTotal, 1)),
		conn:   conn,
		logger: g.logger,
	}

	handle, err := g.registry.Create(sess.receive)
	if err != nil {
		g.logger.Error("session node creation failed", "session", sess.id, "error", err)
		conn.Close()
		return
	}
	sess.handle = handle
	if err := g.registry.SetDescriptor(handle, sessionDescriptor()); err != nil {
		g.logger.Error("session descriptor rejected", "session", sess.id, "error", err)
		if err := g.registry.Destroy(handle); err != nil {
			g.logger.Warn("session node teardown failed", "session", sess.id, "error", err)
		}
		conn.Close()
		return
	}

	g.sessionsMu.Lock()
	g.sessions[sess.id] = sess
	g.sessionsMu.Unlock()

	g.logger.Info("control session opened", "session", sess.id, "node", handle, "remote", r.RemoteAddr)

	g.wg.Add(1)
	go g.runSession(sess)
}

// runSession reads frames until disconnect, then tears the node down.
func (g *Gateway) runSession(sess *session) {
	defer g.wg.Done()
	defer func() {
		sess.conn.Close()
		g.sessionsMu.Lock()
		delete(g.sessions, sess.id)
		g.sessionsMu.Unlock()
		if err := g.registry.Destroy(sess.handle); err != nil {
			g.logger.Warn("session node teardown failed", "session", sess.id, "error", err)
		}
		g.logger.Info("control session closed", "session", sess.id)
	}()

	for {
		select {
		case <-g.shutdown:
			return
		default:
			sess.conn.SetReadDeadline(time.Now().Add(readDeadline))

			_, frame, err := sess.conn.ReadMessage()
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				return
			}

			g.handleFrame(sess, frame)
		}
	}
}

// handleFrame validates a client frame and forwards it to the context
// controller. Validation failures are answered on the socket rather than
// entering the graph.
func (g *Gateway) handleFrame(sess *session, frame []byte) {
	if !schema.ValidRaw(frame) {
		atomic.AddInt64(&g.framesRejected, 1)
		sess.writeError("unrecognized control message")
		return
	}

	env := envelope.New(string(frame), nil, envelope.ChannelConfigureContext, sess.handle)
	if err := g.router.Send(env, envelope.ContextHandle); err != nil {
		env.Release()
		sess.writeError(fmt.Sprintf("delivery failed: %v", err))
		g.logger.Warn("control frame delivery failed", "session", sess.id, "error", err)
	}
}

// receive is the session node's receive capability: confirms from the
// controller are written back to the client.
func (s *session) receive(env *envelope.Envelope) {
	defer env.Release()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(env.Meta)); err != nil {
		s.logger.Warn("confirm write failed", "session", s.id, "error", err)
	}
}

// errorFrame is the gateway's local reply for frames it will not forward.
type errorFrame struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *session) writeError(message string) {
	data, err := json.Marshal(errorFrame{Type: "gateway.error", Status: "error", Message: message})
	if err != nil {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.WriteMessage(websocket.TextMessage, data)
}

// SessionCount reports the number of open control sessions.
func (g *Gateway) SessionCount() int {
	g.sessionsMu.RLock()
	defer g.sessionsMu.RUnlock()
	return len(g.sessions)
}

// Close stops accepting connections and waits for open sessions to drain.
func (g *Gateway) Close() error {
	g.shutdownOnce.Do(func() {
		close(g.shutdown)
	})

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(5 * time.Second):
		return errors.WrapTransient(
			fmt.Errorf("sessions still open after shutdown"),
			"Gateway", "Close", "session drain")
	}
}
