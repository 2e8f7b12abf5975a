// Package registry tracks the live nodes of a running NADI graph: their
// handles, receive callbacks, declared descriptors, and the directed
// connections between their channels.
//
// The registry is the shared mutable core of the system. All mutations go
// through a single writer lock so concurrent creates, destroys, and
// connection edits serialize; reads are concurrent with each other and
// always observe the last completed write.
package registry

import (
	"sort"
	"sync"

	"github.com/skunkforce/node-agnostic-datastream-interface/descriptor"
	"github.com/skunkforce/node-agnostic-datastream-interface/envelope"
	"github.com/skunkforce/node-agnostic-datastream-interface/errors"
)

// ReceiveFunc handles an envelope delivered to a node. On invocation the
// callback owns the envelope and must eventually call Release on it. Errors
// inside a callback are handled internally by the node (logging); the
// routing layer only learns about delivery failures that happen before the
// callback runs.
type ReceiveFunc func(*envelope.Envelope)

// Receiver is the polymorphic node capability: anything that can accept
// envelopes can participate in the graph, which keeps the registry
// independent of how node code is loaded.
type Receiver interface {
	Receive(*envelope.Envelope)
}

// Connection is a directed edge from a source node's output channel to a
// target node's input channel.
type Connection struct {
	Source        envelope.Handle
	SourceChannel envelope.Channel
	Target        envelope.Handle
	TargetChannel envelope.Channel
}

// node is the per-handle record.
type node struct {
	receive ReceiveFunc
	desc    descriptor.Descriptor
	hasDesc bool
}

// Registry holds the live node table and the connection set.
type Registry struct {
	mu          sync.RWMutex
	nodes       map[envelope.Handle]*node
	connections map[Connection]struct{}
	next        envelope.Handle
}

// New creates an empty registry. Handle 0 stays reserved for the context
// controller until CreateContext installs it.
func New() *Registry {
	return &Registry{
		nodes:       make(map[envelope.Handle]*node),
		connections: make(map[Connection]struct{}),
		next:        1,
	}
}

// Create allocates a fresh handle for a node. The receive callback may be
// nil for send-only nodes; such nodes can never be a send destination.
func (r *Registry) Create(receive ReceiveFunc) (envelope.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handle := r.next
	r.next++
	r.nodes[handle] = &node{receive: receive}
	return handle, nil
}

// CreateContext installs the context controller at the reserved handle 0.
// It fails if a controller is already installed.
func (r *Registry) CreateContext(receive ReceiveFunc) error {
	if receive == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "CreateContext", "receive callback validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[envelope.ContextHandle]; exists {
		return errors.WrapInvalid(errors.ErrDuplicateInstance, "Registry", "CreateContext", "reserved handle check")
	}
	r.nodes[envelope.ContextHandle] = &node{receive: receive}
	return nil
}

// Destroy deregisters a node and removes every connection referencing its
// handle. Destroying an unknown or already destroyed node fails with the
// invalid-node condition; it is a routine, reportable outcome.
func (r *Registry) Destroy(handle envelope.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[handle]; !exists {
		return errors.WrapInvalid(errors.ErrInvalidNode, "Registry", "Destroy", "handle lookup")
	}
	delete(r.nodes, handle)

	for conn := range r.connections {
		if conn.Source == handle || conn.Target == handle {
			delete(r.connections, conn)
		}
	}
	return nil
}

// resolve classifies a missing handle: never-allocated handles are
// uninitialized, allocated-then-removed handles are invalid. Callers hold at
// least the read lock.
func (r *Registry) resolve(handle envelope.Handle) (*node, error) {
	n, exists := r.nodes[handle]
	if exists {
		return n, nil
	}
	if handle >= r.next && handle != envelope.ContextHandle {
		return nil, errors.ErrNotInitialized
	}
	if handle == envelope.ContextHandle {
		return nil, errors.ErrNotInitialized
	}
	return nil, errors.ErrInvalidNode
}

// Lookup returns a node's receive callback and descriptor.
func (r *Registry) Lookup(handle envelope.Handle) (ReceiveFunc, descriptor.Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, err := r.resolve(handle)
	if err != nil {
		return nil, descriptor.Descriptor{}, errors.WrapInvalid(err, "Registry", "Lookup", "handle resolution")
	}
	return n.receive, n.desc, nil
}

// SetDescriptor attaches a validated descriptor to a node.
func (r *Registry) SetDescriptor(handle envelope.Handle, desc descriptor.Descriptor) error {
	if err := desc.Validate(); err != nil {
		return errors.Wrap(err, "Registry", "SetDescriptor", "descriptor validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.resolve(handle)
	if err != nil {
		return errors.WrapInvalid(err, "Registry", "SetDescriptor", "handle resolution")
	}
	n.desc = desc
	n.hasDesc = true
	return nil
}

// Descriptor returns a node's descriptor.
func (r *Registry) Descriptor(handle envelope.Handle) (descriptor.Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, err := r.resolve(handle)
	if err != nil {
		return descriptor.Descriptor{}, errors.WrapInvalid(err, "Registry", "Descriptor", "handle resolution")
	}
	if !n.hasDesc {
		return descriptor.Descriptor{}, errors.WrapInvalid(errors.ErrNoDescriptor, "Registry", "Descriptor", "descriptor presence check")
	}
	return n.desc, nil
}

// DescriptorJSON serializes a node's descriptor.
func (r *Registry) DescriptorJSON(handle envelope.Handle) ([]byte, error) {
	desc, err := r.Descriptor(handle)
	if err != nil {
		return nil, err
	}
	data, err := desc.MarshalJSON()
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "DescriptorJSON", "descriptor serialization")
	}
	return data, nil
}

// DescriptorInto writes a node's serialized descriptor into buf and returns
// the number of bytes required. When buf is too small nothing is written and
// the error matches errors.ErrBufferTooSmall; the returned length lets the
// caller retry with a correctly sized buffer.
func (r *Registry) DescriptorInto(handle envelope.Handle, buf []byte) (int, error) {
	data, err := r.DescriptorJSON(handle)
	if err != nil {
		return 0, err
	}
	if len(buf) < len(data) {
		return len(data), errors.WrapInvalid(errors.ErrBufferTooSmall, "Registry", "DescriptorInto", "capacity check")
	}
	copy(buf, data)
	return len(data), nil
}

// Connect records a directed edge. Both endpoints must resolve, and the edge
// must not already be present.
func (r *Registry) Connect(conn Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.resolve(conn.Source); err != nil {
		return errors.WrapInvalid(err, "Registry", "Connect", "source resolution")
	}
	if _, err := r.resolve(conn.Target); err != nil {
		return errors.WrapInvalid(err, "Registry", "Connect", "target resolution")
	}
	if _, exists := r.connections[conn]; exists {
		return errors.WrapInvalid(errors.ErrConnectionExists, "Registry", "Connect", "edge presence check")
	}
	r.connections[conn] = struct{}{}
	return nil
}

// Disconnect removes a directed edge. Removing an absent edge is a reported
// failure, never a crash.
func (r *Registry) Disconnect(conn Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn]; !exists {
		return errors.WrapInvalid(errors.ErrConnectionMissing, "Registry", "Disconnect", "edge presence check")
	}
	delete(r.connections, conn)
	return nil
}

// Connections returns the current edge set in a stable order.
func (r *Registry) Connections() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Connection, 0, len(r.connections))
	for conn := range r.connections {
		result = append(result, conn)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.SourceChannel != b.SourceChannel {
			return a.SourceChannel < b.SourceChannel
		}
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		return a.TargetChannel < b.TargetChannel
	})
	return result
}

// Count returns the number of live nodes, the context controller included.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// ConnectionCount returns the number of live edges.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}
