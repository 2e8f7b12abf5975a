// Package control implements the context controller: the distinguished node
// at handle 0 that manages the catalog of abstract node types, the set of
// live instances, and the connection table.
//
// The controller consumes control messages on the reserved "configure
// context" channel and answers every request with a confirm or list message
// delivered to the sender's "configuration" channel. Requests reach it
// already validated structurally (the router gates handle 0 behind the
// schema package); the controller adds the semantic checks: catalog
// membership, instance name uniqueness, endpoint resolution, and channel
// direction.
//
// All state mutations serialize behind a single writer lock, so two
// concurrent creates with the same instance name can never both succeed.
package control

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/skunkforce/node-agnostic-datastream-interface/descriptor"
	"github.com/skunkforce/node-agnostic-datastream-interface/envelope"
	"github.com/skunkforce/node-agnostic-datastream-interface/errors"
	"github.com/skunkforce/node-agnostic-datastream-interface/metric"
	"github.com/skunkforce/node-agnostic-datastream-interface/registry"
	"github.com/skunkforce/node-agnostic-datastream-interface/router"
	"github.com/skunkforce/node-agnostic-datastream-interface/schema"
)

// Factory creates the receiving side of a node instance. It runs under the
// controller's writer lock and must not perform I/O; instances needing
// startup work do it lazily on first receive.
type Factory func(instanceName string) (registry.Receiver, error)

// AbstractType is a catalog entry describing a kind of node that can be
// instantiated: a type, not a running instance.
type AbstractType struct {
	Name        string
	Version     string
	Description string
	Channels    descriptor.Channels

	// Factory builds instances. A nil factory yields send-only instances
	// with no receive callback.
	Factory Factory
}

// Instance is a running node created from an abstract type, keyed by its
// unique instance name.
type Instance struct {
	Name         string
	AbstractName string
	Handle       envelope.Handle
}

// Controller is the context controller state machine.
type Controller struct {
	registry *registry.Registry
	router   *router.Router
	logger   *slog.Logger
	metrics  *metric.Metrics

	mu           sync.RWMutex
	catalog      map[string]AbstractType
	catalogOrder []string
	instances    map[string]Instance
	byHandle     map[envelope.Handle]string
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithMetrics attaches control request instrumentation.
func WithMetrics(m *metric.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// New creates a controller over the given registry and router. The caller
// installs it at handle 0 via registry.CreateContext(controller.Receive) and
// registers its Descriptor.
func New(reg *registry.Registry, rt *router.Router, opts ...Option) *Controller {
	c := &Controller{
		registry:  reg,
		router:    rt,
		logger:    slog.Default(),
		catalog:   make(map[string]AbstractType),
		instances: make(map[string]Instance),
		byHandle:  make(map[envelope.Handle]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Descriptor returns the controller's own node descriptor: command input on
// the "configure context" channel, confirmations out on "configuration".
func (c *Controller) Descriptor() descriptor.Descriptor {
	return descriptor.New(descriptor.InterfaceVersion, "NADI context controller", descriptor.Channels{
		Input: []descriptor.Channel{
			{Number: envelope.ChannelConfigureContext, Name: "configure context", DataTypes: []string{"json"}},
		},
		Output: []descriptor.Channel{
			{Number: envelope.ChannelConfiguration, Name: "configuration", DataTypes: []string{"json"}},
		},
	})
}

// RegisterAbstract adds a catalog entry. The catalog is populated at startup
// and read-mostly afterwards; registering a duplicate name fails.
func (c *Controller) RegisterAbstract(at AbstractType) error {
	if at.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Controller", "RegisterAbstract", "name presence check")
	}
	if at.Version == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Controller", "RegisterAbstract", "version presence check")
	}
	for _, ch := range append(at.Channels.Input, at.Channels.Output...) {
		if !ch.Number.Valid() {
			return errors.WrapInvalid(
				fmt.Errorf("channel 0x%X is reserved for future standardization", uint32(ch.Number)),
				"Controller", "RegisterAbstract", "channel range check")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.catalog[at.Name]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("abstract type %q is already registered", at.Name),
			"Controller", "RegisterAbstract", "duplicate type check")
	}
	c.catalog[at.Name] = at
	c.catalogOrder = append(c.catalogOrder, at.Name)
	return nil
}

// Instances returns the live instances keyed by name.
func (c *Controller) Instances() map[string]Instance {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]Instance, len(c.instances))
	for name, inst := range c.instances {
		result[name] = inst
	}
	return result
}

// Receive handles one control envelope. It always releases the envelope;
// errors are reported through confirm statuses and logging, never by
// panicking.
func (c *Controller) Receive(env *envelope.Envelope) {
	defer env.Release()

	msg, err := schema.Decode([]byte(env.Meta))
	if err != nil || !schema.Valid(msg) {
		// The router validates before delivery; reaching this branch means
		// the envelope bypassed it. Drop with a log line.
		c.logger.Warn("unvalidated control message dropped", "sender", uint64(env.Sender))
		c.metrics.ObserveControl("invalid", StatusError)
		return
	}

	msgType, _ := msg["type"].(string)
	reply, status := c.dispatch(msgType, []byte(env.Meta))
	c.metrics.ObserveControl(msgType, status)
	c.metrics.SetGraphSize(c.registry.Count(), c.registry.ConnectionCount())

	if reply == nil {
		return
	}
	c.reply(env.Sender, reply)
}

// dispatch routes one validated control document to its handler and returns
// the reply document plus a status label for instrumentation.
func (c *Controller) dispatch(msgType string, raw []byte) (any, string) {
	switch msgType {
	case schema.TypeContextAbstractNodes:
		return c.handleAbstractNodes(raw)
	case schema.TypeContextNodes:
		return c.handleNodes(raw)
	case schema.TypeContextConnections:
		return c.handleConnections(raw)
	case schema.TypeContextNodeCreate:
		return c.handleNodeCreate(raw)
	case schema.TypeContextNodeDestroy:
		return c.handleNodeDestroy(raw)
	case schema.TypeContextConnect, schema.TypeContextDisconnect:
		return c.handleEdge(msgType, raw)
	case schema.TypeNodeConnect, schema.TypeNodeDisconnect:
		return c.handleNodeEdge(msgType, raw)
	default:
		// Structurally valid message that is not a request (a stray confirm
		// or list). Ignored by design: the controller answers requests only.
		c.logger.Debug("non-request control message ignored", "type", msgType)
		return nil, "ignored"
	}
}

// reply wraps a document in an envelope and delivers it to the requester's
// configuration channel. Delivery failure leaves ownership here, so the
// reply envelope is released locally.
func (c *Controller) reply(to envelope.Handle, doc any) {
	meta, err := json.Marshal(doc)
	if err != nil {
		c.logger.Error("confirm serialization failed", "error", err)
		return
	}

	env := envelope.New(string(meta), nil, envelope.ChannelConfiguration, envelope.ContextHandle)
	if err := c.router.Send(env, to); err != nil {
		c.logger.Warn("confirm delivery failed",
			"destination", uint64(to), "error", err)
		env.Release()
	}
}

func (c *Controller) handleAbstractNodes(raw []byte) (any, string) {
	var req listRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, StatusError
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := make([]AbstractEntry, 0, len(c.catalogOrder))
	for _, name := range c.catalogOrder {
		at := c.catalog[name]
		channels := at.Channels
		entries = append(entries, AbstractEntry{
			Name:        at.Name,
			Version:     at.Version,
			Description: at.Description,
			Channels:    &channels,
		})
	}

	return abstractNodesList{
		Type:      schema.TypeContextAbstractNodesList,
		Instances: entries,
		ID:        req.ID,
	}, StatusOK
}

func (c *Controller) handleNodes(raw []byte) (any, string) {
	var req listRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, StatusError
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := make([]InstanceEntry, 0, len(c.instances))
	for name := range c.instances {
		entries = append(entries, InstanceEntry{Instance: name})
	}
	sortInstanceEntries(entries)

	return nodesList{
		Type:      schema.TypeContextNodesList,
		Instances: entries,
		ID:        req.ID,
	}, StatusOK
}

func (c *Controller) handleConnections(raw []byte) (any, string) {
	var req listRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, StatusError
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	conns := c.registry.Connections()
	entries := make([]ConnectionEntry, 0, len(conns))
	for _, conn := range conns {
		entries = append(entries, ConnectionEntry{
			Source: c.endpointFor(conn.Source, conn.SourceChannel),
			Target: c.endpointFor(conn.Target, conn.TargetChannel),
		})
	}

	return connectionsList{
		Type:        schema.TypeContextConnectionsList,
		Connections: entries,
		ID:          req.ID,
	}, StatusOK
}

// endpointFor prefers the instance name over the raw handle when the handle
// belongs to a controller-created instance. Callers hold at least the read
// lock.
func (c *Controller) endpointFor(handle envelope.Handle, channel envelope.Channel) Endpoint {
	if name, known := c.byHandle[handle]; known {
		return NamedEndpoint(name, channel)
	}
	return HandleEndpoint(handle, channel)
}

func (c *Controller) handleNodeCreate(raw []byte) (any, string) {
	var req nodeCreateRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, StatusError
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	reject := func(detail string) (any, string) {
		return createConfirm{
			Type:         schema.TypeContextNodeCreateConfirm,
			Node:         uint64(envelope.ContextHandle),
			InstanceName: req.InstanceName,
			Status:       StatusError,
			Message:      detail,
			ID:           req.ID,
		}, StatusError
	}

	at, known := c.catalog[req.AbstractName]
	if !known {
		return reject(fmt.Sprintf("%v: %q", errors.ErrUnknownAbstract, req.AbstractName))
	}
	if _, live := c.instances[req.InstanceName]; live {
		return reject(fmt.Sprintf("%v: %q", errors.ErrDuplicateInstance, req.InstanceName))
	}

	var receive registry.ReceiveFunc
	if at.Factory != nil {
		receiver, err := at.Factory(req.InstanceName)
		if err != nil {
			return reject(fmt.Sprintf("factory: %v", err))
		}
		if receiver != nil {
			receive = receiver.Receive
		}
	}

	handle, err := c.registry.Create(receive)
	if err != nil {
		return reject(err.Error())
	}
	desc := descriptor.New(at.Version, at.Description, at.Channels)
	if err := c.registry.SetDescriptor(handle, desc); err != nil {
		// Roll back so a half-created node never stays live.
		_ = c.registry.Destroy(handle)
		return reject(err.Error())
	}

	c.instances[req.InstanceName] = Instance{
		Name:         req.InstanceName,
		AbstractName: req.AbstractName,
		Handle:       handle,
	}
	c.byHandle[handle] = req.InstanceName

	c.logger.Info("instance created",
		"instance", req.InstanceName, "abstract", req.AbstractName, "handle", uint64(handle))

	return createConfirm{
		Type:         schema.TypeContextNodeCreateConfirm,
		Node:         uint64(handle),
		InstanceName: req.InstanceName,
		Status:       StatusOK,
		ID:           req.ID,
	}, StatusOK
}

func (c *Controller) handleNodeDestroy(raw []byte) (any, string) {
	var req nodeDestroyRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, StatusError
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	result := confirm{Type: schema.TypeContextNodeDestroyConfirm, ID: req.ID}

	inst, live := c.instances[req.InstanceName]
	if !live {
		result.Status = StatusError
		result.Message = fmt.Sprintf("unknown instance %q", req.InstanceName)
		return result, StatusError
	}

	if err := c.registry.Destroy(inst.Handle); err != nil {
		result.Status = StatusError
		result.Message = err.Error()
		return result, StatusError
	}
	delete(c.instances, req.InstanceName)
	delete(c.byHandle, inst.Handle)

	c.logger.Info("instance destroyed", "instance", req.InstanceName, "handle", uint64(inst.Handle))

	result.Status = StatusOK
	return result, StatusOK
}

// resolveEndpoint maps an endpoint to a handle. Named endpoints must refer
// to a live instance; handle endpoints must resolve in the registry. Callers
// hold the writer lock.
func (c *Controller) resolveEndpoint(e Endpoint) (envelope.Handle, error) {
	if e.ByName {
		inst, live := c.instances[e.Name]
		if !live {
			return 0, errors.WrapInvalid(
				fmt.Errorf("unknown instance %q: %w", e.Name, errors.ErrUnknownInstance),
				"Controller", "resolveEndpoint", "instance lookup")
		}
		return inst.Handle, nil
	}
	if _, _, err := c.registry.Lookup(e.Handle); err != nil {
		return 0, err
	}
	return e.Handle, nil
}

// checkDirection verifies the source channel is a declared output of the
// source node and the target channel a declared input of the target node.
func (c *Controller) checkDirection(conn registry.Connection) error {
	srcDesc, err := c.registry.Descriptor(conn.Source)
	if err != nil {
		return errors.Wrap(err, "Controller", "checkDirection", "source descriptor lookup")
	}
	if !srcDesc.Channels.HasOutput(conn.SourceChannel) {
		return errors.WrapInvalid(
			fmt.Errorf("channel %d is not an output of the source: %w",
				uint32(conn.SourceChannel), errors.ErrInvalidChannel),
			"Controller", "checkDirection", "source channel check")
	}

	dstDesc, err := c.registry.Descriptor(conn.Target)
	if err != nil {
		return errors.Wrap(err, "Controller", "checkDirection", "target descriptor lookup")
	}
	if !dstDesc.Channels.HasInput(conn.TargetChannel) {
		return errors.WrapInvalid(
			fmt.Errorf("channel %d is not an input of the target: %w",
				uint32(conn.TargetChannel), errors.ErrInvalidChannel),
			"Controller", "checkDirection", "target channel check")
	}
	return nil
}

// decodeFailureConfirm answers a structurally valid request whose values do
// not fit the typed form, e.g. a negative channel number. The correlation id
// is recovered separately so the requester still gets its confirm.
func decodeFailureConfirm(msgType string, raw []byte, decodeErr error) confirm {
	var ident struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(raw, &ident)
	return confirm{
		Type:    confirmTypeFor(msgType),
		Status:  StatusError,
		Message: fmt.Sprintf("unreadable request: %v", decodeErr),
		ID:      ident.ID,
	}
}

func (c *Controller) handleEdge(msgType string, raw []byte) (any, string) {
	var req connectRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return decodeFailureConfirm(msgType, raw, err), StatusError
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	result := confirm{Type: confirmTypeFor(msgType), ID: req.ID}
	err := c.applyEdge(msgType == schema.TypeContextConnect, req.Source, req.Destination)
	if err != nil {
		result.Status = StatusError
		result.Message = err.Error()
		return result, StatusError
	}
	result.Status = StatusOK
	return result, StatusOK
}

func (c *Controller) handleNodeEdge(msgType string, raw []byte) (any, string) {
	var req nodeEdgeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return decodeFailureConfirm(msgType, raw, err), StatusError
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// The node-initiated variant names only the target node; the edge lands
	// on the target's input channel of the same number.
	target := HandleEndpoint(envelope.Handle(req.Target), req.Source.Channel)

	result := confirm{Type: confirmTypeFor(msgType), ID: req.ID}
	err := c.applyEdge(msgType == schema.TypeNodeConnect, req.Source, target)
	if err != nil {
		result.Status = StatusError
		result.Message = err.Error()
		return result, StatusError
	}
	result.Status = StatusOK
	return result, StatusOK
}

// applyEdge resolves both endpoints and adds or removes the edge. Callers
// hold the writer lock.
func (c *Controller) applyEdge(add bool, source, destination Endpoint) error {
	srcHandle, err := c.resolveEndpoint(source)
	if err != nil {
		return err
	}
	dstHandle, err := c.resolveEndpoint(destination)
	if err != nil {
		return err
	}

	conn := registry.Connection{
		Source:        srcHandle,
		SourceChannel: source.Channel,
		Target:        dstHandle,
		TargetChannel: destination.Channel,
	}

	if add {
		if err := c.checkDirection(conn); err != nil {
			return err
		}
		return c.registry.Connect(conn)
	}
	return c.registry.Disconnect(conn)
}

// sortInstanceEntries orders list replies deterministically.
func sortInstanceEntries(entries []InstanceEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Instance < entries[j].Instance
	})
}
