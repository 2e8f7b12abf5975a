// Package controlclient builds correlated control requests for the context
// controller. Every request carries a uuid correlation id so callers can
// match confirms to requests when several are in flight.
package controlclient

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/skunkforce/node-agnostic-datastream-interface/control"
	"github.com/skunkforce/node-agnostic-datastream-interface/envelope"
	"github.com/skunkforce/node-agnostic-datastream-interface/schema"
)

// Request is a serialized control message together with its correlation id.
type Request struct {
	ID   string
	Meta string
}

// Envelope wraps the request for sending to the context controller on the
// reserved command channel. The caller owns the envelope until a send
// succeeds.
func (r Request) Envelope(sender envelope.Handle) *envelope.Envelope {
	return envelope.New(r.Meta, nil, envelope.ChannelConfigureContext, sender)
}

// newRequest marshals doc and returns it as a Request. The documents built
// in this package always marshal cleanly.
func newRequest(id string, doc any) Request {
	meta, err := json.Marshal(doc)
	if err != nil {
		panic("controlclient: request marshaling: " + err.Error())
	}
	return Request{ID: id, Meta: string(meta)}
}

// ListAbstractNodes builds a context.abstract_nodes query.
func ListAbstractNodes() Request {
	id := uuid.New().String()
	return newRequest(id, struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}{schema.TypeContextAbstractNodes, id})
}

// ListNodes builds a context.nodes query.
func ListNodes() Request {
	id := uuid.New().String()
	return newRequest(id, struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}{schema.TypeContextNodes, id})
}

// ListConnections builds a context.connections query.
func ListConnections() Request {
	id := uuid.New().String()
	return newRequest(id, struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}{schema.TypeContextConnections, id})
}

// NodeCreate builds a context.node.create request.
func NodeCreate(abstractName, instanceName string) Request {
	id := uuid.New().String()
	return newRequest(id, struct {
		Type         string `json:"type"`
		AbstractName string `json:"abstract_name"`
		InstanceName string `json:"instance_name"`
		ID           string `json:"id"`
	}{schema.TypeContextNodeCreate, abstractName, instanceName, id})
}

// NodeDestroy builds a context.node.destroy request.
func NodeDestroy(instanceName string) Request {
	id := uuid.New().String()
	return newRequest(id, struct {
		Type         string `json:"type"`
		InstanceName string `json:"instance_name"`
		ID           string `json:"id"`
	}{schema.TypeContextNodeDestroy, instanceName, id})
}

// edgeDoc is the shared shape of connect and disconnect requests.
type edgeDoc struct {
	Type        string           `json:"type"`
	Source      control.Endpoint `json:"source"`
	Destination control.Endpoint `json:"destination"`
	ID          string           `json:"id"`
}

// Connect builds a context.connect request.
func Connect(source, destination control.Endpoint) Request {
	id := uuid.New().String()
	return newRequest(id, edgeDoc{schema.TypeContextConnect, source, destination, id})
}

// Disconnect builds a context.disconnect request.
func Disconnect(source, destination control.Endpoint) Request {
	id := uuid.New().String()
	return newRequest(id, edgeDoc{schema.TypeContextDisconnect, source, destination, id})
}

// nodeEdgeDoc is the node-initiated variant with integer endpoints.
type nodeEdgeDoc struct {
	Type   string           `json:"type"`
	Source control.Endpoint `json:"source"`
	Target uint64           `json:"target"`
	ID     string           `json:"id"`
}

// NodeConnect builds a node.connect request from one handle's output channel
// to a target handle.
func NodeConnect(source envelope.Handle, channel envelope.Channel, target envelope.Handle) Request {
	id := uuid.New().String()
	return newRequest(id, nodeEdgeDoc{
		schema.TypeNodeConnect, control.HandleEndpoint(source, channel), uint64(target), id})
}

// NodeDisconnect builds a node.disconnect request.
func NodeDisconnect(source envelope.Handle, channel envelope.Channel, target envelope.Handle) Request {
	id := uuid.New().String()
	return newRequest(id, nodeEdgeDoc{
		schema.TypeNodeDisconnect, control.HandleEndpoint(source, channel), uint64(target), id})
}
