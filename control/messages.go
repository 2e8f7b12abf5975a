package control

import (
	"encoding/json"
	"fmt"

	"github.com/skunkforce/node-agnostic-datastream-interface/descriptor"
	"github.com/skunkforce/node-agnostic-datastream-interface/envelope"
	"github.com/skunkforce/node-agnostic-datastream-interface/errors"
	"github.com/skunkforce/node-agnostic-datastream-interface/schema"
)

// Protocol status strings carried in confirm messages.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Endpoint is one end of a connection: a node identified either by its
// instance name or by its raw handle, plus a channel number. On the wire an
// endpoint is a two-element array [identifier, channel].
type Endpoint struct {
	Name    string
	Handle  envelope.Handle
	ByName  bool
	Channel envelope.Channel
}

// NamedEndpoint builds an instance-name endpoint.
func NamedEndpoint(name string, channel envelope.Channel) Endpoint {
	return Endpoint{Name: name, ByName: true, Channel: channel}
}

// HandleEndpoint builds a raw-handle endpoint.
func HandleEndpoint(handle envelope.Handle, channel envelope.Channel) Endpoint {
	return Endpoint{Handle: handle, Channel: channel}
}

// MarshalJSON emits the wire pair [identifier, channel].
func (e Endpoint) MarshalJSON() ([]byte, error) {
	if e.ByName {
		return json.Marshal([]any{e.Name, e.Channel})
	}
	return json.Marshal([]any{e.Handle, e.Channel})
}

// UnmarshalJSON parses the wire pair. The identifier may be a string
// instance name or an integer handle.
func (e *Endpoint) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return errors.WrapInvalid(err, "Endpoint", "UnmarshalJSON", "pair decoding")
	}
	if len(pair) != 2 {
		return errors.WrapInvalid(
			fmt.Errorf("endpoint arity %d, want 2", len(pair)),
			"Endpoint", "UnmarshalJSON", "arity check")
	}

	var name string
	if err := json.Unmarshal(pair[0], &name); err == nil {
		e.Name = name
		e.ByName = true
	} else {
		var handle uint64
		if err := json.Unmarshal(pair[0], &handle); err != nil {
			return errors.WrapInvalid(err, "Endpoint", "UnmarshalJSON", "identifier decoding")
		}
		e.Handle = envelope.Handle(handle)
		e.ByName = false
	}

	var channel uint32
	if err := json.Unmarshal(pair[1], &channel); err != nil {
		return errors.WrapInvalid(err, "Endpoint", "UnmarshalJSON", "channel decoding")
	}
	e.Channel = envelope.Channel(channel)
	return nil
}

// listRequest covers the three catalog queries, which carry only type and a
// required id.
type listRequest struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type nodeCreateRequest struct {
	Type         string `json:"type"`
	AbstractName string `json:"abstract_name"`
	InstanceName string `json:"instance_name"`
	ID           string `json:"id,omitempty"`
}

type nodeDestroyRequest struct {
	Type         string `json:"type"`
	InstanceName string `json:"instance_name"`
	ID           string `json:"id,omitempty"`
}

type connectRequest struct {
	Type        string   `json:"type"`
	Source      Endpoint `json:"source"`
	Destination Endpoint `json:"destination"`
	ID          string   `json:"id,omitempty"`
}

// nodeEdgeRequest is the node-initiated connect/disconnect variant: both
// components of source are integers and target is a bare handle. The target
// input channel matches the source output channel.
type nodeEdgeRequest struct {
	Type   string   `json:"type"`
	Source Endpoint `json:"source"`
	Target uint64   `json:"target"`
	ID     string   `json:"id,omitempty"`
}

// confirm is the common confirm shape for destroy, connect, and disconnect
// outcomes.
type confirm struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	ID      string `json:"id,omitempty"`
}

// createConfirm reports a node.create outcome, carrying the fresh handle on
// success.
type createConfirm struct {
	Type         string `json:"type"`
	Node         uint64 `json:"node"`
	InstanceName string `json:"instance_name"`
	Status       string `json:"status"`
	Message      string `json:"message,omitempty"`
	ID           string `json:"id,omitempty"`
}

// AbstractEntry is one catalog entry in a context.abstract_nodes.list reply.
type AbstractEntry struct {
	Name        string               `json:"name"`
	Version     string               `json:"version"`
	Description string               `json:"description,omitempty"`
	Channels    *descriptor.Channels `json:"channels,omitempty"`
}

type abstractNodesList struct {
	Type      string          `json:"type"`
	Instances []AbstractEntry `json:"instances"`
	ID        string          `json:"id"`
}

// InstanceEntry is one live instance in a context.nodes.list reply.
type InstanceEntry struct {
	Instance string `json:"instance"`
}

type nodesList struct {
	Type      string          `json:"type"`
	Instances []InstanceEntry `json:"instances"`
	ID        string          `json:"id"`
}

// ConnectionEntry is one edge in a context.connections.list reply.
type ConnectionEntry struct {
	Source Endpoint `json:"source"`
	Target Endpoint `json:"target"`
}

type connectionsList struct {
	Type        string            `json:"type"`
	Connections []ConnectionEntry `json:"connections"`
	ID          string            `json:"id"`
}

// confirmTypeFor maps a request type to its confirm type.
func confirmTypeFor(requestType string) string {
	switch requestType {
	case schema.TypeContextNodeCreate:
		return schema.TypeContextNodeCreateConfirm
	case schema.TypeContextNodeDestroy:
		return schema.TypeContextNodeDestroyConfirm
	case schema.TypeContextConnect:
		return schema.TypeContextConnectConfirm
	case schema.TypeContextDisconnect:
		return schema.TypeContextDisconnectConfirm
	case schema.TypeNodeConnect:
		return schema.TypeNodeConnectConfirm
	case schema.TypeNodeDisconnect:
		return schema.TypeNodeDisconnectConfirm
	}
	return ""
}
