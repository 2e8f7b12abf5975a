// Package schema implements structural validation for NADI control messages.
//
// One pure predicate exists per message kind. Predicates check only
// structure: presence and JSON type of every required field, exact value of
// the "type" discriminator, endpoint arrays of arity exactly two, and the
// element types of nested arrays. They never consult registry or catalog
// state, so a message that validates may still fail at the controller for
// semantic reasons (unknown instance, wrong channel direction) reported
// through confirm statuses.
//
// The primary signal is accept/reject. Check returns the first failing field
// path for debugging; it never changes what is accepted.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Type discriminator strings for every control message kind.
const (
	TypeContextAbstractNodes      = "context.abstract_nodes"
	TypeContextAbstractNodesList  = "context.abstract_nodes.list"
	TypeContextConnect            = "context.connect"
	TypeContextConnectConfirm     = "context.connect.confirm"
	TypeContextConnections        = "context.connections"
	TypeContextConnectionsList    = "context.connections.list"
	TypeContextDisconnect         = "context.disconnect"
	TypeContextDisconnectConfirm  = "context.disconnect.confirm"
	TypeContextNodeCreate         = "context.node.create"
	TypeContextNodeCreateConfirm  = "context.node.create.confirm"
	TypeContextNodeDestroy        = "context.node.destroy"
	TypeContextNodeDestroyConfirm = "context.node.destroy.confirm"
	TypeContextNodes              = "context.nodes"
	TypeContextNodesList          = "context.nodes.list"
	TypeNodeConnect               = "node.connect"
	TypeNodeConnectConfirm        = "node.connect.confirm"
	TypeNodeDisconnect            = "node.disconnect"
	TypeNodeDisconnectConfirm     = "node.disconnect.confirm"
)

// Result carries the outcome of a diagnostic check. Path names the first
// failing field in dotted form (e.g. "instances[2].channels.input[0].number")
// and is empty when Valid.
type Result struct {
	Valid bool
	Path  string
}

func fail(path string) Result { return Result{Valid: false, Path: path} }

var ok = Result{Valid: true}

// isString reports whether v is a JSON string.
func isString(v any) bool {
	_, yes := v.(string)
	return yes
}

// isInt reports whether v is a JSON integer. Documents decoded with
// json.Decoder.UseNumber carry json.Number values; programmatically built
// documents may carry native Go integers or whole floats.
func isInt(v any) bool {
	switch n := v.(type) {
	case json.Number:
		_, err := n.Int64()
		return err == nil
	case int, int32, int64, uint, uint32, uint64:
		return true
	case float64:
		return n == float64(int64(n))
	}
	return false
}

func isArray(v any) bool {
	_, yes := v.([]any)
	return yes
}

func isObject(v any) bool {
	_, yes := v.(map[string]any)
	return yes
}

// checkType verifies the "type" discriminator is present, a string, and
// exactly the expected value.
func checkType(msg map[string]any, expected string) Result {
	v, present := msg["type"]
	if !present || !isString(v) || v.(string) != expected {
		return fail("type")
	}
	return ok
}

// checkString verifies a field: when required it must be present; when
// present it must be a string.
func checkString(msg map[string]any, field string, required bool) Result {
	v, present := msg[field]
	if !present {
		if required {
			return fail(field)
		}
		return ok
	}
	if !isString(v) {
		return fail(field)
	}
	return ok
}

// checkEndpoint verifies an endpoint pair: an array of arity exactly two
// whose first element is a string or integer identifier and whose second is
// an integer channel. When intOnly is set the identifier must be an integer
// handle (the node.* message family).
func checkEndpoint(msg map[string]any, field string, intOnly bool) Result {
	v, present := msg[field]
	if !present || !isArray(v) {
		return fail(field)
	}
	pair := v.([]any)
	if len(pair) != 2 {
		return fail(field)
	}
	if intOnly {
		if !isInt(pair[0]) {
			return fail(field + "[0]")
		}
	} else if !isString(pair[0]) && !isInt(pair[0]) {
		return fail(field + "[0]")
	}
	if !isInt(pair[1]) {
		return fail(field + "[1]")
	}
	return ok
}

// checkChannelList verifies a descriptor channel array inside an abstract
// node entry: every element an object with a required integer "number",
// optional string "name", and optional "data types" array.
func checkChannelList(channels []any, path string) Result {
	for i, v := range channels {
		p := fmt.Sprintf("%s[%d]", path, i)
		ch, yes := v.(map[string]any)
		if !yes {
			return fail(p)
		}
		if n, present := ch["number"]; !present || !isInt(n) {
			return fail(p + ".number")
		}
		if name, present := ch["name"]; present && !isString(name) {
			return fail(p + ".name")
		}
		if dt, present := ch["data types"]; present && !isArray(dt) {
			return fail(p + ".data types")
		}
	}
	return ok
}

// checkContextAbstractNodes validates context.abstract_nodes.
func checkContextAbstractNodes(msg map[string]any) Result {
	if r := checkType(msg, TypeContextAbstractNodes); !r.Valid {
		return r
	}
	return checkString(msg, "id", true)
}

// checkContextAbstractNodesList validates context.abstract_nodes.list.
func checkContextAbstractNodesList(msg map[string]any) Result {
	if r := checkType(msg, TypeContextAbstractNodesList); !r.Valid {
		return r
	}
	v, present := msg["instances"]
	if !present || !isArray(v) {
		return fail("instances")
	}
	if r := checkString(msg, "id", true); !r.Valid {
		return r
	}
	for i, item := range v.([]any) {
		p := fmt.Sprintf("instances[%d]", i)
		entry, yes := item.(map[string]any)
		if !yes {
			return fail(p)
		}
		if r := checkString(entry, "name", true); !r.Valid {
			return fail(p + ".name")
		}
		if r := checkString(entry, "version", true); !r.Valid {
			return fail(p + ".version")
		}
		if r := checkString(entry, "description", false); !r.Valid {
			return fail(p + ".description")
		}
		if c, present := entry["channels"]; present {
			channels, yes := c.(map[string]any)
			if !yes {
				return fail(p + ".channels")
			}
			if in, present := channels["input"]; present {
				if !isArray(in) {
					return fail(p + ".channels.input")
				}
				if r := checkChannelList(in.([]any), p+".channels.input"); !r.Valid {
					return r
				}
			}
			if out, present := channels["output"]; present {
				if !isArray(out) {
					return fail(p + ".channels.output")
				}
				if r := checkChannelList(out.([]any), p+".channels.output"); !r.Valid {
					return r
				}
			}
		}
	}
	return ok
}

// checkContextConnect validates context.connect.
func checkContextConnect(msg map[string]any) Result {
	if r := checkType(msg, TypeContextConnect); !r.Valid {
		return r
	}
	if r := checkEndpoint(msg, "source", false); !r.Valid {
		return r
	}
	if r := checkEndpoint(msg, "destination", false); !r.Valid {
		return r
	}
	return checkString(msg, "id", false)
}

// checkConfirm validates the common confirm shape: required status string,
// id per requiredID, optional message string when allowMessage.
func checkConfirm(msg map[string]any, msgType string, requiredID, allowMessage bool) Result {
	if r := checkType(msg, msgType); !r.Valid {
		return r
	}
	if r := checkString(msg, "status", true); !r.Valid {
		return r
	}
	if r := checkString(msg, "id", requiredID); !r.Valid {
		return r
	}
	if allowMessage {
		return checkString(msg, "message", false)
	}
	return ok
}

// checkContextConnections validates context.connections.
func checkContextConnections(msg map[string]any) Result {
	if r := checkType(msg, TypeContextConnections); !r.Valid {
		return r
	}
	return checkString(msg, "id", true)
}

// checkContextConnectionsList validates context.connections.list.
func checkContextConnectionsList(msg map[string]any) Result {
	if r := checkType(msg, TypeContextConnectionsList); !r.Valid {
		return r
	}
	v, present := msg["connections"]
	if !present || !isArray(v) {
		return fail("connections")
	}
	if r := checkString(msg, "id", true); !r.Valid {
		return r
	}
	for i, item := range v.([]any) {
		p := fmt.Sprintf("connections[%d]", i)
		conn, yes := item.(map[string]any)
		if !yes {
			return fail(p)
		}
		if r := checkEndpoint(conn, "source", false); !r.Valid {
			return fail(p + "." + r.Path)
		}
		if r := checkEndpoint(conn, "target", false); !r.Valid {
			return fail(p + "." + r.Path)
		}
	}
	return ok
}

// checkContextDisconnect validates context.disconnect.
func checkContextDisconnect(msg map[string]any) Result {
	if r := checkType(msg, TypeContextDisconnect); !r.Valid {
		return r
	}
	if r := checkEndpoint(msg, "source", false); !r.Valid {
		return r
	}
	if r := checkEndpoint(msg, "destination", false); !r.Valid {
		return r
	}
	return checkString(msg, "id", false)
}

// checkContextNodeCreate validates context.node.create.
func checkContextNodeCreate(msg map[string]any) Result {
	if r := checkType(msg, TypeContextNodeCreate); !r.Valid {
		return r
	}
	if r := checkString(msg, "abstract_name", true); !r.Valid {
		return r
	}
	if r := checkString(msg, "instance_name", true); !r.Valid {
		return r
	}
	return checkString(msg, "id", false)
}

// checkContextNodeCreateConfirm validates context.node.create.confirm.
func checkContextNodeCreateConfirm(msg map[string]any) Result {
	if r := checkType(msg, TypeContextNodeCreateConfirm); !r.Valid {
		return r
	}
	if v, present := msg["node"]; !present || !isInt(v) {
		return fail("node")
	}
	if r := checkString(msg, "instance_name", true); !r.Valid {
		return r
	}
	return checkString(msg, "id", true)
}

// checkContextNodeDestroy validates context.node.destroy.
func checkContextNodeDestroy(msg map[string]any) Result {
	if r := checkType(msg, TypeContextNodeDestroy); !r.Valid {
		return r
	}
	if r := checkString(msg, "instance_name", true); !r.Valid {
		return r
	}
	return checkString(msg, "id", false)
}

// checkContextNodes validates context.nodes.
func checkContextNodes(msg map[string]any) Result {
	if r := checkType(msg, TypeContextNodes); !r.Valid {
		return r
	}
	return checkString(msg, "id", true)
}

// checkContextNodesList validates context.nodes.list.
func checkContextNodesList(msg map[string]any) Result {
	if r := checkType(msg, TypeContextNodesList); !r.Valid {
		return r
	}
	v, present := msg["instances"]
	if !present || !isArray(v) {
		return fail("instances")
	}
	if r := checkString(msg, "id", true); !r.Valid {
		return r
	}
	for i, item := range v.([]any) {
		p := fmt.Sprintf("instances[%d]", i)
		entry, yes := item.(map[string]any)
		if !yes {
			return fail(p)
		}
		if r := checkString(entry, "instance", true); !r.Valid {
			return fail(p + ".instance")
		}
	}
	return ok
}

// checkNodeEdge validates the node-initiated connect/disconnect shape:
// source is a two-integer endpoint and target is an integer handle.
func checkNodeEdge(msg map[string]any, msgType string) Result {
	if r := checkType(msg, msgType); !r.Valid {
		return r
	}
	if r := checkEndpoint(msg, "source", true); !r.Valid {
		return r
	}
	if v, present := msg["target"]; !present || !isInt(v) {
		return fail("target")
	}
	return checkString(msg, "id", false)
}

var checkers = map[string]func(map[string]any) Result{
	TypeContextAbstractNodes:     checkContextAbstractNodes,
	TypeContextAbstractNodesList: checkContextAbstractNodesList,
	TypeContextConnect:           checkContextConnect,
	TypeContextConnectConfirm: func(m map[string]any) Result {
		return checkConfirm(m, TypeContextConnectConfirm, false, false)
	},
	TypeContextConnections:     checkContextConnections,
	TypeContextConnectionsList: checkContextConnectionsList,
	TypeContextDisconnect:      checkContextDisconnect,
	TypeContextDisconnectConfirm: func(m map[string]any) Result {
		return checkConfirm(m, TypeContextDisconnectConfirm, false, false)
	},
	TypeContextNodeCreate:        checkContextNodeCreate,
	TypeContextNodeCreateConfirm: checkContextNodeCreateConfirm,
	TypeContextNodeDestroy:       checkContextNodeDestroy,
	TypeContextNodeDestroyConfirm: func(m map[string]any) Result {
		return checkConfirm(m, TypeContextNodeDestroyConfirm, false, false)
	},
	TypeContextNodes:     checkContextNodes,
	TypeContextNodesList: checkContextNodesList,
	TypeNodeConnect: func(m map[string]any) Result {
		return checkNodeEdge(m, TypeNodeConnect)
	},
	TypeNodeConnectConfirm: func(m map[string]any) Result {
		return checkConfirm(m, TypeNodeConnectConfirm, true, true)
	},
	TypeNodeDisconnect: func(m map[string]any) Result {
		return checkNodeEdge(m, TypeNodeDisconnect)
	},
	TypeNodeDisconnectConfirm: func(m map[string]any) Result {
		return checkConfirm(m, TypeNodeDisconnectConfirm, true, true)
	},
}

// Check validates a decoded control message against the schema for its
// "type" discriminator and reports the first failing field path. Messages
// with a missing, non-string, or unknown type fail at path "type".
func Check(msg map[string]any) Result {
	t, present := msg["type"]
	if !present || !isString(t) {
		return fail("type")
	}
	checker, known := checkers[t.(string)]
	if !known {
		return fail("type")
	}
	return checker(msg)
}

// Valid is the flat accept/reject predicate over a decoded control message.
func Valid(msg map[string]any) bool {
	return Check(msg).Valid
}

// ValidRaw decodes raw JSON text and validates it. Numbers are decoded with
// json.Number so integer checks reject fractional and exponent forms, and
// anything that is not a JSON object is rejected outright.
func ValidRaw(raw []byte) bool {
	msg, err := Decode(raw)
	if err != nil {
		return false
	}
	return Valid(msg)
}

// Decode parses raw JSON into the map form the validators operate on,
// preserving integer fidelity via json.Number.
func Decode(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()

	var msg map[string]any
	if err := dec.Decode(&msg); err != nil {
		return nil, err
	}
	return msg, nil
}
