// Package descriptor defines the self-describing JSON document every node
// publishes: its version, the interface version it speaks, and the input and
// output channels it declares. The router validates envelope channels against
// the receiving node's declared input set, so the descriptor is the single
// source of truth for what a node will accept.
package descriptor

import (
	"encoding/json"
	"fmt"

	"github.com/skunkforce/node-agnostic-datastream-interface/envelope"
	"github.com/skunkforce/node-agnostic-datastream-interface/errors"
)

// InterfaceVersion is the protocol version written into descriptors built by
// this module.
const InterfaceVersion = "1.0.0"

// Channel describes one declared channel of a node.
type Channel struct {
	Number      envelope.Channel `json:"number"`
	Name        string           `json:"name,omitempty"`
	Description string           `json:"description,omitempty"`
	DataTypes   []string         `json:"data types,omitempty"`
}

// Channels groups a node's declared input and output channels.
type Channels struct {
	Input  []Channel `json:"input"`
	Output []Channel `json:"output"`
}

// HasInput reports whether number appears in the declared input set.
func (c Channels) HasInput(number envelope.Channel) bool {
	for _, ch := range c.Input {
		if ch.Number == number {
			return true
		}
	}
	return false
}

// HasOutput reports whether number appears in the declared output set.
func (c Channels) HasOutput(number envelope.Channel) bool {
	for _, ch := range c.Output {
		if ch.Number == number {
			return true
		}
	}
	return false
}

// Descriptor is the top-level node description document.
//
// The wire keys "nadi version" and "data types" are spelled with spaces;
// that spelling is part of the protocol. Unknown top-level fields are
// preserved across unmarshal/marshal so future standardized fields survive a
// round trip through this module.
type Descriptor struct {
	Version     string   `json:"version"`
	NadiVersion string   `json:"nadi version"`
	Description string   `json:"description,omitempty"`
	Channels    Channels `json:"channels"`

	// Extra holds unrecognized top-level fields, keyed by their JSON name.
	Extra map[string]json.RawMessage `json:"-"`
}

// New creates a descriptor for the given channel sets with the current
// interface version.
func New(version, description string, channels Channels) Descriptor {
	return Descriptor{
		Version:     version,
		NadiVersion: InterfaceVersion,
		Description: description,
		Channels:    channels,
	}
}

// Validate checks the structural invariants of the descriptor: versions
// present and every declared channel number inside the usable space.
func (d Descriptor) Validate() error {
	if d.Version == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Descriptor", "Validate", "version presence check")
	}
	if d.NadiVersion == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Descriptor", "Validate", "nadi version presence check")
	}
	for _, ch := range d.Channels.Input {
		if !ch.Number.Valid() {
			return errors.WrapInvalid(
				fmt.Errorf("input channel 0x%X is reserved for future standardization", uint32(ch.Number)),
				"Descriptor", "Validate", "input channel range check")
		}
	}
	for _, ch := range d.Channels.Output {
		if !ch.Number.Valid() {
			return errors.WrapInvalid(
				fmt.Errorf("output channel 0x%X is reserved for future standardization", uint32(ch.Number)),
				"Descriptor", "Validate", "output channel range check")
		}
	}
	return nil
}

// knownField reports whether a top-level key belongs to the standardized
// descriptor schema.
func knownField(key string) bool {
	switch key {
	case "version", "nadi version", "description", "channels":
		return true
	}
	return false
}

// MarshalJSON emits the descriptor including any preserved extra fields.
func (d Descriptor) MarshalJSON() ([]byte, error) {
	type alias Descriptor // prevent recursion

	base, err := json.Marshal(alias(d))
	if err != nil {
		return nil, errors.Wrap(err, "Descriptor", "MarshalJSON", "base marshaling")
	}

	if len(d.Extra) == 0 {
		return base, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, errors.Wrap(err, "Descriptor", "MarshalJSON", "field merging")
	}
	for key, raw := range d.Extra {
		if !knownField(key) {
			merged[key] = raw
		}
	}

	return json.Marshal(merged)
}

// UnmarshalJSON parses the descriptor, collecting unrecognized top-level
// fields into Extra.
func (d *Descriptor) UnmarshalJSON(data []byte) error {
	type alias Descriptor

	var base alias
	if err := json.Unmarshal(data, &base); err != nil {
		return errors.WrapInvalid(err, "Descriptor", "UnmarshalJSON", "base unmarshaling")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return errors.WrapInvalid(err, "Descriptor", "UnmarshalJSON", "field scan")
	}

	*d = Descriptor(base)
	for key, raw := range fields {
		if !knownField(key) {
			if d.Extra == nil {
				d.Extra = make(map[string]json.RawMessage)
			}
			d.Extra[key] = raw
		}
	}

	return nil
}

// Parse decodes and validates a descriptor document.
func Parse(data []byte) (Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return Descriptor{}, errors.Wrap(err, "Descriptor", "Parse", "JSON decoding")
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, errors.Wrap(err, "Descriptor", "Parse", "validation")
	}
	return d, nil
}
