// Package nadi implements a node-agnostic datastream interface: a process
// hosts a graph of nodes that exchange envelopes of JSON metadata plus a
// binary payload over numbered channels, without knowing anything about each
// other beyond their channel descriptors.
//
// # Architecture
//
// A System owns three cooperating pieces:
//
//   - registry: allocates node handles, stores descriptors, and tracks the
//     connection graph
//   - router: delivers envelopes to a destination node's declared input
//     channel, enforcing the ownership-transfer contract
//   - control: the context controller at handle 0, which answers graph
//     queries and executes node lifecycle and wiring commands sent on the
//     configure channel
//
// Transports extend the graph beyond the process: natsbridge forwards
// envelopes over NATS, and gateway exposes the control channel to WebSocket
// clients, each appearing in the graph as an ordinary node.
//
// # Ownership
//
// Envelopes carry a single-release contract. The sender owns an envelope
// until Send succeeds, at which point the receiver owns it and must Release
// it exactly once. A failed Send leaves ownership with the sender. Release
// after transfer, or a second Release, is a bug and panics.
//
// # Channels
//
// Channel numbers up to 0xEFFF are user-defined. 0xF000 is the configure
// channel accepted by the controller, 0xF100 carries its confirmations.
// Everything else above the user range is reserved.
package nadi
