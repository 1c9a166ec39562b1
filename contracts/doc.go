// Package contracts provides the core identifiers and message shapes for the mmate schema registry.
//
// This package defines the contracts shared by every other package:
//   - TypeKey: Structured identifier of a message's business type, optionally versioned
//   - Kind: Whether a message is an event or a command
//   - Payload: The type-tagged body of a message
//   - Envelope: The outer wrapper (id, payload, origin) around a message instance
//   - Provenance / Source: Origin metadata for events and commands
//
// Versioned type keys follow a single, bit-exact naming convention: the
// namespace of a versioned key is the base namespace followed by
// ".<kind>.v<N>", for example "shop.order.event.v2/placed".
package contracts
