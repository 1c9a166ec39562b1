// Package serialization encodes envelopes as JSON and binds payloads to Go
// structs registered per versioned type key.
package serialization
