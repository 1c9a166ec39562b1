// Package versioning models the version chain of a message type and moves
// payloads between its versions.
//
// A Chain is an ordered, gap-free run of Entries. Every entry after the
// lowest carries an upcast (previous -> this) and a downcast (this ->
// previous). Casting walks the chain one step at a time and either returns
// the fully transformed payload or fails without touching the caller's
// payload.
//
// Common steps need no hand-written casters:
//
//	up, down := versioning.AddFieldPair("b", false)
//	entry := versioning.Entry{Version: 2, Shape: v2Shape, Upcast: up, Downcast: down}
package versioning
