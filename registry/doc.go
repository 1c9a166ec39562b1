// Package registry stores message type declarations for the lifetime of a
// process.
//
// The Registry maps base type keys to Records: the base shape, the version
// table, documentation and auxiliary references. Writes replace one key's
// whole record by compare-and-swap on a copy-on-write map, so readers never
// block and never observe a partially written record.
//
// Example usage:
//
//	reg := registry.New(registry.WithLogger(logger))
//	err := reg.RegisterChain(contracts.KindEvent, key, baseShape, "An order was placed",
//		[]versioning.Entry{{Version: 1, Shape: v1}})
//	err = reg.RegisterVersion(key, versioning.Entry{Version: 2, Shape: v2, Upcast: up, Downcast: down})
//
//	rec, err := reg.Lookup(key)
//	keys := reg.List(contracts.KindEvent)
package registry
