package registry

import (
	"fmt"

	"github.com/glimte/mmate-schema/contracts"
)

// UnknownTypeKeyError is returned when a type key has not been declared
type UnknownTypeKeyError struct {
	Key contracts.TypeKey
}

// Error implements the error interface
func (e *UnknownTypeKeyError) Error() string {
	return fmt.Sprintf("unknown type key %s", e.Key)
}

// Is matches contracts.ErrUnknownTypeKey
func (e *UnknownTypeKeyError) Is(target error) bool {
	return target == contracts.ErrUnknownTypeKey
}

// UnknownVersionError is returned when a versioned key names a version the
// base record does not declare
type UnknownVersionError struct {
	Key     contracts.TypeKey
	Version int
}

// Error implements the error interface
func (e *UnknownVersionError) Error() string {
	return fmt.Sprintf("unknown version %d for %s", e.Version, e.Key)
}

// Is matches contracts.ErrUnknownVersion
func (e *UnknownVersionError) Is(target error) bool {
	return target == contracts.ErrUnknownVersion
}
