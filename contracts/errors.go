package contracts

import (
	"errors"
)

var (
	// Failures surfaced by the registry and its runtime operations
	ErrValidation     = errors.New("validation failed")
	ErrUnknownVersion = errors.New("unknown version")
	ErrMissingCaster  = errors.New("missing caster")
	ErrUnknownTypeKey = errors.New("unknown type key")

	// Declaration-time failures
	ErrInvalidTypeKey = errors.New("invalid type key")
	ErrInvalidChain   = errors.New("invalid version chain")
)

// ErrorClass tells a boundary component how to surface a failure
type ErrorClass int

const (
	// ClassNone is returned for a nil error
	ClassNone ErrorClass = iota
	// ClassClientInput means the caller sent data that does not conform
	ClassClientInput
	// ClassInternal means the registry is mis-declared or something else broke
	ClassInternal
)

// String returns a short name for the class
func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassClientInput:
		return "client-input"
	default:
		return "internal"
	}
}

// Classify maps an error to the response class a boundary should use.
// Validation failures are client input; unknown versions, unknown type keys,
// missing casters and anything unrecognised are internal.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrValidation):
		return ClassClientInput
	default:
		return ClassInternal
	}
}
