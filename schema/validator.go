package schema

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/glimte/mmate-schema/contracts"
)

// Validator checks a value against a shape. It returns nil when the value
// conforms. Implementations should return a *ValidationError so individual
// violations survive; any other error is reported as a single violation.
type Validator interface {
	Validate(ctx context.Context, value any) error
}

// ValidatorFunc is a function adapter for Validator
type ValidatorFunc func(ctx context.Context, value any) error

// Validate implements Validator
func (f ValidatorFunc) Validate(ctx context.Context, value any) error {
	return f(ctx, value)
}

// Exampler is implemented by validators that can produce conforming values
type Exampler interface {
	Examples(n int) []any
}

// Cause tags why a ValidationError was raised
type Cause string

const (
	// CauseShape means the payload failed its declared shape
	CauseShape Cause = "shape"
	// CauseTypeTag means the payload's type tag is missing or not registered
	CauseTypeTag Cause = "type-tag"
	// CauseEnvelope means the outer envelope is malformed
	CauseEnvelope Cause = "envelope"
	// CauseInvalidInput means a simple command rejected its input before the
	// handler ran. It is never a business-rule rejection.
	CauseInvalidInput Cause = "invalid-input"
)

// Violation describes one failed constraint
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Value   any    `json:"value,omitempty"`
}

// String renders the violation for error messages
func (v Violation) String() string {
	if v.Field == "" {
		return v.Message
	}
	return fmt.Sprintf("field '%s': %s", v.Field, v.Message)
}

// ValidationError reports every violated constraint and the offending input
type ValidationError struct {
	TypeKey    contracts.TypeKey `json:"typeKey"`
	Cause      Cause             `json:"cause"`
	Violations []Violation       `json:"violations"`
	Input      any               `json:"input,omitempty"`
}

// NewValidationError creates a validation error
func NewValidationError(cause Cause, input any, violations ...Violation) *ValidationError {
	return &ValidationError{
		Cause:      cause,
		Violations: violations,
		Input:      input,
	}
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	b := &strings.Builder{}
	b.WriteString("validation failed")
	if !e.TypeKey.IsZero() {
		fmt.Fprintf(b, " for %s", e.TypeKey)
	}
	if e.Cause != "" {
		fmt.Fprintf(b, " (%s)", e.Cause)
	}
	for i, v := range e.Violations {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(v.String())
	}
	if e.Input != nil {
		fmt.Fprintf(b, "; input: %v", e.Input)
	}
	return b.String()
}

// Is matches contracts.ErrValidation
func (e *ValidationError) Is(target error) bool {
	return target == contracts.ErrValidation
}

// AsValidationError extracts a *ValidationError from err
func AsValidationError(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}

// Check runs v and normalises the outcome into violations
func Check(ctx context.Context, v Validator, value any) []Violation {
	if v == nil {
		return nil
	}
	err := v.Validate(ctx, value)
	if err == nil {
		return nil
	}
	if verr, ok := AsValidationError(err); ok {
		if len(verr.Violations) == 0 {
			return []Violation{{Message: verr.Error(), Code: "INVALID"}}
		}
		return verr.Violations
	}
	return []Violation{{Message: err.Error(), Code: "INVALID"}}
}

// Predicate adapts a plain pass/fail function into a Validator
func Predicate(name string, fn func(value any) bool) Validator {
	return ValidatorFunc(func(ctx context.Context, value any) error {
		if fn(value) {
			return nil
		}
		return NewValidationError(CauseShape, value, Violation{
			Message: fmt.Sprintf("value does not satisfy %s", name),
			Code:    "PREDICATE_FAILED",
		})
	})
}

// All returns a Validator that passes only when every validator passes.
// Violations from all failing validators are reported together.
func All(validators ...Validator) Validator {
	return allOf(validators)
}

type allOf []Validator

func (a allOf) Validate(ctx context.Context, value any) error {
	var violations []Violation
	for _, v := range a {
		violations = append(violations, Check(ctx, v, value)...)
	}
	if len(violations) > 0 {
		return NewValidationError(CauseShape, value, violations...)
	}
	return nil
}

// Examples delegates to the first member able to produce examples
func (a allOf) Examples(n int) []any {
	for _, v := range a {
		if ex, ok := v.(Exampler); ok {
			return ex.Examples(n)
		}
	}
	return nil
}

// Any accepts every value
var Any Validator = ValidatorFunc(func(context.Context, any) error { return nil })
