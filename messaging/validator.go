package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/glimte/mmate-schema/contracts"
	"github.com/glimte/mmate-schema/registry"
	"github.com/glimte/mmate-schema/schema"
)

// Recorder receives validation and cast outcomes
type Recorder interface {
	ObserveValidation(key contracts.TypeKey, err error)
	ObserveCast(base contracts.TypeKey, from, to int, err error)
}

// ValidatorOption configures the Validator
type ValidatorOption func(*Validator)

// WithValidatorLogger sets the logger
func WithValidatorLogger(logger *slog.Logger) ValidatorOption {
	return func(v *Validator) {
		v.logger = logger
	}
}

// WithValidatorRecorder reports every validation to r
func WithValidatorRecorder(r Recorder) ValidatorOption {
	return func(v *Validator) {
		v.recorder = r
	}
}

// Validator checks envelopes against the shapes registered for their type
type Validator struct {
	reg      *registry.Registry
	logger   *slog.Logger
	recorder Recorder
}

// NewValidator creates a validator over reg
func NewValidator(reg *registry.Registry, options ...ValidatorOption) *Validator {
	v := &Validator{
		reg:    reg,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(v)
	}
	return v
}

// Validate checks env against key. A versioned key selects that version's
// shape and requires the payload's type tag to match it. A base key runs the
// record's base shape, which for declared types dispatches on the type tag.
// The envelope is returned unchanged on success and is never modified.
func (v *Validator) Validate(ctx context.Context, key contracts.TypeKey, env *contracts.Envelope) (*contracts.Envelope, error) {
	err := v.validate(ctx, key, env)

	if verr, ok := schema.AsValidationError(err); ok {
		if verr.TypeKey.IsZero() {
			verr.TypeKey = key
		}
		verr.Input = env
	}
	if v.recorder != nil {
		v.recorder.ObserveValidation(key, err)
	}

	if err != nil {
		v.logger.Debug("envelope rejected",
			"typeKey", key.String(),
			"class", contracts.Classify(err).String(),
			"error", err,
		)
		return nil, err
	}
	return env, nil
}

// ValidateEnvelope validates env against the type named by its own tag
func (v *Validator) ValidateEnvelope(ctx context.Context, env *contracts.Envelope) error {
	tag, ok := env.TypeKey()
	if !ok {
		return schema.NewValidationError(schema.CauseTypeTag, env, missingTag())
	}
	_, err := v.Validate(ctx, contracts.BaseKey(tag), env)
	return err
}

func (v *Validator) validate(ctx context.Context, key contracts.TypeKey, env *contracts.Envelope) error {
	if env == nil {
		return schema.NewValidationError(schema.CauseEnvelope, nil, schema.Violation{
			Message: "envelope is nil",
			Code:    "MISSING_ENVELOPE",
		})
	}

	rec, err := v.reg.Lookup(key)
	if err != nil {
		return err
	}

	if violations := envelopeViolations(env, rec.Kind); len(violations) > 0 {
		return schema.NewValidationError(schema.CauseEnvelope, env, violations...)
	}

	switch {
	case rec.Simple:
		return checkShape(ctx, key, rec.Shape, env.Payload)

	case contracts.IsVersioned(key):
		entry, err := v.reg.LookupVersion(key)
		if err != nil {
			return err
		}
		tag, ok := env.Payload.TypeKey()
		if !ok {
			return schema.NewValidationError(schema.CauseTypeTag, env, missingTag())
		}
		if tag != key {
			return schema.NewValidationError(schema.CauseTypeTag, env, schema.Violation{
				Field:   contracts.TypeField,
				Message: fmt.Sprintf("type tag %s does not match %s", tag, key),
				Code:    "TYPE_TAG_MISMATCH",
				Value:   tag.String(),
			})
		}
		return checkShape(ctx, key, entry.Shape, env.Payload)

	default:
		return rec.Shape.Validate(ctx, env.Clone())
	}
}

// checkShape runs shape over a copy of payload
func checkShape(ctx context.Context, key contracts.TypeKey, shape schema.Validator, payload contracts.Payload) error {
	violations := schema.Check(ctx, shape, payload.Clone())
	if len(violations) == 0 {
		return nil
	}
	verr := schema.NewValidationError(schema.CauseShape, payload, violations...)
	verr.TypeKey = key
	return verr
}

func missingTag() schema.Violation {
	return schema.Violation{
		Field:   contracts.TypeField,
		Message: "payload carries no type tag",
		Code:    "MISSING_TYPE_TAG",
	}
}

func envelopeViolations(env *contracts.Envelope, kind contracts.Kind) []schema.Violation {
	var out []schema.Violation
	if env.ID == uuid.Nil {
		out = append(out, schema.Violation{Field: "id", Message: "envelope id is required", Code: "MISSING_ID"})
	}
	if env.Payload == nil {
		out = append(out, schema.Violation{Field: "payload", Message: "payload is required", Code: "MISSING_PAYLOAD"})
	}
	if env.Provenance != nil && kind != contracts.KindEvent {
		out = append(out, schema.Violation{Field: "provenance", Message: fmt.Sprintf("a %s cannot carry provenance", kind), Code: "ORIGIN_KIND_MISMATCH"})
	}
	if env.Source != nil && kind != contracts.KindCommand {
		out = append(out, schema.Violation{Field: "source", Message: fmt.Sprintf("a %s cannot carry a source", kind), Code: "ORIGIN_KIND_MISMATCH"})
	}
	return out
}

// versionSetShape is the base shape of a declared type: a well-formed
// envelope whose type tag is one of the registered versions, checked
// against that version's shape.
type versionSetShape struct {
	reg  *registry.Registry
	base contracts.TypeKey
}

// Validate implements schema.Validator
func (s *versionSetShape) Validate(ctx context.Context, value any) error {
	var env *contracts.Envelope
	switch e := value.(type) {
	case *contracts.Envelope:
		env = e
	case contracts.Envelope:
		env = &e
	}
	if env == nil {
		return schema.NewValidationError(schema.CauseEnvelope, value, schema.Violation{
			Message: fmt.Sprintf("expected an envelope, got %T", value),
			Code:    "NOT_ENVELOPE",
		})
	}

	rec, err := s.reg.Lookup(s.base)
	if err != nil {
		return err
	}
	if violations := envelopeViolations(env, rec.Kind); len(violations) > 0 {
		return schema.NewValidationError(schema.CauseEnvelope, env, violations...)
	}

	tag, ok := env.Payload.TypeKey()
	if !ok {
		return schema.NewValidationError(schema.CauseTypeTag, env, missingTag())
	}
	if !rec.HasVersionKey(tag) {
		return schema.NewValidationError(schema.CauseTypeTag, env, schema.Violation{
			Field:   contracts.TypeField,
			Message: fmt.Sprintf("%s is not a registered version of %s (registered: %s)", tag, s.base, joinKeys(rec.VersionKeys())),
			Code:    "UNKNOWN_TYPE_TAG",
			Value:   tag.String(),
		})
	}

	kv, _ := contracts.Destructure(tag)
	entry, _ := rec.Version(kv.Version)
	return checkShape(ctx, tag, entry.Shape, env.Payload)
}

func joinKeys(keys []contracts.TypeKey) string {
	if len(keys) == 0 {
		return "none"
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k.String()
	}
	return strings.Join(parts, ", ")
}

// castRecorded casts through the registry and reports the outcome
func castRecorded(reg *registry.Registry, r Recorder, base contracts.TypeKey, payload contracts.Payload, from, to int) (contracts.Payload, error) {
	out, err := reg.Cast(base, payload, from, to)
	if r != nil && from != to {
		r.ObserveCast(base, from, to, err)
	}
	if err != nil {
		return payload, err
	}
	return out, nil
}
