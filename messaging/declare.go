package messaging

import (
	"context"
	"fmt"

	"github.com/glimte/mmate-schema/contracts"
	"github.com/glimte/mmate-schema/registry"
	"github.com/glimte/mmate-schema/schema"
	"github.com/glimte/mmate-schema/versioning"
)

// DeclareOption configures a declaration
type DeclareOption func(*MessageType)

// WithFactory sets the envelope factory used by the declared type
func WithFactory(f *EnvelopeFactory) DeclareOption {
	return func(m *MessageType) {
		m.factory = f
	}
}

// WithDeclaredValidator sets the validator used by MessageType.Validate and New
func WithDeclaredValidator(v *Validator) DeclareOption {
	return func(m *MessageType) {
		m.validator = v
	}
}

// Declare registers a versioned message type: the base key with its
// version-set shape and every version entry in one write. The chain is
// verified before anything is written.
func Declare(reg *registry.Registry, kind contracts.Kind, key contracts.TypeKey, doc string, versions []versioning.Entry, options ...DeclareOption) (*MessageType, error) {
	chain := versioning.NewChain(kind, key, versions...)
	if err := chain.Verify(); err != nil {
		return nil, fmt.Errorf("declare %s: %w", key, err)
	}

	if err := reg.RegisterChain(kind, key, &versionSetShape{reg: reg, base: key}, doc, chain.Entries()); err != nil {
		return nil, fmt.Errorf("declare %s: %w", key, err)
	}

	m := &MessageType{key: key, kind: kind, reg: reg}
	for _, opt := range options {
		opt(m)
	}
	if m.factory == nil {
		m.factory = NewEnvelopeFactory()
	}
	if m.validator == nil {
		m.validator = NewValidator(reg)
	}
	return m, nil
}

// MustDeclare is like Declare but panics on error
func MustDeclare(reg *registry.Registry, kind contracts.Kind, key contracts.TypeKey, doc string, versions []versioning.Entry, options ...DeclareOption) *MessageType {
	m, err := Declare(reg, kind, key, doc, versions, options...)
	if err != nil {
		panic(err)
	}
	return m
}

// MessageType is the versioned constructor for one declared type
type MessageType struct {
	key       contracts.TypeKey
	kind      contracts.Kind
	reg       *registry.Registry
	factory   *EnvelopeFactory
	validator *Validator
}

// Key returns the base type key
func (m *MessageType) Key() contracts.TypeKey { return m.key }

// Kind returns event or command
func (m *MessageType) Kind() contracts.Kind { return m.kind }

// VersionKey returns the versioned key for version v
func (m *MessageType) VersionKey(v int) (contracts.TypeKey, error) {
	return contracts.VersionedKey(m.kind, v, m.key)
}

// Chain returns the current version chain from the registry
func (m *MessageType) Chain() (*versioning.Chain, error) {
	return m.reg.Chain(m.key)
}

// Latest returns the highest declared version
func (m *MessageType) Latest() (int, error) {
	chain, err := m.Chain()
	if err != nil {
		return 0, err
	}
	latest, ok := chain.Latest()
	if !ok {
		return 0, &registry.UnknownVersionError{Key: m.key}
	}
	return latest, nil
}

// Build creates an envelope for version v without validating it
func (m *MessageType) Build(v int, fields contracts.Payload, opts ...EnvelopeOption) (*contracts.Envelope, error) {
	key, err := m.VersionKey(v)
	if err != nil {
		return nil, err
	}
	if _, err := m.reg.LookupVersion(key); err != nil {
		return nil, err
	}
	return m.factory.Build(key, fields, opts...)
}

// New builds an envelope for version v and validates it
func (m *MessageType) New(ctx context.Context, v int, fields contracts.Payload, opts ...EnvelopeOption) (*contracts.Envelope, error) {
	env, err := m.Build(v, fields, opts...)
	if err != nil {
		return nil, err
	}
	return m.validator.Validate(ctx, m.key, env)
}

// Validate checks env against the declared version set
func (m *MessageType) Validate(ctx context.Context, env *contracts.Envelope) (*contracts.Envelope, error) {
	return m.validator.Validate(ctx, m.key, env)
}

// Cast moves payload between two declared versions
func (m *MessageType) Cast(payload contracts.Payload, from, to int) (contracts.Payload, error) {
	return m.reg.Cast(m.key, payload, from, to)
}

// Upgrade casts payload from version `from` to the latest version
func (m *MessageType) Upgrade(payload contracts.Payload, from int) (contracts.Payload, int, error) {
	chain, err := m.Chain()
	if err != nil {
		return payload, from, err
	}
	return chain.Upgrade(payload, from)
}

// Examples returns up to n example payloads for version v, stamped with the
// versioned key. Shapes that cannot produce examples yield none.
func (m *MessageType) Examples(v int, n int) ([]contracts.Payload, error) {
	key, err := m.VersionKey(v)
	if err != nil {
		return nil, err
	}
	entry, err := m.reg.LookupVersion(key)
	if err != nil {
		return nil, err
	}
	ex, ok := entry.Shape.(schema.Exampler)
	if !ok {
		return nil, nil
	}

	var out []contracts.Payload
	for _, value := range ex.Examples(n) {
		obj, ok := value.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, contracts.Payload(obj).WithTypeKey(key))
	}
	return out, nil
}
