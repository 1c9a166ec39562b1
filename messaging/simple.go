package messaging

import (
	"context"
	"fmt"

	"github.com/glimte/mmate-schema/contracts"
	"github.com/glimte/mmate-schema/registry"
	"github.com/glimte/mmate-schema/schema"
)

type simpleConfig struct {
	aux registry.Aux
	doc string
}

// SimpleOption configures a simple command declaration
type SimpleOption func(*simpleConfig)

// WithWebAdapter sets the pre-processing function a boundary applies to raw
// requests before Invoke
func WithWebAdapter(adapter contracts.WebAdapter) SimpleOption {
	return func(c *simpleConfig) {
		c.aux.WebAdapter = adapter
	}
}

// WithGenerates declares the message types the handler may produce
func WithGenerates(keys ...contracts.TypeKey) SimpleOption {
	return func(c *simpleConfig) {
		c.aux.Generates = append(c.aux.Generates, keys...)
	}
}

// WithResponseType declares the type key of a direct response
func WithResponseType(key contracts.TypeKey) SimpleOption {
	return func(c *simpleConfig) {
		c.aux.ResponseType = key
	}
}

// WithDoc sets the declaration's documentation
func WithDoc(doc string) SimpleOption {
	return func(c *simpleConfig) {
		c.doc = doc
	}
}

// SimpleCommand is a command whose input is validated against a shape and
// handed to a pure handler. It carries no version chain.
type SimpleCommand struct {
	key   contracts.TypeKey
	shape schema.Validator
	aux   registry.Aux
}

// DeclareSimple registers a simple/external command
func DeclareSimple(reg *registry.Registry, key contracts.TypeKey, shape schema.Validator, handler contracts.Handler, options ...SimpleOption) (*SimpleCommand, error) {
	cfg := simpleConfig{aux: registry.Aux{Handler: handler}}
	for _, opt := range options {
		opt(&cfg)
	}

	if err := reg.RegisterSimple(key, shape, cfg.doc, cfg.aux); err != nil {
		return nil, fmt.Errorf("declare simple %s: %w", key, err)
	}
	return &SimpleCommand{key: key, shape: shape, aux: cfg.aux}, nil
}

// SimpleFromRecord rebuilds the command handle from a registry record
func SimpleFromRecord(rec registry.Record) (*SimpleCommand, error) {
	if !rec.Simple {
		return nil, fmt.Errorf("%s is not a simple command", rec.Key)
	}
	return &SimpleCommand{key: rec.Key, shape: rec.Shape, aux: rec.Aux}, nil
}

// Key returns the command's type key
func (c *SimpleCommand) Key() contracts.TypeKey { return c.key }

// Generates returns the message types the handler may produce
func (c *SimpleCommand) Generates() []contracts.TypeKey {
	return append([]contracts.TypeKey(nil), c.aux.Generates...)
}

// ResponseType returns the declared response type, if any
func (c *SimpleCommand) ResponseType() (contracts.TypeKey, bool) {
	return c.aux.ResponseType, !c.aux.ResponseType.IsZero()
}

// Invoke validates input and, when it conforms, calls the handler exactly
// once and returns its output unchanged. Failing input is rejected with a
// ValidationError whose cause is CauseInvalidInput; the handler is not called.
func (c *SimpleCommand) Invoke(ctx context.Context, input contracts.Payload) ([]contracts.Payload, error) {
	if violations := schema.Check(ctx, c.shape, input.Clone()); len(violations) > 0 {
		verr := schema.NewValidationError(schema.CauseInvalidInput, input, violations...)
		verr.TypeKey = c.key
		return nil, verr
	}
	return c.aux.Handler(ctx, input), nil
}

// Adapt applies the web adapter to a raw request. Without an adapter the raw
// value must already be a payload.
func (c *SimpleCommand) Adapt(ctx context.Context, raw any) (contracts.Payload, error) {
	if c.aux.WebAdapter != nil {
		return c.aux.WebAdapter(ctx, raw)
	}
	switch v := raw.(type) {
	case contracts.Payload:
		return v, nil
	case map[string]any:
		return contracts.Payload(v), nil
	default:
		err := schema.NewValidationError(schema.CauseInvalidInput, raw, schema.Violation{
			Message: fmt.Sprintf("cannot adapt %T into a payload", raw),
			Code:    "UNADAPTABLE_INPUT",
		})
		err.TypeKey = c.key
		return nil, err
	}
}

// InvokeSimple looks up a simple command in reg and invokes it
func InvokeSimple(ctx context.Context, reg *registry.Registry, key contracts.TypeKey, input contracts.Payload) ([]contracts.Payload, error) {
	rec, err := reg.Lookup(key)
	if err != nil {
		return nil, err
	}
	cmd, err := SimpleFromRecord(rec)
	if err != nil {
		return nil, err
	}
	return cmd.Invoke(ctx, input)
}
