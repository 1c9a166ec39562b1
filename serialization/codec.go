package serialization

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/glimte/mmate-schema/contracts"
)

// JSONSerializer encodes envelopes and binds payloads to Go structs
type JSONSerializer struct {
	bindings    *Bindings
	prettyPrint bool
	useNumber   bool
}

// JSONSerializerOption configures the JSON serializer
type JSONSerializerOption func(*JSONSerializer)

// WithBindings sets the binding table used by Bind and Encode
func WithBindings(bindings *Bindings) JSONSerializerOption {
	return func(s *JSONSerializer) {
		s.bindings = bindings
	}
}

// WithPrettyPrint enables pretty printing
func WithPrettyPrint(pretty bool) JSONSerializerOption {
	return func(s *JSONSerializer) {
		s.prettyPrint = pretty
	}
}

// WithUseNumber decodes payload numbers as json.Number instead of float64
func WithUseNumber(use bool) JSONSerializerOption {
	return func(s *JSONSerializer) {
		s.useNumber = use
	}
}

// NewJSONSerializer creates a new JSON serializer
func NewJSONSerializer(opts ...JSONSerializerOption) *JSONSerializer {
	s := &JSONSerializer{
		bindings: NewBindings(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Bindings returns the serializer's binding table
func (s *JSONSerializer) Bindings() *Bindings {
	return s.bindings
}

// SerializeEnvelope serializes an envelope
func (s *JSONSerializer) SerializeEnvelope(env *contracts.Envelope) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("envelope cannot be nil")
	}

	if s.prettyPrint {
		return json.MarshalIndent(env, "", "  ")
	}
	return json.Marshal(env)
}

// DeserializeEnvelope deserializes an envelope. The payload's type tag
// arrives as a string and is parsed on access.
func (s *JSONSerializer) DeserializeEnvelope(data []byte) (*contracts.Envelope, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("data cannot be empty")
	}

	var env contracts.Envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	if s.useNumber {
		dec.UseNumber()
	}
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}

	return &env, nil
}

// Encode converts a bound struct into a payload stamped with its type key
func (s *JSONSerializer) Encode(value any) (contracts.Payload, error) {
	key, err := s.bindings.KeyOf(value)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	var payload contracts.Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%s does not encode as an object: %w", key, err)
	}
	return payload.WithTypeKey(key), nil
}

// Bind decodes payload into a fresh instance of the struct bound to its type
// tag and returns a pointer to it
func (s *JSONSerializer) Bind(payload contracts.Payload) (any, error) {
	key, ok := payload.TypeKey()
	if !ok {
		return nil, fmt.Errorf("payload carries no type tag")
	}

	instance, err := s.bindings.New(key)
	if err != nil {
		return nil, err
	}
	if err := s.BindInto(payload, instance); err != nil {
		return nil, err
	}
	return instance, nil
}

// BindInto decodes payload into target
func (s *JSONSerializer) BindInto(payload contracts.Payload, target any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("failed to bind payload into %T: %w", target, err)
	}
	return nil
}
