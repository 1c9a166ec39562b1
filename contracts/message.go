package contracts

import (
	"context"
	"fmt"
)

// Kind classifies a message as an event or a command
type Kind string

const (
	// KindEvent represents something that has happened
	KindEvent Kind = "event"
	// KindCommand represents an action to be performed
	KindCommand Kind = "command"
)

// Valid reports whether k is a supported kind
func (k Kind) Valid() bool {
	return k == KindEvent || k == KindCommand
}

// ParseKind parses "event" or "command"
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown message kind %q", s)
	}
	return k, nil
}

// TypeField is the payload field carrying the message's type tag
const TypeField = "type"

// Payload is the type-tagged body of a message
type Payload map[string]any

// TypeKey returns the payload's embedded type tag. Tags decoded from the
// wire arrive as strings and are parsed on access.
func (p Payload) TypeKey() (TypeKey, bool) {
	switch tag := p[TypeField].(type) {
	case TypeKey:
		return tag, true
	case string:
		key, err := ParseTypeKey(tag)
		if err != nil {
			return TypeKey{}, false
		}
		return key, true
	default:
		return TypeKey{}, false
	}
}

// HasTypeTag reports whether the type tag field is present at all
func (p Payload) HasTypeTag() bool {
	_, ok := p[TypeField]
	return ok
}

// WithTypeKey returns a copy of p stamped with key
func (p Payload) WithTypeKey(key TypeKey) Payload {
	out := p.Clone()
	if out == nil {
		out = Payload{}
	}
	out[TypeField] = key
	return out
}

// Clone returns a deep copy of the payload's maps and slices
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case Payload:
		return val.Clone()
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, inner := range val {
			m[k] = cloneValue(inner)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, inner := range val {
			s[i] = cloneValue(inner)
		}
		return s
	default:
		return v
	}
}

// Handler is the pure function behind a simple command: it maps a validated
// input payload to zero or more produced payloads.
type Handler func(ctx context.Context, input Payload) []Payload

// WebAdapter pre-processes a raw boundary request into a payload before a
// simple command is invoked. The core never calls it.
type WebAdapter func(ctx context.Context, raw any) (Payload, error)
