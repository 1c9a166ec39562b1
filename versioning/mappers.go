package versioning

import (
	"fmt"

	"github.com/glimte/mmate-schema/contracts"
)

// AddField sets name to value when the payload does not already carry it
func AddField(name string, value any) Caster {
	return func(p contracts.Payload) (contracts.Payload, error) {
		out := p.Clone()
		if out == nil {
			out = contracts.Payload{}
		}
		if _, exists := out[name]; !exists {
			out[name] = value
		}
		return out, nil
	}
}

// DropField removes name from the payload
func DropField(name string) Caster {
	return func(p contracts.Payload) (contracts.Payload, error) {
		out := p.Clone()
		delete(out, name)
		return out, nil
	}
}

// RenameField moves the value at from to to. A missing source is a no-op.
func RenameField(from, to string) Caster {
	return func(p contracts.Payload) (contracts.Payload, error) {
		out := p.Clone()
		value, exists := out[from]
		if !exists {
			return out, nil
		}
		if _, taken := out[to]; taken {
			return nil, fmt.Errorf("rename %s -> %s: target field already present", from, to)
		}
		delete(out, from)
		out[to] = value
		return out, nil
	}
}

// TransformField replaces the value at name with fn(value). A missing field
// is left alone.
func TransformField(name string, fn func(any) (any, error)) Caster {
	return func(p contracts.Payload) (contracts.Payload, error) {
		out := p.Clone()
		value, exists := out[name]
		if !exists {
			return out, nil
		}
		next, err := fn(value)
		if err != nil {
			return nil, fmt.Errorf("transform %s: %w", name, err)
		}
		out[name] = next
		return out, nil
	}
}

// Compose runs casters left to right
func Compose(casters ...Caster) Caster {
	return func(p contracts.Payload) (contracts.Payload, error) {
		current := p
		for _, c := range casters {
			next, err := c(current)
			if err != nil {
				return nil, err
			}
			current = next
		}
		return current, nil
	}
}

// AddFieldPair returns an upcast adding name with a default and the
// matching downcast dropping it
func AddFieldPair(name string, value any) (up, down Caster) {
	return AddField(name, value), DropField(name)
}

// RenameFieldPair returns an upcast renaming from -> to and its inverse
func RenameFieldPair(from, to string) (up, down Caster) {
	return RenameField(from, to), RenameField(to, from)
}
