package schema

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/glimte/mmate-schema/contracts"
)

// JSONSchema projects the shape into a draft-07 JSON Schema document
func (s *Shape) JSONSchema() map[string]any {
	doc := objectSchema(s.Properties, s.Required)
	doc["$schema"] = "http://json-schema.org/draft-07/schema#"
	if s.Name != "" {
		doc["title"] = s.Name
	}
	if s.Description != "" {
		doc["description"] = s.Description
	}
	if s.Strict {
		doc["additionalProperties"] = false
		props := doc["properties"].(map[string]any)
		if _, ok := props[contracts.TypeField]; !ok {
			props[contracts.TypeField] = map[string]any{"type": "string", "format": typeKeyFormat}
		}
	}
	return doc
}

func objectSchema(props map[string]*PropertyDef, required []string) map[string]any {
	properties := make(map[string]any, len(props))
	for name, def := range props {
		properties[name] = propertySchema(def)
	}
	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = append([]string(nil), required...)
	}
	return doc
}

func propertySchema(def *PropertyDef) map[string]any {
	if def == nil {
		return map[string]any{}
	}
	var out map[string]any
	if def.Properties != nil {
		out = objectSchema(def.Properties, def.Required)
	} else {
		out = map[string]any{}
		if def.Type != "" {
			out["type"] = def.Type
		}
	}
	set := func(key string, value any, ok bool) {
		if ok {
			out[key] = value
		}
	}
	set("format", def.Format, def.Format != "")
	set("pattern", def.Pattern, def.Pattern != "")
	set("description", def.Description, def.Description != "")
	set("enum", def.Enum, len(def.Enum) > 0)
	set("default", def.Default, def.Default != nil)
	if def.MinLength != nil {
		out["minLength"] = *def.MinLength
	}
	if def.MaxLength != nil {
		out["maxLength"] = *def.MaxLength
	}
	if def.Minimum != nil {
		out["minimum"] = *def.Minimum
	}
	if def.Maximum != nil {
		out["maximum"] = *def.Maximum
	}
	if def.Items != nil {
		out["items"] = propertySchema(def.Items)
	}
	return out
}

// ShapeOf derives a Shape from a struct value's exported fields and json
// tags. Fields without omitempty are required.
func ShapeOf(v any) (*Shape, error) {
	t := reflect.TypeOf(v)
	if t == nil {
		return nil, fmt.Errorf("cannot derive shape from nil")
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("shape source must be a struct, got %v", t.Kind())
	}

	g := &shapeGenerator{seen: make(map[reflect.Type]bool)}
	def := g.generate(t)
	return &Shape{
		Name:       t.Name(),
		Properties: def.Properties,
		Required:   def.Required,
	}, nil
}

// MustShapeOf is like ShapeOf but panics on error
func MustShapeOf(v any) *Shape {
	s, err := ShapeOf(v)
	if err != nil {
		panic(err)
	}
	return s
}

type shapeGenerator struct {
	// Track types we've already seen to avoid infinite recursion
	seen map[reflect.Type]bool
}

var (
	timeType    = reflect.TypeOf(time.Time{})
	uuidType    = reflect.TypeOf(uuid.UUID{})
	typeKeyType = reflect.TypeOf(contracts.TypeKey{})
)

func (g *shapeGenerator) generate(t reflect.Type) *PropertyDef {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	switch t {
	case timeType:
		return &PropertyDef{Type: "string", Format: "date-time"}
	case uuidType:
		return &PropertyDef{Type: "string", Format: "uuid"}
	case typeKeyType:
		return &PropertyDef{Type: "string", Format: typeKeyFormat}
	}

	switch t.Kind() {
	case reflect.String:
		return &PropertyDef{Type: "string"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return &PropertyDef{Type: "integer"}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &PropertyDef{Type: "integer", Minimum: Float(0)}
	case reflect.Float32, reflect.Float64:
		return &PropertyDef{Type: "number"}
	case reflect.Bool:
		return &PropertyDef{Type: "boolean"}
	case reflect.Slice, reflect.Array:
		return &PropertyDef{Type: "array", Items: g.generate(t.Elem())}
	case reflect.Map:
		return &PropertyDef{Type: "object"}
	case reflect.Struct:
		if g.seen[t] {
			return &PropertyDef{Type: "object"}
		}
		g.seen[t] = true
		defer delete(g.seen, t)

		def := &PropertyDef{Type: "object", Properties: make(map[string]*PropertyDef)}
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if field.PkgPath != "" {
				continue
			}

			jsonTag := field.Tag.Get("json")
			if jsonTag == "-" {
				continue
			}

			name := field.Name
			omitempty := false
			if jsonTag != "" {
				parts := strings.Split(jsonTag, ",")
				if parts[0] != "" {
					name = parts[0]
				}
				for _, part := range parts[1:] {
					if part == "omitempty" {
						omitempty = true
					}
				}
			} else {
				name = strings.ToLower(name[:1]) + name[1:]
			}

			fieldDef := g.generate(field.Type)
			if desc := field.Tag.Get("description"); desc != "" {
				fieldDef.Description = desc
			}
			def.Properties[name] = fieldDef

			if !omitempty {
				def.Required = append(def.Required, name)
			}
		}
		sort.Strings(def.Required)
		return def
	default:
		return &PropertyDef{}
	}
}
