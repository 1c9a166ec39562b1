package schema

import (
	"sort"
	"strings"
)

// Examples implements Exampler. The i-th example picks the i-th enum value
// where one exists, otherwise the property default, otherwise a zero value
// of the declared type.
func (s *Shape) Examples(n int) []any {
	out := make([]any, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, exampleObject(s.Properties, i))
	}
	return out
}

func exampleObject(props map[string]*PropertyDef, i int) map[string]any {
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	obj := make(map[string]any, len(props))
	for _, name := range names {
		obj[name] = exampleValue(props[name], i)
	}
	return obj
}

func exampleValue(def *PropertyDef, i int) any {
	if def == nil {
		return nil
	}
	if len(def.Enum) > 0 {
		return def.Enum[i%len(def.Enum)]
	}
	if def.Default != nil {
		return def.Default
	}
	switch def.Type {
	case "string":
		return exampleString(def)
	case "number", "integer":
		n := float64(i)
		if def.Minimum != nil && n < *def.Minimum {
			n = *def.Minimum
		}
		if def.Maximum != nil && n > *def.Maximum {
			n = *def.Maximum
		}
		if n == 0 && containsRule(def.Rules, "positive") {
			n = 1
		}
		return n
	case "boolean":
		return i%2 == 1
	case "array":
		if def.Items == nil {
			return []any{}
		}
		return []any{exampleValue(def.Items, i)}
	case "object":
		if def.Properties == nil {
			return map[string]any{}
		}
		return exampleObject(def.Properties, i)
	default:
		return nil
	}
}

func exampleString(def *PropertyDef) string {
	switch def.Format {
	case "email":
		return "user@example.com"
	case "uri":
		return "https://example.com"
	case "uuid":
		return "00000000-0000-0000-0000-000000000000"
	case "date":
		return "2024-01-01"
	case "date-time":
		return "2024-01-01T00:00:00Z"
	case typeKeyFormat:
		return "example/type"
	}
	s := "example"
	if def.MinLength != nil && len(s) < *def.MinLength {
		s += strings.Repeat("x", *def.MinLength-len(s))
	}
	if def.MaxLength != nil && len(s) > *def.MaxLength {
		s = s[:*def.MaxLength]
	}
	return s
}

func containsRule(rules []string, name string) bool {
	for _, r := range rules {
		if r == name {
			return true
		}
	}
	return false
}
