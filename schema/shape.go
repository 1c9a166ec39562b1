package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/glimte/mmate-schema/contracts"
)

// Shape is a property-based payload definition
type Shape struct {
	Name        string                  `json:"name,omitempty" yaml:"name,omitempty"`
	Description string                  `json:"description,omitempty" yaml:"description,omitempty"`
	Properties  map[string]*PropertyDef `json:"properties,omitempty" yaml:"properties,omitempty"`
	Required    []string                `json:"required,omitempty" yaml:"required,omitempty"`
	// Strict rejects properties that are not declared. The type tag field is
	// always allowed.
	Strict bool   `json:"strict,omitempty" yaml:"strict,omitempty"`
	Rules  []Rule `json:"-" yaml:"-"`
}

// PropertyDef defines validation rules for a payload property
type PropertyDef struct {
	Type        string                  `json:"type,omitempty" yaml:"type,omitempty"`
	Format      string                  `json:"format,omitempty" yaml:"format,omitempty"`
	Pattern     string                  `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	MinLength   *int                    `json:"minLength,omitempty" yaml:"minLength,omitempty"`
	MaxLength   *int                    `json:"maxLength,omitempty" yaml:"maxLength,omitempty"`
	Minimum     *float64                `json:"minimum,omitempty" yaml:"minimum,omitempty"`
	Maximum     *float64                `json:"maximum,omitempty" yaml:"maximum,omitempty"`
	Enum        []any                   `json:"enum,omitempty" yaml:"enum,omitempty"`
	Default     any                     `json:"default,omitempty" yaml:"default,omitempty"`
	Description string                  `json:"description,omitempty" yaml:"description,omitempty"`
	Items       *PropertyDef            `json:"items,omitempty" yaml:"items,omitempty"`
	Properties  map[string]*PropertyDef `json:"properties,omitempty" yaml:"properties,omitempty"`
	Required    []string                `json:"required,omitempty" yaml:"required,omitempty"`
	// Rules names built-in rules such as "non-empty" or "positive"
	Rules []string `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// Rule is a cross-field check run after property validation
type Rule interface {
	Check(ctx context.Context, payload map[string]any) *Violation
	Name() string
}

// RuleFunc adapts a function into a named Rule
type RuleFunc struct {
	name string
	fn   func(ctx context.Context, payload map[string]any) *Violation
}

// NewRule creates a function-based rule
func NewRule(name string, fn func(ctx context.Context, payload map[string]any) *Violation) *RuleFunc {
	return &RuleFunc{name: name, fn: fn}
}

// Check implements Rule
func (r *RuleFunc) Check(ctx context.Context, payload map[string]any) *Violation {
	return r.fn(ctx, payload)
}

// Name implements Rule
func (r *RuleFunc) Name() string {
	return r.name
}

// Int returns a pointer to n, for PropertyDef bounds
func Int(n int) *int { return &n }

// Float returns a pointer to f, for PropertyDef bounds
func Float(f float64) *float64 { return &f }

// builtInRules are the property rules addressable by name from PropertyDef.Rules
var builtInRules = map[string]func(field string, value any) *Violation{
	"non-empty": func(field string, value any) *Violation {
		if str, ok := value.(string); ok && strings.TrimSpace(str) == "" {
			return &Violation{Field: field, Message: "value cannot be empty", Code: "NON_EMPTY_VIOLATION", Value: value}
		}
		return nil
	},
	"positive": func(field string, value any) *Violation {
		if num, ok := toFloat(value); ok && num <= 0 {
			return &Violation{Field: field, Message: "value must be positive", Code: "POSITIVE_VIOLATION", Value: value}
		}
		return nil
	},
}

var patternCache sync.Map // pattern -> *regexp.Regexp

// Validate implements Validator
func (s *Shape) Validate(ctx context.Context, value any) error {
	data, ok := asObject(value)
	if !ok {
		return NewValidationError(CauseShape, value, Violation{
			Message: fmt.Sprintf("expected an object, got %T", value),
			Code:    "TYPE_MISMATCH",
			Value:   value,
		})
	}

	var violations []Violation
	s.validateObject(ctx, "", data, s.Properties, s.Required, s.Strict, &violations)

	for _, rule := range s.Rules {
		if v := rule.Check(ctx, data); v != nil {
			violations = append(violations, *v)
		}
	}

	if len(violations) > 0 {
		return NewValidationError(CauseShape, value, violations...)
	}
	return nil
}

// validateObject validates an object against property definitions
func (s *Shape) validateObject(ctx context.Context, fieldPath string, data map[string]any, props map[string]*PropertyDef, required []string, strict bool, out *[]Violation) {
	for _, name := range required {
		if value, exists := data[name]; !exists || value == nil {
			*out = append(*out, Violation{
				Field:   buildFieldPath(fieldPath, name),
				Message: "required field is missing",
				Code:    "REQUIRED_FIELD_MISSING",
			})
		}
	}

	// Sorted iteration keeps violation order deterministic
	names := make([]string, 0, len(data))
	for name := range data {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		currentPath := buildFieldPath(fieldPath, name)
		propDef, exists := props[name]
		if !exists {
			if strict && !(fieldPath == "" && name == contracts.TypeField) {
				*out = append(*out, Violation{
					Field:   currentPath,
					Message: "unknown field",
					Code:    "UNKNOWN_FIELD",
					Value:   data[name],
				})
			}
			continue
		}
		s.validateProperty(ctx, currentPath, data[name], propDef, out)
	}
}

// validateProperty validates a single property against its definition
func (s *Shape) validateProperty(ctx context.Context, fieldPath string, value any, propDef *PropertyDef, out *[]Violation) {
	if value == nil || propDef == nil {
		return
	}

	if propDef.Type != "" && !matchesType(value, propDef.Type) {
		*out = append(*out, Violation{
			Field:   fieldPath,
			Message: fmt.Sprintf("expected type %s, got %T", propDef.Type, value),
			Code:    "TYPE_MISMATCH",
			Value:   value,
		})
		return
	}

	if str, ok := value.(string); ok {
		validateString(fieldPath, str, propDef, out)
	}

	if num, ok := toFloat(value); ok {
		validateNumber(fieldPath, num, propDef, out)
	}

	if arr, ok := asArray(value); ok && propDef.Items != nil {
		for i, item := range arr {
			s.validateProperty(ctx, fmt.Sprintf("%s[%d]", fieldPath, i), item, propDef.Items, out)
		}
	}

	if obj, ok := asObject(value); ok && propDef.Properties != nil {
		s.validateObject(ctx, fieldPath, obj, propDef.Properties, propDef.Required, false, out)
	}

	if len(propDef.Enum) > 0 {
		validateEnum(fieldPath, value, propDef.Enum, out)
	}

	if propDef.Format != "" {
		validateFormat(fieldPath, value, propDef.Format, out)
	}

	if propDef.Pattern != "" {
		validatePattern(fieldPath, value, propDef.Pattern, out)
	}

	for _, name := range propDef.Rules {
		rule, ok := builtInRules[name]
		if !ok {
			*out = append(*out, Violation{
				Field:   fieldPath,
				Message: fmt.Sprintf("unknown rule %q", name),
				Code:    "UNKNOWN_RULE",
			})
			continue
		}
		if v := rule(fieldPath, value); v != nil {
			*out = append(*out, *v)
		}
	}
}

// matchesType checks if value matches the expected JSON type
func matchesType(value any, expectedType string) bool {
	switch expectedType {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		_, ok := toFloat(value)
		return ok
	case "integer":
		f, ok := toFloat(value)
		return ok && f == float64(int64(f))
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := asArray(value)
		return ok
	case "object":
		_, ok := asObject(value)
		return ok
	default:
		return true // Unknown types pass validation
	}
}

func validateString(fieldPath, value string, propDef *PropertyDef, out *[]Violation) {
	if propDef.MinLength != nil && len(value) < *propDef.MinLength {
		*out = append(*out, Violation{
			Field:   fieldPath,
			Message: fmt.Sprintf("string length %d is less than minimum %d", len(value), *propDef.MinLength),
			Code:    "MIN_LENGTH_VIOLATION",
			Value:   value,
		})
	}

	if propDef.MaxLength != nil && len(value) > *propDef.MaxLength {
		*out = append(*out, Violation{
			Field:   fieldPath,
			Message: fmt.Sprintf("string length %d exceeds maximum %d", len(value), *propDef.MaxLength),
			Code:    "MAX_LENGTH_VIOLATION",
			Value:   value,
		})
	}
}

func validateNumber(fieldPath string, value float64, propDef *PropertyDef, out *[]Violation) {
	if propDef.Minimum != nil && value < *propDef.Minimum {
		*out = append(*out, Violation{
			Field:   fieldPath,
			Message: fmt.Sprintf("value %g is less than minimum %g", value, *propDef.Minimum),
			Code:    "MINIMUM_VIOLATION",
			Value:   value,
		})
	}

	if propDef.Maximum != nil && value > *propDef.Maximum {
		*out = append(*out, Violation{
			Field:   fieldPath,
			Message: fmt.Sprintf("value %g exceeds maximum %g", value, *propDef.Maximum),
			Code:    "MAXIMUM_VIOLATION",
			Value:   value,
		})
	}
}

func validateEnum(fieldPath string, value any, enum []any, out *[]Violation) {
	for _, enumValue := range enum {
		if reflect.DeepEqual(value, enumValue) {
			return
		}
		// Numbers may arrive as different Go types
		a, aok := toFloat(value)
		b, bok := toFloat(enumValue)
		if aok && bok && a == b {
			return
		}
	}

	*out = append(*out, Violation{
		Field:   fieldPath,
		Message: fmt.Sprintf("value is not in allowed enum values: %v", enum),
		Code:    "ENUM_VIOLATION",
		Value:   value,
	})
}

var (
	emailRegex    = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	typeKeyFormat = "type-key"
)

func validateFormat(fieldPath string, value any, format string, out *[]Violation) {
	str, ok := value.(string)
	if !ok {
		if key, isKey := value.(contracts.TypeKey); isKey && format == typeKeyFormat {
			str = key.String()
		} else {
			return
		}
	}

	var errorMsg string
	switch format {
	case "email":
		if !emailRegex.MatchString(str) {
			errorMsg = "invalid email format"
		}
	case "uri":
		if u, err := url.Parse(str); err != nil || u.Scheme == "" {
			errorMsg = "invalid URI format"
		}
	case "uuid":
		if _, err := uuid.Parse(str); err != nil {
			errorMsg = "invalid UUID format"
		}
	case "date":
		if _, err := time.Parse(time.DateOnly, str); err != nil {
			errorMsg = "invalid date format (expected YYYY-MM-DD)"
		}
	case "date-time":
		if _, err := time.Parse(time.RFC3339, str); err != nil {
			errorMsg = "invalid date-time format (expected RFC 3339)"
		}
	case typeKeyFormat:
		if _, err := contracts.ParseTypeKey(str); err != nil {
			errorMsg = "invalid type key format (expected namespace/name)"
		}
	default:
		return // Unknown format, skip validation
	}

	if errorMsg != "" {
		*out = append(*out, Violation{
			Field:   fieldPath,
			Message: errorMsg,
			Code:    "FORMAT_VIOLATION",
			Value:   value,
		})
	}
}

func validatePattern(fieldPath string, value any, pattern string, out *[]Violation) {
	str, ok := value.(string)
	if !ok {
		return
	}

	regex, err := compilePattern(pattern)
	if err != nil {
		*out = append(*out, Violation{
			Field:   fieldPath,
			Message: fmt.Sprintf("invalid regex pattern: %s", pattern),
			Code:    "INVALID_PATTERN",
			Value:   value,
		})
		return
	}

	if !regex.MatchString(str) {
		*out = append(*out, Violation{
			Field:   fieldPath,
			Message: fmt.Sprintf("value does not match pattern: %s", pattern),
			Code:    "PATTERN_VIOLATION",
			Value:   value,
		})
	}
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if cached, ok := patternCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}
	regex, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	patternCache.Store(pattern, regex)
	return regex, nil
}

// buildFieldPath constructs a field path for error reporting
func buildFieldPath(parent, field string) string {
	if parent == "" {
		return field
	}
	return parent + "." + field
}

func asObject(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case map[string]any:
		return v, true
	case contracts.Payload:
		return v, true
	default:
		return nil, false
	}
}

func asArray(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
