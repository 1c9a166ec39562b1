package schema

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-schema/contracts"
)

func orderShape() *Shape {
	return &Shape{
		Name: "OrderPlaced",
		Properties: map[string]*PropertyDef{
			"orderId": {Type: "string", Format: "uuid"},
			"email":   {Type: "string", Format: "email"},
			"amount":  {Type: "number", Minimum: Float(0), Maximum: Float(1000)},
			"status":  {Type: "string", Enum: []any{"new", "paid"}},
			"code":    {Type: "string", Pattern: `^[A-Z]{3}$`, MinLength: Int(3), MaxLength: Int(3)},
			"lines": {
				Type: "array",
				Items: &PropertyDef{
					Type:       "object",
					Properties: map[string]*PropertyDef{"sku": {Type: "string", Rules: []string{"non-empty"}}},
					Required:   []string{"sku"},
				},
			},
		},
		Required: []string{"orderId", "amount"},
	}
}

func TestShapeValidate(t *testing.T) {
	ctx := context.Background()

	t.Run("passes a conforming payload", func(t *testing.T) {
		payload := contracts.Payload{
			"orderId": "0b7f4c2e-3b7a-4d55-9a51-5c7c1f0d9a10",
			"email":   "buyer@example.com",
			"amount":  12.5,
			"status":  "paid",
			"code":    "ABC",
			"lines":   []any{map[string]any{"sku": "A-1"}},
		}

		assert.NoError(t, orderShape().Validate(ctx, payload))
	})

	t.Run("accepts Go integer types as numbers", func(t *testing.T) {
		payload := map[string]any{"orderId": "0b7f4c2e-3b7a-4d55-9a51-5c7c1f0d9a10", "amount": 7}

		assert.NoError(t, orderShape().Validate(ctx, payload))
	})

	t.Run("treats explicit null as missing for required fields", func(t *testing.T) {
		shape := &Shape{
			Properties: map[string]*PropertyDef{"a": {Type: "string"}, "note": {Type: "string"}},
			Required:   []string{"a"},
		}

		err := shape.Validate(ctx, map[string]any{"a": nil})
		verr, ok := AsValidationError(err)
		require.True(t, ok)
		require.Len(t, verr.Violations, 1)
		assert.Equal(t, "a", verr.Violations[0].Field)
		assert.Equal(t, "REQUIRED_FIELD_MISSING", verr.Violations[0].Code)

		assert.NoError(t, shape.Validate(ctx, map[string]any{"a": "x", "note": nil}), "optional fields may be null")
	})

	t.Run("reports every violation", func(t *testing.T) {
		payload := map[string]any{
			"orderId": "not-a-uuid",
			"email":   "nope",
			"status":  "lost",
			"code":    "abcd",
			"lines":   []any{map[string]any{"sku": "  "}, map[string]any{}},
		}

		err := orderShape().Validate(ctx, payload)

		require.Error(t, err)
		assert.True(t, errors.Is(err, contracts.ErrValidation))
		verr, ok := AsValidationError(err)
		require.True(t, ok)
		assert.Equal(t, CauseShape, verr.Cause)
		assert.Equal(t, payload, verr.Input)

		codes := make(map[string]string)
		for _, v := range verr.Violations {
			codes[v.Field+"|"+v.Code] = v.Message
		}
		assert.Contains(t, codes, "amount|REQUIRED_FIELD_MISSING")
		assert.Contains(t, codes, "orderId|FORMAT_VIOLATION")
		assert.Contains(t, codes, "email|FORMAT_VIOLATION")
		assert.Contains(t, codes, "status|ENUM_VIOLATION")
		assert.Contains(t, codes, "code|PATTERN_VIOLATION")
		assert.Contains(t, codes, "code|MAX_LENGTH_VIOLATION")
		assert.Contains(t, codes, "lines[0].sku|NON_EMPTY_VIOLATION")
		assert.Contains(t, codes, "lines[1].sku|REQUIRED_FIELD_MISSING")
	})

	t.Run("reports type mismatches", func(t *testing.T) {
		err := orderShape().Validate(ctx, map[string]any{"orderId": 5, "amount": "ten"})

		verr, ok := AsValidationError(err)
		require.True(t, ok)
		require.Len(t, verr.Violations, 2)
		assert.Equal(t, "TYPE_MISMATCH", verr.Violations[0].Code)
		assert.Equal(t, "amount", verr.Violations[0].Field)
		assert.Equal(t, "orderId", verr.Violations[1].Field)
	})

	t.Run("rejects non-object values", func(t *testing.T) {
		err := orderShape().Validate(ctx, "hello")

		verr, ok := AsValidationError(err)
		require.True(t, ok)
		assert.Equal(t, "TYPE_MISMATCH", verr.Violations[0].Code)
	})

	t.Run("strict shapes reject unknown fields but allow the type tag", func(t *testing.T) {
		shape := &Shape{
			Properties: map[string]*PropertyDef{"a": {Type: "string"}},
			Strict:     true,
		}

		assert.NoError(t, shape.Validate(ctx, map[string]any{"a": "x", contracts.TypeField: "ns/n"}))

		verr, ok := AsValidationError(shape.Validate(ctx, map[string]any{"a": "x", "b": true}))
		require.True(t, ok)
		assert.Equal(t, "UNKNOWN_FIELD", verr.Violations[0].Code)
	})

	t.Run("runs cross-field rules", func(t *testing.T) {
		shape := &Shape{
			Rules: []Rule{NewRule("min-before-max", func(ctx context.Context, p map[string]any) *Violation {
				if p["min"].(float64) > p["max"].(float64) {
					return &Violation{Field: "min", Message: "min exceeds max", Code: "RANGE"}
				}
				return nil
			})},
		}

		assert.NoError(t, shape.Validate(ctx, map[string]any{"min": 1.0, "max": 2.0}))
		assert.Error(t, shape.Validate(ctx, map[string]any{"min": 3.0, "max": 2.0}))
	})

	t.Run("does not mutate input", func(t *testing.T) {
		payload := map[string]any{"orderId": "x", "lines": []any{map[string]any{}}}
		snapshot := contracts.Payload(payload).Clone()

		_ = orderShape().Validate(ctx, payload)

		assert.Equal(t, map[string]any(snapshot), payload)
	})
}

func TestValidatorAdapters(t *testing.T) {
	ctx := context.Background()

	t.Run("Predicate", func(t *testing.T) {
		isString := Predicate("string?", func(v any) bool { _, ok := v.(string); return ok })

		assert.NoError(t, isString.Validate(ctx, "x"))
		err := isString.Validate(ctx, 1)
		assert.ErrorIs(t, err, contracts.ErrValidation)
		assert.Contains(t, err.Error(), "string?")
	})

	t.Run("All aggregates violations", func(t *testing.T) {
		a := Predicate("a", func(any) bool { return false })
		b := ValidatorFunc(func(context.Context, any) error { return errors.New("plain failure") })

		err := All(a, b, Any).Validate(ctx, 1)

		verr, ok := AsValidationError(err)
		require.True(t, ok)
		require.Len(t, verr.Violations, 2)
		assert.Equal(t, "PREDICATE_FAILED", verr.Violations[0].Code)
		assert.Equal(t, "plain failure", verr.Violations[1].Message)
	})

	t.Run("Check tolerates nil validator", func(t *testing.T) {
		assert.Nil(t, Check(ctx, nil, 1))
	})
}

func TestValidationErrorMessage(t *testing.T) {
	err := NewValidationError(CauseTypeTag, map[string]any{"a": 1},
		Violation{Field: "type", Message: "unregistered"},
		Violation{Message: "second"},
	)
	err.TypeKey = contracts.NewTypeKey("shop", "placed")

	msg := err.Error()
	assert.Contains(t, msg, "validation failed for shop/placed (type-tag)")
	assert.Contains(t, msg, "field 'type': unregistered; second")
	assert.Contains(t, msg, "input: map[a:1]")
}
