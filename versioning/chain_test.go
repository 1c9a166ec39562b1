package versioning

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-schema/contracts"
	"github.com/glimte/mmate-schema/schema"
)

var testBase = contracts.NewTypeKey("test.thing", "changed")

func shapeV1() *schema.Shape {
	return &schema.Shape{
		Properties: map[string]*schema.PropertyDef{"a": {Type: "string"}},
		Required:   []string{"a"},
	}
}

func shapeV2() *schema.Shape {
	return &schema.Shape{
		Properties: map[string]*schema.PropertyDef{"a": {Type: "string"}, "b": {Type: "boolean"}},
		Required:   []string{"a", "b"},
	}
}

func testChain() *Chain {
	up, down := AddFieldPair("b", false)
	rename3, unrename3 := RenameFieldPair("a", "title")
	return NewChain(contracts.KindEvent, testBase,
		Entry{Version: 2, Shape: shapeV2(), Upcast: up, Downcast: down},
		Entry{Version: 1, Shape: shapeV1()},
		Entry{Version: 3, Shape: schema.Any, Upcast: rename3, Downcast: unrename3},
	)
}

func TestChainOrdering(t *testing.T) {
	c := testChain()

	assert.Equal(t, []int{1, 2, 3}, c.Versions())
	lowest, _ := c.Lowest()
	latest, _ := c.Latest()
	assert.Equal(t, 1, lowest)
	assert.Equal(t, 3, latest)
	assert.NoError(t, c.Verify())

	key, err := c.Key(2)
	require.NoError(t, err)
	assert.Equal(t, "test.thing.event.v2/changed", key.String())

	_, ok := c.Entry(4)
	assert.False(t, ok)
}

func TestChainVerify(t *testing.T) {
	noop := func(p contracts.Payload) (contracts.Payload, error) { return p, nil }

	tests := []struct {
		name    string
		entries []Entry
		problem string
	}{
		{"empty", nil, "no versions declared"},
		{"gap", []Entry{{Version: 1, Shape: schema.Any}, {Version: 3, Shape: schema.Any, Upcast: noop, Downcast: noop}}, "gap between version 1 and 3"},
		{"casters on lowest", []Entry{{Version: 0, Shape: schema.Any, Upcast: noop}}, "lowest version 0 must not declare casters"},
		{"missing upcast", []Entry{{Version: 1, Shape: schema.Any}, {Version: 2, Shape: schema.Any, Downcast: noop}}, "version 2 is missing an upcast"},
		{"missing downcast", []Entry{{Version: 1, Shape: schema.Any}, {Version: 2, Shape: schema.Any, Upcast: noop}}, "version 2 is missing a downcast"},
		{"missing shape", []Entry{{Version: 1}}, "version 1 has no shape"},
		{"negative", []Entry{{Version: -1, Shape: schema.Any}}, "version -1 is negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewChain(contracts.KindEvent, testBase, tt.entries...).Verify()

			require.Error(t, err)
			assert.ErrorIs(t, err, contracts.ErrInvalidChain)
			assert.Contains(t, err.Error(), tt.problem)
		})
	}
}

func TestChainCast(t *testing.T) {
	c := testChain()
	ctx := context.Background()

	t.Run("upcast adds default and downcast drops it", func(t *testing.T) {
		v2, err := c.Cast(contracts.Payload{"a": "x"}, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, contracts.Payload{"a": "x", "b": false}, v2)
		assert.NoError(t, shapeV2().Validate(ctx, v2))

		v1, err := c.Cast(v2, 2, 1)
		require.NoError(t, err)
		assert.Equal(t, contracts.Payload{"a": "x"}, v1)
	})

	t.Run("multi-step paths", func(t *testing.T) {
		v3, err := c.Cast(contracts.Payload{"a": "x"}, 1, 3)
		require.NoError(t, err)
		assert.Equal(t, contracts.Payload{"title": "x", "b": false}, v3)

		v1, err := c.Cast(v3, 3, 1)
		require.NoError(t, err)
		assert.Equal(t, contracts.Payload{"a": "x"}, v1)
	})

	t.Run("round trip preserves previous version fields", func(t *testing.T) {
		inputs := []contracts.Payload{{"a": "x"}, {"a": ""}, {"a": "y", "b": true}}
		for _, p := range inputs {
			up, err := c.Cast(p, 1, 2)
			require.NoError(t, err)
			back, err := c.Cast(up, 2, 1)
			require.NoError(t, err)
			assert.Equal(t, p["a"], back["a"])
		}
	})

	t.Run("same version is identity", func(t *testing.T) {
		p := contracts.Payload{"a": "x", "extra": 1}

		out, err := c.Cast(p, 2, 2)

		require.NoError(t, err)
		assert.Equal(t, p, out)
	})

	t.Run("restamps the type tag", func(t *testing.T) {
		k1, _ := c.Key(1)
		k2, _ := c.Key(2)

		out, err := c.Cast(contracts.Payload{"a": "x", contracts.TypeField: k1}, 1, 2)

		require.NoError(t, err)
		assert.Equal(t, k2, out[contracts.TypeField])
	})

	t.Run("unknown endpoints", func(t *testing.T) {
		p := contracts.Payload{"a": "x"}

		out, err := c.Cast(p, 1, 7)

		assert.ErrorIs(t, err, contracts.ErrUnknownVersion)
		cerr, ok := AsCastError(err)
		require.True(t, ok)
		assert.Equal(t, UnknownVersion, cerr.Kind)
		assert.Equal(t, 7, cerr.At)
		assert.Equal(t, p, out)

		_, err = c.Cast(p, 0, 1)
		assert.ErrorIs(t, err, contracts.ErrUnknownVersion)
	})

	t.Run("gaps between endpoints", func(t *testing.T) {
		noop := func(p contracts.Payload) (contracts.Payload, error) { return p, nil }
		gappy := NewChain(contracts.KindEvent, testBase,
			Entry{Version: 1, Shape: schema.Any},
			Entry{Version: 3, Shape: schema.Any, Upcast: noop, Downcast: noop},
		)

		_, err := gappy.Cast(contracts.Payload{}, 1, 3)
		cerr, ok := AsCastError(err)
		require.True(t, ok)
		assert.Equal(t, UnknownVersion, cerr.Kind)
		assert.Equal(t, 2, cerr.At)

		_, err = gappy.Cast(contracts.Payload{}, 3, 1)
		assert.ErrorIs(t, err, contracts.ErrUnknownVersion)
	})

	t.Run("missing casters", func(t *testing.T) {
		broken := NewChain(contracts.KindEvent, testBase,
			Entry{Version: 1, Shape: schema.Any},
			Entry{Version: 2, Shape: schema.Any},
		)

		_, err := broken.Cast(contracts.Payload{}, 1, 2)
		assert.ErrorIs(t, err, contracts.ErrMissingCaster)

		_, err = broken.Cast(contracts.Payload{}, 2, 1)
		assert.ErrorIs(t, err, contracts.ErrMissingCaster)
	})

	t.Run("failed step leaves the payload untouched", func(t *testing.T) {
		boom := errors.New("boom")
		mutating := func(p contracts.Payload) (contracts.Payload, error) {
			p["touched"] = true
			return p, nil
		}
		failing := func(p contracts.Payload) (contracts.Payload, error) { return nil, boom }
		c := NewChain(contracts.KindEvent, testBase,
			Entry{Version: 1, Shape: schema.Any},
			Entry{Version: 2, Shape: schema.Any, Upcast: mutating, Downcast: mutating},
			Entry{Version: 3, Shape: schema.Any, Upcast: failing, Downcast: mutating},
		)
		p := contracts.Payload{"a": "x"}

		out, err := c.Cast(p, 1, 3)

		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		cerr, _ := AsCastError(err)
		assert.Equal(t, StepFailed, cerr.Kind)
		assert.Equal(t, 3, cerr.At)
		assert.Equal(t, contracts.Payload{"a": "x"}, p)
		assert.Equal(t, p, out)
	})
}

func TestChainUpgrade(t *testing.T) {
	c := testChain()

	out, v, err := c.Upgrade(contracts.Payload{"a": "x"}, 1)

	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Equal(t, contracts.Payload{"title": "x", "b": false}, out)

	_, _, err = NewChain(contracts.KindEvent, testBase).Upgrade(contracts.Payload{}, 1)
	assert.ErrorIs(t, err, contracts.ErrUnknownVersion)
}

func TestMappers(t *testing.T) {
	t.Run("AddField keeps existing values", func(t *testing.T) {
		out, err := AddField("b", false)(contracts.Payload{"b": true})
		require.NoError(t, err)
		assert.Equal(t, true, out["b"])
	})

	t.Run("RenameField refuses to clobber", func(t *testing.T) {
		_, err := RenameField("a", "b")(contracts.Payload{"a": 1, "b": 2})
		assert.Error(t, err)

		out, err := RenameField("missing", "b")(contracts.Payload{"a": 1})
		require.NoError(t, err)
		assert.Equal(t, contracts.Payload{"a": 1}, out)
	})

	t.Run("TransformField", func(t *testing.T) {
		cents := TransformField("amount", func(v any) (any, error) {
			f, ok := v.(float64)
			if !ok {
				return nil, errors.New("not a number")
			}
			return f * 100, nil
		})

		out, err := cents(contracts.Payload{"amount": 1.5})
		require.NoError(t, err)
		assert.Equal(t, 150.0, out["amount"])

		_, err = cents(contracts.Payload{"amount": "x"})
		assert.Error(t, err)
	})

	t.Run("Compose runs in order and stops on error", func(t *testing.T) {
		c := Compose(AddField("a", 1), RenameField("a", "b"))

		out, err := c(contracts.Payload{})
		require.NoError(t, err)
		assert.Equal(t, contracts.Payload{"b": 1}, out)

		_, err = Compose(RenameField("a", "b"), AddField("c", 1))(contracts.Payload{"a": 1, "b": 2})
		assert.Error(t, err)
	})

	t.Run("mappers do not modify their input", func(t *testing.T) {
		in := contracts.Payload{"a": 1}
		_, _ = Compose(AddField("x", 1), DropField("a"))(in)
		assert.Equal(t, contracts.Payload{"a": 1}, in)
	})
}
