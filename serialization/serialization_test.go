package serialization

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-schema/contracts"
)

type orderPlacedV1 struct {
	A string `json:"a"`
}

type orderPlacedV2 struct {
	A string `json:"a"`
	B bool   `json:"b"`
}

var (
	placedBase = contracts.NewTypeKey("shop", "orderPlaced")
	placedV1   = contracts.MustVersionedKey(contracts.KindEvent, 1, placedBase)
	placedV2   = contracts.MustVersionedKey(contracts.KindEvent, 2, placedBase)
)

func TestBindings(t *testing.T) {
	t.Run("Register and Get", func(t *testing.T) {
		b := NewBindings()
		require.NoError(t, b.Register(placedV1, orderPlacedV1{}))
		require.NoError(t, b.Register(placedV2, &orderPlacedV2{}))

		typ, err := b.Get(placedV2)
		require.NoError(t, err)
		assert.Equal(t, "orderPlacedV2", typ.Name())
		assert.True(t, b.IsBound(placedV1))
		assert.Equal(t, []contracts.TypeKey{placedV1, placedV2}, b.Keys())
	})

	t.Run("re-registering the same type is a no-op", func(t *testing.T) {
		b := NewBindings()
		require.NoError(t, b.Register(placedV1, orderPlacedV1{}))
		assert.NoError(t, b.Register(placedV1, &orderPlacedV1{}))
	})

	t.Run("conflicting bindings are rejected", func(t *testing.T) {
		b := NewBindings()
		require.NoError(t, b.Register(placedV1, orderPlacedV1{}))
		assert.Error(t, b.Register(placedV1, orderPlacedV2{}))
		assert.Error(t, b.Register(placedV2, orderPlacedV1{}))
	})

	t.Run("non struct samples are rejected", func(t *testing.T) {
		b := NewBindings()
		assert.Error(t, b.Register(placedV1, "text"))
		assert.Error(t, b.Register(placedV1, nil))
		assert.ErrorIs(t, b.Register(contracts.TypeKey{}, orderPlacedV1{}), contracts.ErrInvalidTypeKey)
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := NewBindings().Get(placedV1)
		assert.ErrorIs(t, err, contracts.ErrUnknownTypeKey)
	})

	t.Run("KeyOf", func(t *testing.T) {
		b := NewBindings()
		require.NoError(t, b.Register(placedV2, orderPlacedV2{}))
		key, err := b.KeyOf(&orderPlacedV2{})
		require.NoError(t, err)
		assert.Equal(t, placedV2, key)

		_, err = b.KeyOf(orderPlacedV1{})
		assert.Error(t, err)
	})
}

func TestJSONSerializerEnvelope(t *testing.T) {
	s := NewJSONSerializer()
	id := uuid.MustParse("7d1f8f0e-63a4-4b1b-9b87-2a8c3c1f0a01")
	env := &contracts.Envelope{
		ID:      id,
		Payload: contracts.Payload{"a": "x"}.WithTypeKey(placedV1),
		Provenance: &contracts.Provenance{
			CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			Process:   "billing",
		},
	}

	data, err := s.SerializeEnvelope(env)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"shop.event.v1/orderPlaced"`)

	decoded, err := s.DeserializeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, id, decoded.ID)
	key, ok := decoded.TypeKey()
	require.True(t, ok)
	assert.Equal(t, placedV1, key)
	assert.Equal(t, "x", decoded.Payload["a"])
	require.NotNil(t, decoded.Provenance)
	assert.Equal(t, "billing", decoded.Provenance.Process)
	assert.Nil(t, decoded.Source)

	t.Run("errors", func(t *testing.T) {
		_, err := s.SerializeEnvelope(nil)
		assert.Error(t, err)
		_, err = s.DeserializeEnvelope(nil)
		assert.Error(t, err)
		_, err = s.DeserializeEnvelope([]byte("{"))
		assert.Error(t, err)
	})

	t.Run("pretty print", func(t *testing.T) {
		data, err := NewJSONSerializer(WithPrettyPrint(true)).SerializeEnvelope(env)
		require.NoError(t, err)
		assert.Contains(t, string(data), "\n  ")
	})
}

func TestJSONSerializerBind(t *testing.T) {
	b := NewBindings()
	require.NoError(t, b.Register(placedV1, orderPlacedV1{}))
	require.NoError(t, b.Register(placedV2, orderPlacedV2{}))
	s := NewJSONSerializer(WithBindings(b))

	payload, err := s.Encode(orderPlacedV2{A: "x", B: true})
	require.NoError(t, err)
	key, ok := payload.TypeKey()
	require.True(t, ok)
	assert.Equal(t, placedV2, key)
	assert.Equal(t, true, payload["b"])

	bound, err := s.Bind(payload)
	require.NoError(t, err)
	assert.Equal(t, &orderPlacedV2{A: "x", B: true}, bound)

	var v1 orderPlacedV1
	require.NoError(t, s.BindInto(contracts.Payload{"a": "y"}, &v1))
	assert.Equal(t, "y", v1.A)

	_, err = s.Bind(contracts.Payload{"a": "x"})
	assert.Error(t, err)

	_, err = s.Encode(struct{ Z int }{})
	assert.Error(t, err)
}
