package messaging

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-schema/contracts"
	"github.com/glimte/mmate-schema/registry"
	"github.com/glimte/mmate-schema/schema"
	"github.com/glimte/mmate-schema/versioning"
)

var (
	orderPlaced = contracts.NewTypeKey("shop.orders", "placed")
	placedV1    = contracts.MustVersionedKey(contracts.KindEvent, 1, orderPlaced)
	placedV2    = contracts.MustVersionedKey(contracts.KindEvent, 2, orderPlaced)
	fixedTime   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func placedVersions() []versioning.Entry {
	up, down := versioning.AddFieldPair("b", false)
	return []versioning.Entry{
		{
			Version: 1,
			Shape: &schema.Shape{
				Properties: map[string]*schema.PropertyDef{"a": {Type: "string"}},
				Required:   []string{"a"},
			},
			Doc: "first cut",
		},
		{
			Version: 2,
			Shape: &schema.Shape{
				Properties: map[string]*schema.PropertyDef{"a": {Type: "string"}, "b": {Type: "boolean"}},
				Required:   []string{"a", "b"},
			},
			Upcast:   up,
			Downcast: down,
		},
	}
}

func testFactory() *EnvelopeFactory {
	ids := []uuid.UUID{
		uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		uuid.MustParse("00000000-0000-0000-0000-000000000002"),
		uuid.MustParse("00000000-0000-0000-0000-000000000003"),
	}
	n := 0
	return NewEnvelopeFactory(
		WithProcess("test-process"),
		WithClock(func() time.Time { return fixedTime }),
		WithIDGenerator(func() uuid.UUID {
			id := ids[n%len(ids)]
			n++
			return id
		}),
	)
}

func declarePlaced(t *testing.T) (*registry.Registry, *MessageType) {
	t.Helper()
	reg := registry.New()
	m, err := Declare(reg, contracts.KindEvent, orderPlaced, "an order was placed", placedVersions(), WithFactory(NewEnvelopeFactory()))
	require.NoError(t, err)
	return reg, m
}
