package mmate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-schema/catalog"
	"github.com/glimte/mmate-schema/contracts"
	"github.com/glimte/mmate-schema/health"
	"github.com/glimte/mmate-schema/interceptors"
	"github.com/glimte/mmate-schema/messaging"
	"github.com/glimte/mmate-schema/schema"
	"github.com/glimte/mmate-schema/versioning"
)

var orderPlaced = contracts.NewTypeKey("shop.orders", "placed")

func newTestClient(t *testing.T, options ...ClientOption) *Client {
	t.Helper()
	options = append([]ClientOption{WithMetricsRegisterer(prometheus.NewRegistry()), WithServiceName("billing")}, options...)
	c, err := NewClient(options...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func placedVersions() []versioning.Entry {
	up, down := versioning.AddFieldPair("b", false)
	return []versioning.Entry{
		{
			Version: 1,
			Shape: &schema.Shape{
				Properties: map[string]*schema.PropertyDef{"a": {Type: "string"}},
				Required:   []string{"a"},
			},
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

func TestClientDeclareAndDispatch(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	placed, err := c.DeclareEvent(orderPlaced, "an order was placed", placedVersions()...)
	require.NoError(t, err)

	var mu sync.Mutex
	var got []contracts.Payload
	require.NoError(t, c.Subscribe(orderPlaced, 2, interceptors.MessageHandlerFunc(func(_ context.Context, env *contracts.Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, env.Payload)
		return nil
	})))

	env, err := placed.New(ctx, 1, contracts.Payload{"a": "x"}, messaging.WithOrigin(c.Factory().Provenance()))
	require.NoError(t, err)
	assert.Equal(t, "billing", env.Provenance.Process)

	require.NoError(t, c.Dispatch(ctx, env))
	require.Len(t, got, 1)
	assert.Equal(t, false, got[0]["b"])

	_, err = c.Validate(ctx, orderPlaced, env)
	assert.NoError(t, err)

	bad := env.Clone()
	delete(bad.Payload, "a")
	assert.ErrorIs(t, c.Dispatch(ctx, bad), contracts.ErrValidation)
}

func TestClientSimpleCommand(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	key := contracts.NewTypeKey("shop.mail", "send")

	shape := &schema.Shape{
		Properties: map[string]*schema.PropertyDef{"to": {Type: "string", Format: "email"}},
		Required:   []string{"to"},
	}
	_, err := c.DeclareSimple(key, shape, func(_ context.Context, in contracts.Payload) []contracts.Payload {
		return []contracts.Payload{{"sent": in["to"]}}
	})
	require.NoError(t, err)

	out, err := c.Invoke(ctx, key, contracts.Payload{"to": "a@example.com"})
	require.NoError(t, err)
	assert.Equal(t, []contracts.Payload{{"sent": "a@example.com"}}, out)

	_, err = c.Invoke(ctx, key, contracts.Payload{"to": "nope"})
	assert.ErrorIs(t, err, contracts.ErrValidation)

	env, err := c.Factory().Build(key, contracts.Payload{"to": "a@example.com"})
	require.NoError(t, err)
	assert.NoError(t, c.Dispatch(ctx, env), "outputs are dropped when not connected")
}

func TestClientDeclareCatalog(t *testing.T) {
	c := newTestClient(t)

	cat, err := catalog.Parse(strings.NewReader(`
types:
  - key: shop/refunded
    kind: event
    versions:
      - version: 1
        shape:
          properties:
            amount: {type: number, minimum: 0}
          required: [amount]
`))
	require.NoError(t, err)

	types, err := c.DeclareCatalog(cat)
	require.NoError(t, err)
	require.Len(t, types, 1)

	_, err = types[0].New(context.Background(), 1, contracts.Payload{"amount": -1.0})
	assert.ErrorIs(t, err, contracts.ErrValidation)
	assert.Equal(t, []contracts.TypeKey{contracts.NewTypeKey("shop", "refunded")}, c.Registry().List(contracts.KindEvent))
}

func TestClientHealth(t *testing.T) {
	c := newTestClient(t)
	_, err := c.DeclareEvent(orderPlaced, "", placedVersions()...)
	require.NoError(t, err)

	overall := c.Health().Check(context.Background())
	assert.Equal(t, health.StatusHealthy, overall.Status)
	assert.Equal(t, "billing", overall.Metadata["service"])
	assert.Contains(t, overall.Checks, "registry")

	t.Run("served over http", func(t *testing.T) {
		rec := httptest.NewRecorder()
		c.HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"shop.orders/placed"`)
		assert.Contains(t, rec.Body.String(), `"billing"`)
	})
}

func TestClientWithoutBroker(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	assert.ErrorIs(t, c.Publish(ctx, &contracts.Envelope{}), ErrNotConnected)
	assert.ErrorIs(t, c.Listen(ctx, "orders"), ErrNotConnected)
	assert.NoError(t, c.Close())
}

func TestClientCustomInterceptor(t *testing.T) {
	var calls int
	var mu sync.Mutex
	c := newTestClient(t, WithInterceptor(interceptors.NewInterceptorFunc("count", func(ctx context.Context, env *contracts.Envelope, next interceptors.MessageHandler) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return next.Handle(ctx, env)
	})))

	placed, err := c.DeclareEvent(orderPlaced, "", placedVersions()...)
	require.NoError(t, err)
	require.NoError(t, c.Subscribe(orderPlaced, 1, interceptors.MessageHandlerFunc(func(context.Context, *contracts.Envelope) error { return nil })))

	env, err := placed.New(context.Background(), 1, contracts.Payload{"a": "x"})
	require.NoError(t, err)
	require.NoError(t, c.Dispatch(context.Background(), env))
	assert.Equal(t, 1, calls)
}
