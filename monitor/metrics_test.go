package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-schema/contracts"
	"github.com/glimte/mmate-schema/interceptors"
	"github.com/glimte/mmate-schema/messaging"
	"github.com/glimte/mmate-schema/registry"
	"github.com/glimte/mmate-schema/schema"
	"github.com/glimte/mmate-schema/versioning"
)

var (
	_ interceptors.MetricsCollector = (*Metrics)(nil)
	_ messaging.Recorder            = (*Metrics)(nil)
	_ registry.Observer             = (*Metrics)(nil)
)

func TestNewMetricsRegisters(t *testing.T) {
	promReg := prometheus.NewRegistry()

	m, err := NewMetrics(promReg)
	require.NoError(t, err)

	m.IncrementMessageCount("a/b")
	m.RecordProcessingTime("a/b", 3*time.Millisecond)
	m.IncrementErrorCount("a/b", "internal")

	families, err := promReg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 3, "only collectors with samples are gathered")

	again, err := NewMetrics(promReg)
	require.NoError(t, err, "re-registering the same metrics is tolerated")
	again.IncrementMessageCount("a/b")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.messagesTotal.WithLabelValues("a/b")), "collectors are shared")
}

func TestMetricsFromRegistryAndMessaging(t *testing.T) {
	m, err := NewMetrics(nil)
	require.NoError(t, err)

	reg := registry.New(registry.WithObserver(m))
	key := contracts.NewTypeKey("shop.orders", "placed")
	up, down := versioning.AddFieldPair("b", false)

	mt, err := messaging.Declare(reg, contracts.KindEvent, key, "", []versioning.Entry{
		{Version: 1, Shape: schema.Any},
		{Version: 2, Shape: schema.Any, Upcast: up, Downcast: down},
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.records.WithLabelValues("event")))

	validator := messaging.NewValidator(reg, messaging.WithValidatorRecorder(m))
	d := messaging.NewDispatcher(reg,
		messaging.WithValidator(validator),
		messaging.WithRecorder(m),
		messaging.WithInterceptors(interceptors.NewDefaultInterceptorChainBuilder(nil).WithMetrics(m).Build()),
	)
	require.NoError(t, d.SubscribeFunc(key, 2, func(context.Context, *contracts.Envelope) error { return nil }))

	env, err := mt.Build(1, contracts.Payload{"a": "x"})
	require.NoError(t, err)
	require.NoError(t, d.Dispatch(context.Background(), env))

	bad := &contracts.Envelope{ID: uuid.New(), Payload: contracts.Payload{"type": "shop.orders.event.v7/placed"}}
	assert.Error(t, d.Dispatch(context.Background(), bad))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.validationsTotal.WithLabelValues("shop.orders/placed", "valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.validationsTotal.WithLabelValues("shop.orders/placed", "invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.castsTotal.WithLabelValues("shop.orders/placed", "up", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesTotal.WithLabelValues("shop.orders.event.v2/placed")))
}

func TestObserveValidationOutcomes(t *testing.T) {
	m, err := NewMetrics(nil)
	require.NoError(t, err)
	key := contracts.NewTypeKey("a", "b")

	m.ObserveValidation(key, nil)
	m.ObserveValidation(key, schema.NewValidationError(schema.CauseShape, nil))
	m.ObserveValidation(key, contracts.ErrUnknownTypeKey)
	m.ObserveCast(key, 3, 1, contracts.ErrMissingCaster)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.validationsTotal.WithLabelValues("a/b", "valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.validationsTotal.WithLabelValues("a/b", "invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.validationsTotal.WithLabelValues("a/b", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.castsTotal.WithLabelValues("a/b", "down", "failed")))
}
