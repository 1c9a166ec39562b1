package monitor

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/glimte/mmate-schema/contracts"
)

const namespace = "mmate_schema"

// Metrics holds the Prometheus collectors
type Metrics struct {
	messagesTotal      *prometheus.CounterVec   // By type_key
	errorsTotal        *prometheus.CounterVec   // By type_key and class
	processingDuration *prometheus.HistogramVec // By type_key
	validationsTotal   *prometheus.CounterVec   // By type_key and outcome
	castsTotal         *prometheus.CounterVec   // By type_key, direction and outcome
	records            *prometheus.GaugeVec     // By kind
}

// NewMetrics creates the collectors and registers them with registerer. A
// nil registerer leaves them unregistered.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "messages_total",
			Help:      "Total number of envelopes handed to handlers",
		}, []string{"type_key"}),

		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "errors_total",
			Help:      "Total number of failed envelope deliveries",
		}, []string{"type_key", "class"}), // class: client-input, internal

		processingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Handler processing duration in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"type_key"}),

		validationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "total",
			Help:      "Total number of envelope validations",
		}, []string{"type_key", "outcome"}), // outcome: valid, invalid, error

		castsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cast",
			Name:      "total",
			Help:      "Total number of payload casts between versions",
		}, []string{"type_key", "direction", "outcome"}), // direction: up, down

		records: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "records",
			Help:      "Number of declared type keys",
		}, []string{"kind"}),
	}

	if registerer == nil {
		return m, nil
	}

	var err error
	if m.messagesTotal, err = register(registerer, m.messagesTotal); err != nil {
		return nil, err
	}
	if m.errorsTotal, err = register(registerer, m.errorsTotal); err != nil {
		return nil, err
	}
	if m.processingDuration, err = register(registerer, m.processingDuration); err != nil {
		return nil, err
	}
	if m.validationsTotal, err = register(registerer, m.validationsTotal); err != nil {
		return nil, err
	}
	if m.castsTotal, err = register(registerer, m.castsTotal); err != nil {
		return nil, err
	}
	if m.records, err = register(registerer, m.records); err != nil {
		return nil, err
	}

	return m, nil
}

// register registers c, reusing the existing collector when an identical
// one is already registered
func register[T prometheus.Collector](r prometheus.Registerer, c T) (T, error) {
	if err := r.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Collectors returns every collector owned by m
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.messagesTotal,
		m.errorsTotal,
		m.processingDuration,
		m.validationsTotal,
		m.castsTotal,
		m.records,
	}
}

// IncrementMessageCount implements interceptors.MetricsCollector
func (m *Metrics) IncrementMessageCount(typeKey string) {
	m.messagesTotal.WithLabelValues(typeKey).Inc()
}

// RecordProcessingTime implements interceptors.MetricsCollector
func (m *Metrics) RecordProcessingTime(typeKey string, duration time.Duration) {
	m.processingDuration.WithLabelValues(typeKey).Observe(duration.Seconds())
}

// IncrementErrorCount implements interceptors.MetricsCollector
func (m *Metrics) IncrementErrorCount(typeKey string, errorClass string) {
	m.errorsTotal.WithLabelValues(typeKey, errorClass).Inc()
}

// ObserveValidation implements messaging.Recorder
func (m *Metrics) ObserveValidation(key contracts.TypeKey, err error) {
	outcome := "valid"
	switch contracts.Classify(err) {
	case contracts.ClassClientInput:
		outcome = "invalid"
	case contracts.ClassInternal:
		outcome = "error"
	}
	m.validationsTotal.WithLabelValues(key.String(), outcome).Inc()
}

// ObserveCast implements messaging.Recorder
func (m *Metrics) ObserveCast(base contracts.TypeKey, from, to int, err error) {
	direction := "up"
	if to < from {
		direction = "down"
	}
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	m.castsTotal.WithLabelValues(base.String(), direction, outcome).Inc()
}

// RecordsChanged implements registry.Observer
func (m *Metrics) RecordsChanged(kind contracts.Kind, count int) {
	m.records.WithLabelValues(string(kind)).Set(float64(count))
}
