// Package monitor exports Prometheus metrics for validation, casting,
// dispatch and registry size.
//
// A single Metrics value serves as the interceptors.MetricsCollector for a
// dispatch chain, the messaging.Recorder for validators and dispatchers, and
// the registry.Observer for declaration counts:
//
//	metrics, err := monitor.NewMetrics(prometheus.DefaultRegisterer)
//	reg := registry.New(registry.WithObserver(metrics))
//	validator := messaging.NewValidator(reg, messaging.WithValidatorRecorder(metrics))
package monitor
