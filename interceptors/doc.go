// Package interceptors wraps envelope handlers with cross-cutting concerns.
//
// Built-in interceptors:
//   - LoggingInterceptor: logs each envelope with its type key and timing
//   - MetricsInterceptor: reports counts, durations and error classes
//   - ValidationInterceptor: rejects envelopes that fail registry validation
//   - RecoveryInterceptor: turns handler panics into errors
//   - FilteringInterceptor and ConditionalInterceptor: gate by type key or kind
//
// Example usage:
//
//	chain := interceptors.NewDefaultInterceptorChainBuilder(logger).
//		WithRecovery().
//		WithLogging().
//		WithMetrics(metrics).
//		WithValidation(validator).
//		Build()
//
//	err := chain.Execute(ctx, env, finalHandler)
//
// Interceptors run in the order they were added, the final handler last.
package interceptors
