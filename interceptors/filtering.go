package interceptors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/glimte/mmate-schema/contracts"
)

// MessageFilter decides whether an envelope should be processed
type MessageFilter interface {
	// ShouldProcess returns true if the envelope should be processed
	ShouldProcess(ctx context.Context, env *contracts.Envelope) (bool, error)
}

// MessageFilterFunc is a function adapter for MessageFilter
type MessageFilterFunc func(ctx context.Context, env *contracts.Envelope) (bool, error)

// ShouldProcess implements MessageFilter
func (f MessageFilterFunc) ShouldProcess(ctx context.Context, env *contracts.Envelope) (bool, error) {
	return f(ctx, env)
}

// ErrFiltered is returned by a FilteringInterceptor configured with SkipWithError
var ErrFiltered = errors.New("envelope filtered")

// FilteringInterceptor filters envelopes based on conditions
type FilteringInterceptor struct {
	filter       MessageFilter
	skipBehavior SkipBehavior
	logger       *slog.Logger
}

// SkipBehavior defines what happens when an envelope is filtered out
type SkipBehavior int

const (
	// SkipSilently skips the envelope without error
	SkipSilently SkipBehavior = iota
	// SkipWithError returns ErrFiltered
	SkipWithError
	// SkipWithLog logs that the envelope was skipped
	SkipWithLog
)

// NewFilteringInterceptor creates a new filtering interceptor
func NewFilteringInterceptor(filter MessageFilter, skipBehavior SkipBehavior, logger *slog.Logger) *FilteringInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FilteringInterceptor{
		filter:       filter,
		skipBehavior: skipBehavior,
		logger:       logger,
	}
}

// Intercept implements Interceptor
func (i *FilteringInterceptor) Intercept(ctx context.Context, env *contracts.Envelope, next MessageHandler) error {
	shouldProcess, err := i.filter.ShouldProcess(ctx, env)
	if err != nil {
		return fmt.Errorf("filter error: %w", err)
	}

	if !shouldProcess {
		switch i.skipBehavior {
		case SkipWithError:
			return fmt.Errorf("%w: type=%s, id=%s", ErrFiltered, typeKeyOf(env), env.ID)
		case SkipWithLog:
			i.logger.Info("envelope skipped by filter",
				"envelopeId", env.ID.String(),
				"typeKey", typeKeyOf(env),
			)
			return nil
		default:
			return nil
		}
	}

	return next.Handle(ctx, env)
}

// Name implements Interceptor
func (i *FilteringInterceptor) Name() string {
	return "FilteringInterceptor"
}

// CompositeFilter combines multiple filters with AND logic
type CompositeFilter struct {
	filters []MessageFilter
}

// NewCompositeFilter creates a new composite filter
func NewCompositeFilter(filters ...MessageFilter) *CompositeFilter {
	return &CompositeFilter{filters: filters}
}

// ShouldProcess implements MessageFilter - all filters must return true
func (f *CompositeFilter) ShouldProcess(ctx context.Context, env *contracts.Envelope) (bool, error) {
	for _, filter := range f.filters {
		shouldProcess, err := filter.ShouldProcess(ctx, env)
		if err != nil {
			return false, err
		}
		if !shouldProcess {
			return false, nil
		}
	}
	return true, nil
}

// OrFilter combines multiple filters with OR logic
type OrFilter struct {
	filters []MessageFilter
}

// NewOrFilter creates a new OR filter
func NewOrFilter(filters ...MessageFilter) *OrFilter {
	return &OrFilter{filters: filters}
}

// ShouldProcess implements MessageFilter - at least one filter must return true
func (f *OrFilter) ShouldProcess(ctx context.Context, env *contracts.Envelope) (bool, error) {
	for _, filter := range f.filters {
		shouldProcess, err := filter.ShouldProcess(ctx, env)
		if err != nil {
			return false, err
		}
		if shouldProcess {
			return true, nil
		}
	}
	return false, nil
}

// TypeKeyFilter passes envelopes whose type tag belongs to one of the given
// base keys. Versioned tags match their base.
type TypeKeyFilter struct {
	allowed map[contracts.TypeKey]bool
}

// NewTypeKeyFilter creates a filter that only allows specific base keys
func NewTypeKeyFilter(allowed ...contracts.TypeKey) *TypeKeyFilter {
	keys := make(map[contracts.TypeKey]bool, len(allowed))
	for _, k := range allowed {
		keys[contracts.BaseKey(k)] = true
	}
	return &TypeKeyFilter{allowed: keys}
}

// ShouldProcess implements MessageFilter
func (f *TypeKeyFilter) ShouldProcess(ctx context.Context, env *contracts.Envelope) (bool, error) {
	key, ok := env.TypeKey()
	if !ok {
		return false, nil
	}
	return f.allowed[contracts.BaseKey(key)], nil
}

// KindFilter passes envelopes whose versioned type tag has the given kind
type KindFilter struct {
	kind contracts.Kind
}

// NewKindFilter creates a filter for events or commands
func NewKindFilter(kind contracts.Kind) *KindFilter {
	return &KindFilter{kind: kind}
}

// ShouldProcess implements MessageFilter
func (f *KindFilter) ShouldProcess(ctx context.Context, env *contracts.Envelope) (bool, error) {
	key, ok := env.TypeKey()
	if !ok {
		return false, nil
	}
	kv, ok := contracts.Destructure(key)
	return ok && kv.Kind == f.kind, nil
}

// ConditionalInterceptor executes an interceptor only if a condition is met
type ConditionalInterceptor struct {
	condition   MessageFilter
	interceptor Interceptor
}

// NewConditionalInterceptor creates a new conditional interceptor
func NewConditionalInterceptor(condition MessageFilter, interceptor Interceptor) *ConditionalInterceptor {
	return &ConditionalInterceptor{
		condition:   condition,
		interceptor: interceptor,
	}
}

// Intercept implements Interceptor
func (i *ConditionalInterceptor) Intercept(ctx context.Context, env *contracts.Envelope, next MessageHandler) error {
	shouldExecute, err := i.condition.ShouldProcess(ctx, env)
	if err != nil {
		return err
	}

	if shouldExecute {
		return i.interceptor.Intercept(ctx, env, next)
	}

	return next.Handle(ctx, env)
}

// Name implements Interceptor
func (i *ConditionalInterceptor) Name() string {
	return fmt.Sprintf("ConditionalInterceptor[%s]", i.interceptor.Name())
}
