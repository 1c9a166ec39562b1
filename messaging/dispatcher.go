package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/glimte/mmate-schema/contracts"
	"github.com/glimte/mmate-schema/interceptors"
	"github.com/glimte/mmate-schema/registry"
	"github.com/glimte/mmate-schema/schema"
)

// ErrNoHandlers is returned when an envelope's type has no subscribers
var ErrNoHandlers = errors.New("no handlers registered")

// OutputSink receives the payloads a simple command produced
type OutputSink func(ctx context.Context, source *contracts.Envelope, outputs []contracts.Payload) error

// HandlerRegistration represents a subscribed handler
type HandlerRegistration struct {
	Handler interceptors.MessageHandler
	Base    contracts.TypeKey
	// Version is the payload version the handler consumes
	Version int
}

// Dispatcher routes envelopes to subscribed handlers. Each handler receives
// the payload cast to the version it subscribed with.
type Dispatcher struct {
	reg       *registry.Registry
	validator *Validator
	handlers  map[contracts.TypeKey][]HandlerRegistration
	mu        sync.RWMutex
	logger    *slog.Logger
	chain     *interceptors.InterceptorChain
	recorder  Recorder
	sink      OutputSink
	skipCheck bool
}

// DispatcherOption configures the Dispatcher
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithInterceptors wraps every handler call in chain
func WithInterceptors(chain *interceptors.InterceptorChain) DispatcherOption {
	return func(d *Dispatcher) {
		d.chain = chain
	}
}

// WithValidator sets the validator run before dispatch
func WithValidator(v *Validator) DispatcherOption {
	return func(d *Dispatcher) {
		d.validator = v
	}
}

// WithoutValidation skips validation before dispatch, for chains that
// already carry a ValidationInterceptor
func WithoutValidation() DispatcherOption {
	return func(d *Dispatcher) {
		d.skipCheck = true
	}
}

// WithRecorder reports casts performed during dispatch
func WithRecorder(r Recorder) DispatcherOption {
	return func(d *Dispatcher) {
		d.recorder = r
	}
}

// WithOutputSink forwards simple command output to sink
func WithOutputSink(sink OutputSink) DispatcherOption {
	return func(d *Dispatcher) {
		d.sink = sink
	}
}

// NewDispatcher creates a new dispatcher over reg
func NewDispatcher(reg *registry.Registry, options ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		reg:      reg,
		handlers: make(map[contracts.TypeKey][]HandlerRegistration),
		logger:   slog.Default(),
	}

	for _, opt := range options {
		opt(d)
	}
	if d.validator == nil {
		d.validator = NewValidator(reg, WithValidatorLogger(d.logger), WithValidatorRecorder(d.recorder))
	}

	return d
}

// Subscribe registers handler for a declared type at the given version
func (d *Dispatcher) Subscribe(base contracts.TypeKey, version int, handler interceptors.MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	base = contracts.BaseKey(base)
	rec, err := d.reg.Lookup(base)
	if err != nil {
		return err
	}
	if rec.Simple {
		return fmt.Errorf("%s is a simple command; it is handled by its declaration", base)
	}
	if _, ok := rec.Version(version); !ok {
		return &registry.UnknownVersionError{Key: base, Version: version}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[base] = append(d.handlers[base], HandlerRegistration{
		Handler: handler,
		Base:    base,
		Version: version,
	})

	d.logger.Info("registered message handler",
		"typeKey", base.String(),
		"version", version,
	)

	return nil
}

// SubscribeFunc registers a function as a handler
func (d *Dispatcher) SubscribeFunc(base contracts.TypeKey, version int, handler interceptors.MessageHandlerFunc) error {
	return d.Subscribe(base, version, handler)
}

// Handle implements interceptors.MessageHandler by dispatching env
func (d *Dispatcher) Handle(ctx context.Context, env *contracts.Envelope) error {
	return d.Dispatch(ctx, env)
}

// Dispatch validates env and sends it to every handler of its type. Simple
// commands are validated by Invoke, which runs their declared handler; its
// output goes to the sink.
func (d *Dispatcher) Dispatch(ctx context.Context, env *contracts.Envelope) error {
	tag, ok := env.TypeKey()
	if !ok {
		return schema.NewValidationError(schema.CauseTypeTag, env, missingTag())
	}
	base := contracts.BaseKey(tag)

	rec, err := d.reg.Lookup(base)
	if err != nil {
		return err
	}

	if rec.Simple {
		return d.dispatchSimple(ctx, rec, env)
	}

	if !d.skipCheck {
		if _, err := d.validator.Validate(ctx, base, env); err != nil {
			return err
		}
	}

	kv, ok := contracts.Destructure(tag)
	if !ok {
		return schema.NewValidationError(schema.CauseTypeTag, env, schema.Violation{
			Field:   contracts.TypeField,
			Message: fmt.Sprintf("%s is not a versioned key", tag),
			Code:    "UNVERSIONED_TYPE_TAG",
		})
	}

	d.mu.RLock()
	handlers := make([]HandlerRegistration, len(d.handlers[base]))
	copy(handlers, d.handlers[base])
	d.mu.RUnlock()

	if len(handlers) == 0 {
		d.logger.Warn("no handlers registered for message type", "typeKey", base.String())
		return fmt.Errorf("%w for %s", ErrNoHandlers, base)
	}

	// Cast once per distinct version before fanning out
	views := make(map[int]*contracts.Envelope)
	for _, h := range handlers {
		if _, done := views[h.Version]; done {
			continue
		}
		payload, err := castRecorded(d.reg, d.recorder, base, env.Payload, kv.Version, h.Version)
		if err != nil {
			d.logger.Error("cast failed",
				"typeKey", base.String(),
				"from", kv.Version,
				"to", h.Version,
				"error", err,
			)
			return err
		}
		view := env.Clone()
		view.Payload = payload
		views[h.Version] = view
	}

	var wg sync.WaitGroup
	errs := make([]error, len(handlers))

	for i, registration := range handlers {
		wg.Add(1)
		go func(i int, reg HandlerRegistration) {
			defer wg.Done()

			if err := d.chain.Execute(ctx, views[reg.Version].Clone(), reg.Handler); err != nil {
				d.logger.Error("handler failed",
					"typeKey", base.String(),
					"version", reg.Version,
					"envelopeId", env.ID.String(),
					"error", err,
				)
				errs[i] = fmt.Errorf("handler for %s v%d failed: %w", base, reg.Version, err)
			}
		}(i, registration)
	}

	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return err
	}

	d.logger.Debug("envelope dispatched",
		"typeKey", tag.String(),
		"envelopeId", env.ID.String(),
		"handlerCount", len(handlers),
	)

	return nil
}

func (d *Dispatcher) dispatchSimple(ctx context.Context, rec registry.Record, env *contracts.Envelope) error {
	cmd, err := SimpleFromRecord(rec)
	if err != nil {
		return err
	}
	if violations := envelopeViolations(env, rec.Kind); len(violations) > 0 {
		verr := schema.NewValidationError(schema.CauseEnvelope, env, violations...)
		verr.TypeKey = rec.Key
		return verr
	}

	var outputs []contracts.Payload
	final := interceptors.MessageHandlerFunc(func(ctx context.Context, env *contracts.Envelope) error {
		out, err := cmd.Invoke(ctx, env.Payload)
		outputs = out
		return err
	})
	if err := d.chain.Execute(ctx, env, final); err != nil {
		return err
	}

	if d.sink == nil || len(outputs) == 0 {
		return nil
	}
	return d.sink(ctx, env, outputs)
}

// Handlers returns the handlers subscribed to base
func (d *Dispatcher) Handlers(base contracts.TypeKey) []HandlerRegistration {
	d.mu.RLock()
	defer d.mu.RUnlock()

	handlers := d.handlers[contracts.BaseKey(base)]
	if len(handlers) == 0 {
		return nil
	}
	result := make([]HandlerRegistration, len(handlers))
	copy(result, handlers)
	return result
}

// SubscribedTypes returns the base keys that have handlers, in key order
func (d *Dispatcher) SubscribedTypes() []contracts.TypeKey {
	d.mu.RLock()
	defer d.mu.RUnlock()

	types := make([]contracts.TypeKey, 0, len(d.handlers))
	for key := range d.handlers {
		types = append(types, key)
	}
	sort.Slice(types, func(i, j int) bool { return types[i].String() < types[j].String() })
	return types
}
