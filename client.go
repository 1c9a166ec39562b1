// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mmate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/mmate-schema/catalog"
	"github.com/glimte/mmate-schema/contracts"
	"github.com/glimte/mmate-schema/health"
	"github.com/glimte/mmate-schema/interceptors"
	"github.com/glimte/mmate-schema/messaging"
	"github.com/glimte/mmate-schema/monitor"
	"github.com/glimte/mmate-schema/registry"
	"github.com/glimte/mmate-schema/schema"
	"github.com/glimte/mmate-schema/serialization"
	"github.com/glimte/mmate-schema/transports/rabbitmq"
	"github.com/glimte/mmate-schema/versioning"
)

// ErrNotConnected is returned by broker operations before Connect
var ErrNotConnected = errors.New("mmate: not connected to a broker")

// Client bundles a schema registry with the components that use it: the
// envelope factory, the validator, the dispatcher, metrics, health checks
// and, once connected, an AMQP publisher and gateway
type Client struct {
	registry   *registry.Registry
	factory    *messaging.EnvelopeFactory
	validator  *messaging.Validator
	dispatcher *messaging.Dispatcher
	metrics    *monitor.Metrics
	health     *health.Registry
	serializer *serialization.JSONSerializer
	logger     *slog.Logger
	cfg        *clientConfig

	mu        sync.RWMutex
	conn      *rabbitmq.ConnectionManager
	channel   *amqp.Channel
	publisher *rabbitmq.Publisher
}

// NewClient creates a client with an empty registry
func NewClient(options ...ClientOption) (*Client, error) {
	cfg := &clientConfig{
		logger:        slog.Default(),
		serviceName:   "service",
		registerer:    prometheus.DefaultRegisterer,
		exchange:      rabbitmq.DefaultExchange,
		healthTimeout: 5 * time.Second,
	}

	for _, opt := range options {
		opt(cfg)
	}

	metrics, err := monitor.NewMetrics(cfg.registerer)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	c := &Client{
		metrics:    metrics,
		health:     health.NewRegistry(),
		serializer: serialization.NewJSONSerializer(serialization.WithBindings(serialization.NewBindings())),
		logger:     cfg.logger,
		cfg:        cfg,
	}

	c.registry = registry.New(
		registry.WithLogger(cfg.logger),
		registry.WithObserver(metrics),
	)
	c.factory = messaging.NewEnvelopeFactory(messaging.WithProcess(cfg.serviceName))
	c.validator = messaging.NewValidator(c.registry,
		messaging.WithValidatorLogger(cfg.logger),
		messaging.WithValidatorRecorder(metrics),
	)

	builder := interceptors.NewDefaultInterceptorChainBuilder(cfg.logger).
		WithRecovery().
		WithLogging().
		WithMetrics(metrics)
	for _, i := range cfg.interceptors {
		builder.WithCustom(i)
	}

	c.dispatcher = messaging.NewDispatcher(c.registry,
		messaging.WithDispatcherLogger(cfg.logger),
		messaging.WithValidator(c.validator),
		messaging.WithRecorder(metrics),
		messaging.WithInterceptors(builder.Build()),
		messaging.WithOutputSink(c.publishOutputs),
	)

	c.health.SetMetadata("service", cfg.serviceName)
	c.health.Register(health.NewRegistryChecker(c.registry))

	return c, nil
}

// Registry returns the schema registry
func (c *Client) Registry() *registry.Registry {
	return c.registry
}

// Factory returns the envelope factory
func (c *Client) Factory() *messaging.EnvelopeFactory {
	return c.factory
}

// Dispatcher returns the message dispatcher
func (c *Client) Dispatcher() *messaging.Dispatcher {
	return c.dispatcher
}

// Metrics returns the client's Prometheus metrics
func (c *Client) Metrics() *monitor.Metrics {
	return c.metrics
}

// Health returns the health check registry
func (c *Client) Health() *health.Registry {
	return c.health
}

// HealthHandler serves the health report over HTTP. It covers the registry
// chains and, once connected, the broker connection.
func (c *Client) HealthHandler() http.Handler {
	return health.Handler(c.health, c.cfg.healthTimeout)
}

// Serializer returns the envelope codec
func (c *Client) Serializer() *serialization.JSONSerializer {
	return c.serializer
}

// Declare declares a versioned message type
func (c *Client) Declare(kind contracts.Kind, key contracts.TypeKey, doc string, versions ...versioning.Entry) (*messaging.MessageType, error) {
	return messaging.Declare(c.registry, kind, key, doc, versions,
		messaging.WithFactory(c.factory),
		messaging.WithDeclaredValidator(c.validator),
	)
}

// DeclareEvent declares a versioned event type
func (c *Client) DeclareEvent(key contracts.TypeKey, doc string, versions ...versioning.Entry) (*messaging.MessageType, error) {
	return c.Declare(contracts.KindEvent, key, doc, versions...)
}

// DeclareCommand declares a versioned command type
func (c *Client) DeclareCommand(key contracts.TypeKey, doc string, versions ...versioning.Entry) (*messaging.MessageType, error) {
	return c.Declare(contracts.KindCommand, key, doc, versions...)
}

// DeclareSimple declares a simple command backed by handler
func (c *Client) DeclareSimple(key contracts.TypeKey, shape schema.Validator, handler contracts.Handler, options ...messaging.SimpleOption) (*messaging.SimpleCommand, error) {
	return messaging.DeclareSimple(c.registry, key, shape, handler, options...)
}

// DeclareCatalog declares every type of a YAML catalog
func (c *Client) DeclareCatalog(cat *catalog.Catalog) ([]*messaging.MessageType, error) {
	return cat.Declare(c.registry,
		messaging.WithFactory(c.factory),
		messaging.WithDeclaredValidator(c.validator),
	)
}

// Validate checks env against the type declared under key
func (c *Client) Validate(ctx context.Context, key contracts.TypeKey, env *contracts.Envelope) (*contracts.Envelope, error) {
	return c.validator.Validate(ctx, key, env)
}

// Invoke runs a simple command in process and returns its outputs
func (c *Client) Invoke(ctx context.Context, key contracts.TypeKey, input contracts.Payload) ([]contracts.Payload, error) {
	return messaging.InvokeSimple(ctx, c.registry, key, input)
}

// Subscribe registers handler for base, receiving payloads cast to version
func (c *Client) Subscribe(base contracts.TypeKey, version int, handler interceptors.MessageHandler) error {
	return c.dispatcher.Subscribe(base, version, handler)
}

// Dispatch delivers env to in-process subscribers
func (c *Client) Dispatch(ctx context.Context, env *contracts.Envelope) error {
	return c.dispatcher.Dispatch(ctx, env)
}

// Connect dials the broker and prepares the publisher
func (c *Client) Connect(ctx context.Context, url string, options ...rabbitmq.ConnectionOption) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	options = append([]rabbitmq.ConnectionOption{rabbitmq.WithConnectionLogger(c.logger)}, options...)
	conn := rabbitmq.NewConnectionManager(url, options...)
	if err := conn.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	c.conn = conn
	c.channel = ch
	c.publisher = rabbitmq.NewPublisher(ch,
		rabbitmq.WithExchange(c.cfg.exchange),
		rabbitmq.WithPublisherSerializer(c.serializer),
		rabbitmq.WithPublisherFactory(c.factory),
		rabbitmq.WithPublisherLogger(c.logger),
	)
	c.health.Register(health.NewConnectionChecker("rabbitmq", conn))
	return nil
}

// Publish sends env to the broker
func (c *Client) Publish(ctx context.Context, env *contracts.Envelope) error {
	c.mu.RLock()
	publisher := c.publisher
	c.mu.RUnlock()

	if publisher == nil {
		return ErrNotConnected
	}
	return publisher.Publish(ctx, env)
}

// Listen binds queue to every declared version of the subscribed types and
// dispatches deliveries until ctx is done. Each listener gets its own channel.
func (c *Client) Listen(ctx context.Context, queue string, options ...rabbitmq.GatewayOption) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	topology, err := rabbitmq.TopologyFor(c.registry, c.cfg.exchange, queue, c.dispatcher.SubscribedTypes()...)
	if err != nil {
		return err
	}
	if err := topology.Declare(ch); err != nil {
		return err
	}

	options = append([]rabbitmq.GatewayOption{
		rabbitmq.WithGatewayLogger(c.logger),
		rabbitmq.WithGatewaySerializer(c.serializer),
	}, options...)
	return rabbitmq.NewGateway(c.dispatcher, options...).Consume(ctx, ch, queue)
}

// publishOutputs forwards simple command outputs to the broker when connected
func (c *Client) publishOutputs(ctx context.Context, source *contracts.Envelope, outputs []contracts.Payload) error {
	c.mu.RLock()
	publisher := c.publisher
	c.mu.RUnlock()

	if publisher == nil {
		c.logger.Warn("dropping command outputs, not connected",
			"envelopeId", source.ID.String(),
			"outputs", len(outputs),
		)
		return nil
	}
	return publisher.Sink()(ctx, source, outputs)
}

// Close closes the broker connection, if any
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	c.health.Unregister("rabbitmq")
	if c.channel != nil {
		c.channel.Close()
	}
	err := c.conn.Close()
	c.conn, c.channel, c.publisher = nil, nil, nil
	return err
}

// clientConfig holds client configuration
type clientConfig struct {
	logger        *slog.Logger
	serviceName   string
	registerer    prometheus.Registerer
	exchange      string
	healthTimeout time.Duration
	interceptors  []interceptors.Interceptor
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithServiceName sets the process name stamped on event provenance
func WithServiceName(name string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.serviceName = name
	}
}

// WithMetricsRegisterer sets where metrics are registered. Nil disables
// registration.
func WithMetricsRegisterer(r prometheus.Registerer) ClientOption {
	return func(cfg *clientConfig) {
		cfg.registerer = r
	}
}

// WithExchange sets the exchange used for publishing and listening
func WithExchange(exchange string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.exchange = exchange
	}
}

// WithHealthTimeout bounds a health report served over HTTP
func WithHealthTimeout(d time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.healthTimeout = d
	}
}

// WithInterceptor appends an interceptor to the dispatch chain
func WithInterceptor(i interceptors.Interceptor) ClientOption {
	return func(cfg *clientConfig) {
		cfg.interceptors = append(cfg.interceptors, i)
	}
}
