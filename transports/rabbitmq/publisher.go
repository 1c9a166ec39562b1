package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/mmate-schema/contracts"
	"github.com/glimte/mmate-schema/messaging"
	"github.com/glimte/mmate-schema/serialization"
)

// Headers stamped on every published envelope
const (
	HeaderMessageID   = "x-message-id"
	HeaderMessageType = "x-message-type"
	HeaderMessageKind = "x-message-kind"
	HeaderBaseType    = "x-message-base"
)

// Publisher publishes envelopes routed by their versioned type key
type Publisher struct {
	ch             Channel
	exchange       string
	serializer     *serialization.JSONSerializer
	factory        *messaging.EnvelopeFactory
	publishTimeout time.Duration
	retryPolicy    RetryPolicy
	logger         *slog.Logger
}

// PublisherOption configures the publisher
type PublisherOption func(*Publisher)

// WithExchange sets the exchange envelopes are published to
func WithExchange(exchange string) PublisherOption {
	return func(p *Publisher) {
		p.exchange = exchange
	}
}

// WithPublishTimeout bounds a publish when ctx has no deadline
func WithPublishTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.publishTimeout = timeout
	}
}

// WithPublishRetry sets the policy for retrying failed publishes
func WithPublishRetry(policy RetryPolicy) PublisherOption {
	return func(p *Publisher) {
		p.retryPolicy = policy
	}
}

// WithPublisherSerializer sets the envelope codec
func WithPublisherSerializer(s *serialization.JSONSerializer) PublisherOption {
	return func(p *Publisher) {
		p.serializer = s
	}
}

// WithPublisherFactory sets the factory used to wrap handler outputs
func WithPublisherFactory(f *messaging.EnvelopeFactory) PublisherOption {
	return func(p *Publisher) {
		p.factory = f
	}
}

// WithPublisherLogger sets the logger
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher creates a new publisher on ch
func NewPublisher(ch Channel, options ...PublisherOption) *Publisher {
	p := &Publisher{
		ch:             ch,
		exchange:       DefaultExchange,
		serializer:     serialization.NewJSONSerializer(),
		factory:        messaging.NewEnvelopeFactory(),
		publishTimeout: 10 * time.Second,
		retryPolicy:    NewExponentialBackoff(100*time.Millisecond, 2*time.Second, 2, 3),
		logger:         slog.Default(),
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// Publish sends env with its versioned type key as the routing key
func (p *Publisher) Publish(ctx context.Context, env *contracts.Envelope) error {
	key, ok := env.TypeKey()
	if !ok {
		return &PublishError{
			Exchange:  p.exchange,
			Err:       fmt.Errorf("envelope %s carries no type tag", env.ID),
			Timestamp: time.Now(),
		}
	}
	routingKey := key.String()

	body, err := p.serializer.SerializeEnvelope(env)
	if err != nil {
		return &PublishError{Exchange: p.exchange, RoutingKey: routingKey, Err: err, Timestamp: time.Now()}
	}

	headers := amqp.Table{
		HeaderMessageID:   env.ID.String(),
		HeaderMessageType: routingKey,
		HeaderBaseType:    contracts.BaseKey(key).String(),
	}
	if kv, ok := contracts.Destructure(key); ok {
		headers[HeaderMessageKind] = string(kv.Kind)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.ID.String(),
		Type:         routingKey,
		Timestamp:    time.Now(),
		Headers:      headers,
		Body:         body,
	}
	if env.Provenance != nil {
		msg.Timestamp = env.Provenance.CreatedAt
		msg.AppId = env.Provenance.Process
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.publishTimeout)
		defer cancel()
	}

	err = retry(ctx, p.retryPolicy, func() error {
		return p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
	})
	if err != nil {
		return &PublishError{Exchange: p.exchange, RoutingKey: routingKey, Err: err, Timestamp: time.Now()}
	}

	p.logger.Debug("published envelope", "id", env.ID, "typeKey", routingKey, "exchange", p.exchange)
	return nil
}

// Sink returns an output sink that publishes each handler output. Event
// outputs carry provenance naming the source envelope as their cause.
func (p *Publisher) Sink() messaging.OutputSink {
	return func(ctx context.Context, source *contracts.Envelope, outputs []contracts.Payload) error {
		for i, out := range outputs {
			key, ok := out.TypeKey()
			if !ok {
				return fmt.Errorf("output %d of %s carries no type tag", i, source.ID)
			}
			var opts []messaging.EnvelopeOption
			if kv, ok := contracts.Destructure(key); ok && kv.Kind == contracts.KindEvent {
				opts = append(opts, messaging.WithOrigin(p.factory.Caused(source)))
			}
			env, err := p.factory.Build(key, out, opts...)
			if err != nil {
				return fmt.Errorf("output %d: %w", i, err)
			}
			if err := p.Publish(ctx, env); err != nil {
				return err
			}
		}
		return nil
	}
}
