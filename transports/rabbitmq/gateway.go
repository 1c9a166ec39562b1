package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/mmate-schema/contracts"
	"github.com/glimte/mmate-schema/interceptors"
	"github.com/glimte/mmate-schema/schema"
	"github.com/glimte/mmate-schema/serialization"
)

// ErrDeliveriesClosed is returned by Consume when the broker closes the
// delivery channel
var ErrDeliveriesClosed = errors.New("rabbitmq: delivery channel closed")

// Outcome is how a delivery was settled
type Outcome int

const (
	// OutcomeAck removes the delivery from the queue
	OutcomeAck Outcome = iota
	// OutcomeReject drops or dead-letters the delivery
	OutcomeReject
	// OutcomeRequeue returns the delivery to the queue for redelivery
	OutcomeRequeue
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAck:
		return "ack"
	case OutcomeReject:
		return "reject"
	default:
		return "requeue"
	}
}

// OutcomeFor maps a dispatch error to a settlement
func OutcomeFor(err error) Outcome {
	switch contracts.Classify(err) {
	case contracts.ClassNone:
		return OutcomeAck
	case contracts.ClassClientInput:
		return OutcomeReject
	default:
		return OutcomeRequeue
	}
}

// Gateway feeds AMQP deliveries to a message handler
type Gateway struct {
	handler       interceptors.MessageHandler
	serializer    *serialization.JSONSerializer
	logger        *slog.Logger
	prefetchCount int
	handleTimeout time.Duration
	consumerTag   string
}

// GatewayOption configures the gateway
type GatewayOption func(*Gateway)

// WithGatewayLogger sets the logger
func WithGatewayLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithGatewaySerializer sets the envelope codec
func WithGatewaySerializer(s *serialization.JSONSerializer) GatewayOption {
	return func(g *Gateway) {
		g.serializer = s
	}
}

// WithPrefetchCount sets the prefetch count
func WithPrefetchCount(count int) GatewayOption {
	return func(g *Gateway) {
		g.prefetchCount = count
	}
}

// WithHandleTimeout bounds the handling of a single delivery
func WithHandleTimeout(timeout time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.handleTimeout = timeout
	}
}

// WithConsumerTag sets the consumer tag
func WithConsumerTag(tag string) GatewayOption {
	return func(g *Gateway) {
		g.consumerTag = tag
	}
}

// NewGateway creates a gateway dispatching to handler
func NewGateway(handler interceptors.MessageHandler, options ...GatewayOption) *Gateway {
	g := &Gateway{
		handler:       handler,
		serializer:    serialization.NewJSONSerializer(),
		logger:        slog.Default(),
		prefetchCount: 10,
		handleTimeout: 30 * time.Second,
	}

	for _, opt := range options {
		opt(g)
	}

	return g
}

// Consume subscribes to queue on ch and handles deliveries until ctx is
// done or the broker closes the delivery channel
func (g *Gateway) Consume(ctx context.Context, ch Channel, queue string) error {
	if err := ch.Qos(g.prefetchCount, 0, false); err != nil {
		return &ConsumerError{Queue: queue, Op: "qos", Err: err}
	}

	deliveries, err := ch.Consume(queue, g.consumerTag, false, false, false, false, nil)
	if err != nil {
		return &ConsumerError{Queue: queue, Op: "consume", Err: err}
	}

	g.logger.Info("subscribed to queue", "queue", queue, "prefetchCount", g.prefetchCount)

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("consumer stopped", "queue", queue)
			return nil

		case d, ok := <-deliveries:
			if !ok {
				g.logger.Warn("delivery channel closed", "queue", queue)
				return &ConsumerError{Queue: queue, Op: "consume", Err: ErrDeliveriesClosed}
			}
			// Failures are settled on the delivery and logged
			_, _ = g.HandleDelivery(ctx, d)
		}
	}
}

// HandleDelivery decodes, dispatches and settles one delivery. It returns
// the outcome and the dispatch error, joined with any settlement error.
func (g *Gateway) HandleDelivery(ctx context.Context, d amqp.Delivery) (Outcome, error) {
	msgCtx, cancel := context.WithTimeout(ctx, g.handleTimeout)
	defer cancel()

	err := g.dispatch(msgCtx, d)
	outcome := OutcomeFor(err)

	var settleErr error
	switch outcome {
	case OutcomeAck:
		settleErr = d.Ack(false)
	case OutcomeReject:
		g.logger.Warn("rejecting delivery",
			"messageId", d.MessageId,
			"routingKey", d.RoutingKey,
			"error", err,
		)
		settleErr = d.Reject(false)
	default:
		g.logger.Error("requeueing delivery",
			"messageId", d.MessageId,
			"routingKey", d.RoutingKey,
			"error", err,
		)
		settleErr = d.Nack(false, true)
	}

	if settleErr != nil {
		g.logger.Error("failed to settle delivery",
			"outcome", outcome.String(),
			"messageId", d.MessageId,
			"error", settleErr,
		)
		settleErr = fmt.Errorf("failed to %s delivery: %w", outcome, settleErr)
	}

	return outcome, errors.Join(err, settleErr)
}

func (g *Gateway) dispatch(ctx context.Context, d amqp.Delivery) error {
	env, err := g.serializer.DeserializeEnvelope(d.Body)
	if err != nil {
		return schema.NewValidationError(schema.CauseEnvelope, nil, schema.Violation{
			Message: err.Error(),
			Code:    "MALFORMED_BODY",
		})
	}
	return g.handler.Handle(ctx, env)
}
