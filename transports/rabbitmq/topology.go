package rabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/mmate-schema/contracts"
	"github.com/glimte/mmate-schema/registry"
)

// DefaultExchange is the topic exchange envelopes are published to
const DefaultExchange = "mmate.messages"

// Channel is the subset of *amqp.Channel the transport uses
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

var _ Channel = (*amqp.Channel)(nil)

// QueueDeclaration defines a queue to be declared
type QueueDeclaration struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Arguments  amqp.Table
}

// Binding defines a queue-to-exchange binding
type Binding struct {
	Queue      string
	Exchange   string
	RoutingKey string
}

// Topology is the exchange, queue and bindings a consumer needs
type Topology struct {
	Exchange string
	Queue    QueueDeclaration
	Bindings []Binding
}

// TopologyFor binds queue to every declared version of each base key, so
// the queue receives any version the registry can cast
func TopologyFor(reg *registry.Registry, exchange, queue string, bases ...contracts.TypeKey) (Topology, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	topology := Topology{
		Exchange: exchange,
		Queue:    QueueDeclaration{Name: queue, Durable: true},
	}

	for _, base := range bases {
		rec, err := reg.Lookup(base)
		if err != nil {
			return Topology{}, err
		}
		keys := rec.VersionKeys()
		if rec.Simple {
			keys = []contracts.TypeKey{rec.Key}
		}
		for _, key := range keys {
			topology.Bindings = append(topology.Bindings, Binding{
				Queue:      queue,
				Exchange:   exchange,
				RoutingKey: key.String(),
			})
		}
	}
	return topology, nil
}

// Declare declares the exchange, the queue and all bindings on ch
func (t Topology) Declare(ch Channel) error {
	if err := ch.ExchangeDeclare(t.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", t.Exchange, err)
	}

	q := t.Queue
	if _, err := ch.QueueDeclare(q.Name, q.Durable, q.AutoDelete, q.Exclusive, false, q.Arguments); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", q.Name, err)
	}

	for _, b := range t.Bindings {
		if err := ch.QueueBind(b.Queue, b.RoutingKey, b.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s to exchange %s with routing key %s: %w",
				b.Queue, b.Exchange, b.RoutingKey, err)
		}
	}
	return nil
}
