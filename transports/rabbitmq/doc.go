// Package rabbitmq carries envelopes over AMQP 0-9-1.
//
// The Gateway consumes deliveries, decodes each body into an envelope and
// hands it to a dispatcher. The dispatch outcome decides how the delivery is
// settled: success is acked, a validation failure is rejected without
// requeue, and any other failure is nacked for redelivery.
//
// The Publisher routes each envelope by its versioned type key, so a queue
// binds the exact versions it wants to receive.
package rabbitmq
