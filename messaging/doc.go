// Package messaging builds, validates and dispatches versioned message
// envelopes against a registry.
//
// The package covers:
//   - Declare: registers a message type and its version chain in one call
//   - MessageType: the versioned constructor returned by Declare
//   - EnvelopeFactory: stamps ids, type keys and origin metadata
//   - Validator: checks an envelope against the shape its type tag selects
//   - SimpleCommand: validate-then-handle path for external commands
//   - Dispatcher: routes envelopes to handlers, casting to the version each
//     handler consumes
//
// Example usage:
//
//	reg := registry.New()
//	up, down := versioning.AddFieldPair("currency", "EUR")
//
//	orderPlaced, err := messaging.Declare(reg, contracts.KindEvent,
//		contracts.NewTypeKey("shop.orders", "placed"), "an order was placed",
//		[]versioning.Entry{
//			{Version: 1, Shape: v1Shape},
//			{Version: 2, Shape: v2Shape, Upcast: up, Downcast: down},
//		},
//	)
//
//	env, err := orderPlaced.New(ctx, 2, contracts.Payload{"total": 12.5, "currency": "EUR"})
//
//	dispatcher := messaging.NewDispatcher(reg)
//	dispatcher.SubscribeFunc(orderPlaced.Key(), 1, func(ctx context.Context, env *contracts.Envelope) error {
//		// env.Payload has been cast down to version 1
//		return nil
//	})
//	err = dispatcher.Dispatch(ctx, env)
package messaging
