// Package event provides a pub-sub event bus that decouples the provisioning
// pipeline from the components that observe it.
//
// The pipeline, resolver and dispatcher publish events as a task moves
// through its states and as referral codes arrive. Metrics and the status
// endpoint subscribe without the publishers knowing about them.
//
// # Event Categories
//
// Task lifecycle:
//   - [TaskStartedEvent]
//   - [TaskStateChangedEvent]
//   - [TaskCompletedEvent]
//
// Referral codes:
//   - [CodeReceivedEvent]: a code reached a waiting task
//   - [CodeRejectedEvent]: the service refused a code
//   - [CodeDroppedEvent]: a message was discarded before delivery
//
// Retries:
//   - [RetryFailedEvent]
//
// # Thread Safety
//
// The [Bus] type is safe for concurrent use. Handlers are called
// synchronously and protected against panics.
//
// # Basic Usage
//
//	bus := event.NewBus(event.WithLogger(logger))
//
//	bus.Subscribe(event.TypeCodeDropped, func(e event.Event) {
//	    dropped := e.(event.CodeDroppedEvent)
//	    log.Printf("dropped %q: %s", dropped.Text, dropped.Reason)
//	})
//
//	bus.Publish(event.NewCodeDroppedEvent("ABC123", "telegram", event.DropNotWaiting))
package event
