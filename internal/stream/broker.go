// ABOUTME: Broker interface for per-task publish/subscribe event streams
// ABOUTME: Implemented by RedisBroker (production) and MemoryBroker (tests, single-process)

package stream

import "context"

// Broker is an ephemeral, at-most-once fan-out channel. Publish delivers to
// subscribers currently attached to the task's topic and silently reaches
// nobody otherwise; there is no buffering and no replay for late joiners.
type Broker interface {
	// Publish sends an event to every current subscriber of the task's topic.
	// Best effort: a zero-subscriber publish is not an error.
	Publish(ctx context.Context, taskID string, event Event) error

	// Subscribe attaches to the task's topic. The returned subscription's
	// event channel closes after a terminal event has been delivered or the
	// context is cancelled, whichever comes first.
	Subscribe(ctx context.Context, taskID string) (*Subscription, error)
}

// Subscription is a handle on one subscriber's event sequence. Close is
// idempotent and always releases the underlying channel resource; it is safe
// to call after the event channel has already closed.
type Subscription struct {
	events <-chan Event
	close  func()
}

// Events returns the subscription's ordered event sequence.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close releases the subscription.
func (s *Subscription) Close() {
	s.close()
}
