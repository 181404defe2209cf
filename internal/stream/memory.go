// ABOUTME: In-memory fan-out implementation of the Broker interface
// ABOUTME: Used by tests and single-process development runs

package stream

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// MemoryBroker provides in-process pub/sub with the same contract as the
// Redis broker: at-most-once delivery to currently-attached subscribers,
// events dropped for subscribers whose buffers are full.
type MemoryBroker struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Event // topic -> subID -> ch
	logger      *slog.Logger
}

// NewMemoryBroker creates a broker. Pass nil logger for default.
func NewMemoryBroker(logger *slog.Logger) *MemoryBroker {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryBroker{
		subscribers: make(map[string]map[string]chan Event),
		logger:      logger.With("component", "broker"),
	}
}

// Publish sends an event to all subscribers of the task's topic.
// Non-blocking: events are dropped for subscribers whose channels are full.
func (b *MemoryBroker) Publish(_ context.Context, taskID string, event Event) error {
	topic := Topic(taskID)

	b.mu.RLock()
	subs, ok := b.subscribers[topic]
	if !ok || len(subs) == 0 {
		b.mu.RUnlock()
		return nil
	}

	// Copy subscriber channels under read lock to avoid holding lock during sends
	targets := make([]chan Event, 0, len(subs))
	for _, ch := range subs {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"topic", topic, "type", event.Type)
		}
	}
	return nil
}

// Subscribe attaches to the task's topic.
func (b *MemoryBroker) Subscribe(ctx context.Context, taskID string) (*Subscription, error) {
	topic := Topic(taskID)
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[string]chan Event)
	}
	b.subscribers[topic][subID] = ch
	b.mu.Unlock()

	out := make(chan Event, subscriberBufferSize)
	var once sync.Once
	closeFn := func() {
		once.Do(func() {
			b.unsubscribe(topic, subID)
		})
	}

	go func() {
		defer close(out)
		defer closeFn()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-ch:
				if !ok {
					return
				}

				select {
				case out <- event:
				case <-ctx.Done():
					return
				}

				if event.Terminal() {
					return
				}
			}
		}
	}()

	return &Subscription{events: out, close: closeFn}, nil
}

// SubscriberCount reports how many subscribers are attached to a task's
// topic. Tests use it to wait for attachment before publishing.
func (b *MemoryBroker) SubscriberCount(taskID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[Topic(taskID)])
}

// unsubscribe removes a subscription and closes its channel.
func (b *MemoryBroker) unsubscribe(topic, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[topic]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	// Clean up empty topic entries
	if len(subs) == 0 {
		delete(b.subscribers, topic)
	}
}
