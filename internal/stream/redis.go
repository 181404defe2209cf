// ABOUTME: Redis pub/sub implementation of the Broker interface
// ABOUTME: JSON-encoded events, one Redis channel per task topic

package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBroker carries task event streams over Redis pub/sub. Delivery is
// native Redis semantics: at-most-once, to subscribers attached at publish
// time, across any number of processes.
type RedisBroker struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisBroker wraps an existing Redis client. Pass nil logger for default.
func NewRedisBroker(client *redis.Client, logger *slog.Logger) *RedisBroker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBroker{
		client: client,
		logger: logger.With("component", "broker"),
	}
}

// Publish sends an event to the task's topic. Zero subscribers is fine.
func (b *RedisBroker) Publish(ctx context.Context, taskID string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	if err := b.client.Publish(ctx, Topic(taskID), payload).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", Topic(taskID), err)
	}
	return nil
}

// Subscribe attaches to the task's topic. The subscription is confirmed with
// the server before Subscribe returns, so events published afterwards are not
// missed.
func (b *RedisBroker) Subscribe(ctx context.Context, taskID string) (*Subscription, error) {
	pubsub := b.client.Subscribe(ctx, Topic(taskID))

	// Wait for the subscription ack; otherwise an immediate publish can race
	// past an unregistered subscriber.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", Topic(taskID), err)
	}

	out := make(chan Event, 16)
	var once sync.Once
	closeFn := func() {
		once.Do(func() {
			pubsub.Close()
		})
	}

	go func() {
		defer close(out)
		defer closeFn()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}

				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					b.logger.Warn("dropping undecodable event",
						"topic", msg.Channel, "error", err)
					continue
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
