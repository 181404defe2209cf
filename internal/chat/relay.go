// ABOUTME: Relay turns a broker subscription into a listener-facing event sequence
// ABOUTME: Synthesizes the connected handshake and guarantees single-terminal shape

package chat

import (
	"context"

	"github.com/streamkit/chatstream/internal/stream"
)

// Relay attaches to a task's event stream. The returned channel first yields
// a synthetic connected event, then forwards broker events until one terminal
// event has been delivered, after which the channel closes. If the broker
// subscription cannot be established, the channel yields connected, then an
// error event, then closes. Context cancellation closes the channel silently.
//
// The subscription is registered before Relay returns, so events the worker
// publishes after submission are not missed by a prompt listener.
func (s *Service) Relay(ctx context.Context, taskID string) (<-chan stream.Event, error) {
	out := make(chan stream.Event, 16)

	connected := stream.NewEvent(stream.EventConnected)
	connected.TaskID = taskID

	sub, err := s.broker.Subscribe(ctx, taskID)
	if err != nil {
		s.logger.Warn("subscribe failed for relay", "task_id", taskID, "error", err)
		errEvent := stream.NewEvent(stream.EventError)
		errEvent.Error = "stream unavailable"
		go func() {
			defer close(out)
			for _, event := range []stream.Event{connected, errEvent} {
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}()
		return out, nil
	}

	go func() {
		defer close(out)
		defer sub.Close()

		select {
		case out <- connected:
		case <-ctx.Done():
			return
		}

		for event := range sub.Events() {
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
