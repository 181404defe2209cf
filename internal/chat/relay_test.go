// ABOUTME: Tests for the relay's handshake, forwarding, and terminal behavior
// ABOUTME: Drives a memory broker directly to simulate the worker side

package chat

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamkit/chatstream/internal/store"
	"github.com/streamkit/chatstream/internal/stream"
)

type failingBroker struct{}

func (failingBroker) Publish(context.Context, string, stream.Event) error { return nil }
func (failingBroker) Subscribe(context.Context, string) (*stream.Subscription, error) {
	return nil, errors.New("broker unreachable")
}

func setupRelay(t *testing.T) (*Service, *stream.MemoryBroker) {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	broker := stream.NewMemoryBroker(nil)
	return NewService(st, broker, &fakeEnqueuer{}, nil), broker
}

func collectRelay(t *testing.T, events <-chan stream.Event) []stream.Event {
	t.Helper()

	var got []stream.Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, event)
		case <-timeout:
			t.Fatal("timed out waiting for relay channel to close")
		}
	}
}

func TestRelayForwardsUntilTerminal(t *testing.T) {
	svc, broker := setupRelay(t)
	ctx := context.Background()

	events, err := svc.Relay(ctx, "task-1")
	require.NoError(t, err)

	published := []stream.Event{
		{Type: stream.EventStart, TaskID: "task-1"},
		{Type: stream.EventToken, Content: "hi", TokenCount: 1},
		{Type: stream.EventComplete, Content: "hi", TokenCount: 1},
	}
	for _, event := range published {
		require.NoError(t, broker.Publish(ctx, "task-1", event))
	}

	got := collectRelay(t, events)
	require.Len(t, got, 4)
	assert.Equal(t, stream.EventConnected, got[0].Type)
	assert.Equal(t, "task-1", got[0].TaskID)
	assert.Equal(t, stream.EventStart, got[1].Type)
	assert.Equal(t, stream.EventToken, got[2].Type)
	assert.Equal(t, stream.EventComplete, got[3].Type)
}

func TestRelayErrorEventCloses(t *testing.T) {
	svc, broker := setupRelay(t)
	ctx := context.Background()

	events, err := svc.Relay(ctx, "task-2")
	require.NoError(t, err)

	require.NoError(t, broker.Publish(ctx, "task-2", stream.Event{Type: stream.EventError, Error: "boom"}))

	got := collectRelay(t, events)
	require.Len(t, got, 2)
	assert.Equal(t, stream.EventConnected, got[0].Type)
	assert.Equal(t, stream.EventError, got[1].Type)
}

func TestRelaySubscribeFailure(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc := NewService(st, failingBroker{}, &fakeEnqueuer{}, nil)

	events, err := svc.Relay(context.Background(), "task-3")
	require.NoError(t, err)

	got := collectRelay(t, events)
	require.Len(t, got, 2)
	assert.Equal(t, stream.EventConnected, got[0].Type)
	assert.Equal(t, stream.EventError, got[1].Type)
	assert.Equal(t, "stream unavailable", got[1].Error)
}

func TestRelayContextCancel(t *testing.T) {
	svc, _ := setupRelay(t)
	ctx, cancel := context.WithCancel(context.Background())

	events, err := svc.Relay(ctx, "task-4")
	require.NoError(t, err)

	// Drain the handshake, then cancel; the channel must close without a
	// terminal event.
	first := <-events
	assert.Equal(t, stream.EventConnected, first.Type)

	cancel()

	got := collectRelay(t, events)
	assert.Empty(t, got)
}
