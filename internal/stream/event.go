// ABOUTME: Stream event schema shared by the worker, relay, and SSE front door
// ABOUTME: One topic per task id carries an ordered sequence of typed events

package stream

import "time"

// Event types published on a task's topic. The worker publishes start,
// progress, token, complete, and error; the relay synthesizes connected
// locally without a broker round trip.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventProgress  = "progress"
	EventToken     = "token"
	EventComplete  = "complete"
	EventError     = "error"
)

// Event is one element of a task's stream. The wire format is JSON, both on
// the broker and on the SSE connection to clients.
type Event struct {
	Type       string  `json:"type"`
	TaskID     string  `json:"task_id,omitempty"`
	Content    string  `json:"content,omitempty"`
	TokenCount int     `json:"token_count,omitempty"`
	Progress   int     `json:"progress,omitempty"`
	Error      string  `json:"error,omitempty"`
	Timestamp  float64 `json:"timestamp"`
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// NewEvent stamps an event of the given type with the current time.
func NewEvent(eventType string) Event {
	return Event{
		Type:      eventType,
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
	}
}

// Topic returns the broker topic for a task. One topic per task id,
// namespaced to avoid collisions with other broker traffic.
func Topic(taskID string) string {
	return "chat:" + taskID
}
