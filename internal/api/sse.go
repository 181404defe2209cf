// ABOUTME: SSE endpoint relaying a task's live event stream to the client
// ABOUTME: One JSON event per SSE message, flushed per event, closed on terminal

package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/streamkit/chatstream/internal/stream"
)

// handleStream serves GET /api/stream/{taskID}. The connection stays open
// until a terminal event is relayed or the client goes away. A listener that
// connects after the task finished gets connected and then silence, since
// nothing replays past events; the durable turn record is where finished
// output lives, and the client is expected to disconnect.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	events, err := s.service.Relay(r.Context(), taskID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sseConnections.Inc()
	defer sseConnections.Dec()

	for event := range events {
		if err := writeSSEEvent(w, event); err != nil {
			s.logger.Debug("client disconnected mid-stream", "task_id", taskID)
			return
		}
		flusher.Flush()
	}
}

func writeSSEEvent(w http.ResponseWriter, event stream.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
	return err
}
