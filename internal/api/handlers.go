// ABOUTME: REST handlers for conversation CRUD, message submission, and task status
// ABOUTME: JSON in, JSON out; store sentinels mapped onto HTTP status codes

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/streamkit/chatstream/internal/chat"
	"github.com/streamkit/chatstream/internal/queue"
	"github.com/streamkit/chatstream/internal/store"
)

type conversationResponse struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount *int      `json:"message_count,omitempty"`
}

type turnResponse struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	TaskID         string    `json:"task_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type conversationDetailResponse struct {
	conversationResponse
	Turns []turnResponse `json:"messages"`
}

type submitResponse struct {
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	StreamURL string `json:"stream_url"`
}

type taskStatusResponse struct {
	TaskID     string        `json:"task_id"`
	QueueState string        `json:"queue_state,omitempty"`
	Turn       *turnResponse `json:"turn,omitempty"`
}

func toConversationResponse(c *store.Conversation) conversationResponse {
	return conversationResponse{
		ID:        c.ID,
		Title:     c.Title,
		Status:    c.Status,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func toTurnResponse(t *store.Turn) turnResponse {
	return turnResponse{
		ID:             t.ID,
		ConversationID: t.ConversationID,
		TaskID:         t.TaskID,
		Role:           t.Role,
		Content:        t.Content,
		Status:         string(t.Status),
		Error:          t.Error,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrMessageTooLong):
		status = http.StatusBadRequest
	case errors.Is(err, queue.ErrDuplicateTask):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		// Internal detail stays in the log.
		s.writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.health(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}

	conv, err := s.service.CreateConversation(r.Context(), req.Title)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toConversationResponse(conv))
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("include_archived") == "true"

	summaries, err := s.service.ListConversations(r.Context(), includeArchived)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]conversationResponse, 0, len(summaries))
	for _, summary := range summaries {
		resp := toConversationResponse(&summary.Conversation)
		count := summary.MessageCount
		resp.MessageCount = &count
		out = append(out, resp)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	conv, err := s.service.GetConversation(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	turns, err := s.service.GetConversationTurns(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := conversationDetailResponse{
		conversationResponse: toConversationResponse(conv),
		Turns:                make([]turnResponse, 0, len(turns)),
	}
	for _, turn := range turns {
		resp.Turns = append(resp.Turns, toTurnResponse(turn))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteConversation(r.Context(), chi.URLParam(r, "conversationID")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleArchiveConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ArchiveConversation(r.Context(), chi.URLParam(r, "conversationID")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubmitMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	result, err := s.service.Submit(r.Context(), chi.URLParam(r, "conversationID"), req.Content)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, submitResponse{
		TaskID:    result.TaskID,
		Status:    "started",
		StreamURL: "/api/stream/" + result.TaskID,
	})
}

func (s *Server) handleActiveTask(w http.ResponseWriter, r *http.Request) {
	turn, err := s.service.ActiveTask(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	if turn == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"task_id": nil})
		return
	}
	s.writeJSON(w, http.StatusOK, toTurnResponse(turn))
}

// handleTaskStatus merges the durable turn record with the queue's view. The
// turn is authoritative; queue state is advisory and disappears once the
// retention window lapses, so its absence is not an error.
func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	turn, err := s.service.GetTurnByTaskID(r.Context(), taskID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := taskStatusResponse{TaskID: taskID}
	turnResp := toTurnResponse(turn)
	resp.Turn = &turnResp

	if s.inspector != nil {
		status, err := s.inspector.TaskStatus(taskID)
		switch {
		case err == nil:
			resp.QueueState = status.State
		case errors.Is(err, queue.ErrTaskNotFound):
			// retention expired or never enqueued
		default:
			s.logger.Warn("queue inspection failed", "task_id", taskID, "error", err)
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}
