// ABOUTME: Orchestration service tying the store, broker, and task queue together
// ABOUTME: Owns message submission, the two-turn write, and conversation CRUD

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/streamkit/chatstream/internal/queue"
	"github.com/streamkit/chatstream/internal/store"
	"github.com/streamkit/chatstream/internal/stream"
)

// maxMessageLen caps submitted messages, in runes.
const maxMessageLen = 4000

var (
	// ErrEmptyMessage is returned when a submission carries no content.
	ErrEmptyMessage = errors.New("message must not be empty")

	// ErrMessageTooLong is returned when a submission exceeds the length cap.
	ErrMessageTooLong = fmt.Errorf("message exceeds %d characters", maxMessageLen)
)

// Enqueuer dispatches generation work. Satisfied by *queue.Client.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload queue.GeneratePayload) error
}

// SubmitResult tells the caller how to follow a dispatched generation.
type SubmitResult struct {
	TaskID string
	Topic  string
}

// Service orchestrates conversations: it persists turns, dispatches
// generation tasks, and relays live event streams to listeners.
type Service struct {
	store  store.Store
	broker stream.Broker
	queue  Enqueuer
	logger *slog.Logger
}

// NewService wires a chat service. Pass nil logger for default.
func NewService(st store.Store, broker stream.Broker, enqueuer Enqueuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		broker: broker,
		queue:  enqueuer,
		logger: logger.With("component", "chat"),
	}
}

// Submit records a user message and dispatches its generation task. The user
// turn is written completed; the assistant turn is written pending under a
// fresh task id, which is returned so the caller can attach to the stream
// before the worker produces anything.
//
// The turn writes and the enqueue are not atomic: an enqueue failure leaves
// both turns behind with the assistant turn stuck pending. The reconcile
// sweep cleans those up.
func (s *Service) Submit(ctx context.Context, conversationID, message string) (*SubmitResult, error) {
	if message == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(message) > maxMessageLen {
		return nil, ErrMessageTooLong
	}

	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	taskID := uuid.New().String()

	// The user turn's synthetic task id keeps the task_id column unique
	// without ever reaching the queue.
	if _, err := s.store.AddTurn(ctx, conversationID, "user-"+taskID,
		store.RoleUser, message, store.StatusCompleted); err != nil {
		return nil, fmt.Errorf("recording user turn: %w", err)
	}

	if _, err := s.store.AddTurn(ctx, conversationID, taskID,
		store.RoleAssistant, "", store.StatusPending); err != nil {
		return nil, fmt.Errorf("recording assistant turn: %w", err)
	}

	if err := s.queue.Enqueue(ctx, queue.GeneratePayload{
		TaskID:         taskID,
		ConversationID: conversationID,
		UserMessage:    message,
	}); err != nil {
		s.logger.Error("enqueue failed after turns were written",
			"task_id", taskID, "conversation_id", conversationID, "error", err)
		return nil, err
	}

	s.logger.Info("message submitted",
		"task_id", taskID, "conversation_id", conversationID)
	return &SubmitResult{TaskID: taskID, Topic: stream.Topic(taskID)}, nil
}

// ActiveTask returns the conversation's in-flight assistant turn, or nil
// when nothing is running.
func (s *Service) ActiveTask(ctx context.Context, conversationID string) (*store.Turn, error) {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	turn, err := s.store.FindActiveTurn(ctx, conversationID, store.ActiveStatuses...)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return turn, nil
}

// CreateConversation starts a new conversation with the default title.
func (s *Service) CreateConversation(ctx context.Context, title string) (*store.Conversation, error) {
	return s.store.CreateConversation(ctx, title)
}

// GetConversation returns conversation metadata.
func (s *Service) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	return s.store.GetConversation(ctx, id)
}

// GetConversationTurns returns a conversation's turns in insertion order.
func (s *Service) GetConversationTurns(ctx context.Context, id string) ([]*store.Turn, error) {
	if _, err := s.store.GetConversation(ctx, id); err != nil {
		return nil, err
	}
	return s.store.GetConversationTurns(ctx, id)
}

// ListConversations lists conversations, most recently active first.
func (s *Service) ListConversations(ctx context.Context, includeArchived bool) ([]*store.ConversationSummary, error) {
	return s.store.ListConversations(ctx, includeArchived)
}

// DeleteConversation removes a conversation and its turns.
func (s *Service) DeleteConversation(ctx context.Context, id string) error {
	return s.store.DeleteConversation(ctx, id)
}

// ArchiveConversation hides a conversation from the default listing.
func (s *Service) ArchiveConversation(ctx context.Context, id string) error {
	return s.store.ArchiveConversation(ctx, id)
}

// GetTurnByTaskID returns the turn correlated with a task id.
func (s *Service) GetTurnByTaskID(ctx context.Context, taskID string) (*store.Turn, error) {
	return s.store.GetTurnByTaskID(ctx, taskID)
}
