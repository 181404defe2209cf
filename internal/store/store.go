// ABOUTME: Store interface and data types for chatstream persistence
// ABOUTME: Defines Conversation, Turn structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateTask is returned when a turn with the same task id already exists
var ErrDuplicateTask = errors.New("task id already exists")

// DefaultTitle is assigned to new conversations until the first user turn
// rewrites it.
const DefaultTitle = "New Conversation"

// titleMaxLen caps derived conversation titles (runes, before the ellipsis).
const titleMaxLen = 50

// ConversationStatus constants
const (
	ConversationActive   = "active"
	ConversationArchived = "archived"
)

// Role constants for turns
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleError     = "error"
)

// Conversation is a titled, ordered collection of turns.
type Conversation struct {
	ID        string
	Title     string
	Status    string // "active" or "archived"
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ConversationSummary is a list entry: conversation metadata plus its turn count.
type ConversationSummary struct {
	Conversation
	MessageCount int
}

// Turn is a single message within a conversation. Assistant turns are
// correlated to a dispatched generation task by TaskID; user turns carry a
// synthetic "user-<taskID>" id that never reaches the queue.
type Turn struct {
	ID             string
	ConversationID string
	TaskID         string
	Role           string
	Content        string
	Status         TurnStatus
	Error          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// StatusUpdate carries the optional fields of UpdateTurnStatus. Content, when
// set, replaces the turn content wholesale (terminal finalization carries the
// full text); Error attaches failure detail.
type StatusUpdate struct {
	Content *string
	Error   *string
}

// Store defines the interface for conversation and turn persistence.
// Every operation is individually atomic; no cross-turn transactional
// guarantee is offered or required.
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, title string) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, includeArchived bool) ([]*ConversationSummary, error)
	DeleteConversation(ctx context.Context, id string) error
	ArchiveConversation(ctx context.Context, id string) error

	// Turns
	AddTurn(ctx context.Context, conversationID, taskID, role, content string, status TurnStatus) (*Turn, error)
	GetConversationTurns(ctx context.Context, conversationID string) ([]*Turn, error)
	GetTurnByTaskID(ctx context.Context, taskID string) (*Turn, error)
	UpdateTurnStatus(ctx context.Context, taskID string, status TurnStatus, update StatusUpdate) error
	AppendTurnContent(ctx context.Context, taskID, delta string) error
	FindActiveTurn(ctx context.Context, conversationID string, statuses ...TurnStatus) (*Turn, error)

	// FailStaleTurns marks non-terminal turns that have not been updated since
	// cutoff as failed. Returns the number of turns swept. Operator-invoked
	// reconciliation; never runs on the request path.
	FailStaleTurns(ctx context.Context, cutoff time.Time) (int, error)

	Ping(ctx context.Context) error
	Close() error
}

// DeriveTitle truncates a first user message into a conversation title.
func DeriveTitle(content string) string {
	runes := []rune(content)
	if len(runes) > titleMaxLen {
		return string(runes[:titleMaxLen]) + "..."
	}
	return content
}
