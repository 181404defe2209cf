// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/turn persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// timeFormat keeps nanosecond precision so updated_at ordering is strict even
// for back-to-back writes. Fixed-width fraction, unlike RFC3339Nano: the
// stored TEXT values are compared lexicographically, and trimmed zeros would
// break that ordering.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys (required for cascade delete)
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'active',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,

			CHECK (status IN ('active', 'archived'))
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_updated_at
			ON conversations(updated_at DESC);

		CREATE TABLE IF NOT EXISTS turns (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			task_id         TEXT NOT NULL UNIQUE,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL DEFAULT '',
			status          TEXT NOT NULL DEFAULT 'pending',
			error           TEXT,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL,

			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE,
			CHECK (role IN ('user', 'assistant', 'system', 'error')),
			CHECK (status IN ('pending', 'processing', 'streaming', 'completed', 'failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id);
		CREATE INDEX IF NOT EXISTS idx_turns_status ON turns(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reset drops all tables and recreates the schema. Used by the admin CLI only.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS turns; DROP TABLE IF EXISTS conversations;`); err != nil {
		return fmt.Errorf("dropping tables: %w", err)
	}
	return s.createSchema()
}

// Ping verifies the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateConversation creates a new conversation. An empty title gets the
// default placeholder, replaced later by the first user turn.
func (s *SQLiteStore) CreateConversation(ctx context.Context, title string) (*Conversation, error) {
	if title == "" {
		title = DefaultTitle
	}

	now := time.Now().UTC()
	conv := &Conversation{
		ID:        uuid.New().String(),
		Title:     title,
		Status:    ConversationActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := `
		INSERT INTO conversations (id, title, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		conv.ID, conv.Title, conv.Status,
		now.Format(timeFormat), now.Format(timeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID)
	return conv, nil
}

// GetConversation retrieves conversation metadata by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, title, status, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`

	var conv Conversation
	var createdAtStr, updatedAtStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID, &conv.Title, &conv.Status, &createdAtStr, &updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	if conv.CreatedAt, err = time.Parse(timeFormat, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if conv.UpdatedAt, err = time.Parse(timeFormat, updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &conv, nil
}

// ListConversations returns conversations ordered by updated_at descending,
// each with its turn count. Archived conversations are filtered out unless
// includeArchived is set.
func (s *SQLiteStore) ListConversations(ctx context.Context, includeArchived bool) ([]*ConversationSummary, error) {
	query := `
		SELECT c.id, c.title, c.status, c.created_at, c.updated_at, COUNT(t.id)
		FROM conversations c
		LEFT JOIN turns t ON t.conversation_id = c.id
	`
	if !includeArchived {
		query += ` WHERE c.status = 'active'`
	}
	query += `
		GROUP BY c.id
		ORDER BY c.updated_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var result []*ConversationSummary
	for rows.Next() {
		var summary ConversationSummary
		var createdAtStr, updatedAtStr string

		if err := rows.Scan(&summary.ID, &summary.Title, &summary.Status,
			&createdAtStr, &updatedAtStr, &summary.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		if summary.CreatedAt, err = time.Parse(timeFormat, createdAtStr); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if summary.UpdatedAt, err = time.Parse(timeFormat, updatedAtStr); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}

		result = append(result, &summary)
	}

	return result, rows.Err()
}

// DeleteConversation removes a conversation and, via the foreign key cascade,
// all of its turns. Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted conversation", "id", id)
	return nil
}

// ArchiveConversation marks a conversation archived and bumps updated_at.
func (s *SQLiteStore) ArchiveConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = 'archived', updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(timeFormat), id,
	)
	if err != nil {
		return fmt.Errorf("archiving conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking archive result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// AddTurn appends a turn to a conversation. The parent conversation's
// updated_at is bumped in the same transaction, and a first user turn
// replaces a still-default title.
func (s *SQLiteStore) AddTurn(ctx context.Context, conversationID, taskID, role, content string, status TurnStatus) (*Turn, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	turn := &Turn{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		TaskID:         taskID,
		Role:           role,
		Content:        content,
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO turns (id, conversation_id, task_id, role, content, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, turn.ID, conversationID, taskID, role, content, string(status),
		now.Format(timeFormat), now.Format(timeFormat))
	if err != nil {
		if isConstraintViolation(err) {
			return nil, ErrDuplicateTask
		}
		return nil, fmt.Errorf("inserting turn: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		now.Format(timeFormat), conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("bumping conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking conversation bump: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}

	// First user turn names the conversation
	if role == RoleUser {
		_, err = tx.ExecContext(ctx,
			`UPDATE conversations SET title = ? WHERE id = ? AND title = ?`,
			DeriveTitle(content), conversationID, DefaultTitle,
		)
		if err != nil {
			return nil, fmt.Errorf("deriving title: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing turn: %w", err)
	}

	s.logger.Debug("added turn", "conversation_id", conversationID, "task_id", taskID, "role", role)
	return turn, nil
}

// GetConversationTurns returns a conversation's turns in insertion order.
func (s *SQLiteStore) GetConversationTurns(ctx context.Context, conversationID string) ([]*Turn, error) {
	query := `
		SELECT id, conversation_id, task_id, role, content, status, COALESCE(error, ''), created_at, updated_at
		FROM turns
		WHERE conversation_id = ?
		ORDER BY rowid
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []*Turn
	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}

	return turns, rows.Err()
}

// GetTurnByTaskID retrieves the turn correlated to a task.
// Returns ErrNotFound if no such turn exists.
func (s *SQLiteStore) GetTurnByTaskID(ctx context.Context, taskID string) (*Turn, error) {
	query := `
		SELECT id, conversation_id, task_id, role, content, status, COALESCE(error, ''), created_at, updated_at
		FROM turns
		WHERE task_id = ?
	`

	row := s.db.QueryRowContext(ctx, query, taskID)
	turn, err := scanTurn(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return turn, nil
}

// UpdateTurnStatus moves a turn through its lifecycle. Transitions not in the
// table are rejected with ErrInvalidTransition. Content, when provided,
// replaces the turn content wholesale.
func (s *SQLiteStore) UpdateTurnStatus(ctx context.Context, taskID string, status TurnStatus, update StatusUpdate) error {
	if !status.Valid() {
		return fmt.Errorf("unknown status %q: %w", status, ErrInvalidTransition)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	var conversationID string
	err = tx.QueryRowContext(ctx,
		`SELECT status, conversation_id FROM turns WHERE task_id = ?`, taskID,
	).Scan(&current, &conversationID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("querying turn status: %w", err)
	}

	if !CanTransition(TurnStatus(current), status) {
		return fmt.Errorf("%s -> %s: %w", current, status, ErrInvalidTransition)
	}

	now := time.Now().UTC().Format(timeFormat)

	query := `UPDATE turns SET status = ?, updated_at = ?`
	args := []any{string(status), now}
	if update.Content != nil {
		query += `, content = ?`
		args = append(args, *update.Content)
	}
	if update.Error != nil {
		query += `, error = ?`
		args = append(args, *update.Error)
	}
	query += ` WHERE task_id = ?`
	args = append(args, taskID)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("updating turn status: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, now, conversationID,
	); err != nil {
		return fmt.Errorf("bumping conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing status update: %w", err)
	}

	s.logger.Debug("updated turn status", "task_id", taskID, "from", current, "to", status)
	return nil
}

// AppendTurnContent appends streamed text to a turn's content and bumps both
// the turn and its parent conversation.
func (s *SQLiteStore) AppendTurnContent(ctx context.Context, taskID, delta string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(timeFormat)

	res, err := tx.ExecContext(ctx,
		`UPDATE turns SET content = content || ?, updated_at = ? WHERE task_id = ?`,
		delta, now, taskID,
	)
	if err != nil {
		return fmt.Errorf("appending content: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking append result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET updated_at = ?
		WHERE id = (SELECT conversation_id FROM turns WHERE task_id = ?)
	`, now, taskID); err != nil {
		return fmt.Errorf("bumping conversation: %w", err)
	}

	return tx.Commit()
}

// FindActiveTurn returns the most recently created turn of the conversation
// whose status matches one of the given statuses (non-terminal statuses by
// default). Returns ErrNotFound when no such turn exists, the normal case.
func (s *SQLiteStore) FindActiveTurn(ctx context.Context, conversationID string, statuses ...TurnStatus) (*Turn, error) {
	if len(statuses) == 0 {
		statuses = ActiveStatuses
	}

	placeholders := make([]string, len(statuses))
	args := []any{conversationID}
	for i, st := range statuses {
		placeholders[i] = "?"
		args = append(args, string(st))
	}

	query := fmt.Sprintf(`
		SELECT id, conversation_id, task_id, role, content, status, COALESCE(error, ''), created_at, updated_at
		FROM turns
		WHERE conversation_id = ? AND status IN (%s)
		ORDER BY rowid DESC
		LIMIT 1
	`, strings.Join(placeholders, ", "))

	row := s.db.QueryRowContext(ctx, query, args...)
	turn, err := scanTurn(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return turn, nil
}

// FailStaleTurns marks non-terminal turns last updated before cutoff as
// failed. The swept turns get an explanatory error detail.
func (s *SQLiteStore) FailStaleTurns(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE turns
		SET status = 'failed',
		    error = 'abandoned: no worker progress before deadline',
		    updated_at = ?
		WHERE status IN ('pending', 'processing', 'streaming')
		  AND updated_at < ?
	`, time.Now().UTC().Format(timeFormat), cutoff.UTC().Format(timeFormat))
	if err != nil {
		return 0, fmt.Errorf("sweeping stale turns: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking sweep result: %w", err)
	}
	if affected > 0 {
		s.logger.Info("failed stale turns", "count", affected, "cutoff", cutoff)
	}
	return int(affected), nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTurn(row rowScanner) (*Turn, error) {
	var turn Turn
	var status, createdAtStr, updatedAtStr string

	err := row.Scan(
		&turn.ID, &turn.ConversationID, &turn.TaskID, &turn.Role,
		&turn.Content, &status, &turn.Error, &createdAtStr, &updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("scanning turn: %w", err)
	}

	turn.Status = TurnStatus(status)
	if turn.CreatedAt, err = time.Parse(timeFormat, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if turn.UpdatedAt, err = time.Parse(timeFormat, updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &turn, nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint
// violation. Matches the UNIQUE message only: a FOREIGN KEY violation also
// says "constraint failed" but is not a duplicate task.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
