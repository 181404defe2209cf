// ABOUTME: PostgreSQL implementation of the Store interface using pgx
// ABOUTME: Same contract as the SQLite store, for multi-process deployments

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the Store interface using a pgx connection pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects to Postgres and ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &PostgresStore{
		pool:   pool,
		logger: slog.Default().With("component", "store"),
	}

	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Info("Postgres store initialized")
	return s, nil
}

func (s *PostgresStore) createSchema(ctx context.Context) error {
	// One statement per Exec: pgx's extended protocol rejects multi-statement
	// strings.
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'active',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,

			CHECK (status IN ('active', 'archived'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_updated_at
			ON conversations(updated_at DESC)`,
		`CREATE TABLE IF NOT EXISTS turns (
			seq             BIGSERIAL,
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			task_id         TEXT NOT NULL UNIQUE,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL DEFAULT '',
			status          TEXT NOT NULL DEFAULT 'pending',
			error           TEXT,
			created_at      TIMESTAMPTZ NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL,

			CHECK (role IN ('user', 'assistant', 'system', 'error')),
			CHECK (status IN ('pending', 'processing', 'streaming', 'completed', 'failed'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_status ON turns(status)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Reset drops all tables and recreates the schema. Used by the admin CLI only.
func (s *PostgresStore) Reset(ctx context.Context) error {
	for _, stmt := range []string{`DROP TABLE IF EXISTS turns`, `DROP TABLE IF EXISTS conversations`} {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("dropping tables: %w", err)
		}
	}
	return s.createSchema(ctx)
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// CreateConversation creates a new conversation record.
func (s *PostgresStore) CreateConversation(ctx context.Context, title string) (*Conversation, error) {
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

	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (id, title, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, conv.ID, conv.Title, conv.Status, now, now)
	if err != nil {
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}

	return conv, nil
}

// GetConversation retrieves conversation metadata by ID.
func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	err := s.pool.QueryRow(ctx, `
		SELECT id, title, status, created_at, updated_at
		FROM conversations
		WHERE id = $1
	`, id).Scan(&conv.ID, &conv.Title, &conv.Status, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return &conv, nil
}

// ListConversations returns conversations by recency with turn counts.
func (s *PostgresStore) ListConversations(ctx context.Context, includeArchived bool) ([]*ConversationSummary, error) {
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

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var result []*ConversationSummary
	for rows.Next() {
		var summary ConversationSummary
		if err := rows.Scan(&summary.ID, &summary.Title, &summary.Status,
			&summary.CreatedAt, &summary.UpdatedAt, &summary.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		result = append(result, &summary)
	}

	return result, rows.Err()
}

// DeleteConversation removes a conversation; turns cascade.
func (s *PostgresStore) DeleteConversation(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ArchiveConversation marks a conversation archived.
func (s *PostgresStore) ArchiveConversation(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations SET status = 'archived', updated_at = $1 WHERE id = $2
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("archiving conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddTurn appends a turn, bumping the parent conversation in the same
// transaction.
func (s *PostgresStore) AddTurn(ctx context.Context, conversationID, taskID, role, content string, status TurnStatus) (*Turn, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

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

	_, err = tx.Exec(ctx, `
		INSERT INTO turns (id, conversation_id, task_id, role, content, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, turn.ID, conversationID, taskID, role, content, string(status), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateTask
		}
		return nil, fmt.Errorf("inserting turn: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE conversations SET updated_at = $1 WHERE id = $2`, now, conversationID)
	if err != nil {
		return nil, fmt.Errorf("bumping conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}

	if role == RoleUser {
		if _, err := tx.Exec(ctx,
			`UPDATE conversations SET title = $1 WHERE id = $2 AND title = $3`,
			DeriveTitle(content), conversationID, DefaultTitle); err != nil {
			return nil, fmt.Errorf("deriving title: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing turn: %w", err)
	}
	return turn, nil
}

// GetConversationTurns returns a conversation's turns in insertion order.
func (s *PostgresStore) GetConversationTurns(ctx context.Context, conversationID string) ([]*Turn, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, task_id, role, content, status, COALESCE(error, ''), created_at, updated_at
		FROM turns
		WHERE conversation_id = $1
		ORDER BY seq
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []*Turn
	for rows.Next() {
		turn, err := scanPgTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}

	return turns, rows.Err()
}

// GetTurnByTaskID retrieves the turn correlated to a task.
func (s *PostgresStore) GetTurnByTaskID(ctx context.Context, taskID string) (*Turn, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, conversation_id, task_id, role, content, status, COALESCE(error, ''), created_at, updated_at
		FROM turns
		WHERE task_id = $1
	`, taskID)

	turn, err := scanPgTurn(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return turn, nil
}

// UpdateTurnStatus moves a turn through its lifecycle, enforcing the
// transition table.
func (s *PostgresStore) UpdateTurnStatus(ctx context.Context, taskID string, status TurnStatus, update StatusUpdate) error {
	if !status.Valid() {
		return fmt.Errorf("unknown status %q: %w", status, ErrInvalidTransition)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var current, conversationID string
	err = tx.QueryRow(ctx,
		`SELECT status, conversation_id FROM turns WHERE task_id = $1 FOR UPDATE`, taskID,
	).Scan(&current, &conversationID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("querying turn status: %w", err)
	}

	if !CanTransition(TurnStatus(current), status) {
		return fmt.Errorf("%s -> %s: %w", current, status, ErrInvalidTransition)
	}

	now := time.Now().UTC()

	query := `UPDATE turns SET status = $1, updated_at = $2`
	args := []any{string(status), now}
	n := 3
	if update.Content != nil {
		query += fmt.Sprintf(`, content = $%d`, n)
		args = append(args, *update.Content)
		n++
	}
	if update.Error != nil {
		query += fmt.Sprintf(`, error = $%d`, n)
		args = append(args, *update.Error)
		n++
	}
	query += fmt.Sprintf(` WHERE task_id = $%d`, n)
	args = append(args, taskID)

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("updating turn status: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE conversations SET updated_at = $1 WHERE id = $2`, now, conversationID); err != nil {
		return fmt.Errorf("bumping conversation: %w", err)
	}

	return tx.Commit(ctx)
}

// AppendTurnContent appends streamed text to a turn's content.
func (s *PostgresStore) AppendTurnContent(ctx context.Context, taskID, delta string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	tag, err := tx.Exec(ctx,
		`UPDATE turns SET content = content || $1, updated_at = $2 WHERE task_id = $3`,
		delta, now, taskID)
	if err != nil {
		return fmt.Errorf("appending content: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx, `
		UPDATE conversations SET updated_at = $1
		WHERE id = (SELECT conversation_id FROM turns WHERE task_id = $2)
	`, now, taskID); err != nil {
		return fmt.Errorf("bumping conversation: %w", err)
	}

	return tx.Commit(ctx)
}

// FindActiveTurn returns the most recent matching non-terminal turn.
func (s *PostgresStore) FindActiveTurn(ctx context.Context, conversationID string, statuses ...TurnStatus) (*Turn, error) {
	if len(statuses) == 0 {
		statuses = ActiveStatuses
	}

	values := make([]string, len(statuses))
	for i, st := range statuses {
		values[i] = string(st)
	}

	row := s.pool.QueryRow(ctx, `
		SELECT id, conversation_id, task_id, role, content, status, COALESCE(error, ''), created_at, updated_at
		FROM turns
		WHERE conversation_id = $1 AND status = ANY($2)
		ORDER BY seq DESC
		LIMIT 1
	`, conversationID, values)

	turn, err := scanPgTurn(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return turn, nil
}

// FailStaleTurns marks non-terminal turns last updated before cutoff as failed.
func (s *PostgresStore) FailStaleTurns(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE turns
		SET status = 'failed',
		    error = 'abandoned: no worker progress before deadline',
		    updated_at = $1
		WHERE status IN ('pending', 'processing', 'streaming')
		  AND updated_at < $2
	`, time.Now().UTC(), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("sweeping stale turns: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanPgTurn(row pgx.Row) (*Turn, error) {
	var turn Turn
	var status string

	err := row.Scan(
		&turn.ID, &turn.ConversationID, &turn.TaskID, &turn.Role,
		&turn.Content, &status, &turn.Error, &turn.CreatedAt, &turn.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("scanning turn: %w", err)
	}

	turn.Status = TurnStatus(status)
	return &turn, nil
}

// isUniqueViolation checks for a Postgres unique_violation (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "duplicate key")
}
