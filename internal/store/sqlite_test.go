// ABOUTME: Tests for the SQLite store implementation
// ABOUTME: CRUD, cascade delete, lifecycle enforcement, and the stale sweep

package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestCreateAndGetConversation(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, DefaultTitle, conv.Title)
	assert.Equal(t, ConversationActive, conv.Status)

	got, err := st.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
	assert.Equal(t, conv.Title, got.Title)
	assert.WithinDuration(t, conv.CreatedAt, got.CreatedAt, time.Millisecond)
}

func TestCreateConversationWithTitle(t *testing.T) {
	st := setupTestStore(t)

	conv, err := st.CreateConversation(context.Background(), "my title")
	require.NoError(t, err)
	assert.Equal(t, "my title", conv.Title)
}

func TestGetConversationNotFound(t *testing.T) {
	st := setupTestStore(t)

	_, err := st.GetConversation(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListConversationsOrderAndCounts(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	first, err := st.CreateConversation(ctx, "first")
	require.NoError(t, err)
	second, err := st.CreateConversation(ctx, "second")
	require.NoError(t, err)

	// Adding a turn to the first conversation bumps it to the top.
	_, err = st.AddTurn(ctx, first.ID, "task-1", RoleUser, "hi", StatusCompleted)
	require.NoError(t, err)

	list, err := st.ListConversations(ctx, false)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, 1, list[0].MessageCount)
	assert.Equal(t, second.ID, list[1].ID)
	assert.Equal(t, 0, list[1].MessageCount)
}

func TestListConversationsArchiveFilter(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	active, err := st.CreateConversation(ctx, "active")
	require.NoError(t, err)
	archived, err := st.CreateConversation(ctx, "archived")
	require.NoError(t, err)
	require.NoError(t, st.ArchiveConversation(ctx, archived.ID))

	list, err := st.ListConversations(ctx, false)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, active.ID, list[0].ID)

	list, err = st.ListConversations(ctx, true)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestDeleteConversationCascades(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "")
	require.NoError(t, err)
	_, err = st.AddTurn(ctx, conv.ID, "task-1", RoleUser, "hi", StatusCompleted)
	require.NoError(t, err)

	require.NoError(t, st.DeleteConversation(ctx, conv.ID))

	_, err = st.GetConversation(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = st.GetTurnByTaskID(ctx, "task-1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, st.DeleteConversation(ctx, conv.ID), ErrNotFound)
}

func TestAddTurnDerivesTitleOnce(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "")
	require.NoError(t, err)

	_, err = st.AddTurn(ctx, conv.ID, "task-1", RoleUser, "first message", StatusCompleted)
	require.NoError(t, err)

	got, err := st.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "first message", got.Title)

	_, err = st.AddTurn(ctx, conv.ID, "task-2", RoleUser, "second message", StatusCompleted)
	require.NoError(t, err)

	got, err = st.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "first message", got.Title)
}

func TestAddTurnTruncatesLongTitle(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "")
	require.NoError(t, err)

	long := strings.Repeat("x", 120)
	_, err = st.AddTurn(ctx, conv.ID, "task-1", RoleUser, long, StatusCompleted)
	require.NoError(t, err)

	got, err := st.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 50)+"...", got.Title)
}

func TestAddTurnDuplicateTaskID(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "")
	require.NoError(t, err)

	_, err = st.AddTurn(ctx, conv.ID, "task-1", RoleAssistant, "", StatusPending)
	require.NoError(t, err)

	_, err = st.AddTurn(ctx, conv.ID, "task-1", RoleAssistant, "", StatusPending)
	assert.ErrorIs(t, err, ErrDuplicateTask)
}

func TestAddTurnUnknownConversation(t *testing.T) {
	st := setupTestStore(t)

	// A foreign key violation, not a duplicate: must not be misreported as
	// ErrDuplicateTask.
	_, err := st.AddTurn(context.Background(), "nope", "task-1", RoleUser, "hi", StatusCompleted)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateTask)
}

func TestAddTurnBumpsConversationUpdatedAt(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "")
	require.NoError(t, err)

	_, err = st.AddTurn(ctx, conv.ID, "task-1", RoleUser, "hi", StatusCompleted)
	require.NoError(t, err)

	got, err := st.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.After(conv.UpdatedAt) || got.UpdatedAt.Equal(conv.UpdatedAt))
	assert.False(t, got.UpdatedAt.Before(conv.UpdatedAt))
}

func TestGetConversationTurnsInsertionOrder(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "")
	require.NoError(t, err)

	for i, taskID := range []string{"task-1", "task-2", "task-3"} {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		_, err = st.AddTurn(ctx, conv.ID, taskID, role, "", StatusCompleted)
		require.NoError(t, err)
	}

	turns, err := st.GetConversationTurns(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "task-1", turns[0].TaskID)
	assert.Equal(t, "task-2", turns[1].TaskID)
	assert.Equal(t, "task-3", turns[2].TaskID)
}

func TestUpdateTurnStatusLifecycle(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "")
	require.NoError(t, err)
	_, err = st.AddTurn(ctx, conv.ID, "task-1", RoleAssistant, "", StatusPending)
	require.NoError(t, err)

	require.NoError(t, st.UpdateTurnStatus(ctx, "task-1", StatusProcessing, StatusUpdate{}))
	require.NoError(t, st.UpdateTurnStatus(ctx, "task-1", StatusStreaming, StatusUpdate{}))

	final := "the answer"
	require.NoError(t, st.UpdateTurnStatus(ctx, "task-1", StatusCompleted, StatusUpdate{Content: &final}))

	turn, err := st.GetTurnByTaskID(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, turn.Status)
	assert.Equal(t, "the answer", turn.Content)
}

func TestUpdateTurnStatusRejectsInvalidTransition(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "")
	require.NoError(t, err)
	_, err = st.AddTurn(ctx, conv.ID, "task-1", RoleAssistant, "", StatusPending)
	require.NoError(t, err)

	// pending -> streaming skips processing
	err = st.UpdateTurnStatus(ctx, "task-1", StatusStreaming, StatusUpdate{})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Terminal states absorb nothing.
	require.NoError(t, st.UpdateTurnStatus(ctx, "task-1", StatusFailed, StatusUpdate{}))
	err = st.UpdateTurnStatus(ctx, "task-1", StatusProcessing, StatusUpdate{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUpdateTurnStatusRecordsError(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "")
	require.NoError(t, err)
	_, err = st.AddTurn(ctx, conv.ID, "task-1", RoleAssistant, "partial", StatusPending)
	require.NoError(t, err)

	detail := "backend exploded"
	require.NoError(t, st.UpdateTurnStatus(ctx, "task-1", StatusFailed, StatusUpdate{Error: &detail}))

	turn, err := st.GetTurnByTaskID(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, turn.Status)
	assert.Equal(t, "backend exploded", turn.Error)
	// Partial content survives a failure.
	assert.Equal(t, "partial", turn.Content)
}

func TestUpdateTurnStatusNotFound(t *testing.T) {
	st := setupTestStore(t)
	err := st.UpdateTurnStatus(context.Background(), "nope", StatusProcessing, StatusUpdate{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendTurnContent(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "")
	require.NoError(t, err)
	_, err = st.AddTurn(ctx, conv.ID, "task-1", RoleAssistant, "", StatusPending)
	require.NoError(t, err)

	for _, delta := range []string{"Hel", "lo", " world"} {
		require.NoError(t, st.AppendTurnContent(ctx, "task-1", delta))
	}

	turn, err := st.GetTurnByTaskID(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "Hello world", turn.Content)

	assert.ErrorIs(t, st.AppendTurnContent(ctx, "nope", "x"), ErrNotFound)
}

func TestAppendTurnContentAdvancesUpdatedAt(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "")
	require.NoError(t, err)
	_, err = st.AddTurn(ctx, conv.ID, "task-1", RoleAssistant, "", StatusPending)
	require.NoError(t, err)

	before, err := st.GetTurnByTaskID(ctx, "task-1")
	require.NoError(t, err)

	require.NoError(t, st.AppendTurnContent(ctx, "task-1", "x"))

	after, err := st.GetTurnByTaskID(ctx, "task-1")
	require.NoError(t, err)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt))
}

func TestFindActiveTurn(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "")
	require.NoError(t, err)

	_, err = st.FindActiveTurn(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = st.AddTurn(ctx, conv.ID, "task-done", RoleAssistant, "", StatusCompleted)
	require.NoError(t, err)
	_, err = st.AddTurn(ctx, conv.ID, "task-live", RoleAssistant, "", StatusStreaming)
	require.NoError(t, err)

	turn, err := st.FindActiveTurn(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "task-live", turn.TaskID)

	// Explicit status filter
	_, err = st.FindActiveTurn(ctx, conv.ID, StatusPending)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFailStaleTurns(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "")
	require.NoError(t, err)

	_, err = st.AddTurn(ctx, conv.ID, "task-stuck", RoleAssistant, "", StatusPending)
	require.NoError(t, err)
	_, err = st.AddTurn(ctx, conv.ID, "task-done", RoleAssistant, "", StatusCompleted)
	require.NoError(t, err)

	// Nothing is older than a cutoff in the past.
	swept, err := st.FailStaleTurns(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, swept)

	// A future cutoff catches the stuck turn but not the terminal one.
	swept, err = st.FailStaleTurns(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	turn, err := st.GetTurnByTaskID(ctx, "task-stuck")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, turn.Status)
	assert.Contains(t, turn.Error, "abandoned")

	turn, err = st.GetTurnByTaskID(ctx, "task-done")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, turn.Status)
}

func TestResetClearsData(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "")
	require.NoError(t, err)

	require.NoError(t, st.Reset(ctx))

	_, err = st.GetConversation(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Schema is usable again after reset.
	_, err = st.CreateConversation(ctx, "")
	assert.NoError(t, err)
}

func TestPing(t *testing.T) {
	st := setupTestStore(t)
	assert.NoError(t, st.Ping(context.Background()))
}
