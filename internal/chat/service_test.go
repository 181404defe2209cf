// ABOUTME: Tests for message submission, active-task lookup, and CRUD passthroughs
// ABOUTME: Real SQLite store with a fake enqueuer capturing dispatched payloads

package chat

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamkit/chatstream/internal/queue"
	"github.com/streamkit/chatstream/internal/store"
	"github.com/streamkit/chatstream/internal/stream"
)

type fakeEnqueuer struct {
	payloads []queue.GeneratePayload
	err      error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, payload queue.GeneratePayload) error {
	if f.err != nil {
		return f.err
	}
	f.payloads = append(f.payloads, payload)
	return nil
}

func setupService(t *testing.T) (*Service, *fakeEnqueuer, store.Store) {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	enq := &fakeEnqueuer{}
	svc := NewService(st, stream.NewMemoryBroker(nil), enq, nil)
	return svc, enq, st
}

func TestSubmitWritesTurnsAndEnqueues(t *testing.T) {
	svc, enq, st := setupService(t)
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, "")
	require.NoError(t, err)

	result, err := svc.Submit(ctx, conv.ID, "what is the capital of France?")
	require.NoError(t, err)
	require.NotEmpty(t, result.TaskID)
	assert.Equal(t, "chat:"+result.TaskID, result.Topic)

	require.Len(t, enq.payloads, 1)
	assert.Equal(t, result.TaskID, enq.payloads[0].TaskID)
	assert.Equal(t, conv.ID, enq.payloads[0].ConversationID)
	assert.Equal(t, "what is the capital of France?", enq.payloads[0].UserMessage)

	turns, err := st.GetConversationTurns(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, turns, 2)

	assert.Equal(t, store.RoleUser, turns[0].Role)
	assert.Equal(t, store.StatusCompleted, turns[0].Status)
	assert.Equal(t, "user-"+result.TaskID, turns[0].TaskID)

	assert.Equal(t, store.RoleAssistant, turns[1].Role)
	assert.Equal(t, store.StatusPending, turns[1].Status)
	assert.Equal(t, result.TaskID, turns[1].TaskID)
	assert.Empty(t, turns[1].Content)
}

func TestSubmitDerivesConversationTitle(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, store.DefaultTitle, conv.Title)

	_, err = svc.Submit(ctx, conv.ID, "short title")
	require.NoError(t, err)

	got, err := svc.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "short title", got.Title)

	// A second message must not overwrite the derived title.
	_, err = svc.Submit(ctx, conv.ID, "different message")
	require.NoError(t, err)

	got, err = svc.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "short title", got.Title)
}

func TestSubmitTruncatesLongTitles(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, "")
	require.NoError(t, err)

	long := strings.Repeat("a", 80)
	_, err = svc.Submit(ctx, conv.ID, long)
	require.NoError(t, err)

	got, err := svc.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a", 50)+"...", got.Title)
}

func TestSubmitValidation(t *testing.T) {
	svc, enq, _ := setupService(t)
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, "")
	require.NoError(t, err)

	_, err = svc.Submit(ctx, conv.ID, "")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = svc.Submit(ctx, conv.ID, strings.Repeat("x", 4001))
	assert.ErrorIs(t, err, ErrMessageTooLong)

	_, err = svc.Submit(ctx, "no-such-conversation", "hello")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.Empty(t, enq.payloads)
}

func TestSubmitEnqueueFailureLeavesPendingTurn(t *testing.T) {
	svc, enq, st := setupService(t)
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, "")
	require.NoError(t, err)

	enq.err = errors.New("redis down")
	_, err = svc.Submit(ctx, conv.ID, "hello")
	require.Error(t, err)

	// Turns were written before the enqueue attempt; reconcile sweeps them.
	turns, err := st.GetConversationTurns(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, store.StatusPending, turns[1].Status)
}

func TestActiveTask(t *testing.T) {
	svc, _, st := setupService(t)
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, "")
	require.NoError(t, err)

	turn, err := svc.ActiveTask(ctx, conv.ID)
	require.NoError(t, err)
	assert.Nil(t, turn)

	result, err := svc.Submit(ctx, conv.ID, "hello")
	require.NoError(t, err)

	turn, err = svc.ActiveTask(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, turn)
	assert.Equal(t, result.TaskID, turn.TaskID)

	// A completed task is no longer active.
	require.NoError(t, st.UpdateTurnStatus(ctx, result.TaskID, store.StatusProcessing, store.StatusUpdate{}))
	done := "done"
	require.NoError(t, st.UpdateTurnStatus(ctx, result.TaskID, store.StatusCompleted, store.StatusUpdate{Content: &done}))

	turn, err = svc.ActiveTask(ctx, conv.ID)
	require.NoError(t, err)
	assert.Nil(t, turn)

	_, err = svc.ActiveTask(ctx, "no-such-conversation")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetConversationTurnsChecksExistence(t *testing.T) {
	svc, _, _ := setupService(t)
	_, err := svc.GetConversationTurns(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
