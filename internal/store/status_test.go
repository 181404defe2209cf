// ABOUTME: Tests for the turn status transition table
// ABOUTME: Exhaustively checks legal and illegal lifecycle moves

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	legal := []struct{ from, to TurnStatus }{
		{StatusPending, StatusProcessing},
		{StatusPending, StatusFailed},
		{StatusProcessing, StatusStreaming},
		{StatusProcessing, StatusCompleted},
		{StatusProcessing, StatusFailed},
		{StatusStreaming, StatusCompleted},
		{StatusStreaming, StatusFailed},
	}
	for _, tc := range legal {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s should be legal", tc.from, tc.to)
	}

	illegal := []struct{ from, to TurnStatus }{
		{StatusPending, StatusStreaming},
		{StatusPending, StatusCompleted},
		{StatusStreaming, StatusPending},
		{StatusCompleted, StatusProcessing},
		{StatusCompleted, StatusFailed},
		{StatusFailed, StatusPending},
		{StatusFailed, StatusCompleted},
	}
	for _, tc := range illegal {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s should be rejected", tc.from, tc.to)
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []TurnStatus{StatusPending, StatusProcessing, StatusStreaming, StatusCompleted, StatusFailed} {
		assert.True(t, s.Valid())
	}
	assert.False(t, TurnStatus("bogus").Valid())
	assert.False(t, TurnStatus("").Valid())
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.False(t, StatusStreaming.Terminal())
}

func TestDeriveTitle(t *testing.T) {
	assert.Equal(t, "short", DeriveTitle("short"))

	long := ""
	for i := 0; i < 60; i++ {
		long += "a"
	}
	derived := DeriveTitle(long)
	assert.Len(t, []rune(derived), 53)
	assert.Equal(t, "...", derived[len(derived)-3:])

	// Rune-aware truncation, not byte-aware.
	unicode := ""
	for i := 0; i < 60; i++ {
		unicode += "é"
	}
	derived = DeriveTitle(unicode)
	assert.Len(t, []rune(derived), 53)
}
