// ABOUTME: Turn status state machine with an explicit transition table
// ABOUTME: pending -> processing -> streaming -> {completed, failed}; failed from any non-terminal state

package store

import "errors"

// ErrInvalidTransition is returned when a status update is not permitted by
// the transition table.
var ErrInvalidTransition = errors.New("invalid status transition")

// TurnStatus is the lifecycle state of a turn.
type TurnStatus string

const (
	StatusPending    TurnStatus = "pending"
	StatusProcessing TurnStatus = "processing"
	StatusStreaming  TurnStatus = "streaming"
	StatusCompleted  TurnStatus = "completed"
	StatusFailed     TurnStatus = "failed"
)

// ActiveStatuses are the non-terminal states a dispatched task moves through.
var ActiveStatuses = []TurnStatus{StatusPending, StatusProcessing, StatusStreaming}

var transitions = map[TurnStatus][]TurnStatus{
	StatusPending: {StatusProcessing, StatusFailed},
	// processing -> completed covers empty completions that never stream a token.
	StatusProcessing: {StatusStreaming, StatusCompleted, StatusFailed},
	StatusStreaming:  {StatusCompleted, StatusFailed},
	// Terminal states absorb nothing.
	StatusCompleted: {},
	StatusFailed:    {},
}

// Valid reports whether s is a known status value.
func (s TurnStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether s ends the task lifecycle.
func (s TurnStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether the from -> to transition is in the table.
func CanTransition(from, to TurnStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
