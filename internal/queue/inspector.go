// ABOUTME: Read-only queue inspection for the task status endpoint and admin CLI
// ABOUTME: Wraps asynq.Inspector with not-found normalized to a sentinel

package queue

import (
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
)

// ErrTaskNotFound is returned when the queue has no record of a task id.
var ErrTaskNotFound = errors.New("queue: task not found")

// TaskStatus is a point-in-time view of a queued task.
type TaskStatus struct {
	ID        string `json:"task_id"`
	State     string `json:"state"`
	Queue     string `json:"queue"`
	LastError string `json:"last_error,omitempty"`
}

// QueueStats summarizes one queue for the admin CLI.
type QueueStats struct {
	Name      string
	Size      int
	Pending   int
	Active    int
	Completed int
	Failed    int
}

// Inspector reads queue state without mutating it.
type Inspector struct {
	inner *asynq.Inspector
}

// NewInspector builds an inspector on the given Redis connection settings.
func NewInspector(redisOpt asynq.RedisClientOpt) *Inspector {
	return &Inspector{inner: asynq.NewInspector(redisOpt)}
}

// TaskStatus reports the queue's view of a task. Retention keeps completed
// tasks visible for a while after they finish; beyond that window the queue
// forgets them and ErrTaskNotFound is returned even for tasks that ran.
func (i *Inspector) TaskStatus(taskID string) (*TaskStatus, error) {
	info, err := i.inner.GetTaskInfo(DefaultQueue, taskID)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("inspecting task %s: %w", taskID, err)
	}

	return &TaskStatus{
		ID:        info.ID,
		State:     info.State.String(),
		Queue:     info.Queue,
		LastError: info.LastErr,
	}, nil
}

// Queues reports per-queue counters.
func (i *Inspector) Queues() ([]QueueStats, error) {
	names, err := i.inner.Queues()
	if err != nil {
		return nil, fmt.Errorf("listing queues: %w", err)
	}

	stats := make([]QueueStats, 0, len(names))
	for _, name := range names {
		qi, err := i.inner.GetQueueInfo(name)
		if err != nil {
			return nil, fmt.Errorf("inspecting queue %s: %w", name, err)
		}
		stats = append(stats, QueueStats{
			Name:      qi.Queue,
			Size:      qi.Size,
			Pending:   qi.Pending,
			Active:    qi.Active,
			Completed: qi.Completed,
			Failed:    qi.Failed,
		})
	}
	return stats, nil
}

// Close releases the underlying Redis connections.
func (i *Inspector) Close() error {
	return i.inner.Close()
}
