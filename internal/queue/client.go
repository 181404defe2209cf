// ABOUTME: Enqueue-side client wrapping asynq with the dispatch policy
// ABOUTME: No retries, caller-chosen task ids, results retained for inspection

package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// ErrDuplicateTask is returned when a task with the same id is already
// queued or running.
var ErrDuplicateTask = errors.New("queue: task id already in use")

// Client enqueues generation tasks. Generation is not retried on failure:
// the worker reports failure through the turn record and the event stream,
// and the user decides whether to resubmit.
type Client struct {
	inner     *asynq.Client
	timeout   time.Duration
	retention time.Duration
	logger    *slog.Logger
}

// NewClient builds an enqueue client on the given Redis connection settings.
func NewClient(redisOpt asynq.RedisClientOpt, timeout, retention time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		inner:     asynq.NewClient(redisOpt),
		timeout:   timeout,
		retention: retention,
		logger:    logger.With("component", "queue"),
	}
}

// Enqueue submits a generation task under the payload's task id.
func (c *Client) Enqueue(ctx context.Context, payload GeneratePayload) error {
	task, err := NewGenerateTask(payload)
	if err != nil {
		return err
	}

	info, err := c.inner.EnqueueContext(ctx, task,
		asynq.Queue(DefaultQueue),
		asynq.TaskID(payload.TaskID),
		asynq.MaxRetry(0),
		asynq.Timeout(c.timeout),
		asynq.Retention(c.retention),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return ErrDuplicateTask
		}
		return fmt.Errorf("enqueueing generation task: %w", err)
	}

	c.logger.Debug("enqueued generation task",
		"task_id", info.ID, "conversation_id", payload.ConversationID, "queue", info.Queue)
	return nil
}

// Close releases the underlying Redis connections.
func (c *Client) Close() error {
	return c.inner.Close()
}
