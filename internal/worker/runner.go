// ABOUTME: Generation task handler: streams tokens, publishes events, mirrors to the store
// ABOUTME: Drives the assistant turn through processing -> streaming -> completed/failed

package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/streamkit/chatstream/internal/generate"
	"github.com/streamkit/chatstream/internal/queue"
	"github.com/streamkit/chatstream/internal/store"
	"github.com/streamkit/chatstream/internal/stream"
)

// progressInterval is how many tokens pass between progress events.
const progressInterval = 10

// Runner executes generation tasks. For each token it publishes a broadcast
// event first, then appends to the durable turn; a listener may see a token
// moments before a poller of the store does, but the store always catches up.
type Runner struct {
	store  store.Store
	broker stream.Broker
	gen    generate.Generator
	logger *slog.Logger
}

// NewRunner wires a task runner. Pass nil logger for default.
func NewRunner(st store.Store, broker stream.Broker, gen generate.Generator, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:  st,
		broker: broker,
		gen:    gen,
		logger: logger.With("component", "worker"),
	}
}

// ProcessTask handles one generation task. Satisfies asynq's handler shape.
func (r *Runner) ProcessTask(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseGeneratePayload(task)
	if err != nil {
		tasksProcessed.WithLabelValues("invalid").Inc()
		return err
	}

	started := time.Now()
	logger := r.logger.With("task_id", payload.TaskID, "conversation_id", payload.ConversationID)
	logger.Info("starting generation task")

	if err := r.run(ctx, logger, payload); err != nil {
		tasksProcessed.WithLabelValues("failed").Inc()
		taskDuration.Observe(time.Since(started).Seconds())
		logger.Error("generation task failed", "error", err)
		return err
	}

	tasksProcessed.WithLabelValues("completed").Inc()
	taskDuration.Observe(time.Since(started).Seconds())
	logger.Info("generation task completed", "duration", time.Since(started))
	return nil
}

func (r *Runner) run(ctx context.Context, logger *slog.Logger, payload queue.GeneratePayload) error {
	taskID := payload.TaskID

	if err := r.store.UpdateTurnStatus(ctx, taskID, store.StatusProcessing, store.StatusUpdate{}); err != nil {
		return r.fail(ctx, logger, taskID, fmt.Errorf("marking turn processing: %w", err))
	}

	startEvent := stream.NewEvent(stream.EventStart)
	startEvent.TaskID = taskID
	if err := r.broker.Publish(ctx, taskID, startEvent); err != nil {
		return r.fail(ctx, logger, taskID, fmt.Errorf("publishing start: %w", err))
	}

	progressEvent := stream.NewEvent(stream.EventProgress)
	progressEvent.Progress = progressInterval
	if err := r.broker.Publish(ctx, taskID, progressEvent); err != nil {
		return r.fail(ctx, logger, taskID, fmt.Errorf("publishing progress: %w", err))
	}

	tokens, err := r.gen.Generate(ctx, payload.UserMessage)
	if err != nil {
		return r.fail(ctx, logger, taskID, fmt.Errorf("opening generation stream: %w", err))
	}
	defer tokens.Close()

	var content strings.Builder
	count := 0

	for {
		token, err := tokens.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return r.fail(ctx, logger, taskID, fmt.Errorf("receiving token: %w", err))
		}

		if count == 0 {
			if err := r.store.UpdateTurnStatus(ctx, taskID, store.StatusStreaming, store.StatusUpdate{}); err != nil {
				return r.fail(ctx, logger, taskID, fmt.Errorf("marking turn streaming: %w", err))
			}
		}

		content.WriteString(token)
		count++
		tokensStreamed.Inc()

		tokenEvent := stream.NewEvent(stream.EventToken)
		tokenEvent.Content = token
		tokenEvent.TokenCount = count
		if err := r.broker.Publish(ctx, taskID, tokenEvent); err != nil {
			return r.fail(ctx, logger, taskID, fmt.Errorf("publishing token %d: %w", count, err))
		}

		if err := r.store.AppendTurnContent(ctx, taskID, token); err != nil {
			return r.fail(ctx, logger, taskID, fmt.Errorf("persisting token %d: %w", count, err))
		}

		if count%progressInterval == 0 {
			progress := stream.NewEvent(stream.EventProgress)
			progress.Progress = progressPercent(count)
			if err := r.broker.Publish(ctx, taskID, progress); err != nil {
				return r.fail(ctx, logger, taskID, fmt.Errorf("publishing progress: %w", err))
			}
		}
	}

	full := content.String()
	if err := r.store.UpdateTurnStatus(ctx, taskID, store.StatusCompleted, store.StatusUpdate{Content: &full}); err != nil {
		return r.fail(ctx, logger, taskID, fmt.Errorf("marking turn completed: %w", err))
	}

	complete := stream.NewEvent(stream.EventComplete)
	complete.Content = full
	complete.TokenCount = count
	// The turn is already durably completed; a lost complete event cannot be
	// turned into a failed turn, so this one publish stays best effort.
	if err := r.broker.Publish(ctx, taskID, complete); err != nil {
		logger.Warn("failed to publish complete event", "error", err)
	}

	return nil
}

// fail publishes an error event and records the failure on the turn, then
// returns the original error so the queue records the task as failed. The
// error-event publish is best effort: it must not keep the failure from
// reaching the store, and the store write runs even when the broker is down.
func (r *Runner) fail(ctx context.Context, logger *slog.Logger, taskID string, cause error) error {
	errEvent := stream.NewEvent(stream.EventError)
	errEvent.Error = cause.Error()
	if err := r.broker.Publish(ctx, taskID, errEvent); err != nil {
		logger.Warn("failed to publish error event", "error", err)
	}

	msg := cause.Error()
	if err := r.store.UpdateTurnStatus(ctx, taskID, store.StatusFailed, store.StatusUpdate{Error: &msg}); err != nil {
		logger.Error("failed to record turn failure", "error", err)
	}
	return cause
}

// progressPercent maps token count onto a 10-90 band. The last 10 percent is
// reserved for the completion event so progress never reads done early.
func progressPercent(tokenCount int) int {
	p := progressInterval + tokenCount/progressInterval
	if p > 90 {
		return 90
	}
	return p
}
