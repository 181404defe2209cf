// ABOUTME: chatstream-worker entrypoint: consumes generation tasks from the queue
// ABOUTME: Streams completion tokens to the broker and mirrors them to the store

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/streamkit/chatstream/internal/app"
	"github.com/streamkit/chatstream/internal/config"
	"github.com/streamkit/chatstream/internal/generate"
	"github.com/streamkit/chatstream/internal/queue"
	"github.com/streamkit/chatstream/internal/stream"
	"github.com/streamkit/chatstream/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "chatstream-worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(app.ConfigPath())
	if err != nil {
		return err
	}

	logger := app.NewLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := app.OpenStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	redisClient := app.RedisClient(cfg.Redis)
	defer redisClient.Close()
	broker := stream.NewRedisBroker(redisClient, logger)

	gen := generate.NewOpenAIGenerator(generate.Options{
		APIKey:       cfg.Generation.APIKey,
		BaseURL:      cfg.Generation.BaseURL,
		Model:        cfg.Generation.Model,
		MaxTokens:    cfg.Generation.MaxTokens,
		Temperature:  cfg.Generation.Temperature,
		SystemPrompt: cfg.Generation.SystemPrompt,
	})

	runner := worker.NewRunner(st, broker, gen, logger)

	srv := asynq.NewServer(app.AsynqRedisOpt(cfg.Redis), asynq.Config{
		Concurrency: cfg.Queue.Concurrency,
		Queues:      map[string]int{queue.DefaultQueue: 1},
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeGenerate, runner.ProcessTask)

	logger.Info("worker started", "concurrency", cfg.Queue.Concurrency)
	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	srv.Shutdown()
	return nil
}
