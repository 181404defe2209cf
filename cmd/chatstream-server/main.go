// ABOUTME: chatstream-server entrypoint: REST + SSE front door
// ABOUTME: Wires the store, broker, and queue client behind the HTTP API

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/streamkit/chatstream/internal/api"
	"github.com/streamkit/chatstream/internal/app"
	"github.com/streamkit/chatstream/internal/chat"
	"github.com/streamkit/chatstream/internal/config"
	"github.com/streamkit/chatstream/internal/queue"
	"github.com/streamkit/chatstream/internal/stream"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "chatstream-server: %v\n", err)
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

	queueClient := queue.NewClient(app.AsynqRedisOpt(cfg.Redis),
		cfg.Queue.TaskTimeout, cfg.Queue.Retention, logger)
	defer queueClient.Close()

	inspector := queue.NewInspector(app.AsynqRedisOpt(cfg.Redis))
	defer inspector.Close()

	service := chat.NewService(st, broker, queueClient, logger)
	server := api.NewServer(service, inspector, st.Ping, logger, api.Options{
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsPath:    cfg.Metrics.Path,
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
