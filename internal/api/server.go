// ABOUTME: HTTP front door: router assembly, middleware stack, and dependencies
// ABOUTME: Handlers depend on narrow interfaces so tests can stub the service

package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streamkit/chatstream/internal/chat"
	"github.com/streamkit/chatstream/internal/queue"
	"github.com/streamkit/chatstream/internal/store"
	"github.com/streamkit/chatstream/internal/stream"
)

// ChatService is the slice of the chat service the handlers need.
// *chat.Service satisfies it.
type ChatService interface {
	CreateConversation(ctx context.Context, title string) (*store.Conversation, error)
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	GetConversationTurns(ctx context.Context, id string) ([]*store.Turn, error)
	ListConversations(ctx context.Context, includeArchived bool) ([]*store.ConversationSummary, error)
	DeleteConversation(ctx context.Context, id string) error
	ArchiveConversation(ctx context.Context, id string) error
	Submit(ctx context.Context, conversationID, message string) (*chat.SubmitResult, error)
	ActiveTask(ctx context.Context, conversationID string) (*store.Turn, error)
	Relay(ctx context.Context, taskID string) (<-chan stream.Event, error)
	GetTurnByTaskID(ctx context.Context, taskID string) (*store.Turn, error)
}

// TaskInspector reports the queue's view of a task. *queue.Inspector
// satisfies it; nil disables queue state in task status responses.
type TaskInspector interface {
	TaskStatus(taskID string) (*queue.TaskStatus, error)
}

// Options configures optional server features.
type Options struct {
	MetricsEnabled bool
	MetricsPath    string
}

// Server serves the REST and SSE API.
type Server struct {
	service   ChatService
	inspector TaskInspector
	health    func(ctx context.Context) error
	logger    *slog.Logger
	opts      Options
}

// NewServer wires the front door. health is typically the store's Ping.
func NewServer(service ChatService, inspector TaskInspector, health func(ctx context.Context) error, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		service:   service,
		inspector: inspector,
		health:    health,
		logger:    logger.With("component", "api"),
		opts:      opts,
	}
}

// Router builds the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Route("/chats", func(r chi.Router) {
			r.Post("/", s.handleCreateConversation)
			r.Get("/", s.handleListConversations)
			r.Route("/{conversationID}", func(r chi.Router) {
				r.Get("/", s.handleGetConversation)
				r.Delete("/", s.handleDeleteConversation)
				r.Post("/archive", s.handleArchiveConversation)
				r.Post("/messages", s.handleSubmitMessage)
				r.Get("/active-task", s.handleActiveTask)
			})
		})
		r.Get("/stream/{taskID}", s.handleStream)
		r.Get("/task/{taskID}", s.handleTaskStatus)
	})

	if s.opts.MetricsEnabled {
		path := s.opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.Handler())
	}

	return r
}

// logRequests emits one structured line per request. SSE requests are logged
// on connect rather than completion, which for long streams is what you want
// in the log anyway.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
