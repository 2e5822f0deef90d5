// Package api exposes the loaded commands over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/hostbridge/internal/events"
	"github.com/mattjoyce/hostbridge/internal/journal"
	"github.com/mattjoyce/hostbridge/internal/loader"
	"github.com/mattjoyce/hostbridge/internal/service"
)

const (
	defaultMaxConcurrent = 16
	maxBodyBytes         = 1 << 20
)

// Commander is the service surface the API drives.
type Commander interface {
	Commands() []service.CommandInfo
	Execute(ctx context.Context, name string, params json.RawMessage) (any, error)
	Reload(ctx context.Context) (loader.Summary, error)
	History(ctx context.Context, limit int) ([]journal.Invocation, error)
	Status() service.Status
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey, when set, is required as a bearer token on every route but /healthz.
	APIKey string
	// MaxConcurrent caps in-flight command executions.
	MaxConcurrent int
	// ExecTimeout bounds a single execution; zero means no limit beyond the request.
	ExecTimeout time.Duration
	// Events, when set, is streamed on GET /events.
	Events *events.Hub
}

// Server is the HTTP API server
type Server struct {
	config    Config
	svc       Commander
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
	execSlots chan struct{}
}

// New creates a new API server instance
func New(config Config, svc Commander, logger *slog.Logger) *Server {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = defaultMaxConcurrent
	}
	return &Server{
		config:    config,
		svc:       svc,
		logger:    logger,
		startedAt: time.Now(),
		execSlots: make(chan struct{}, config.MaxConcurrent),
	}
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.setupRoutes(),
		ReadTimeout: 10 * time.Second,
		// Commands may wait on the host main thread.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen, "auth", s.config.APIKey != "")

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/commands", s.handleListCommands)
		r.Post("/commands/{name}", s.handleExecute)
		r.Post("/reload", s.handleReload)
		r.Get("/history", s.handleHistory)
		r.Get("/openapi.json", s.handleOpenAPI)
		if s.config.Events != nil {
			r.Get("/events", s.handleEvents)
		}
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
