// Package api exposes the reading companion over HTTP.
//
// Endpoints:
//
//	POST /api/ask                   ask a question about a book
//	POST /api/feedback              attach feedback to an answer
//	GET  /api/sessions              list a reader's sessions
//	POST /api/sessions/{id}/close   soft-close a session
//	GET  /health                    liveness probe
//	GET  /ready                     readiness probe
//
// The handlers are thin: validation and JSON shaping only. All pipeline
// logic lives in internal/companion.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:3500"

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout guards against slow-header connections.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading a request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing a response.
	// Completions can take a while; this sits above the completion
	// timeout.
	WriteTimeout = 120 * time.Second

	// IdleTimeout applies to keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// Server is the HTTP server for the companion API.
type Server struct {
	mux    *http.ServeMux
	logger *slog.Logger

	health   *HealthHandler
	ask      *AskHandler
	sessions *SessionHandler
}

// NewServer creates a server with all routes registered.
func NewServer(companion ResponseGenerator, store SessionDirectory, pool *pgxpool.Pool, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	s := &Server{
		mux:      mux,
		logger:   logger,
		health:   NewHealthHandler(pool, logger),
		ask:      NewAskHandler(companion, logger),
		sessions: NewSessionHandler(store, logger),
	}

	s.health.RegisterRoutes(mux)
	s.ask.RegisterRoutes(mux)
	s.sessions.RegisterRoutes(mux)

	return s
}

// Handler returns the mux with middleware applied, recovery outermost.
func (s *Server) Handler() http.Handler {
	return chain(s.mux, recoveryMiddleware, loggingMiddleware)
}

// Run starts the server and blocks until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
