// Package httpapi exposes the directory service over a JSON HTTP API.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/avoronov/userdir/internal/logging"
	"github.com/avoronov/userdir/internal/server/services"
)

type Server struct {
	address string
	users   *services.UserService
	logger  logging.Logger
}

func NewServer(address string, l logging.Logger, us *services.UserService) *Server {
	return &Server{
		address: address,
		logger:  l.With("module", "http_server"),
		users:   us,
	}
}

// Handler builds the full route table with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("POST /token", s.handleLogin)

	mux.Handle("GET /users/me", s.requireAuth(http.HandlerFunc(s.handleMe)))
	mux.Handle("GET /users", s.requireAdmin(http.HandlerFunc(s.handleListUsers)))
	mux.Handle("PUT /users/{id}", s.requireAdmin(http.HandlerFunc(s.handleUpdateUser)))
	mux.Handle("DELETE /users/{id}", s.requireAdmin(http.HandlerFunc(s.handleDeleteUser)))

	return s.withRequestID(s.withLogging(mux))
}

// Run serves the API until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {

	srv := &http.Server{
		Addr:    s.address,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
