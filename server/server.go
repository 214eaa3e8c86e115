// Package server is the HTTP/WebSocket surface over the vault core: a chi
// REST API, a WebSocket observer endpoint fed by the notify hub, and the
// operational endpoints (health, metrics). It holds no business logic.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/adalundhe/vaultd/core/activity"
	"github.com/adalundhe/vaultd/core/config"
	"github.com/adalundhe/vaultd/core/notify"
	"github.com/adalundhe/vaultd/core/vault"
)

// Options carries the server dependencies.
type Options struct {
	Config   config.ServerConfig
	Vault    *vault.Service
	Hub      *notify.Hub
	Checker  *notify.Checker
	Searcher *activity.Searcher
	Registry *prometheus.Registry
	Logger   *slog.Logger
}

// Server serves the REST and WebSocket API.
type Server struct {
	config   config.ServerConfig
	vault    *vault.Service
	hub      *notify.Hub
	checker  *notify.Checker
	searcher *activity.Searcher
	registry *prometheus.Registry
	logger   *slog.Logger
	metrics  *httpMetrics

	observers *observerRegistry
	http      *http.Server
}

// New wires the server and its router.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}

	s := &Server{
		config:   opts.Config,
		vault:    opts.Vault,
		hub:      opts.Hub,
		checker:  opts.Checker,
		searcher: opts.Searcher,
		registry: opts.Registry,
		logger:   opts.Logger,
	}

	s.metrics = newHTTPMetrics(opts.Registry)
	s.observers = newObserverRegistry(s.checker, s.logger)

	s.http = &http.Server{
		Addr:              opts.Config.Addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Run serves until the context is cancelled, then shuts down gracefully
// within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("http server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("http server shutting down")
	return s.http.Shutdown(shutdownCtx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}
