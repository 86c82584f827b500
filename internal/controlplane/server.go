// Package controlplane exposes the sync engine over a token protected HTTP
// API so runs can be triggered and watched without the CLI.
package controlplane

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/invoicehub/mirror/internal/controlplane/handlers"
	"github.com/invoicehub/mirror/internal/controlplane/middleware"
	"github.com/invoicehub/mirror/internal/utils"
)

type Config struct {
	Addr      string
	AuthToken string
	RateLimit int64
}

type Server struct {
	config *Config
	server *http.Server
	runner *handlers.Runner
}

func NewServer(config *Config, svc *Services) (*Server, error) {
	if config.Addr == "" {
		return nil, fmt.Errorf("control plane: empty listen address")
	}
	if svc.Engine == nil || svc.Progress == nil {
		return nil, fmt.Errorf("control plane: engine and progress store are required")
	}
	if svc.Runner == nil {
		svc.Runner = handlers.NewRunner(svc.Progress)
	}

	routes := SetupRoutes(svc, &RouteConfig{
		Auth:      middleware.TokenAuthConfig{Token: config.AuthToken},
		RateLimit: config.RateLimit,
	})

	httpServer := &http.Server{
		Addr:    config.Addr,
		Handler: routes,
		// a full sync runs detached, so request timeouts stay short
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return &Server{
		config: config,
		server: httpServer,
		runner: svc.Runner,
	}, nil
}

// Start blocks until the server is shut down.
func (s *Server) Start(ctx context.Context) error {
	slog.Info("control plane start", "addr", fmt.Sprintf("http://%s", s.config.Addr), "token", utils.MaskSecret(s.config.AuthToken))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Stop stops accepting requests, cancels background runs and waits for them.
func (s *Server) Stop(ctx context.Context) error {
	slog.Info("control plane stop")
	err := s.server.Shutdown(ctx)
	if werr := s.runner.Shutdown(ctx); werr != nil {
		slog.Warn("control plane stop: background runs still active", "error", werr)
	}
	return err
}
