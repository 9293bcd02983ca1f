// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

// Package server exposes the turn pipeline over HTTP: a JSON chat
// endpoint, an SSE streaming variant, and a health check.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/trustdental/isaac/internal/orchestrator"
	isaacerr "github.com/trustdental/isaac/pkg/errors"
	"github.com/trustdental/isaac/pkg/health"
)

// TurnHandler runs one conversation turn. Satisfied by the orchestrator
// engine.
type TurnHandler interface {
	HandleTurn(ctx context.Context, in orchestrator.Inbound) (orchestrator.Outbound, error)
}

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr   string
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// ProviderHealth, when set, feeds per-provider metrics into the
	// health endpoint.
	ProviderHealth func(ctx context.Context) map[string]health.Metrics
}

// Server wraps a chi router with a huma API.
type Server struct {
	router chi.Router
	api    huma.API
	cfg    Config
	turns  TurnHandler
}

// New creates a Server and registers all routes.
func New(cfg Config, turns TurnHandler) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, isaacerr.New(isaacerr.CodeServerStartFailure, "listen address is required")
	}
	if turns == nil {
		return nil, isaacerr.New(isaacerr.CodeServerStartFailure, "turn handler is required")
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 120 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware(cfg.CORSOrigins))

	humaConfig := huma.DefaultConfig("Isaac", "0.1.0")
	humaConfig.Info.Description = "Trust Dental clinical assistant API"
	api := humachi.New(r, humaConfig)

	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"system"},
	}, func(ctx context.Context, _ *struct{}) (*HealthResponse, error) {
		body := HealthBody{Status: "ok"}
		if cfg.ProviderHealth != nil {
			body.Providers = cfg.ProviderHealth(ctx)
		}
		return &HealthResponse{Body: body}, nil
	})

	srv := &Server{router: r, api: api, cfg: cfg, turns: turns}
	srv.registerChatRoute()
	srv.registerStreamRoute()
	return srv, nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server and blocks until the context is cancelled,
// then performs graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return isaacerr.Wrap(err, isaacerr.CodeServerStartFailure, "listening on "+s.cfg.ListenAddr)
	}

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return isaacerr.Wrap(err, isaacerr.CodeServerShutdownFailure, "shutting down")
	}
	return <-errCh
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

// HealthBody is the JSON body of the health endpoint response.
type HealthBody struct {
	Status    string                    `json:"status" example:"ok" doc:"Health status"`
	Providers map[string]health.Metrics `json:"providers,omitempty" doc:"Per-provider health metrics"`
}

// HealthResponse wraps the health body for huma.
type HealthResponse struct {
	Body HealthBody
}
