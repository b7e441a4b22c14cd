// Package core provides the HTTP chassis of the boost API: a chi router
// served either by net/http (local) or through the API Gateway adapter
// (Lambda), plus the cross-cutting middleware, error envelope and request
// validation shared by every handler.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"classifieds/internal/config"
)

// RouteRegistrar mounts a handler's routes on a router.
type RouteRegistrar func(r chi.Router)

// Server holds the dependencies of the API. Handlers register routes
// through PublicRoutes and V1RouteRegistrars before MountRoutes is called.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	// Tokens resolves bearer tokens; Bypass resolves X-Admin-Key. Either may
	// be nil, in which case that credential kind is rejected.
	Tokens TokenVerifier
	Bypass BypassChecker

	HealthProbes []HealthProbe

	// PublicRoutes are mounted under /v1 without authentication.
	PublicRoutes []RouteRegistrar
	// V1RouteRegistrars are mounted under /v1 behind AuthMiddleware.
	V1RouteRegistrars []RouteRegistrar

	// Closers run on Shutdown, in order.
	Closers []func()

	router *chi.Mux
}

// NewServer creates a Server with an empty router.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases server resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")
	for _, closeFn := range s.Closers {
		closeFn()
	}
	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
