package core

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// defaultRequestTimeout applies when the config leaves REQUEST_TIMEOUT unset.
const defaultRequestTimeout = 15 * time.Second

// redactedHeaders are masked in request logs.
var redactedHeaders = []string{
	"Authorization",
	"Cookie",
	HeaderAdminKey,
	"Stripe-Signature",
}

// MountRoutes registers the middleware chain and every route group.
//
// Order:
//  1. Recoverer        outermost, catches panics from everything below
//  2. ContextTimeout   soft deadline ahead of the Lambda hard timeout
//  3. RequestID        correlation id for logs and upstream calls
//  4. SecurityHeaders
//  5. RequestLogger    redacts credentials
//  6. CORS
//
// AuthMiddleware wraps only the authenticated /v1 group.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(s.requestTimeout()))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, redactedHeaders))
	s.router.Use(NewCORSMiddleware(s.corsAllowedOrigins()))

	s.router.Get("/health", s.HandleHealth)
	s.router.Route("/v1", s.mountV1)
}

func (s *Server) mountV1(r chi.Router) {
	for _, register := range s.PublicRoutes {
		register(r)
	}
	r.Group(func(r chi.Router) {
		r.Use(s.AuthMiddleware)
		for _, register := range s.V1RouteRegistrars {
			register(r)
		}
	})
}

func (s *Server) requestTimeout() time.Duration {
	if s.Config != nil && s.Config.Server.RequestTimeout > 0 {
		return s.Config.Server.RequestTimeout
	}
	return defaultRequestTimeout
}

func (s *Server) corsAllowedOrigins() []string {
	if s.Config != nil && len(s.Config.Server.CorsAllowedOrigins) > 0 {
		return s.Config.Server.CorsAllowedOrigins
	}
	return []string{"*"}
}

// ContextTimeoutMiddleware sets a deadline on the request context.
func ContextTimeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
