package server

import (
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sheetkeeper/sheetkeeper/internal/observability"
	"github.com/sheetkeeper/sheetkeeper/internal/server/handlers"
)

func (s *Server) registerRoutes() {
	s.router.Get("/health", handlers.HealthHandler)
	s.router.Get("/health/live", handlers.LivenessHandler)
	s.router.Get("/health/ready", handlers.ReadinessHandler)
	s.router.Get("/health/startup", handlers.StartupHandler)
	s.router.Get("/version", handlers.VersionHandler)
	s.router.Get("/metrics", MetricsHandler)

	s.router.Route("/v1", func(r chi.Router) {
		if s.opts.API != nil {
			s.opts.API.Routes(r)
		}
		if s.opts.Realtime != nil {
			r.Get("/realtime", s.opts.Realtime.ServeHTTP)
		}
	})

	s.registerAdminEndpoint()
}

// registerAdminEndpoint mounts the signal endpoint behind a bearer token.
func (s *Server) registerAdminEndpoint() {
	logger := observability.ServerLogger
	if s.opts.AdminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no admin token configured)")
		}
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: s.opts.AdminToken,
		RateLimit: 10,
		RateBurst: 5,
	})
	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("rate_limit", "10/min, burst 5"))
		logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
	}
}
