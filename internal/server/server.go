package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/sheetkeeper/sheetkeeper/internal/errors"
	"github.com/sheetkeeper/sheetkeeper/internal/observability"
	"github.com/sheetkeeper/sheetkeeper/internal/realtime"
	"github.com/sheetkeeper/sheetkeeper/internal/server/handlers"
	servermw "github.com/sheetkeeper/sheetkeeper/internal/server/middleware"
)

// Options configures the HTTP server.
type Options struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// API serves /v1. Nil leaves only health, version and metrics mounted.
	API *handlers.API
	// Realtime serves /v1/realtime when set.
	Realtime *realtime.Handler
	// AdminToken enables POST /admin/signal when non-empty.
	AdminToken string
}

// Server represents the HTTP server
type Server struct {
	router   *chi.Mux
	server   *http.Server
	opts     Options
	listener net.Listener
}

// New creates a new HTTP server instance
func New(opts Options) *Server {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 120 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	// RequestID → Metrics → Recovery, outermost first.
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	s := &Server{router: r, opts: opts}
	handlers.SetHTTPErrorResponder(apperrors.RespondWithError)
	s.registerRoutes()
	return s
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve accepts connections on listener.
func (s *Server) Serve(listener net.Listener) error {
	s.listener = listener
	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  s.opts.IdleTimeout,
	}

	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Starting HTTP server",
			zap.String("addr", listener.Addr().String()),
			zap.Bool("realtime", s.opts.Realtime != nil))
	}
	return s.server.Serve(listener)
}

// Shutdown stops accepting requests, closes realtime sessions and waits for
// in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Shutting down HTTP server")
	}
	if s.opts.Realtime != nil {
		s.opts.Realtime.Shutdown()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the bound address once serving, else the configured one.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
}
