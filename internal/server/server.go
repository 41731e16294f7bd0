package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sundayezeilo/upae/internal/config"
	"github.com/sundayezeilo/upae/internal/httpx"
	"github.com/sundayezeilo/upae/internal/metrics"
	"github.com/sundayezeilo/upae/internal/shortener"
	"github.com/sundayezeilo/upae/internal/upload"
)

const readinessTimeout = 3 * time.Second

// Handlers are the endpoints the server mounts.
type Handlers struct {
	Shortener *shortener.Handler
	Upload    *upload.Handler
	// Ready reports whether the backing stores answer; nil means always ready.
	Ready func(ctx context.Context) error
}

// Server represents the HTTP server with all dependencies.
type Server struct {
	config   *config.Config
	logger   *slog.Logger
	handlers Handlers
	server   *http.Server
	admin    *http.Server
}

// New creates a new Server instance.
func New(cfg *config.Config, logger *slog.Logger, handlers Handlers) *Server {
	return &Server{
		config:   cfg,
		logger:   logger,
		handlers: handlers,
	}
}

// Start serves the public API, and the admin listener when configured, until
// ctx is cancelled or the process receives SIGINT or SIGTERM.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Server.Address(),
		Handler:      s.Handler(),
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}
	if s.config.Server.AdminAddr != "" {
		s.admin = &http.Server{
			Addr:              s.config.Server.AdminAddr,
			Handler:           s.AdminHandler(),
			ReadHeaderTimeout: s.config.Server.ReadTimeout,
		}
	}

	stopCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Listen for errors from the servers
	serverErrors := make(chan error, 2)

	go s.serve("public", s.server, serverErrors)
	if s.admin != nil {
		go s.serve("admin", s.admin, serverErrors)
	}

	select {
	case err := <-serverErrors:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
		return fmt.Errorf("server error: %w", err)

	case <-stopCtx.Done():
		s.logger.Info("received shutdown signal", "cause", context.Cause(stopCtx).Error())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()

		if err := s.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		s.logger.Info("server stopped gracefully")
		return nil
	}
}

func (s *Server) serve(name string, srv *http.Server, errs chan<- error) {
	s.logger.Info("starting http server",
		"listener", name,
		"addr", srv.Addr,
		"env", s.config.App.Environment,
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs <- fmt.Errorf("%s listener: %w", name, err)
	}
}

// Handler returns the public router with middleware and tracing applied.
func (s *Server) Handler() http.Handler {
	handler := s.applyMiddleware(s.setupRoutes())
	if s.config.Observability.Enabled {
		handler = otelhttp.NewHandler(handler, "http")
	}
	return handler
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(httpx.Metrics)

	r.Get("/x/health", s.healthCheckHandler)
	r.Get("/x/ready", s.readinessHandler)

	if h := s.handlers.Shortener; h != nil {
		r.Post("/api/shorten", h.CreateLink)
		r.Get("/s", h.ResolveLink)
		r.Get("/s/", h.ResolveLink)
		r.Get("/s/{slug}", h.ResolveLink)
	}

	// The upload handler answers non-POST methods itself.
	if h := s.handlers.Upload; h != nil {
		r.HandleFunc("/api/upload", h.Upload)
	}

	return r
}

// AdminHandler serves operational endpoints meant for the internal network.
func (s *Server) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /x/ready", s.readinessHandler)
	return mux
}

// applyMiddleware wraps the handler with middleware in the correct order.
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	return httpx.Chain(
		httpx.Recovery(s.logger),                // Outermost: catch panics
		httpx.RequestID,                         // Add request ID
		httpx.Logger(s.logger),                  // Log requests
		httpx.CORS(s.config.Server.CORSOrigins), // CORS headers
	)(handler)
}

// healthCheckHandler handles health check requests.
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": s.config.Observability.ServiceName,
		"version": s.config.Observability.ServiceVersion,
	})
}

// readinessHandler reports 503 while the key store is unreachable.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if s.handlers.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		if err := s.handlers.Ready(ctx); err != nil {
			s.logger.WarnContext(ctx, "readiness check failed", "error", err.Error())
			httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Shutdown gracefully shuts down the servers.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	for _, srv := range []*http.Server{s.server, s.admin} {
		if srv == nil {
			continue
		}

		s.logger.Info("shutting down server", "addr", srv.Addr)

		if err := srv.Shutdown(ctx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				s.logger.Warn("shutdown timeout exceeded, forcing close", "addr", srv.Addr)
				errs = append(errs, srv.Close())
				continue
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
