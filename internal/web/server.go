// Package web provides the HTTP API for the import engine.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/importer/internal/config"
	"github.com/JonMunkholm/importer/internal/core"
	mw "github.com/JonMunkholm/importer/internal/web/middleware"
)

// Pinger reports database reachability for /healthz. Satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options carries optional server dependencies.
type Options struct {
	// Gatherer backs the metrics endpoint. nil disables it.
	Gatherer prometheus.Gatherer

	// Registerer receives the HTTP request metrics. nil disables them.
	Registerer prometheus.Registerer

	// DB is pinged by /healthz when set.
	DB Pinger
}

// Server is the HTTP server for the import API.
type Server struct {
	service *core.Service
	cfg     *config.Config
	opts    Options
	router  *chi.Mux
	server  *http.Server
}

// NewServer creates a Server with all middleware and routes configured.
func NewServer(service *core.Service, cfg *config.Config, opts Options) *Server {
	s := &Server{
		service: service,
		cfg:     cfg,
		opts:    opts,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)

	if s.opts.Registerer != nil {
		s.router.Use(mw.NewHTTPMetrics(s.opts.Registerer).Middleware)
	}

	if s.cfg.Rate.Enabled {
		s.router.Use(newRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute).middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	if s.cfg.Metrics.Enabled && s.opts.Gatherer != nil {
		s.router.Handle(s.cfg.Metrics.Path, promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(&s.cfg.Security))
		r.Use(withRequester)

		timeout := middleware.Timeout(s.cfg.Server.RequestTimeout)

		r.With(timeout).Get("/modules", s.handleListModules)

		r.Route("/import/{module}", func(r chi.Router) {
			// The event stream stays open until the job ends, so it is
			// registered outside the request timeout.
			r.Get("/jobs/{jobID}/events", s.handleJobEvents)

			r.Group(func(r chi.Router) {
				r.Use(timeout)

				r.Get("/template", s.handleTemplate)
				r.Post("/execute", s.handleExecute)
				r.Get("/jobs/{jobID}", s.handleJobStatus)
				r.Post("/jobs/{jobID}/cancel", s.handleCancelJob)

				r.Group(func(r chi.Router) {
					if s.cfg.Rate.Enabled {
						r.Use(newRateLimiter(s.cfg.Rate.UploadLimit, time.Minute).middleware)
					}
					r.Post("/validate", s.handleValidate)
				})
			})
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	sc := s.cfg.Server
	s.server = &http.Server{
		Addr:         sc.Addr(),
		Handler:      s.router,
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
		IdleTimeout:  sc.IdleTimeout,
	}

	slog.Info("starting server", "addr", sc.Addr())
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with the given status.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
