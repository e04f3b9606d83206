// Package httpserver is the HTTP surface of the control plane: tenant
// instance and query endpoints, the operator admin API, and health probes.
package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/dbfleet/dbfleet/internal/core/service"
)

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr        string
	AdminSecret       string
	CORSOrigin        string
	RateLimitRPS      float64
	RateLimitBurst    int
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
}

// Pinger reports control-plane store reachability for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wraps the HTTP server with chi routing, middleware, and graceful
// shutdown.
type Server struct {
	httpServer *http.Server
	router     chi.Router
	logger     *slog.Logger
	cfg        Config
	limiter    *tenantRateLimiter
}

// New creates a new Server wired with the given dependencies.
func New(cfg Config,
	instanceSvc *service.InstanceService,
	querySvc *service.QueryService,
	adminSvc *service.AdminService,
	pinger Pinger,
	logger *slog.Logger) *Server {

	s := &Server{
		logger:  logger,
		cfg:     cfg,
		limiter: newTenantRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}

	s.setupRoutes(instanceSvc, querySvc, adminSvc, pinger)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	return s
}

// ListenAndServe starts the HTTP server and blocks until it stops.
// Returns nil if the server was shut down gracefully via Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP server listening",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// requestLogger is a chi-compatible middleware that emits structured log
// lines for every HTTP request using slog.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", chimw.GetReqID(r.Context())),
			slog.String("remote_addr", r.RemoteAddr),
		)
	})
}
