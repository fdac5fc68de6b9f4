// internal/api/server.go
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/xkilldash9x/mirage/internal/config"
)

// Server hosts the JSON API, /health and /metrics.
type Server struct {
	cfg        config.ServerConfig
	metricsCfg config.MetricsConfig
	logger     *zap.Logger
	handlers   *Handlers
	metrics    http.Handler

	router     chi.Router
	httpServer *http.Server
}

// NewServer wires the router. metrics may be nil, in which case /metrics
// is not served.
func NewServer(cfg config.ServerConfig, metricsCfg config.MetricsConfig, handlers *Handlers, metrics http.Handler, logger *zap.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		metricsCfg: metricsCfg,
		logger:     logger.Named("http"),
		handlers:   handlers,
		metrics:    metrics,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(recoverer(s.logger, s.cfg.IsDevelopment()))
	r.Use(cors(s.cfg.CORSOrigin))

	r.NotFound(notFound(s.logger))
	r.MethodNotAllowed(notFound(s.logger))

	r.Get("/health", s.handlers.HandleHealth)
	if s.metricsCfg.Enabled && s.metrics != nil {
		r.Method(http.MethodGet, s.metricsCfg.Path, s.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		if s.cfg.RateLimit.Enabled {
			r.Use(rateLimit(s.cfg.RateLimit.RPS, s.cfg.RateLimit.Burst, s.logger))
		}
		if s.cfg.Auth.Enabled() {
			r.Use(bearerAuth(s.cfg.Auth.JWTSecret, s.logger))
		}
		r.Use(limitBody(s.cfg.MaxBodyBytes))
		s.handlers.RegisterRoutes(r)
	})
	return r
}

// Handler returns the root handler, with HTTP/2 cleartext support.
func (s *Server) Handler() http.Handler {
	return h2c.NewHandler(s.router, &http2.Server{})
}

// Run listens on the configured address until ctx is done, then drains
// in-flight requests within the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener. The listener is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening.", zap.String("address", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server.", zap.Duration("timeout", s.cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	<-serverErr
	s.logger.Info("HTTP server stopped.")
	return nil
}
