// Package api provides the HTTP API server for the Fletcher service.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fletcher-io/fletcher/internal/api/middleware"
	"github.com/fletcher-io/fletcher/internal/auth"
	"github.com/fletcher-io/fletcher/internal/plan"
)

// Store is the slice of the storage layer the server itself needs: a health
// probe for readiness checks. The plan service owns all other storage access.
type Store interface {
	HealthCheck(ctx context.Context) error
}

// Server is the Fletcher HTTP API server.
type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	config      *ServerConfig
	startTime   time.Time
	planService *plan.Service
	authService *auth.Service
	store       Store
	rateLimiter middleware.RateLimiter
}

// NewServer wires the handlers and middleware stack into an HTTP server.
//
// A nil authService disables authentication, a nil rateLimiter disables
// rate limiting. Both are logged loudly at startup since running without
// either is only sensible in development.
func NewServer(
	cfg *ServerConfig,
	planService *plan.Service,
	authService *auth.Service,
	store Store,
	rateLimiter middleware.RateLimiter,
) *Server {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	server := &Server{
		logger:      logger,
		config:      cfg,
		planService: planService,
		authService: authService,
		store:       store,
		rateLimiter: rateLimiter,
	}

	mux := http.NewServeMux()
	server.setupRoutes(mux)

	// The verifier must stay a nil interface when no auth service is
	// configured, so WithAuth can skip the middleware entirely.
	var verifier middleware.TokenVerifier
	if authService != nil {
		verifier = authService

		logger.Info("Bearer token authentication enabled")
	} else {
		logger.Warn("Auth service not configured, authentication disabled")
	}

	if rateLimiter != nil {
		logger.Info("Rate limiting enabled")
	} else {
		logger.Warn("Rate limiter not configured, rate limiting disabled")
	}

	// Middleware executes top-to-bottom. Auth must precede RateLimit so
	// authenticated callers are billed to their per-service budget, and
	// RequestLogger sits below RateLimit so rejected floods stay out of
	// the request log.
	server.httpServer = &http.Server{
		Addr: cfg.Address(),
		Handler: middleware.Apply(mux,
			middleware.WithCorrelationID(),
			middleware.WithRecovery(logger),
			middleware.WithAuth(verifier, logger),
			middleware.WithRateLimit(rateLimiter, logger),
			middleware.WithRequestLogger(logger),
			middleware.WithCORS(cfg.ToCORSConfig()),
		),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Start runs the HTTP server and blocks until a shutdown signal arrives or
// the listener fails. SIGINT and SIGTERM trigger graceful shutdown.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	// Uptime in the health endpoint is measured from here.
	s.startTime = time.Now()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("Starting Fletcher API server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

		return s.shutdown()
	}
}

// shutdown drains in-flight requests, then releases the plan store and the
// rate limiter.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down server",
		slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
	)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.closeDependency("plan store", s.store)
	s.closeDependency("rate limiter", s.rateLimiter)

	s.logger.Info("Server shutdown complete")

	return nil
}

// closeDependency closes v when it implements io.Closer. Close errors are
// logged, not returned; shutdown continues past them.
func (s *Server) closeDependency(name string, v interface{}) {
	closer, ok := v.(io.Closer)
	if !ok {
		return
	}

	if err := closer.Close(); err != nil {
		s.logger.Error("Failed to close "+name, slog.String("error", err.Error()))

		return
	}

	s.logger.Info("Closed " + name)
}
