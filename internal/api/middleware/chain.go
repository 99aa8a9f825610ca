// Package middleware provides HTTP middleware components for the Fletcher API.
package middleware

import (
	"log/slog"
	"net/http"
)

// Option is a function that applies middleware to a handler.
type Option func(http.Handler) http.Handler

// Apply wraps handler with the given middleware, first option outermost.
//
// Example:
//
//	handler := middleware.Apply(mux,
//	    middleware.WithCorrelationID(),
//	    middleware.WithRecovery(logger),
//	    middleware.WithAuth(verifier, logger),
//	    middleware.WithRateLimit(limiter, logger),
//	    middleware.WithRequestLogger(logger),
//	    middleware.WithCORS(corsConfig),
//	)
func Apply(handler http.Handler, options ...Option) http.Handler {
	for i := len(options) - 1; i >= 0; i-- {
		handler = options[i](handler)
	}

	return handler
}

// WithCorrelationID tags requests with correlation IDs.
func WithCorrelationID() Option {
	return CorrelationID()
}

// WithRecovery converts handler panics into 500 responses.
func WithRecovery(logger *slog.Logger) Option {
	return Recovery(logger)
}

// WithAuth enforces bearer token authentication. A nil verifier disables
// the middleware.
func WithAuth(verifier TokenVerifier, logger *slog.Logger) Option {
	if verifier == nil {
		return noopOption
	}

	return Authenticate(verifier, logger)
}

// WithRateLimit enforces request rate limits. A nil limiter disables the
// middleware.
func WithRateLimit(limiter RateLimiter, logger *slog.Logger) Option {
	if limiter == nil {
		return noopOption
	}

	return RateLimit(limiter, logger)
}

// WithRequestLogger logs request starts and completions.
func WithRequestLogger(logger *slog.Logger) Option {
	return RequestLogger(logger)
}

// WithCORS applies cross-origin headers.
func WithCORS(config CORSConfigProvider) Option {
	return CORS(config)
}

func noopOption(next http.Handler) http.Handler {
	return next
}
