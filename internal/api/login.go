package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/fletcher-io/fletcher/internal/api/middleware"
	"github.com/fletcher-io/fletcher/internal/auth"
)

// handleLogin handles service credential exchange.
// POST /api/auth/login - Exchange service name and API key for a bearer token
//
// The endpoint is public (callers have no token yet) but still subject to
// the unauthenticated rate limit tier.
//
// Request validation (returns 4xx):
//   - 415 Unsupported Media Type: Content-Type must be application/json
//   - 413 Payload Too Large: Request body exceeds MaxRequestSize
//   - 400 Bad Request: Empty body or invalid JSON
//   - 401 Unauthorized: Unknown service or wrong key
//
// Success response:
//   - 200 OK: Authenticated envelope with the signed token and grant metadata
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	correlationID := middleware.GetCorrelationID(r.Context())

	if s.authService == nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("Authentication is not configured"))

		return
	}

	var req LoginRequest
	if problem := s.readJSONBody(r, &req); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	authenticated, err := s.authService.Authenticate(r.Context(), auth.Login{Service: req.Service, Key: req.Key})
	if err != nil {
		WriteErrorResponse(w, r, s.logger, problemFromError(err))

		return
	}

	s.sendJSON(w, r, http.StatusOK, mapAuthenticated(authenticated))

	s.logger.Info("Service logged in",
		slog.String("correlation_id", correlationID),
		slog.String("service", authenticated.Service),
		slog.Int("role_count", len(authenticated.Roles)),
		slog.Duration("duration", time.Since(startTime)),
	)
}
