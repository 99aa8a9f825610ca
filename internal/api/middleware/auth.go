// Package middleware provides HTTP middleware components for the Fletcher API.
package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fletcher-io/fletcher/internal/auth"
)

// publicEndpoints defines public endpoints that bypass authentication.
// These endpoints are accessible without bearer tokens (e.g., K8s health
// probes, monitoring tools, and the login endpoint itself).
//
// Security note: Only health check and login endpoints should be in this map.
// Never add business logic endpoints to this bypass list.
var publicEndpoints = map[string]bool{} //nolint: gochecknoglobals

// RegisterPublicEndpoint registers an endpoint that bypasses authentication.
// This should only be called during route setup.
//
// Security Warning: Never register business logic endpoints as public.
// Public endpoints are accessible without bearer tokens and should only be
// used for K8s health probes, monitoring tools, and login.
//
// Example:
//
//	middleware.RegisterPublicEndpoint("/ping")
//	middleware.RegisterPublicEndpoint("/api/auth/login")
func RegisterPublicEndpoint(endpoint string) {
	publicEndpoints[endpoint] = true
}

type (
	// TokenVerifier validates a bearer token and resolves the service
	// account it was minted for. Implemented by auth.Service.
	TokenVerifier interface {
		Verify(token string) (*auth.ServiceAccount, error)
	}
)

// ErrMissingToken is returned when no bearer token is provided in headers.
var ErrMissingToken = errors.New("missing bearer token")

// extractBearerToken extracts the bearer token from the Authorization header.
//
// Returns (token, true) if found and valid, ("", false) otherwise.
//
// Security considerations:
// - Rejects tokens containing newlines (header injection prevention)
// - Trims whitespace from tokens
// - Case-sensitive "Bearer " prefix check.
func extractBearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}

	token := strings.TrimPrefix(authHeader, "Bearer ")

	// Security: Reject tokens containing newlines (header injection prevention)
	if strings.ContainsAny(token, "\r\n") {
		return "", false
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}

	return token, true
}

// Authenticate creates an authentication middleware that validates bearer
// tokens and enriches request context with the calling service.
//
// The middleware:
// - Extracts the token from the Authorization: Bearer header
// - Verifies the token signature and expiry
// - Resolves the service account behind the token subject
// - Enriches request context with ServiceContext
// - Returns RFC 7807 compliant error responses on failure
//
// Example usage:
//
//	authService := auth.NewService(registry, issuer, logger)
//	authMiddleware := middleware.Authenticate(authService, logger)
//	handler = authMiddleware(handler)
func Authenticate(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Check if this path bypasses authentication (public endpoints)
			if publicEndpoints[r.URL.Path] {
				next.ServeHTTP(w, r)

				return
			}

			authStart := time.Now()

			token, found := extractBearerToken(r)
			if !found {
				writeAuthError(w, r, logger, ErrMissingToken)

				return
			}

			account, err := verifier.Verify(token)
			if err != nil {
				writeAuthError(w, r, logger, err)

				return
			}

			// Enrich context with the authenticated service
			svcCtx := ServiceContext{
				Service:  account.Service,
				Roles:    account.Roles,
				AuthTime: time.Now(),
			}
			ctx := SetServiceContext(r.Context(), svcCtx)

			// Log successful authentication
			logger.Info("bearer token authenticated",
				slog.String("service", svcCtx.Service),
				slog.Int("role_count", len(svcCtx.Roles)),
				slog.Duration("auth_latency", time.Since(authStart)),
				slog.String("correlation_id", GetCorrelationID(r.Context())),
				slog.String("endpoint", r.URL.Path),
			)

			// Continue to next handler with enriched context
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeAuthError writes an RFC 7807 compliant error response for authentication failures.
// Token verification failures map to 403; an unknown token subject maps to 401.
func writeAuthError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	correlationID := GetCorrelationID(r.Context())

	var statusCode int

	switch {
	case errors.Is(err, auth.ErrInvalidService):
		statusCode = http.StatusUnauthorized
	case errors.Is(err, auth.ErrTokenInvalid), errors.Is(err, ErrMissingToken):
		statusCode = http.StatusForbidden
	default:
		statusCode = http.StatusForbidden
	}

	// Log authentication failure (no sensitive data)
	logger.Warn("Authentication failed",
		slog.String("reason", err.Error()),
		slog.String("correlation_id", correlationID),
		slog.String("endpoint", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("user_agent", r.UserAgent()),
	)

	detail := err.Error()
	// Write RFC 7807 compliant error response
	if err := writeRFC7807Error(w, r, statusCode, detail, correlationID); err != nil {
		logger.Error("failed to write response with RFC 7807 error format",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.String("detail", detail),
			slog.Any("error", err),
		)

		// Fallback to plain text if writeRFC7807Error fails
		http.Error(w, detail, statusCode)
	}
}

// writeRFC7807Error writes an RFC 7807 compliant error response without importing the api package.
func writeRFC7807Error(
	w http.ResponseWriter,
	r *http.Request,
	statusCode int,
	detail,
	correlationID string,
) error {
	// Map status code to title
	var title string

	switch statusCode {
	case http.StatusUnauthorized:
		title = "Unauthorized"
	case http.StatusForbidden:
		title = "Forbidden"
	case http.StatusTooManyRequests:
		title = "Too Many Requests"
	case http.StatusInternalServerError:
		title = "Internal Server Error"
	default:
		title = "Authentication Failed"
	}

	// Create RFC 7807 problem detail
	problem := map[string]interface{}{
		"type":          fmt.Sprintf("https://fletcher.io/problems/%d", statusCode),
		"title":         title,
		"status":        statusCode,
		"detail":        detail,
		"instance":      r.URL.Path,
		"correlationId": correlationID,
	}

	// Set proper content type and status code
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(statusCode)

	// Write response
	return json.NewEncoder(w).Encode(problem)
}
