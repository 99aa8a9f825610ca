// Package api provides HTTP API server implementation for the Fletcher service.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/fletcher-io/fletcher/internal/api/middleware"
	"github.com/fletcher-io/fletcher/internal/auth"
	"github.com/fletcher-io/fletcher/internal/graph"
	"github.com/fletcher-io/fletcher/internal/plan"
	"github.com/fletcher-io/fletcher/internal/storage"
)

// ProblemDetail represents an RFC 7807 Problem Details structure.
// See https://tools.ietf.org/html/rfc7807 for specification.
type ProblemDetail struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	Status        int    `json:"status"`
	Detail        string `json:"detail,omitempty"`
	Instance      string `json:"instance,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// NewProblemDetail creates a new RFC 7807 Problem Detail.
func NewProblemDetail(status int, title, detail string) *ProblemDetail {
	return &ProblemDetail{
		Type:   fmt.Sprintf("https://fletcher.io/problems/%d", status),
		Title:  title,
		Status: status,
		Detail: detail,
	}
}

// WithInstance adds an instance URI to the problem detail.
func (p *ProblemDetail) WithInstance(instance string) *ProblemDetail {
	p.Instance = instance

	return p
}

// WithCorrelationID adds a correlation ID to the problem detail.
func (p *ProblemDetail) WithCorrelationID(correlationID string) *ProblemDetail {
	p.CorrelationID = correlationID

	return p
}

// WriteErrorResponse writes an RFC 7807 compliant error response.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, problem *ProblemDetail) {
	correlationID := middleware.GetCorrelationID(r.Context())

	// Add correlation ID if not already set
	if problem.CorrelationID == "" {
		problem.CorrelationID = correlationID
	}

	// Add instance if not already set
	if problem.Instance == "" {
		problem.Instance = r.URL.Path
	}

	// Set proper content type for RFC 7807
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)

	if err := json.NewEncoder(w).Encode(problem); err != nil {
		logger.Error("Failed to encode error response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.String("method", r.Method),
			slog.Any("encode_error", err),
			slog.Int("status", problem.Status),
		)

		// Fallback to basic error response
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// Common error constructors for frequently used errors.

// InternalServerError creates a 500 Internal Server Error problem.
func InternalServerError(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusInternalServerError,
		"Internal Server Error",
		detail,
	)
}

// BadRequest creates a 400 Bad Request problem.
func BadRequest(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusBadRequest,
		"Bad Request",
		detail,
	)
}

// Unauthorized creates a 401 Unauthorized problem.
func Unauthorized(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusUnauthorized,
		"Unauthorized",
		detail,
	)
}

// Forbidden creates a 403 Forbidden problem.
func Forbidden(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusForbidden,
		"Forbidden",
		detail,
	)
}

// NotFound creates a 404 Not Found problem.
func NotFound(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusNotFound,
		"Not Found",
		detail,
	)
}

// MethodNotAllowed creates a 405 Method Not Allowed problem.
func MethodNotAllowed(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusMethodNotAllowed,
		"Method Not Allowed",
		detail,
	)
}

// PayloadTooLarge creates a 413 Payload Too Large problem.
func PayloadTooLarge(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusRequestEntityTooLarge,
		"Payload Too Large",
		detail,
	)
}

// UnsupportedMediaType creates a 415 Unsupported Media Type problem.
func UnsupportedMediaType(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusUnsupportedMediaType,
		"Unsupported Media Type",
		detail,
	)
}

// UnprocessableEntity creates a 422 Unprocessable Entity problem.
func UnprocessableEntity(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusUnprocessableEntity,
		"Unprocessable Entity",
		detail,
	)
}

// problemFromError maps a domain error onto its HTTP problem.
//
// The mapping table is closed: every sentinel the domain layers expose has
// exactly one status here, and anything unlisted is a 500. The error's
// display message is preserved as the problem detail so callers see which
// product, dependency or transition was rejected.
func problemFromError(err error) *ProblemDetail {
	switch {
	// Credential failures. Unknown service and wrong key both answer 401;
	// the split sentinel keeps the server-side log precise.
	case errors.Is(err, auth.ErrInvalidKey),
		errors.Is(err, auth.ErrInvalidService):
		return Unauthorized(err.Error())

	// Authenticated but not allowed: bad or expired tokens, missing roles,
	// and state changes against a quarantined product.
	case errors.Is(err, auth.ErrTokenInvalid),
		errors.Is(err, auth.ErrRoleMissing),
		errors.Is(err, plan.ErrDisabled):
		return Forbidden(err.Error())

	case errors.Is(err, plan.ErrPlanNotFound),
		errors.Is(err, plan.ErrMissingProduct),
		errors.Is(err, storage.ErrNotFound):
		return NotFound(err.Error())

	// Malformed submissions and rejected transitions. Constraint violations
	// land here too: the database is the backstop for the same class of
	// caller mistakes.
	case errors.Is(err, plan.ErrBadState),
		errors.Is(err, plan.ErrPaused),
		errors.Is(err, plan.ErrDuplicateProduct),
		errors.Is(err, plan.ErrDuplicateDependency),
		errors.Is(err, storage.ErrConstraintViolation):
		return BadRequest(err.Error())

	// Structurally invalid dependency graphs: well-formed JSON describing a
	// plan that cannot exist.
	case errors.Is(err, graph.ErrCyclical),
		errors.Is(err, plan.ErrDanglingDependency):
		return UnprocessableEntity(err.Error())

	default:
		return InternalServerError("An unexpected error occurred while processing the request")
	}
}
