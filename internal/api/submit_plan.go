package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/fletcher-io/fletcher/internal/api/middleware"
	"github.com/fletcher-io/fletcher/internal/auth"
)

// handleSubmitPlan handles plan submission.
// POST /api/plan_dag - Register or update a dataset plan in one transaction
//
// Submission is an upsert: data products and dependencies are inserted or
// updated by ID, never deleted, and execution state is never touched. The
// dependency graph is validated against the union of the submission and
// previously registered products before anything is written.
//
// Request validation (returns 4xx):
//   - 415 Unsupported Media Type: Content-Type must be application/json
//   - 413 Payload Too Large: Request body exceeds MaxRequestSize
//   - 400 Bad Request: Empty body, invalid JSON, unknown compute backend,
//     or a duplicate product/dependency within the submission
//   - 403 Forbidden: Token lacks the publish role
//   - 422 Unprocessable Entity: Dependency cycle or dangling dependency
//
// Success response:
//   - 200 OK: The persisted plan, including server-side audit fields
func (s *Server) handleSubmitPlan(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	correlationID := middleware.GetCorrelationID(r.Context())

	user, problem := requireRole(r, auth.RolePublish)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	var req PlanRequest
	if problem := s.readJSONBody(r, &req); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	param, err := mapPlanRequest(&req)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	persisted, err := s.planService.AddPlan(r.Context(), param, user)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, problemFromError(err))

		return
	}

	s.sendJSON(w, r, http.StatusOK, mapPlan(persisted))

	s.logger.Info("Plan submitted",
		slog.String("correlation_id", correlationID),
		slog.String("dataset_id", persisted.Dataset.ID.String()),
		slog.Int("data_products", len(persisted.DataProducts)),
		slog.Int("dependencies", len(persisted.Dependencies)),
		slog.String("submitted_by", user),
		slog.Duration("duration", time.Since(startTime)),
	)
}
