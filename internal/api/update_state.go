package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/fletcher-io/fletcher/internal/api/middleware"
	"github.com/fletcher-io/fletcher/internal/auth"
)

// handleUpdateState handles data product state transitions.
// POST /api/state/{dataset_id}/{data_product_id} - Advance one product's state
//
// Transitions follow the lifecycle machine: waiting -> queued -> running ->
// success|failed. Run fields (run_id, link, passback) are only accepted in
// run-bearing states. A paused dataset rejects every transition except
// disable, and a disabled product rejects everything except enable.
//
// Request validation (returns 4xx):
//   - 415 Unsupported Media Type: Content-Type must be application/json
//   - 413 Payload Too Large: Request body exceeds MaxRequestSize
//   - 400 Bad Request: Empty body, invalid JSON, non-UUID dataset ID,
//     unknown state, illegal transition, or paused dataset
//   - 403 Forbidden: Token lacks the update role, or the product is disabled
//   - 404 Not Found: Dataset or data product not registered
//
// Success response:
//   - 200 OK: The updated data product with its new state and audit fields
func (s *Server) handleUpdateState(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	correlationID := middleware.GetCorrelationID(r.Context())

	user, problem := requireRole(r, auth.RoleUpdate)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	datasetID, problem := pathUUID(r, "dataset_id")
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	productID := r.PathValue("data_product_id")
	if productID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("Missing data product ID"))

		return
	}

	var req StateRequest
	if problem := s.readJSONBody(r, &req); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	param, err := mapStateRequest(&req)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	updated, err := s.planService.ChangeState(r.Context(), datasetID, productID, param, user)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, problemFromError(err))

		return
	}

	s.sendJSON(w, r, http.StatusOK, mapDataProduct(updated))

	s.logger.Info("Data product state changed",
		slog.String("correlation_id", correlationID),
		slog.String("dataset_id", datasetID.String()),
		slog.String("data_product_id", productID),
		slog.String("state", string(updated.State)),
		slog.String("changed_by", user),
		slog.Duration("duration", time.Since(startTime)),
	)
}
