package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/fletcher-io/fletcher/internal/api/middleware"
	"github.com/fletcher-io/fletcher/internal/auth"
)

// handlePauseDataset handles the dataset pause gate.
// POST /api/pause/{dataset_id} - Pause or resume a dataset
//
// While a dataset is paused, state transitions for its data products are
// rejected unless the target is terminal, so in-flight runs can still
// complete and products can still be disabled. The flag is idempotent:
// setting the current value again succeeds and refreshes the audit fields.
//
// Request validation (returns 4xx):
//   - 415 Unsupported Media Type: Content-Type must be application/json
//   - 413 Payload Too Large: Request body exceeds MaxRequestSize
//   - 400 Bad Request: Empty body, invalid JSON, or non-UUID dataset ID
//   - 403 Forbidden: Token lacks the pause role
//   - 404 Not Found: Dataset not registered
//
// Success response:
//   - 200 OK: The updated dataset row
func (s *Server) handlePauseDataset(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	correlationID := middleware.GetCorrelationID(r.Context())

	user, problem := requireRole(r, auth.RolePause)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	datasetID, problem := pathUUID(r, "dataset_id")
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	var req PauseRequest
	if problem := s.readJSONBody(r, &req); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	dataset, err := s.planService.SetPause(r.Context(), datasetID, req.Paused, user)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, problemFromError(err))

		return
	}

	s.sendJSON(w, r, http.StatusOK, mapDataset(dataset))

	s.logger.Info("Dataset pause flag set",
		slog.String("correlation_id", correlationID),
		slog.String("dataset_id", datasetID.String()),
		slog.Bool("paused", dataset.Paused),
		slog.String("changed_by", user),
		slog.Duration("duration", time.Since(startTime)),
	)
}
