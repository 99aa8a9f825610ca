package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/fletcher-io/fletcher/internal/api/middleware"
	"github.com/fletcher-io/fletcher/internal/auth"
	"github.com/fletcher-io/fletcher/internal/plan"
)

// handleDisableProduct quarantines a data product.
// POST /api/disable/{dataset_id}/{data_product_id}
//
// Disabling is allowed from any non-terminal state and bypasses the pause
// gate. Products in success or failed cannot be disabled. The request takes
// no body; the path names the product.
//
// Response codes:
//   - 200 OK: The updated data product in the disabled state
//   - 400 Bad Request: Non-UUID dataset ID or illegal transition
//   - 403 Forbidden: Token lacks the disable role
//   - 404 Not Found: Dataset or data product not registered
func (s *Server) handleDisableProduct(w http.ResponseWriter, r *http.Request) {
	s.setProductAvailability(w, r, false)
}

// handleEnableProduct re-enables a quarantined data product.
// POST /api/enable/{dataset_id}/{data_product_id}
//
// Enabling returns the product to waiting and clears its run fields. Only
// disabled products can be enabled; response codes match handleDisableProduct.
func (s *Server) handleEnableProduct(w http.ResponseWriter, r *http.Request) {
	s.setProductAvailability(w, r, true)
}

// setProductAvailability implements both quarantine directions.
func (s *Server) setProductAvailability(w http.ResponseWriter, r *http.Request, enable bool) {
	startTime := time.Now()
	correlationID := middleware.GetCorrelationID(r.Context())

	user, problem := requireRole(r, auth.RoleDisable)
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

	var (
		updated *plan.DataProduct
		err     error
	)

	if enable {
		updated, err = s.planService.Enable(r.Context(), datasetID, productID, user)
	} else {
		updated, err = s.planService.Disable(r.Context(), datasetID, productID, user)
	}

	if err != nil {
		WriteErrorResponse(w, r, s.logger, problemFromError(err))

		return
	}

	s.sendJSON(w, r, http.StatusOK, mapDataProduct(updated))

	s.logger.Info("Data product availability changed",
		slog.String("correlation_id", correlationID),
		slog.String("dataset_id", datasetID.String()),
		slog.String("data_product_id", productID),
		slog.String("state", string(updated.State)),
		slog.String("changed_by", user),
		slog.Duration("duration", time.Since(startTime)),
	)
}
