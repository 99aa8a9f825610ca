package api

import (
	"net/http"
)

// handleGetPlan handles plan reads.
// GET /api/plan_dag/{dataset_id}
//
// Any authenticated service may read a plan; no specific role is required.
//
// Path Parameters:
//   - dataset_id: Dataset UUID
//
// Response: the registered plan with all data products and dependencies,
// 404 if the dataset has no plan, 400 if the path segment is not a UUID.
func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	datasetID, problem := pathUUID(r, "dataset_id")
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	persisted, err := s.planService.ReadPlan(r.Context(), datasetID)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, problemFromError(err))

		return
	}

	s.sendJSON(w, r, http.StatusOK, mapPlan(persisted))
}
