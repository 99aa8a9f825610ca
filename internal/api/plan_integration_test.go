// Package api provides HTTP API server implementation for the Fletcher service.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/fletcher-io/fletcher/internal/auth"
	"github.com/fletcher-io/fletcher/internal/config"
	"github.com/fletcher-io/fletcher/internal/plan"
	"github.com/fletcher-io/fletcher/internal/storage"
)

// planTestServer bundles a server wired to a real PostgreSQL container. The
// registry holds a conductor with the full role set and an auditor limited
// to update, so role scoping can be exercised end to end.
type planTestServer struct {
	server         *Server
	conductorToken string
	auditorToken   string
}

// setupPlanTestServer builds the full stack: container database, plan store,
// plan service, auth service, server. Tokens for both accounts are obtained
// through the login route rather than minted directly, so every test here
// also rides on a real credential exchange.
func setupPlanTestServer(ctx context.Context, t *testing.T) *planTestServer {
	t.Helper()

	testDB := config.SetupTestDatabase(ctx, t)
	storageConn := &storage.Connection{DB: testDB.Connection}

	store, err := storage.NewPlanStore(storageConn)
	require.NoError(t, err, "Failed to create plan store")

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	logger := slog.New(slog.DiscardHandler)
	planService := plan.NewService(store, logger)

	const (
		conductorKey = "conductor-container-key"
		auditorKey   = "auditor-container-key"
	)

	conductorHash, err := auth.HashKey(conductorKey)
	require.NoError(t, err, "Failed to hash conductor key")

	auditorHash, err := auth.HashKey(auditorKey)
	require.NoError(t, err, "Failed to hash auditor key")

	registry, err := auth.NewRegistry([]auth.ServiceAccount{
		{
			Service: "conductor",
			Hash:    conductorHash,
			Roles:   []auth.Role{auth.RolePublish, auth.RoleUpdate, auth.RolePause, auth.RoleDisable},
		},
		{
			Service: "auditor",
			Hash:    auditorHash,
			Roles:   []auth.Role{auth.RoleUpdate},
		},
	})
	require.NoError(t, err, "Failed to build registry")

	issuer := auth.NewTokenIssuer([]byte("plan-integration-secret"))
	authService := auth.NewService(registry, issuer, logger)

	server := NewServer(newTestServerConfig(), planService, authService, store, nil)

	ts := &planTestServer{server: server}
	ts.conductorToken = ts.obtainToken(t, "conductor", conductorKey)
	ts.auditorToken = ts.obtainToken(t, "auditor", auditorKey)

	return ts
}

// obtainToken exchanges credentials for a bearer token via the login route.
func (ts *planTestServer) obtainToken(t *testing.T, service, key string) string {
	t.Helper()

	body := fmt.Sprintf(`{"service":%q,"key":%q}`, service, key)
	rr := ts.do(t, http.MethodPost, "/api/auth/login", "", body)
	require.Equal(t, http.StatusOK, rr.Code, "login(%s) body: %s", service, rr.Body.String())

	var grant AuthenticatedResponse

	err := json.Unmarshal(rr.Body.Bytes(), &grant)
	require.NoError(t, err, "Failed to parse login response")

	return grant.AccessToken
}

// do issues a request against the in-process handler stack.
func (ts *planTestServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	ts.server.httpServer.Handler.ServeHTTP(rr, req)

	return rr
}

// submitPlan posts a submission as the conductor and requires a 200.
func (ts *planTestServer) submitPlan(t *testing.T, body string) *PlanResponse {
	t.Helper()

	rr := ts.do(t, http.MethodPost, "/api/plan_dag", ts.conductorToken, body)

	return decodePlan(t, rr)
}

// changeState posts a state transition as the conductor.
func (ts *planTestServer) changeState(t *testing.T, datasetID uuid.UUID, productID, body string) *httptest.ResponseRecorder {
	t.Helper()

	path := fmt.Sprintf("/api/state/%s/%s", datasetID, productID)

	return ts.do(t, http.MethodPost, path, ts.conductorToken, body)
}

// pipelineBody builds the wire form of a three-product extract -> transform
// -> load pipeline. Kept as raw JSON so the key names of the submission
// contract are pinned down in at least one place.
func pipelineBody(datasetID uuid.UUID) string {
	return fmt.Sprintf(`{
		"dataset": {"id": %q, "extra": {"team": "search"}},
		"data_products": [
			{"id": "extract", "compute": "cams", "name": "extract", "version": "1.0.0", "eager": true},
			{"id": "transform", "compute": "dbxaas", "name": "transform", "version": "1.0.0",
				"passthrough": {"cluster": "small"}},
			{"id": "load", "compute": "cams", "name": "load", "version": "1.0.0"}
		],
		"dependencies": [
			{"parent_id": "extract", "child_id": "transform"},
			{"parent_id": "transform", "child_id": "load"}
		]
	}`, datasetID)
}

// planBody builds a minimal submission from bare product ids and edges.
func planBody(t *testing.T, datasetID uuid.UUID, productIDs []string, edges [][2]string) string {
	t.Helper()

	req := PlanRequest{Dataset: DatasetRequest{ID: datasetID}}
	for _, id := range productIDs {
		req.DataProducts = append(req.DataProducts, DataProductRequest{
			ID:      id,
			Compute: "cams",
			Name:    id,
			Version: "1.0.0",
		})
	}

	for _, edge := range edges {
		req.Dependencies = append(req.Dependencies, DependencyRequest{ParentID: edge[0], ChildID: edge[1]})
	}

	body, err := json.Marshal(&req)
	require.NoError(t, err, "Failed to marshal plan request")

	return string(body)
}

// decodePlan parses a 200 plan payload.
func decodePlan(t *testing.T, rr *httptest.ResponseRecorder) *PlanResponse {
	t.Helper()

	require.Equal(t, http.StatusOK, rr.Code, "Response body: %s", rr.Body.String())

	var resp PlanResponse

	err := json.Unmarshal(rr.Body.Bytes(), &resp)
	require.NoError(t, err, "Failed to parse plan response")

	return &resp
}

// decodeProduct parses a 200 data product payload.
func decodeProduct(t *testing.T, rr *httptest.ResponseRecorder) *DataProductResponse {
	t.Helper()

	require.Equal(t, http.StatusOK, rr.Code, "Response body: %s", rr.Body.String())

	var resp DataProductResponse

	err := json.Unmarshal(rr.Body.Bytes(), &resp)
	require.NoError(t, err, "Failed to parse data product response")

	return &resp
}

// decodeDataset parses a 200 dataset payload.
func decodeDataset(t *testing.T, rr *httptest.ResponseRecorder) *DatasetResponse {
	t.Helper()

	require.Equal(t, http.StatusOK, rr.Code, "Response body: %s", rr.Body.String())

	var resp DatasetResponse

	err := json.Unmarshal(rr.Body.Bytes(), &resp)
	require.NoError(t, err, "Failed to parse dataset response")

	return &resp
}

// requireProblem asserts an RFC 7807 response and returns the parsed problem.
func requireProblem(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus int) *ProblemDetail {
	t.Helper()

	assert.Equal(t, expectedStatus, rr.Code, "Response body: %s", rr.Body.String())
	assert.Equal(t, contentTypeProblemJSON, rr.Header().Get("Content-Type"))

	var problem ProblemDetail

	err := json.Unmarshal(rr.Body.Bytes(), &problem)
	require.NoError(t, err, "Failed to parse problem response")

	assert.Equal(t, expectedStatus, problem.Status)
	assert.NotEmpty(t, problem.Title, "Missing 'title' field in problem response")
	assert.NotEmpty(t, problem.Detail, "Missing 'detail' field in problem response")
	assert.NotEmpty(t, problem.CorrelationID, "Missing correlation id in problem response")

	return &problem
}

// productByID picks a product out of a plan response.
func productByID(t *testing.T, resp *PlanResponse, id string) *DataProductResponse {
	t.Helper()

	for i := range resp.DataProducts {
		if resp.DataProducts[i].ID == id {
			return &resp.DataProducts[i]
		}
	}

	t.Fatalf("data product %q not in response", id)

	return nil
}

// TestPlanSubmission_RoundTrip submits a pipeline and verifies the echoed
// plan and a subsequent read return the same persisted rows.
func TestPlanSubmission_RoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	ts := setupPlanTestServer(ctx, t)
	datasetID := uuid.New()

	submitted := ts.submitPlan(t, pipelineBody(datasetID))

	assert.Equal(t, datasetID, submitted.Dataset.ID)
	assert.False(t, submitted.Dataset.Paused)
	assert.JSONEq(t, `{"team":"search"}`, string(submitted.Dataset.Extra))
	assert.Equal(t, "conductor", submitted.Dataset.ModifiedBy)
	assert.False(t, submitted.Dataset.ModifiedDate.IsZero())

	require.Len(t, submitted.DataProducts, 3)
	require.Len(t, submitted.Dependencies, 2)

	// Inserted products start at waiting with no run fields, stamped with
	// the authenticated service name.
	for _, dp := range submitted.DataProducts {
		assert.Equal(t, "waiting", dp.State, "product %s", dp.ID)
		assert.Nil(t, dp.RunID, "product %s", dp.ID)
		assert.Nil(t, dp.Link, "product %s", dp.ID)
		assert.Nil(t, dp.Passback, "product %s", dp.ID)
		assert.Equal(t, "conductor", dp.ModifiedBy, "product %s", dp.ID)
	}

	extract := productByID(t, submitted, "extract")
	assert.True(t, extract.Eager)
	assert.Equal(t, "cams", extract.Compute)

	transform := productByID(t, submitted, "transform")
	assert.Equal(t, "dbxaas", transform.Compute)
	assert.JSONEq(t, `{"cluster":"small"}`, string(transform.Passthrough))

	// Dependencies come back ordered by (parent, child).
	assert.Equal(t, "extract", submitted.Dependencies[0].ParentID)
	assert.Equal(t, "transform", submitted.Dependencies[0].ChildID)
	assert.Equal(t, "transform", submitted.Dependencies[1].ParentID)
	assert.Equal(t, "load", submitted.Dependencies[1].ChildID)

	rr := ts.do(t, http.MethodGet, "/api/plan_dag/"+datasetID.String(), ts.conductorToken, "")
	fetched := decodePlan(t, rr)

	assert.Equal(t, submitted, fetched, "read should return exactly what the submission echoed")
}

// TestPlanSubmission_Incremental verifies that resubmission preserves state
// and that later submissions may reference earlier products.
func TestPlanSubmission_Incremental(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	ts := setupPlanTestServer(ctx, t)
	datasetID := uuid.New()

	ts.submitPlan(t, pipelineBody(datasetID))

	// Advance one product so the resubmission has state to clobber.
	rr := ts.changeState(t, datasetID, "extract", `{"state": "queued"}`)
	queued := decodeProduct(t, rr)
	assert.Equal(t, "queued", queued.State)

	t.Run("Resubmission Preserves State", func(t *testing.T) {
		resubmitted := ts.submitPlan(t, pipelineBody(datasetID))

		require.Len(t, resubmitted.DataProducts, 3, "resubmission must not duplicate products")
		require.Len(t, resubmitted.Dependencies, 2, "resubmission must not duplicate dependencies")
		assert.Equal(t, "queued", productByID(t, resubmitted, "extract").State,
			"upsert must not reset the lifecycle state")
	})

	t.Run("Dependency May Reference Prior Product", func(t *testing.T) {
		// "report" hangs off "load", which exists only in the prior plan.
		grown := ts.submitPlan(t, planBody(t, datasetID, []string{"report"}, [][2]string{{"load", "report"}}))

		require.Len(t, grown.DataProducts, 4)
		require.Len(t, grown.Dependencies, 3)
		assert.Equal(t, "waiting", productByID(t, grown, "report").State)
		assert.Equal(t, "queued", productByID(t, grown, "extract").State)
	})

	t.Run("Version Bump Updates Definition", func(t *testing.T) {
		body := planBody(t, datasetID, []string{"report"}, nil)
		bumped := strings.ReplaceAll(body, `"version":"1.0.0"`, `"version":"2.0.0"`)

		updated := ts.submitPlan(t, bumped)
		assert.Equal(t, "2.0.0", productByID(t, updated, "report").Version)
	})
}

// TestPlanSubmission_Rejections drives the submission validation chain over
// HTTP: referential integrity, acyclicity and duplicate detection.
func TestPlanSubmission_Rejections(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	ts := setupPlanTestServer(ctx, t)

	t.Run("Unknown Dataset Read", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/api/plan_dag/"+uuid.NewString(), ts.conductorToken, "")

		problem := requireProblem(t, rr, http.StatusNotFound)
		assert.Contains(t, problem.Detail, "plan not found")
	})

	t.Run("Cycle Rejected", func(t *testing.T) {
		body := planBody(t, uuid.New(), []string{"a", "b"}, [][2]string{{"a", "b"}, {"b", "a"}})
		rr := ts.do(t, http.MethodPost, "/api/plan_dag", ts.conductorToken, body)

		problem := requireProblem(t, rr, http.StatusUnprocessableEntity)
		assert.Contains(t, problem.Detail, "cyclical")
	})

	t.Run("Self Loop Rejected", func(t *testing.T) {
		body := planBody(t, uuid.New(), []string{"a"}, [][2]string{{"a", "a"}})
		rr := ts.do(t, http.MethodPost, "/api/plan_dag", ts.conductorToken, body)

		requireProblem(t, rr, http.StatusUnprocessableEntity)
	})

	t.Run("Cycle Across Submissions Rejected", func(t *testing.T) {
		datasetID := uuid.New()
		ts.submitPlan(t, planBody(t, datasetID, []string{"a", "b"}, [][2]string{{"a", "b"}}))

		// The reverse edge is acyclic on its own; only the union with the
		// persisted plan closes the loop.
		rr := ts.do(t, http.MethodPost, "/api/plan_dag", ts.conductorToken,
			planBody(t, datasetID, nil, [][2]string{{"b", "a"}}))

		problem := requireProblem(t, rr, http.StatusUnprocessableEntity)
		assert.Contains(t, problem.Detail, "cyclical")
	})

	t.Run("Dangling Dependency Rejected", func(t *testing.T) {
		body := planBody(t, uuid.New(), []string{"a"}, [][2]string{{"a", "ghost"}})
		rr := ts.do(t, http.MethodPost, "/api/plan_dag", ts.conductorToken, body)

		problem := requireProblem(t, rr, http.StatusUnprocessableEntity)
		assert.Contains(t, problem.Detail, "dangling dependency")
		assert.Contains(t, problem.Detail, "ghost")
	})

	t.Run("Duplicate Product Rejected", func(t *testing.T) {
		body := planBody(t, uuid.New(), []string{"a", "a"}, nil)
		rr := ts.do(t, http.MethodPost, "/api/plan_dag", ts.conductorToken, body)

		problem := requireProblem(t, rr, http.StatusBadRequest)
		assert.Contains(t, problem.Detail, "duplicate data product")
	})

	t.Run("Duplicate Dependency Rejected", func(t *testing.T) {
		body := planBody(t, uuid.New(), []string{"a", "b"}, [][2]string{{"a", "b"}, {"a", "b"}})
		rr := ts.do(t, http.MethodPost, "/api/plan_dag", ts.conductorToken, body)

		problem := requireProblem(t, rr, http.StatusBadRequest)
		assert.Contains(t, problem.Detail, "duplicate dependency")
	})

	t.Run("Rejected Submission Leaves No Rows", func(t *testing.T) {
		datasetID := uuid.New()
		body := planBody(t, datasetID, []string{"a", "b"}, [][2]string{{"a", "b"}, {"b", "a"}})
		rr := ts.do(t, http.MethodPost, "/api/plan_dag", ts.conductorToken, body)
		requireProblem(t, rr, http.StatusUnprocessableEntity)

		rr = ts.do(t, http.MethodGet, "/api/plan_dag/"+datasetID.String(), ts.conductorToken, "")
		requireProblem(t, rr, http.StatusNotFound)
	})
}

// TestStateTransitions_Lifecycle walks data products through the legal state
// machine over HTTP and verifies the illegal hops answer with problems.
func TestStateTransitions_Lifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	ts := setupPlanTestServer(ctx, t)
	datasetID := uuid.New()
	runID := uuid.New()

	ts.submitPlan(t, pipelineBody(datasetID))

	t.Run("Waiting To Queued", func(t *testing.T) {
		product := decodeProduct(t, ts.changeState(t, datasetID, "extract", `{"state": "queued"}`))

		assert.Equal(t, "queued", product.State)
		assert.Nil(t, product.RunID)
		assert.Equal(t, "conductor", product.ModifiedBy)
	})

	t.Run("Queued To Running Carries Run Fields", func(t *testing.T) {
		body := fmt.Sprintf(`{"state": "running", "run_id": %q,
			"link": "https://runs.example.com/42", "passback": {"attempt": 1}}`, runID)
		product := decodeProduct(t, ts.changeState(t, datasetID, "extract", body))

		assert.Equal(t, "running", product.State)
		require.NotNil(t, product.RunID)
		assert.Equal(t, runID, *product.RunID)
		require.NotNil(t, product.Link)
		assert.Equal(t, "https://runs.example.com/42", *product.Link)
		assert.JSONEq(t, `{"attempt": 1}`, string(product.Passback))
	})

	t.Run("Running To Success", func(t *testing.T) {
		body := fmt.Sprintf(`{"state": "success", "run_id": %q, "link": "https://runs.example.com/42"}`, runID)
		product := decodeProduct(t, ts.changeState(t, datasetID, "extract", body))

		assert.Equal(t, "success", product.State)
	})

	t.Run("Terminal State Is Immutable", func(t *testing.T) {
		rr := ts.changeState(t, datasetID, "extract", `{"state": "queued"}`)

		problem := requireProblem(t, rr, http.StatusBadRequest)
		assert.Contains(t, problem.Detail, "success -> queued")
	})

	t.Run("Skipping The Queue Is Rejected", func(t *testing.T) {
		body := fmt.Sprintf(`{"state": "running", "run_id": %q}`, runID)
		rr := ts.changeState(t, datasetID, "transform", body)

		problem := requireProblem(t, rr, http.StatusBadRequest)
		assert.Contains(t, problem.Detail, "waiting -> running")
	})

	t.Run("Run Fields Rejected Off Run States", func(t *testing.T) {
		body := fmt.Sprintf(`{"state": "queued", "run_id": %q}`, runID)
		rr := ts.changeState(t, datasetID, "transform", body)

		problem := requireProblem(t, rr, http.StatusBadRequest)
		assert.Contains(t, problem.Detail, "run_id not allowed")
	})

	t.Run("Failure Requires Run Id", func(t *testing.T) {
		decodeProduct(t, ts.changeState(t, datasetID, "load", `{"state": "queued"}`))
		decodeProduct(t, ts.changeState(t, datasetID, "load", `{"state": "running"}`))

		rr := ts.changeState(t, datasetID, "load", `{"state": "failed"}`)
		problem := requireProblem(t, rr, http.StatusBadRequest)
		assert.Contains(t, problem.Detail, "requires run_id")

		failed := decodeProduct(t, ts.changeState(t, datasetID, "load",
			fmt.Sprintf(`{"state": "failed", "run_id": %q}`, runID)))
		assert.Equal(t, "failed", failed.State)
		assert.Nil(t, failed.Link)
	})

	t.Run("Unknown Product", func(t *testing.T) {
		rr := ts.changeState(t, datasetID, "ghost", `{"state": "queued"}`)

		problem := requireProblem(t, rr, http.StatusNotFound)
		assert.Contains(t, problem.Detail, "data product not found")
	})

	t.Run("Unknown Dataset", func(t *testing.T) {
		rr := ts.changeState(t, uuid.New(), "extract", `{"state": "queued"}`)

		requireProblem(t, rr, http.StatusNotFound)
	})
}

// TestPauseGate verifies that a paused dataset blocks every non-terminal
// advance while completions and quarantines still land.
func TestPauseGate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	ts := setupPlanTestServer(ctx, t)
	datasetID := uuid.New()
	runID := uuid.New()

	ts.submitPlan(t, pipelineBody(datasetID))

	// Put one product in flight before pausing.
	decodeProduct(t, ts.changeState(t, datasetID, "extract", `{"state": "queued"}`))
	decodeProduct(t, ts.changeState(t, datasetID, "extract",
		fmt.Sprintf(`{"state": "running", "run_id": %q}`, runID)))

	pausePath := "/api/pause/" + datasetID.String()

	dataset := decodeDataset(t, ts.do(t, http.MethodPost, pausePath, ts.conductorToken, `{"paused": true}`))
	assert.True(t, dataset.Paused)
	assert.Equal(t, "conductor", dataset.ModifiedBy)

	t.Run("Advance Blocked While Paused", func(t *testing.T) {
		rr := ts.changeState(t, datasetID, "transform", `{"state": "queued"}`)

		problem := requireProblem(t, rr, http.StatusBadRequest)
		assert.Contains(t, problem.Detail, "paused")
	})

	t.Run("Completion Lands While Paused", func(t *testing.T) {
		body := fmt.Sprintf(`{"state": "success", "run_id": %q, "link": "https://runs.example.com/7"}`, runID)
		product := decodeProduct(t, ts.changeState(t, datasetID, "extract", body))

		assert.Equal(t, "success", product.State)
	})

	t.Run("Quarantine Lands While Paused", func(t *testing.T) {
		path := fmt.Sprintf("/api/disable/%s/transform", datasetID)
		product := decodeProduct(t, ts.do(t, http.MethodPost, path, ts.conductorToken, ""))

		assert.Equal(t, "disabled", product.State)
	})

	t.Run("Re-Enable Blocked While Paused", func(t *testing.T) {
		path := fmt.Sprintf("/api/enable/%s/transform", datasetID)
		rr := ts.do(t, http.MethodPost, path, ts.conductorToken, "")

		problem := requireProblem(t, rr, http.StatusBadRequest)
		assert.Contains(t, problem.Detail, "paused")
	})

	t.Run("Unpause Restores Flow", func(t *testing.T) {
		dataset := decodeDataset(t, ts.do(t, http.MethodPost, pausePath, ts.conductorToken, `{"paused": false}`))
		assert.False(t, dataset.Paused)

		path := fmt.Sprintf("/api/enable/%s/transform", datasetID)
		enabled := decodeProduct(t, ts.do(t, http.MethodPost, path, ts.conductorToken, ""))
		assert.Equal(t, "waiting", enabled.State)

		queued := decodeProduct(t, ts.changeState(t, datasetID, "transform", `{"state": "queued"}`))
		assert.Equal(t, "queued", queued.State)
	})

	t.Run("Pause Unknown Dataset", func(t *testing.T) {
		rr := ts.do(t, http.MethodPost, "/api/pause/"+uuid.NewString(), ts.conductorToken, `{"paused": true}`)

		requireProblem(t, rr, http.StatusNotFound)
	})
}

// TestDisableFlow verifies the quarantine loop: disable clears run fields,
// blocks every transition except the re-enable, and re-enabling puts the
// product back at the start of the lifecycle.
func TestDisableFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	ts := setupPlanTestServer(ctx, t)
	datasetID := uuid.New()
	runID := uuid.New()

	ts.submitPlan(t, pipelineBody(datasetID))

	// Run fields populated so the quarantine has something to clear.
	decodeProduct(t, ts.changeState(t, datasetID, "extract", `{"state": "queued"}`))
	decodeProduct(t, ts.changeState(t, datasetID, "extract", fmt.Sprintf(
		`{"state": "running", "run_id": %q, "link": "https://runs.example.com/9", "passback": {"attempt": 2}}`,
		runID)))

	disablePath := fmt.Sprintf("/api/disable/%s/extract", datasetID)
	enablePath := fmt.Sprintf("/api/enable/%s/extract", datasetID)

	t.Run("Disable Clears Run Fields", func(t *testing.T) {
		product := decodeProduct(t, ts.do(t, http.MethodPost, disablePath, ts.conductorToken, ""))

		assert.Equal(t, "disabled", product.State)
		assert.Nil(t, product.RunID)
		assert.Nil(t, product.Link)
		assert.Nil(t, product.Passback)
	})

	t.Run("Updates Rejected While Disabled", func(t *testing.T) {
		rr := ts.changeState(t, datasetID, "extract", `{"state": "queued"}`)

		problem := requireProblem(t, rr, http.StatusForbidden)
		assert.Contains(t, problem.Detail, "disabled")
	})

	t.Run("Disable Is Not Reentrant", func(t *testing.T) {
		rr := ts.do(t, http.MethodPost, disablePath, ts.conductorToken, "")

		requireProblem(t, rr, http.StatusForbidden)
	})

	t.Run("Enable Returns To Waiting", func(t *testing.T) {
		product := decodeProduct(t, ts.do(t, http.MethodPost, enablePath, ts.conductorToken, ""))

		assert.Equal(t, "waiting", product.State)
		assert.Nil(t, product.RunID)
		assert.Nil(t, product.Link)
		assert.Nil(t, product.Passback)
	})

	t.Run("Lifecycle Restarts After Re-Enable", func(t *testing.T) {
		product := decodeProduct(t, ts.changeState(t, datasetID, "extract", `{"state": "queued"}`))

		assert.Equal(t, "queued", product.State)
	})

	t.Run("Enable Unknown Product", func(t *testing.T) {
		path := fmt.Sprintf("/api/enable/%s/ghost", datasetID)
		rr := ts.do(t, http.MethodPost, path, ts.conductorToken, "")

		requireProblem(t, rr, http.StatusNotFound)
	})
}

// TestPlanRoles_EndToEnd verifies role scoping with real tokens: the auditor
// account holds only update, so everything else answers 403.
func TestPlanRoles_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	ts := setupPlanTestServer(ctx, t)
	datasetID := uuid.New()

	ts.submitPlan(t, pipelineBody(datasetID))

	t.Run("Auditor Cannot Publish", func(t *testing.T) {
		rr := ts.do(t, http.MethodPost, "/api/plan_dag", ts.auditorToken, pipelineBody(uuid.New()))

		problem := requireProblem(t, rr, http.StatusForbidden)
		assert.Contains(t, problem.Detail, "publish")
	})

	t.Run("Auditor Cannot Pause", func(t *testing.T) {
		rr := ts.do(t, http.MethodPost, "/api/pause/"+datasetID.String(), ts.auditorToken, `{"paused": true}`)

		problem := requireProblem(t, rr, http.StatusForbidden)
		assert.Contains(t, problem.Detail, "pause")
	})

	t.Run("Auditor Cannot Disable", func(t *testing.T) {
		path := fmt.Sprintf("/api/disable/%s/extract", datasetID)
		rr := ts.do(t, http.MethodPost, path, ts.auditorToken, "")

		problem := requireProblem(t, rr, http.StatusForbidden)
		assert.Contains(t, problem.Detail, "disable")
	})

	t.Run("Auditor Can Update State", func(t *testing.T) {
		path := fmt.Sprintf("/api/state/%s/extract", datasetID)
		product := decodeProduct(t, ts.do(t, http.MethodPost, path, ts.auditorToken, `{"state": "queued"}`))

		assert.Equal(t, "queued", product.State)
		assert.Equal(t, "auditor", product.ModifiedBy, "audit stamp must name the calling service")
	})

	t.Run("Auditor Can Read Plans", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/api/plan_dag/"+datasetID.String(), ts.auditorToken, "")

		fetched := decodePlan(t, rr)
		assert.Equal(t, datasetID, fetched.Dataset.ID)
	})
}
