package plan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fletcher-io/fletcher/internal/graph"
)

// Sentinel errors for plan service validation.
// These can be used with errors.Is() for error checking.
var (
	// ErrPlanNotFound indicates no plan exists for the requested dataset.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrMissingProduct indicates a state change addressed a data product
	// that is not registered for the dataset.
	ErrMissingProduct = errors.New("data product not found")

	// ErrDuplicateProduct indicates a submission listed the same data
	// product id more than once.
	ErrDuplicateProduct = errors.New("duplicate data product")

	// ErrDuplicateDependency indicates a submission listed the same
	// (parent, child) dependency more than once.
	ErrDuplicateDependency = errors.New("duplicate dependency")

	// ErrDanglingDependency indicates a dependency referencing a product id
	// that is neither in the submission nor already persisted for the
	// dataset.
	ErrDanglingDependency = errors.New("dangling dependency")
)

// Service owns the plan flows: incremental plan submission, plan reads,
// data product state transitions, and dataset pausing. Each operation runs
// in a single transaction obtained from the Store.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a plan service backed by the given store.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
	}
}

// AddPlan validates and persists a plan submission.
//
// Submissions are incremental: validation runs over the union of the
// submitted plan and whatever is already persisted for the dataset, so a
// dependency may reference a product defined in an earlier submission. The
// dataset row is locked for the duration, serialising concurrent
// submissions for the same dataset.
//
// A submission with no products and no dependencies is a plain dataset
// update and commits normally.
func (s *Service) AddPlan(ctx context.Context, param PlanParam, user string) (*Plan, error) {
	now := batchTime()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	// Lock before reading prior state so a concurrent submission for the
	// same dataset is observed as prior, not lost.
	prior, err := tx.PlanSelectForUpdate(ctx, param.Dataset.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to select prior plan: %w", err)
	}

	if err := validateSubmission(param, prior); err != nil {
		return nil, err
	}

	current, err := tx.PlanUpsert(ctx, param, user, now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert plan: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.InfoContext(ctx, "plan stored",
		"dataset_id", param.Dataset.ID,
		"data_products", len(current.DataProducts),
		"dependencies", len(current.Dependencies),
		"modified_by", user,
	)

	return current, nil
}

// ReadPlan composes the persisted plan for a dataset.
func (s *Service) ReadPlan(ctx context.Context, datasetID uuid.UUID) (*Plan, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Read-only: the deferred rollback ends the transaction without
	// committing, so the read leaves no trace.
	defer func() { _ = tx.Rollback() }()

	p, err := tx.PlanSelect(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to select plan: %w", err)
	}

	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, datasetID)
	}

	return p, nil
}

// ChangeState applies one state transition to a data product.
//
// The product row is locked before its current state is read, so the
// transition gates evaluate against a state no concurrent request can
// change underneath them.
func (s *Service) ChangeState(ctx context.Context, datasetID uuid.UUID, productID string, param StateParam, user string) (*DataProduct, error) {
	now := batchTime()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	product, err := tx.DataProductSelectForUpdate(ctx, datasetID, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to select data product: %w", err)
	}

	if product == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingProduct, productID)
	}

	dataset, err := tx.DatasetSelect(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to select dataset: %w", err)
	}

	if dataset == nil {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, datasetID)
	}

	if err := ValidateStateChange(product.State, dataset.Paused, param); err != nil {
		return nil, err
	}

	updated, err := tx.StateUpdate(ctx, datasetID, productID, param, user, now)
	if err != nil {
		return nil, fmt.Errorf("failed to update state: %w", err)
	}

	if updated == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingProduct, productID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.DebugContext(ctx, "data product state changed",
		"dataset_id", datasetID,
		"data_product_id", productID,
		"from", product.State,
		"to", updated.State,
		"modified_by", user,
	)

	return updated, nil
}

// SetPause flips the pause flag on a dataset. While paused, the dataset
// rejects non-terminal state advances for all of its data products.
func (s *Service) SetPause(ctx context.Context, datasetID uuid.UUID, paused bool, user string) (*Dataset, error) {
	now := batchTime()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	dataset, err := tx.DatasetPauseUpdate(ctx, datasetID, paused, user, now)
	if err != nil {
		return nil, fmt.Errorf("failed to update pause flag: %w", err)
	}

	if dataset == nil {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, datasetID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.InfoContext(ctx, "dataset pause flag set",
		"dataset_id", datasetID,
		"paused", paused,
		"modified_by", user,
	)

	return dataset, nil
}

// Disable quarantines a data product. The product drops out of scheduling
// until re-enabled.
func (s *Service) Disable(ctx context.Context, datasetID uuid.UUID, productID string, user string) (*DataProduct, error) {
	return s.ChangeState(ctx, datasetID, productID, StateParam{State: StateDisabled}, user)
}

// Enable re-enables a quarantined data product back to waiting, clearing
// its run fields.
func (s *Service) Enable(ctx context.Context, datasetID uuid.UUID, productID string, user string) (*DataProduct, error) {
	return s.ChangeState(ctx, datasetID, productID, StateParam{State: StateWaiting}, user)
}

// validateSubmission runs the write-path validation chain: duplicate
// detection on the submission itself, then referential and acyclicity
// checks over the union of the submission and the prior plan.
func validateSubmission(param PlanParam, prior *Plan) error {
	if id, dup := param.DuplicateProduct(); dup {
		return fmt.Errorf("%w: %s", ErrDuplicateProduct, id)
	}

	if parent, child, dup := param.DuplicateDependency(); dup {
		return fmt.Errorf("%w: %s -> %s", ErrDuplicateDependency, parent, child)
	}

	nodes := param.ProductIDs()
	edges := param.DependencyEdges()

	if prior != nil {
		nodes = append(nodes, prior.ProductIDs()...)
		edges = append(edges, prior.DependencyEdges()...)
	}

	known := make(map[string]struct{}, len(nodes))
	for _, id := range nodes {
		known[id] = struct{}{}
	}

	for _, dep := range param.Dependencies {
		if _, ok := known[dep.ParentID]; !ok {
			return fmt.Errorf("%w: no data product for parent %q", ErrDanglingDependency, dep.ParentID)
		}
	}

	for _, dep := range param.Dependencies {
		if _, ok := known[dep.ChildID]; !ok {
			return fmt.Errorf("%w: no data product for child %q", ErrDanglingDependency, dep.ChildID)
		}
	}

	// Build dedupes resubmitted nodes and edges, so overlap between the
	// submission and the prior plan is fine; a cycle anywhere in the union
	// is not.
	if _, err := graph.Build(nodes, edges); err != nil {
		return fmt.Errorf("dependency graph rejected: %w", err)
	}

	return nil
}

// batchTime returns the single timestamp stamped on every row written by
// one service operation. Truncated to microseconds to match timestamptz
// precision, so a written value reads back equal.
func batchTime() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
