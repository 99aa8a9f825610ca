// Package storage provides the PostgreSQL persistence layer for the
// Fletcher API.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fletcher-io/fletcher/internal/plan"
)

// Compile-time interface assertions to ensure the PostgreSQL implementation
// keeps satisfying the plan package's persistence boundary.
var (
	// PlanStore implements plan.Store (transaction factory).
	_ plan.Store = (*PlanStore)(nil)

	// planTx implements plan.Tx (single-transaction operations).
	_ plan.Tx = (*planTx)(nil)
)

type (
	// PlanStore implements plan.Store with a PostgreSQL backend.
	//
	// Every service operation runs inside one transaction obtained from
	// Begin, so the plan tables never observe a half-written submission:
	// either the dataset, its data products, and its dependencies all land,
	// or none of them do.
	PlanStore struct {
		conn *Connection
	}

	// planTx is one open transaction over the plan tables.
	planTx struct {
		tx *sql.Tx
	}
)

// NewPlanStore creates a PostgreSQL-backed plan store.
// Returns error if connection is nil (ErrNoDatabaseConnection).
func NewPlanStore(conn *Connection) (*PlanStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &PlanStore{conn: conn}, nil
}

// Begin opens a transaction on the plan tables.
func (s *PlanStore) Begin(ctx context.Context) (plan.Tx, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &planTx{tx: tx}, nil
}

// HealthCheck verifies the database connection is healthy and ready to serve
// requests. Used by the /ready and /health endpoints.
func (s *PlanStore) HealthCheck(ctx context.Context) error {
	if s.conn == nil {
		return ErrNoDatabaseConnection
	}

	return s.conn.HealthCheck(ctx)
}

// Close releases the underlying database connection pool. Called during
// server shutdown.
func (s *PlanStore) Close() error {
	if s.conn == nil {
		return nil
	}

	return s.conn.Close()
}

// PlanSelect composes the full plan for a dataset. Returns nil when the
// dataset does not exist.
func (t *planTx) PlanSelect(ctx context.Context, datasetID uuid.UUID) (*plan.Plan, error) {
	dataset, err := t.DatasetSelect(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	if dataset == nil {
		return nil, nil
	}

	return t.composePlan(ctx, *dataset)
}

// PlanSelectForUpdate composes the full plan with the dataset row locked.
//
// The FOR UPDATE lock on the dataset row serialises concurrent submissions
// for the same dataset: a later submission blocks here until an earlier one
// commits, then reads its rows as prior state. Without the lock, two
// submissions could validate against the same prior plan and commit edges
// that only form a cycle together.
func (t *planTx) PlanSelectForUpdate(ctx context.Context, datasetID uuid.UUID) (*plan.Plan, error) {
	query := `
		SELECT dataset_id, paused, extra, modified_by, modified_date
		FROM dataset
		WHERE dataset_id = $1
		FOR UPDATE
	`

	dataset, err := scanDataset(t.tx.QueryRowContext(ctx, query, datasetID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to select dataset for update: %w", classifyError(err))
	}

	return t.composePlan(ctx, *dataset)
}

// DatasetSelect fetches a single dataset row. Returns nil when the dataset
// does not exist.
func (t *planTx) DatasetSelect(ctx context.Context, datasetID uuid.UUID) (*plan.Dataset, error) {
	query := `
		SELECT dataset_id, paused, extra, modified_by, modified_date
		FROM dataset
		WHERE dataset_id = $1
	`

	dataset, err := scanDataset(t.tx.QueryRowContext(ctx, query, datasetID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to select dataset: %w", classifyError(err))
	}

	return dataset, nil
}

// DataProductSelectForUpdate fetches one data product with its row locked.
//
// State transitions read the current state, validate the transition, then
// write the new state. The FOR UPDATE lock pins the row for all three steps,
// so two concurrent transitions for the same product serialise instead of
// both validating against the same stale state.
func (t *planTx) DataProductSelectForUpdate(ctx context.Context, datasetID uuid.UUID, productID string) (*plan.DataProduct, error) {
	query := `
		SELECT data_product_id, compute, name, version, eager, passthrough,
		       state, run_id, link, passback, extra, modified_by, modified_date
		FROM data_product
		WHERE dataset_id = $1 AND data_product_id = $2
		FOR UPDATE
	`

	product, err := scanDataProduct(t.tx.QueryRowContext(ctx, query, datasetID, productID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to select data product for update: %w", classifyError(err))
	}

	return product, nil
}

// PlanUpsert writes a submission in FK-safe order (dataset, then data
// products, then dependencies) and returns the full plan read back from the
// same transaction. Every row carries the caller's ts as modified_date so
// one submission is identifiable in the audit columns.
func (t *planTx) PlanUpsert(ctx context.Context, param plan.PlanParam, user string, ts time.Time) (*plan.Plan, error) {
	dataset, err := t.datasetUpsert(ctx, param.Dataset, user, ts)
	if err != nil {
		return nil, err
	}

	for _, dp := range param.DataProducts {
		if err := t.dataProductUpsert(ctx, dataset.ID, dp, user, ts); err != nil {
			return nil, err
		}
	}

	for _, dep := range param.Dependencies {
		if err := t.dependencyUpsert(ctx, dataset.ID, dep, user, ts); err != nil {
			return nil, err
		}
	}

	return t.composePlan(ctx, *dataset)
}

// StateUpdate writes the state and run fields of one data product verbatim
// and returns the updated row. Returns nil when no such product exists.
//
// Run fields are written unconditionally: transitions into run-bearing
// states set them, transitions back to waiting clear them. The caller has
// already validated the combination against the target state.
func (t *planTx) StateUpdate(ctx context.Context, datasetID uuid.UUID, productID string, param plan.StateParam, user string, ts time.Time) (*plan.DataProduct, error) {
	query := `
		UPDATE data_product SET
			state = $3,
			run_id = $4,
			link = $5,
			passback = $6,
			modified_by = $7,
			modified_date = $8
		WHERE dataset_id = $1 AND data_product_id = $2
		RETURNING data_product_id, compute, name, version, eager, passthrough,
		          state, run_id, link, passback, extra, modified_by, modified_date
	`

	product, err := scanDataProduct(t.tx.QueryRowContext(ctx, query,
		datasetID,
		productID,
		param.State,
		param.RunID,
		param.Link,
		jsonbParam(param.Passback),
		user,
		ts,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to update data product state: %w", classifyError(err))
	}

	return product, nil
}

// DatasetPauseUpdate flips the pause flag on a dataset and returns the
// updated row. Returns nil when no such dataset exists.
func (t *planTx) DatasetPauseUpdate(ctx context.Context, datasetID uuid.UUID, paused bool, user string, ts time.Time) (*plan.Dataset, error) {
	query := `
		UPDATE dataset SET
			paused = $2,
			modified_by = $3,
			modified_date = $4
		WHERE dataset_id = $1
		RETURNING dataset_id, paused, extra, modified_by, modified_date
	`

	dataset, err := scanDataset(t.tx.QueryRowContext(ctx, query, datasetID, paused, user, ts))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to update pause flag: %w", classifyError(err))
	}

	return dataset, nil
}

// Commit makes the transaction's writes durable.
func (t *planTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", classifyError(err))
	}

	return nil
}

// Rollback discards the transaction. Calling it after Commit is a no-op, so
// it can sit in a defer.
func (t *planTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}

	return nil
}

// datasetUpsert inserts the dataset row or updates its mutable fields.
func (t *planTx) datasetUpsert(ctx context.Context, param plan.DatasetParam, user string, ts time.Time) (*plan.Dataset, error) {
	query := `
		INSERT INTO dataset (
			dataset_id,
			paused,
			extra,
			modified_by,
			modified_date
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (dataset_id) DO UPDATE SET
			paused = EXCLUDED.paused,
			extra = EXCLUDED.extra,
			modified_by = EXCLUDED.modified_by,
			modified_date = EXCLUDED.modified_date
		RETURNING dataset_id, paused, extra, modified_by, modified_date
	`

	dataset, err := scanDataset(t.tx.QueryRowContext(ctx, query,
		param.ID,
		param.Paused,
		jsonbParam(param.Extra),
		user,
		ts,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert dataset: %w", classifyError(err))
	}

	return dataset, nil
}

// dataProductUpsert inserts a data product at waiting with NULL run fields,
// or updates its definition fields. The conflict arm never touches state,
// run_id, link, or passback: those belong to the state machine, and a
// resubmitted definition must not reset a product that is already running.
func (t *planTx) dataProductUpsert(ctx context.Context, datasetID uuid.UUID, param plan.DataProductParam, user string, ts time.Time) error {
	query := `
		INSERT INTO data_product (
			dataset_id,
			data_product_id,
			compute,
			name,
			version,
			eager,
			passthrough,
			state,
			run_id,
			link,
			passback,
			extra,
			modified_by,
			modified_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (dataset_id, data_product_id) DO UPDATE SET
			compute = EXCLUDED.compute,
			name = EXCLUDED.name,
			version = EXCLUDED.version,
			eager = EXCLUDED.eager,
			passthrough = EXCLUDED.passthrough,
			extra = EXCLUDED.extra,
			modified_by = EXCLUDED.modified_by,
			modified_date = EXCLUDED.modified_date
	`

	_, err := t.tx.ExecContext(ctx, query,
		datasetID,
		param.ID,
		param.Compute,
		param.Name,
		param.Version,
		param.Eager,
		jsonbParam(param.Passthrough),
		plan.StateWaiting,
		nil, // run_id
		nil, // link
		nil, // passback
		jsonbParam(param.Extra),
		user,
		ts,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert data product %q: %w", param.ID, classifyError(err))
	}

	return nil
}

// dependencyUpsert inserts a dependency edge or updates its mutable fields.
func (t *planTx) dependencyUpsert(ctx context.Context, datasetID uuid.UUID, param plan.DependencyParam, user string, ts time.Time) error {
	query := `
		INSERT INTO dependency (
			dataset_id,
			parent_id,
			child_id,
			extra,
			modified_by,
			modified_date
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (dataset_id, parent_id, child_id) DO UPDATE SET
			extra = EXCLUDED.extra,
			modified_by = EXCLUDED.modified_by,
			modified_date = EXCLUDED.modified_date
	`

	_, err := t.tx.ExecContext(ctx, query,
		datasetID,
		param.ParentID,
		param.ChildID,
		jsonbParam(param.Extra),
		user,
		ts,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert dependency %q -> %q: %w", param.ParentID, param.ChildID, classifyError(err))
	}

	return nil
}

// composePlan assembles a plan from an already-fetched dataset row plus its
// data products and dependencies.
func (t *planTx) composePlan(ctx context.Context, dataset plan.Dataset) (*plan.Plan, error) {
	products, err := t.dataProductsByDataset(ctx, dataset.ID)
	if err != nil {
		return nil, err
	}

	dependencies, err := t.dependenciesByDataset(ctx, dataset.ID)
	if err != nil {
		return nil, err
	}

	return &plan.Plan{
		Dataset:      dataset,
		DataProducts: products,
		Dependencies: dependencies,
	}, nil
}

// dataProductsByDataset fetches every data product of a dataset, ordered by
// id for stable reads.
func (t *planTx) dataProductsByDataset(ctx context.Context, datasetID uuid.UUID) ([]plan.DataProduct, error) {
	query := `
		SELECT data_product_id, compute, name, version, eager, passthrough,
		       state, run_id, link, passback, extra, modified_by, modified_date
		FROM data_product
		WHERE dataset_id = $1
		ORDER BY data_product_id
	`

	rows, err := t.tx.QueryContext(ctx, query, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query data products: %w", classifyError(err))
	}

	defer func() {
		_ = rows.Close()
	}()

	var products []plan.DataProduct

	for rows.Next() {
		product, err := scanDataProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan data product: %w", classifyError(err))
		}

		products = append(products, *product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read data products: %w", classifyError(err))
	}

	return products, nil
}

// dependenciesByDataset fetches every dependency edge of a dataset, ordered
// by (parent, child) for stable reads.
func (t *planTx) dependenciesByDataset(ctx context.Context, datasetID uuid.UUID) ([]plan.Dependency, error) {
	query := `
		SELECT parent_id, child_id, extra, modified_by, modified_date
		FROM dependency
		WHERE dataset_id = $1
		ORDER BY parent_id, child_id
	`

	rows, err := t.tx.QueryContext(ctx, query, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", classifyError(err))
	}

	defer func() {
		_ = rows.Close()
	}()

	var dependencies []plan.Dependency

	for rows.Next() {
		dependency, err := scanDependency(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", classifyError(err))
		}

		dependencies = append(dependencies, *dependency)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dependencies: %w", classifyError(err))
	}

	return dependencies, nil
}

// jsonbParam converts raw JSON to a NULL-safe query parameter. lib/pq
// encodes []byte as bytea, which PostgreSQL rejects for JSONB columns, so
// the JSON travels as text. Empty input becomes SQL NULL to avoid
// "invalid input syntax for type json" on the empty string.
func jsonbParam(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}

	return sql.NullString{String: string(raw), Valid: true}
}

// rowScanner lets the scan helpers work over both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDataset(row rowScanner) (*plan.Dataset, error) {
	var (
		dataset plan.Dataset
		extra   []byte
	)

	err := row.Scan(
		&dataset.ID,
		&dataset.Paused,
		&extra,
		&dataset.ModifiedBy,
		&dataset.ModifiedDate,
	)
	if err != nil {
		return nil, err
	}

	dataset.Extra = extra

	return &dataset, nil
}

func scanDataProduct(row rowScanner) (*plan.DataProduct, error) {
	var (
		product     plan.DataProduct
		passthrough []byte
		runID       uuid.NullUUID
		link        sql.NullString
		passback    []byte
		extra       []byte
	)

	err := row.Scan(
		&product.ID,
		&product.Compute,
		&product.Name,
		&product.Version,
		&product.Eager,
		&passthrough,
		&product.State,
		&runID,
		&link,
		&passback,
		&extra,
		&product.ModifiedBy,
		&product.ModifiedDate,
	)
	if err != nil {
		return nil, err
	}

	product.Passthrough = passthrough
	product.Passback = passback
	product.Extra = extra

	if runID.Valid {
		id := runID.UUID
		product.RunID = &id
	}

	if link.Valid {
		l := link.String
		product.Link = &l
	}

	return &product, nil
}

func scanDependency(row rowScanner) (*plan.Dependency, error) {
	var (
		dependency plan.Dependency
		extra      []byte
	)

	err := row.Scan(
		&dependency.ParentID,
		&dependency.ChildID,
		&extra,
		&dependency.ModifiedBy,
		&dependency.ModifiedDate,
	)
	if err != nil {
		return nil, err
	}

	dependency.Extra = extra

	return &dependency, nil
}
