package plan

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence boundary of the plan service.
//
// The domain package defines the interface it needs for plan persistence,
// without depending on concrete implementations; the PostgreSQL
// implementation lives in internal/storage. This keeps the dependency
// pointing from infrastructure to domain and lets the service tests run
// against an in-memory fake.
type Store interface {
	// Begin opens a transaction. Every service operation runs inside
	// exactly one transaction and ends it with Commit or Rollback.
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a single transaction over the plan tables. All methods run on the
// same underlying transaction, so a rollback discards everything the
// transaction wrote.
//
// Select methods signal absence with a nil row and a nil error; errors are
// reserved for genuine storage failures.
type Tx interface {
	// PlanSelect composes the full plan for a dataset: the dataset row,
	// its data products, and its dependencies, in persisted order.
	PlanSelect(ctx context.Context, datasetID uuid.UUID) (*Plan, error)

	// PlanSelectForUpdate is PlanSelect with the dataset row locked FOR
	// UPDATE. Concurrent submissions for the same dataset serialise on
	// this lock, so later ones observe earlier ones as prior state.
	PlanSelectForUpdate(ctx context.Context, datasetID uuid.UUID) (*Plan, error)

	// DatasetSelect fetches a single dataset row.
	DatasetSelect(ctx context.Context, datasetID uuid.UUID) (*Dataset, error)

	// DataProductSelectForUpdate fetches one data product with its row
	// locked FOR UPDATE, pinning its state for the rest of the transaction.
	DataProductSelectForUpdate(ctx context.Context, datasetID uuid.UUID, productID string) (*DataProduct, error)

	// PlanUpsert writes a submission in FK-safe order (dataset, then data
	// products, then dependencies) and returns the freshly composed plan
	// read back from the same transaction. Every row written by one call
	// carries the same ts as its modified date. Inserted products start
	// at waiting; updates never touch state or run fields.
	PlanUpsert(ctx context.Context, param PlanParam, user string, ts time.Time) (*Plan, error)

	// StateUpdate writes the state and run fields of one data product
	// verbatim and returns the updated row, or nil when no such product
	// exists.
	StateUpdate(ctx context.Context, datasetID uuid.UUID, productID string, param StateParam, user string, ts time.Time) (*DataProduct, error)

	// DatasetPauseUpdate flips the pause flag on a dataset and returns the
	// updated row, or nil when no such dataset exists.
	DatasetPauseUpdate(ctx context.Context, datasetID uuid.UUID, paused bool, user string, ts time.Time) (*Dataset, error)

	// Commit makes the transaction's writes durable.
	Commit() error

	// Rollback discards the transaction. Safe to call after Commit, so it
	// can sit in a defer.
	Rollback() error
}
