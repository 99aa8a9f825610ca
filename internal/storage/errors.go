package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Storage-boundary error taxonomy. Driver-specific failures are folded into
// these three kinds so upper layers never inspect pq internals.
var (
	// ErrNoDatabaseConnection is returned when a store is constructed
	// without a connection.
	ErrNoDatabaseConnection = errors.New("no database connection")

	// ErrNotFound classifies queries that matched no row.
	ErrNotFound = errors.New("not found")

	// ErrConstraintViolation classifies integrity violations: foreign
	// keys, unique indexes, check constraints.
	ErrConstraintViolation = errors.New("constraint violation")
)

// classifyError maps a driver error into the storage taxonomy.
//
// PostgreSQL class 23 is integrity_constraint_violation; the members seen
// here are 23503 (foreign key), 23505 (unique) and 23514 (check). The pq
// message is preserved so the caller learns which constraint fired.
// Anything unclassified is wrapped as-is and surfaces as an internal error.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && strings.HasPrefix(string(pqErr.Code), "23") {
		return fmt.Errorf("%w: %s", ErrConstraintViolation, pqErr.Message)
	}

	return err
}
