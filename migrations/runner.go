package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type (
	// MigrationRunner is the command surface of the migrator binary.
	MigrationRunner interface {
		// Up applies all pending migrations
		Up() error

		// Down rolls back the most recent migration
		Down() error

		// Status reports the database version and schema drift
		Status() error

		// Version reports the database version
		Version() error

		// Drop drops all tables (destructive operation)
		Drop() error

		// Close releases database connections
		Close() error
	}

	// Runner drives golang-migrate over the embedded migration set.
	Runner struct {
		config  *Config
		set     *MigrationSet
		migrate *migrate.Migrate
		db      *sql.DB
	}

	// migrateLog adapts the standard logger to migrate's Logger interface.
	migrateLog struct{}
)

var _ migrate.Logger = migrateLog{}

func (migrateLog) Printf(format string, v ...interface{}) {
	log.Printf("migrate: "+format, v...)
}

func (migrateLog) Verbose() bool {
	return true
}

// NewMigrationRunner validates the embedded migration set, connects to
// the database, and wires both into a migrate instance.
func NewMigrationRunner(config *Config) (*Runner, error) {
	log.Printf("Starting migrator with %s", config)

	set := NewMigrationSet(nil)

	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("embedded migrations are invalid: %w", err)
	}

	log.Printf("Embedded migrations validated, schema v%03d supported", set.MaxVersion())

	db, err := sql.Open("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: config.MigrationTable,
	})
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to prepare postgres driver: %w", err)
	}

	source, err := iofs.New(set.FS(), ".")
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to open embedded migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	m.Log = migrateLog{}

	return &Runner{
		config:  config,
		set:     set,
		migrate: m,
		db:      db,
	}, nil
}

// Up applies every pending migration.
func (r *Runner) Up() error {
	if err := r.set.Validate(); err != nil {
		return fmt.Errorf("refusing to migrate, embedded set is invalid: %w", err)
	}

	err := r.migrate.Up()

	switch {
	case errors.Is(err, migrate.ErrNoChange):
		log.Println("Database is already up to date")
	case err != nil:
		return fmt.Errorf("migration up failed: %w", err)
	default:
		log.Println("Applied all pending migrations")
	}

	return nil
}

// Down rolls back the most recent migration.
func (r *Runner) Down() error {
	if err := r.set.Validate(); err != nil {
		return fmt.Errorf("refusing to migrate, embedded set is invalid: %w", err)
	}

	err := r.migrate.Steps(-1)

	switch {
	case errors.Is(err, migrate.ErrNoChange):
		log.Println("Nothing to roll back")
	case err != nil:
		return fmt.Errorf("migration down failed: %w", err)
	default:
		log.Println("Rolled back one migration")
	}

	return nil
}

// Status reports the database version against what the binary carries.
func (r *Runner) Status() error {
	version, dirty, err := r.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		log.Println("Database version: none (no migrations applied)")
		r.reportDrift(0)

		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}

	state := "clean"
	if dirty {
		state = "dirty, manual repair needed"
	}

	log.Printf("Database version: %d (%s)", version, state)
	r.reportDrift(int(version)) // #nosec G115 - sequence numbers are small

	return nil
}

// Version reports the database version.
func (r *Runner) Version() error {
	version, dirty, err := r.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		log.Println("No migrations applied yet")

		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}

	suffix := ""
	if dirty {
		suffix = " (dirty)"
	}

	log.Printf("Current version: %d%s", version, suffix)

	return nil
}

// Drop removes every table in the target database.
func (r *Runner) Drop() error {
	log.Println("Dropping all tables...")

	if err := r.migrate.Drop(); err != nil {
		return fmt.Errorf("drop failed: %w", err)
	}

	log.Println("All tables dropped")

	return nil
}

// Close releases the migrate instance and the database pool.
func (r *Runner) Close() error {
	var errs []error

	if r.migrate != nil {
		sourceErr, dbErr := r.migrate.Close()
		if sourceErr != nil {
			errs = append(errs, fmt.Errorf("failed to close migration source: %w", sourceErr))
		}

		if dbErr != nil {
			errs = append(errs, fmt.Errorf("failed to close migrate database handle: %w", dbErr))
		}
	}

	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database pool: %w", err))
		}
	}

	return errors.Join(errs...)
}

// reportDrift compares the database version with the highest embedded one.
func (r *Runner) reportDrift(version int) {
	supported := r.set.MaxVersion()

	switch {
	case version == supported:
		log.Printf("Schema is current (v%03d)", supported)
	case version < supported:
		log.Printf("%d migration(s) pending, binary supports up to v%03d",
			supported-version, supported)
	default:
		log.Printf("WARNING: database schema v%03d is newer than this binary supports (v%03d), update the migrator",
			version, supported)
	}
}
