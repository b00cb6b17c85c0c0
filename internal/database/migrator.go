package database

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"github.com/helixir/entity-resolution-service/migrations"
)

// migrationsTable records the applied schema version.
const migrationsTable = "entity_registry_migrations"

// Migrator applies the entity registry schema.
type Migrator struct {
	migrate *migrate.Migrate
	sqlDB   *sql.DB // wraps the pgx pool, must be closed
	logger  zerolog.Logger
}

// NewMigrator creates a migrator over db. An empty migrationsPath uses the
// migrations embedded in the binary; otherwise SQL files are read from disk.
func NewMigrator(db *DB, migrationsPath string, logger zerolog.Logger) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if db.pool == nil {
		return nil, fmt.Errorf("database pool not initialized")
	}

	sourceURL := "iofs://"
	var source fs.FS = migrations.FS
	if migrationsPath != "" {
		if _, err := os.Stat(migrationsPath); err != nil {
			return nil, fmt.Errorf("migrations path validation failed: %w", err)
		}
		source = nil
		sourceURL = "file://" + migrationsPath
	}

	sqlDB := stdlib.OpenDBFromPool(db.pool)

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{
		MigrationsTable: migrationsTable,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	var m *migrate.Migrate
	if source != nil {
		src, srcErr := iofs.New(source, ".")
		if srcErr != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed to open embedded migrations: %w", srcErr)
		}
		m, err = migrate.NewWithInstance("iofs", src, "postgres", driver)
	} else {
		m, err = migrate.NewWithDatabaseInstance(sourceURL, "postgres", driver)
	}
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return &Migrator{
		migrate: m,
		sqlDB:   sqlDB,
		logger:  logger.With().Str("component", "migrator").Str("source", sourceURL).Logger(),
	}, nil
}

// Up applies all pending migrations. Being up to date is not an error.
func (m *Migrator) Up() error {
	m.logger.Info().Msg("applying registry migrations")

	if err := m.migrate.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info().Msg("registry schema is up to date")
			return nil
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	m.logger.Info().Msg("registry migrations applied")
	return nil
}

// Down rolls back all migrations, dropping the entities table.
func (m *Migrator) Down() error {
	m.logger.Warn().Msg("rolling back registry migrations")

	if err := m.migrate.Down(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info().Msg("no migrations to roll back")
			return nil
		}
		return fmt.Errorf("failed to rollback migrations: %w", err)
	}
	return nil
}

// Steps applies n migrations forward, or -n backward when n is negative.
func (m *Migrator) Steps(n int) error {
	m.logger.Info().Int("steps", n).Msg("running registry migration steps")

	if err := m.migrate.Steps(n); err != nil {
		if errors.Is(err, migrate.ErrNoChange) || errors.Is(err, os.ErrNotExist) {
			m.logger.Info().Msg("no migrations to apply")
			return nil
		}
		return fmt.Errorf("failed to run migration steps: %w", err)
	}
	return nil
}

// Version returns the current schema version and whether it is dirty.
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// Force sets the schema version without running migrations, clearing the dirty flag.
func (m *Migrator) Force(version int) error {
	m.logger.Warn().Int("version", version).Msg("forcing registry schema version")
	return m.migrate.Force(version)
}

// Close releases the migration source and the sql.DB wrapper.
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	if m.sqlDB != nil {
		if err := m.sqlDB.Close(); err != nil && dbErr == nil {
			dbErr = err
		}
	}
	return errors.Join(sourceErr, dbErr)
}
