package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/helixir/entity-resolution-service/internal/domain"
)

// pgUndefinedTable is the SQLSTATE raised when the entities table has not
// been migrated yet.
const pgUndefinedTable = "42P01"

// entityColumns is the column order used by COPY.
var entityColumns = []string{
	"id", "type", "standard_name", "variants",
	"city", "province_state", "country", "publisher", "position",
}

// DBTX is the subset of *pgxpool.Pool used by PgStore.
type DBTX interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Compile-time check that PgStore implements Store.
var _ Store = (*PgStore)(nil)

// PgStore persists the registry in the PostgreSQL entities table.
type PgStore struct {
	db     DBTX
	logger zerolog.Logger
}

// NewPgStore creates a PostgreSQL-backed store.
func NewPgStore(db DBTX, logger zerolog.Logger) *PgStore {
	return &PgStore{
		db:     db,
		logger: logger.With().Str("component", "registry-pg-store").Logger(),
	}
}

// Backend returns the backend label.
func (s *PgStore) Backend() string { return "postgres" }

// Load reads every entity ordered by its saved position. A missing table
// yields an empty registry; other database errors are returned.
func (s *PgStore) Load(ctx context.Context) ([]*domain.Entity, error) {
	query := `
		SELECT id, type, standard_name, variants,
			COALESCE(city, ''), COALESCE(province_state, ''),
			COALESCE(country, ''), COALESCE(publisher, '')
		FROM entities
		ORDER BY position`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable {
			s.logger.Warn().Err(err).Msg("entities table missing, starting with an empty registry")
			return []*domain.Entity{}, nil
		}
		return nil, fmt.Errorf("failed to load entities: %w", err)
	}
	defer rows.Close()

	entities := make([]*domain.Entity, 0)
	for rows.Next() {
		var (
			e        domain.Entity
			typ      string
			variants []string
		)
		if err := rows.Scan(&e.ID, &typ, &e.StandardName, &variants,
			&e.City, &e.ProvinceState, &e.Country, &e.Publisher); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		e.Type = domain.EntityType(typ)
		e.Variants = variants
		if e.Variants == nil {
			e.Variants = []string{}
		}
		if e.RepairVariants() {
			s.logger.Warn().Str("entity_id", e.ID).Msg("dropped blank or duplicate variants from registry record")
		}
		if err := e.Validate(); err != nil {
			s.logger.Warn().Err(err).Str("entity_id", e.ID).Msg("skipping invalid registry row")
			continue
		}
		entities = append(entities, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entities: %w", err)
	}

	s.logger.Info().Int("entities", len(entities)).Msg("registry loaded")
	return entities, nil
}

// Save replaces the table content with the given collection inside a single
// transaction.
func (s *PgStore) Save(ctx context.Context, entities []*domain.Entity) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin registry save: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM entities`); err != nil {
		return fmt.Errorf("failed to clear entities: %w", err)
	}

	rows := make([][]any, len(entities))
	for i, e := range entities {
		rows[i] = entityRow(e, i)
	}

	if len(rows) > 0 {
		n, err := tx.CopyFrom(ctx, pgx.Identifier{"entities"}, entityColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to copy entities: %w", err)
		}
		if int(n) != len(rows) {
			return fmt.Errorf("copied %d of %d entities", n, len(rows))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit registry save: %w", err)
	}

	s.logger.Debug().Int("entities", len(entities)).Msg("registry saved")
	return nil
}

// entityRow maps an entity onto entityColumns. Attributes that do not apply
// to the entity's type are stored as NULL.
func entityRow(e *domain.Entity, position int) []any {
	variants := e.Variants
	if variants == nil {
		variants = []string{}
	}
	row := []any{e.ID, string(e.Type), e.StandardName, variants, nil, nil, nil, nil, position}
	switch e.Type {
	case domain.EntityTypeAffiliation:
		row[4], row[5], row[6] = e.City, e.ProvinceState, e.Country
	case domain.EntityTypeJournal:
		row[7] = e.Publisher
	}
	return row
}
