package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/entity-resolution-service/internal/domain"
)

var loadColumns = []string{
	"id", "type", "standard_name", "variants",
	"city", "province_state", "country", "publisher",
}

func TestPgStore_Load(t *testing.T) {
	t.Run("returns entities in position order", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		store := NewPgStore(mock, zerolog.Nop())

		mock.ExpectQuery(`SELECT id, type, standard_name, variants`).
			WillReturnRows(pgxmock.NewRows(loadColumns).
				AddRow("1", "author", "ali ahmadi", []string{"a ahmadi"}, "", "", "", "").
				AddRow("2", "affiliation", "university of tehran", []string{}, "tehran", "tehran", "iran", "").
				AddRow("3", "conference", "bogus", []string{}, "", "", "", ""))

		entities, err := store.Load(context.Background())
		require.NoError(t, err)
		require.Len(t, entities, 2, "invalid rows are skipped")
		assert.Equal(t, domain.EntityTypeAuthor, entities[0].Type)
		assert.Equal(t, []string{"a ahmadi"}, entities[0].Variants)
		assert.Equal(t, "iran", entities[1].Country)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("repairs blank and repeated variants", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		store := NewPgStore(mock, zerolog.Nop())

		mock.ExpectQuery(`SELECT id, type, standard_name, variants`).
			WillReturnRows(pgxmock.NewRows(loadColumns).
				AddRow("j1", "journal", "nukleonika", []string{"", "nsj"}, "", "", "", "").
				AddRow("a1", "author", "ali rezaei", []string{"a rezaei", "a rezaei"}, "", "", "", ""))

		entities, err := store.Load(context.Background())
		require.NoError(t, err)
		require.Len(t, entities, 2)
		assert.Equal(t, []string{"nsj"}, entities[0].Variants)
		assert.Equal(t, []string{"a rezaei"}, entities[1].Variants)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing table yields empty registry", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		store := NewPgStore(mock, zerolog.Nop())

		mock.ExpectQuery(`SELECT id, type, standard_name, variants`).
			WillReturnError(&pgconn.PgError{Code: "42P01", Message: `relation "entities" does not exist`})

		entities, err := store.Load(context.Background())
		require.NoError(t, err)
		assert.Empty(t, entities)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("other errors propagate", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		store := NewPgStore(mock, zerolog.Nop())

		mock.ExpectQuery(`SELECT id, type, standard_name, variants`).
			WillReturnError(errors.New("connection refused"))

		_, err = store.Load(context.Background())
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgStore_Save(t *testing.T) {
	t.Run("replaces table content in one transaction", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		store := NewPgStore(mock, zerolog.Nop())
		entities := []*domain.Entity{
			{ID: "1", Type: domain.EntityTypeAuthor, StandardName: "ali ahmadi", Variants: []string{}},
			{ID: "2", Type: domain.EntityTypeJournal, StandardName: "nuclear science", Variants: []string{"nucl sci"}, Publisher: "aeoi"},
		}

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM entities`).WillReturnResult(pgxmock.NewResult("DELETE", 5))
		mock.ExpectCopyFrom(pgx.Identifier{"entities"}, entityColumns).WillReturnResult(2)
		mock.ExpectCommit()

		require.NoError(t, store.Save(context.Background(), entities))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty registry only clears the table", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		store := NewPgStore(mock, zerolog.Nop())

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM entities`).WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mock.ExpectCommit()

		require.NoError(t, store.Save(context.Background(), nil))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("copy failure rolls back", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		store := NewPgStore(mock, zerolog.Nop())

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM entities`).WillReturnResult(pgxmock.NewResult("DELETE", 1))
		mock.ExpectCopyFrom(pgx.Identifier{"entities"}, entityColumns).WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err = store.Save(context.Background(), []*domain.Entity{
			{ID: "1", Type: domain.EntityTypeAuthor, StandardName: "ali ahmadi", Variants: []string{}},
		})
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEntityRow(t *testing.T) {
	t.Parallel()

	author := entityRow(&domain.Entity{ID: "1", Type: domain.EntityTypeAuthor, StandardName: "x", City: "ignored"}, 0)
	assert.Nil(t, author[4])
	assert.Equal(t, []string{}, author[3])

	aff := entityRow(&domain.Entity{ID: "2", Type: domain.EntityTypeAffiliation, StandardName: "y", City: "shiraz"}, 1)
	assert.Equal(t, "shiraz", aff[4])
	assert.Nil(t, aff[7])
	assert.Equal(t, 1, aff[8])

	j := entityRow(&domain.Entity{ID: "3", Type: domain.EntityTypeJournal, StandardName: "z", Publisher: "p"}, 2)
	assert.Equal(t, "p", j[7])
	assert.Nil(t, j[4])
}
