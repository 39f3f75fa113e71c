package postgres

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/phrazzld/parley/internal/store"
)

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", sql.ErrNoRows, store.ErrNotFound},
		{"unique violation", &pgconn.PgError{Code: uniqueViolationCode}, store.ErrDuplicate},
		{"check violation", &pgconn.PgError{Code: checkViolationCode, ConstraintName: "attempts_check"}, store.ErrInvalidEntity},
		{"not null violation", &pgconn.PgError{Code: notNullViolationCode, ColumnName: "payload"}, store.ErrInvalidEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := MapError(tt.err)
			assert.ErrorIs(t, got, tt.want)
		})
	}

	assert.NoError(t, MapError(nil))
	other := errors.New("connection reset")
	assert.Same(t, other, MapError(other))
}

func TestCheckRowsAffected(t *testing.T) {
	t.Parallel()

	assert.NoError(t, checkRowsAffected(sqlmock.NewResult(0, 1), store.ErrJobNotFound))
	assert.ErrorIs(t, checkRowsAffected(sqlmock.NewResult(0, 0), store.ErrJobNotFound), store.ErrJobNotFound)
	assert.Error(t, checkRowsAffected(sqlmock.NewErrorResult(errors.New("driver")), store.ErrJobNotFound))
}
