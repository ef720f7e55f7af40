package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDirectoryFixture(t *testing.T) (DirectoryRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return NewDirectoryRepository(mock), mock
}

// ===================== GetOrderBuyer Tests =====================

func TestDirectory_GetOrderBuyer_Success(t *testing.T) {
	repo, mock := newDirectoryFixture(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT user_id::text FROM orders WHERE id =").
		WithArgs("o1").
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow("W"))

	buyer, err := repo.GetOrderBuyer(context.Background(), "o1")

	require.NoError(t, err)
	assert.Equal(t, "W", buyer)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectory_GetOrderBuyer_NotFound(t *testing.T) {
	repo, mock := newDirectoryFixture(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT user_id::text FROM orders WHERE id =").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetOrderBuyer(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectory_GetOrderBuyer_MalformedID(t *testing.T) {
	repo, mock := newDirectoryFixture(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT user_id::text FROM orders WHERE id =").
		WithArgs("not-a-uuid").
		WillReturnError(&pgconn.PgError{Code: "22P02"})

	_, err := repo.GetOrderBuyer(context.Background(), "not-a-uuid")

	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestDirectory_GetOrderBuyer_DatabaseError(t *testing.T) {
	repo, mock := newDirectoryFixture(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT user_id::text FROM orders").
		WithArgs("o1").
		WillReturnError(errors.New("connection reset"))

	_, err := repo.GetOrderBuyer(context.Background(), "o1")

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrOrderNotFound)
}

// ===================== GetDisplayNames Tests =====================

func TestDirectory_GetDisplayNames_Success(t *testing.T) {
	repo, mock := newDirectoryFixture(t)
	defer mock.Close()

	ids := []string{"u1", "u2", "u3"}
	mock.ExpectQuery("SELECT id::text, name FROM users").
		WithArgs(ids).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name"}).
			AddRow("u1", "Alice").
			AddRow("u2", "Bob"))

	names, err := repo.GetDisplayNames(context.Background(), ids)

	require.NoError(t, err)
	assert.Equal(t, map[string]string{"u1": "Alice", "u2": "Bob"}, names)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectory_GetDisplayNames_EmptyInputSkipsQuery(t *testing.T) {
	repo, mock := newDirectoryFixture(t)
	defer mock.Close()

	names, err := repo.GetDisplayNames(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, names)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectory_GetDisplayNames_QueryError(t *testing.T) {
	repo, mock := newDirectoryFixture(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT id::text, name FROM users").
		WithArgs([]string{"u1"}).
		WillReturnError(errors.New("timeout"))

	names, err := repo.GetDisplayNames(context.Background(), []string{"u1"})

	assert.Error(t, err)
	assert.Nil(t, names)
}
