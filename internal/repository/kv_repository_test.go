package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/beacon-attendance/pkg/errors"
)

func TestLocalKVRepositoryRoundTrip(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewLocalKVRepository(db)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO kv_entries (key, value, updated_at) VALUES (?, ?, ?)")).
		WithArgs("hide_instructions", []byte("true"), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM kv_entries WHERE key = ?")).
		WithArgs("hide_instructions").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte("true")))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM kv_entries WHERE key = ?")).
		WithArgs("hide_instructions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Set(ctx, "hide_instructions", true))
	var hidden bool
	require.NoError(t, repo.Get(ctx, "hide_instructions", &hidden))
	assert.True(t, hidden)
	require.NoError(t, repo.Delete(ctx, "hide_instructions"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocalKVRepositoryMiss(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	mock.ExpectQuery("SELECT value FROM kv_entries").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	var dest map[string]string
	err := NewLocalKVRepository(db).Get(context.Background(), "missing", &dest)
	assert.ErrorIs(t, err, appErrors.ErrCacheMiss)
}

func TestRedisKVRepositoryWithoutClient(t *testing.T) {
	repo := NewRedisKVRepository(nil, "beacon:", nil)
	ctx := context.Background()

	var dest string
	assert.ErrorIs(t, repo.Get(ctx, "k", &dest), appErrors.ErrCacheMiss)
	assert.NoError(t, repo.Set(ctx, "k", "v"))
	assert.NoError(t, repo.Delete(ctx, "k"))
	assert.NoError(t, repo.Close())
}
