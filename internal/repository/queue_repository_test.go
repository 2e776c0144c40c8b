package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/beacon-attendance/internal/models"
	appErrors "github.com/noah-isme/beacon-attendance/pkg/errors"
)

var queueRowColumns = []string{"id", "operation", "payload", "retry_count", "status", "last_error", "created_at", "updated_at"}

func TestQueueRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewQueueRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sync_queue")).
		WithArgs(sqlmock.AnyArg(), models.QueueOpCreateSession, sqlmock.AnyArg(), 0, models.QueueStatusPending, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	payload, err := models.NewQueuePayload(models.LogWrite{SessionID: "sess-1"})
	require.NoError(t, err)
	item := &models.QueueItem{Operation: models.QueueOpCreateSession, Payload: payload}
	require.NoError(t, repo.Create(context.Background(), item))
	require.NotEmpty(t, item.ID)

	rows := sqlmock.NewRows(queueRowColumns).
		AddRow(item.ID, "create_session", []byte(`{"session_id":"sess-1"}`), 0, "pending", nil, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM sync_queue WHERE id = ?")).
		WithArgs(item.ID).
		WillReturnRows(rows)

	fetched, err := repo.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	var decoded models.LogWrite
	require.NoError(t, fetched.Payload.Decode(&decoded))
	assert.Equal(t, "sess-1", decoded.SessionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueRepositoryGetByIDNotFound(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	mock.ExpectQuery("FROM sync_queue WHERE id").WithArgs("missing").WillReturnRows(sqlmock.NewRows(queueRowColumns))

	_, err := NewQueueRepository(db).GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestQueueRepositoryListPending(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("FROM sync_queue WHERE status = ? ORDER BY created_at ASC LIMIT ?")).
		WithArgs(models.QueueStatusPending, 50).
		WillReturnRows(sqlmock.NewRows(queueRowColumns).
			AddRow("q-1", "create_log", []byte(`{}`), 1, "pending", "timeout", time.Now(), time.Now()))

	items, err := NewQueueRepository(db).ListPending(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].LastError)
	assert.Equal(t, "timeout", *items[0].LastError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueRepositoryLifecycle(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewQueueRepository(db)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE sync_queue SET status = ?, updated_at = ? WHERE id = ? AND status = ?")).
		WithArgs(models.QueueStatusProcessing, sqlmock.AnyArg(), "q-1", models.QueueStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sync_queue SET status = ?, updated_at = ? WHERE id = ? AND status = ?")).
		WithArgs(models.QueueStatusProcessing, sqlmock.AnyArg(), "q-1", models.QueueStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE sync_queue SET retry_count = retry_count + 1")).
		WithArgs(5, models.QueueStatusFailed, models.QueueStatusPending, "store offline", sqlmock.AnyArg(), "q-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sync_queue SET status = ?, last_error = NULL")).
		WithArgs(models.QueueStatusCompleted, sqlmock.AnyArg(), "q-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sync_queue WHERE status = ?")).
		WithArgs(models.QueueStatusCompleted).
		WillReturnResult(sqlmock.NewResult(0, 1))

	claimed, err := repo.MarkProcessing(ctx, "q-1")
	require.NoError(t, err)
	assert.True(t, claimed)
	claimed, err = repo.MarkProcessing(ctx, "q-1")
	require.NoError(t, err)
	assert.False(t, claimed)

	status, err := repo.RecordFailure(ctx, "q-1", "store offline", 5)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusPending, status)

	require.NoError(t, repo.MarkCompleted(ctx, "q-1"))
	purged, err := repo.PurgeCompleted(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueRepositoryResetAndRecover(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewQueueRepository(db)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("SET status = ?, retry_count = 0")).
		WithArgs(models.QueueStatusPending, sqlmock.AnyArg(), "q-1", models.QueueStatusFailed).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sync_queue SET status = ?, updated_at = ? WHERE status = ?")).
		WithArgs(models.QueueStatusPending, sqlmock.AnyArg(), models.QueueStatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*) FROM sync_queue GROUP BY status")).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).AddRow("pending", 3).AddRow("failed", 1))

	err := repo.ResetForRetry(ctx, "q-1")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	recovered, err := repo.RecoverProcessing(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, recovered)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[models.QueueStatusPending])
	assert.Equal(t, 1, counts[models.QueueStatusFailed])
	assert.NoError(t, mock.ExpectationsWereMet())
}
