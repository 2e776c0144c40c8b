package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/beacon-attendance/internal/models"
	appErrors "github.com/noah-isme/beacon-attendance/pkg/errors"
)

const queueColumns = `id, operation, payload, retry_count, status, last_error, created_at, updated_at`

// QueueRepository persists deferred writes in the local SQLite database.
type QueueRepository struct {
	db *sqlx.DB
}

// NewQueueRepository constructs the repository.
func NewQueueRepository(db *sqlx.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// Create inserts a new pending item with generated defaults.
func (r *QueueRepository) Create(ctx context.Context, item *models.QueueItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = models.QueueStatusPending
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	const query = `INSERT INTO sync_queue (id, operation, payload, retry_count, status, last_error, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, item.ID, item.Operation, item.Payload, item.RetryCount, item.Status, item.LastError, item.CreatedAt, item.UpdatedAt); err != nil {
		return fmt.Errorf("create queue item: %w", err)
	}
	return nil
}

// GetByID returns an item by identifier.
func (r *QueueRepository) GetByID(ctx context.Context, id string) (*models.QueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM sync_queue WHERE id = ?`
	var item models.QueueItem
	if err := r.db.GetContext(ctx, &item, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "queue item not found")
		}
		return nil, fmt.Errorf("get queue item: %w", err)
	}
	return &item, nil
}

// List returns items in creation order, optionally by status.
func (r *QueueRepository) List(ctx context.Context, filter models.QueueFilter) ([]models.QueueItem, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT ` + queueColumns + ` FROM sync_queue`
	args := []interface{}{}
	if filter.Status != nil {
		query += ` WHERE status = ?`
		args = append(args, *filter.Status)
	}
	query += ` ORDER BY created_at ASC LIMIT ?`
	args = append(args, limit)

	var items []models.QueueItem
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	return items, nil
}

// ListPending returns pending items oldest first.
func (r *QueueRepository) ListPending(ctx context.Context, limit int) ([]models.QueueItem, error) {
	status := models.QueueStatusPending
	return r.List(ctx, models.QueueFilter{Status: &status, Limit: limit})
}

// MarkProcessing moves a pending item to processing. It reports false when
// another worker already claimed it.
func (r *QueueRepository) MarkProcessing(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE sync_queue SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, query, models.QueueStatusProcessing, time.Now().UTC(), id, models.QueueStatusPending)
	if err != nil {
		return false, fmt.Errorf("mark queue item processing: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark queue item processing: %w", err)
	}
	return affected == 1, nil
}

// MarkCompleted flags an item as delivered.
func (r *QueueRepository) MarkCompleted(ctx context.Context, id string) error {
	const query = `UPDATE sync_queue SET status = ?, last_error = NULL, updated_at = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, models.QueueStatusCompleted, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("mark queue item completed: %w", err)
	}
	return nil
}

// RecordFailure increments the retry count and moves the item back to
// pending, or to failed once retries exceed maxRetries. It returns the new status.
func (r *QueueRepository) RecordFailure(ctx context.Context, id string, cause string, maxRetries int) (models.QueueStatus, error) {
	const query = `UPDATE sync_queue SET retry_count = retry_count + 1,
status = CASE WHEN retry_count + 1 > ? THEN ? ELSE ? END,
last_error = ?, updated_at = ? WHERE id = ? RETURNING status`
	var status models.QueueStatus
	err := r.db.QueryRowxContext(ctx, query, maxRetries, models.QueueStatusFailed, models.QueueStatusPending, cause, time.Now().UTC(), id).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("record queue item failure: %w", err)
	}
	return status, nil
}

// ResetForRetry moves a failed item back to pending with a fresh retry budget.
func (r *QueueRepository) ResetForRetry(ctx context.Context, id string) error {
	const query = `UPDATE sync_queue SET status = ?, retry_count = 0, updated_at = ? WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, query, models.QueueStatusPending, time.Now().UTC(), id, models.QueueStatusFailed)
	if err != nil {
		return fmt.Errorf("reset queue item: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return appErrors.Clone(appErrors.ErrNotFound, "no failed queue item with that id")
	}
	return nil
}

// RecoverProcessing returns items left in processing by a crash to pending.
func (r *QueueRepository) RecoverProcessing(ctx context.Context) (int64, error) {
	const query = `UPDATE sync_queue SET status = ?, updated_at = ? WHERE status = ?`
	res, err := r.db.ExecContext(ctx, query, models.QueueStatusPending, time.Now().UTC(), models.QueueStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("recover processing queue items: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("recover processing queue items: %w", err)
	}
	return affected, nil
}

// PurgeCompleted deletes delivered items.
func (r *QueueRepository) PurgeCompleted(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE status = ?`, models.QueueStatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("purge completed queue items: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge completed queue items: %w", err)
	}
	return affected, nil
}

// CountByStatus returns item counts per status.
func (r *QueueRepository) CountByStatus(ctx context.Context) (map[models.QueueStatus]int, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count queue items: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.QueueStatus]int)
	for rows.Next() {
		var (
			status models.QueueStatus
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan queue count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue counts: %w", err)
	}
	return counts, nil
}
