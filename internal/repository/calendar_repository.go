package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/beacon-attendance/internal/models"
)

// CalendarRepository reads academic calendar days.
type CalendarRepository struct {
	db *sqlx.DB
}

// NewCalendarRepository constructs the repository.
func NewCalendarRepository(db *sqlx.DB) *CalendarRepository {
	return &CalendarRepository{db: db}
}

// ListRange returns calendar entries dated within [from, to].
func (r *CalendarRepository) ListRange(ctx context.Context, from, to time.Time) ([]models.CalendarDay, error) {
	const query = `SELECT date, kind, title, suspends_classes FROM academic_calendar
WHERE date BETWEEN $1 AND $2 ORDER BY date ASC`
	var days []models.CalendarDay
	if err := r.db.SelectContext(ctx, &days, query, from, to); err != nil {
		return nil, fmt.Errorf("list calendar days: %w", err)
	}
	return days, nil
}
