package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/beacon-attendance/internal/models"
)

// ScheduleRepository reads the faculty timetable.
type ScheduleRepository struct {
	db *sqlx.DB
}

// NewScheduleRepository constructs the repository.
func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// ListForFaculty returns the slots the faculty teaches on weekday, ordered by start time.
func (r *ScheduleRepository) ListForFaculty(ctx context.Context, facultyID string, weekday time.Weekday) ([]models.TimetableSlot, error) {
	const query = `SELECT id, subject_code, subject_name, dept, year, section, weekday, start_time, end_time
FROM timetable_slots WHERE faculty_id = $1 AND weekday = $2 ORDER BY start_time ASC`
	var slots []models.TimetableSlot
	if err := r.db.SelectContext(ctx, &slots, query, facultyID, int(weekday)); err != nil {
		return nil, fmt.Errorf("list timetable slots: %w", err)
	}
	return slots, nil
}
