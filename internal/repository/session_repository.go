package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/beacon-attendance/internal/models"
)

// SessionRepository writes submitted sessions and their attendance logs.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const (
	insertSessionQuery = `INSERT INTO attendance_sessions (id, subject_code, section, dept, year, batch, faculty_id, session_date, started_at, submitted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	insertLogQuery = `INSERT INTO attendance_logs (session_id, student_id, status, detected_at, marked_at, is_manual)
VALUES ($1, $2, $3, $4, $5, $6)`
	deleteLogsQuery = `DELETE FROM attendance_logs WHERE session_id = $1`
	upsertLogSuffix = ` ON CONFLICT (session_id, student_id) DO UPDATE SET status = EXCLUDED.status, detected_at = EXCLUDED.detected_at,
marked_at = EXCLUDED.marked_at, is_manual = EXCLUDED.is_manual`
)

// Ping checks backing store reachability.
func (r *SessionRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping backing store: %w", err)
	}
	return nil
}

// CreateSession inserts a session and its logs. Rows that already exist are
// left untouched so a replayed write is a no-op.
func (r *SessionRepository) CreateSession(ctx context.Context, write models.SessionWrite) error {
	return r.withTx(ctx, "create session", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, insertSessionQuery+` ON CONFLICT (id) DO NOTHING`, sessionArgs(write.Session)...); err != nil {
			return fmt.Errorf("insert attendance session: %w", err)
		}
		for _, record := range write.Logs {
			if _, err := tx.ExecContext(ctx, insertLogQuery+` ON CONFLICT (session_id, student_id) DO NOTHING`, logArgs(write.Session.ID, record)...); err != nil {
				return fmt.Errorf("insert attendance log %s: %w", record.StudentID, err)
			}
		}
		return nil
	})
}

// ReplaceSession overwrites a previously submitted session. Logs from the
// earlier submission are dropped so only the new snapshot remains.
func (r *SessionRepository) ReplaceSession(ctx context.Context, write models.SessionWrite) error {
	return r.withTx(ctx, "replace session", func(tx *sqlx.Tx) error {
		query := insertSessionQuery + ` ON CONFLICT (id) DO UPDATE SET batch = EXCLUDED.batch, started_at = EXCLUDED.started_at, submitted_at = EXCLUDED.submitted_at`
		if _, err := tx.ExecContext(ctx, query, sessionArgs(write.Session)...); err != nil {
			return fmt.Errorf("upsert attendance session: %w", err)
		}
		if _, err := tx.ExecContext(ctx, deleteLogsQuery, write.Session.ID); err != nil {
			return fmt.Errorf("clear attendance logs: %w", err)
		}
		for _, record := range write.Logs {
			if _, err := tx.ExecContext(ctx, insertLogQuery+upsertLogSuffix, logArgs(write.Session.ID, record)...); err != nil {
				return fmt.Errorf("upsert attendance log %s: %w", record.StudentID, err)
			}
		}
		return nil
	})
}

// InsertLog adds a single log row; an existing row for the student is kept.
func (r *SessionRepository) InsertLog(ctx context.Context, sessionID string, record models.AttendanceRecord) error {
	if _, err := r.db.ExecContext(ctx, insertLogQuery+` ON CONFLICT (session_id, student_id) DO NOTHING`, logArgs(sessionID, record)...); err != nil {
		return fmt.Errorf("insert attendance log: %w", err)
	}
	return nil
}

// UpsertLog writes a single log row, replacing an existing one.
func (r *SessionRepository) UpsertLog(ctx context.Context, sessionID string, record models.AttendanceRecord) error {
	if _, err := r.db.ExecContext(ctx, insertLogQuery+upsertLogSuffix, logArgs(sessionID, record)...); err != nil {
		return fmt.Errorf("upsert attendance log: %w", err)
	}
	return nil
}

// LatestForClass returns the most recent session submitted for the class on
// date, or nil when none exists.
func (r *SessionRepository) LatestForClass(ctx context.Context, subjectCode, section string, date time.Time) (*models.SessionMarker, error) {
	const query = `SELECT id, submitted_at FROM attendance_sessions
WHERE subject_code = $1 AND section = $2 AND session_date = $3 ORDER BY submitted_at DESC LIMIT 1`
	var marker models.SessionMarker
	if err := r.db.GetContext(ctx, &marker, query, subjectCode, section, date); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest session for class: %w", err)
	}
	marker.ClassKey = models.NewClassKey(subjectCode, section)
	marker.Date = models.DateKey(date)
	return &marker, nil
}

func (r *SessionRepository) withTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", op, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", op, err)
	}
	return nil
}

func sessionArgs(s models.SessionRecord) []interface{} {
	return []interface{}{s.ID, s.SubjectCode, s.Section, s.Dept, s.Year, s.Batch, s.FacultyID, s.SessionDate, s.StartedAt, s.SubmittedAt}
}

func logArgs(sessionID string, r models.AttendanceRecord) []interface{} {
	return []interface{}{sessionID, r.StudentID, r.Status, r.DetectedAt, r.MarkedAt, r.IsManual}
}
