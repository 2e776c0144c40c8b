package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/beacon-attendance/internal/models"
)

// RosterRepository reads class rosters and permission grants from the backing store.
type RosterRepository struct {
	db *sqlx.DB
}

// NewRosterRepository constructs a RosterRepository.
func NewRosterRepository(db *sqlx.DB) *RosterRepository {
	return &RosterRepository{db: db}
}

// ListStudents returns the roster for (dept, year, section[, batch]) in roll order.
func (r *RosterRepository) ListStudents(ctx context.Context, filter models.RosterFilter) ([]models.Student, error) {
	conditions := []string{"dept = $1", "year = $2", "section = $3"}
	args := []interface{}{filter.Dept, filter.Year, filter.Section}
	if filter.Batch != nil {
		conditions = append(conditions, fmt.Sprintf("batch = $%d", len(args)+1))
		args = append(args, *filter.Batch)
	}

	query := fmt.Sprintf(`SELECT id, roll_no, name, beacon_id, batch FROM students WHERE %s ORDER BY roll_no ASC`, strings.Join(conditions, " AND "))
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, fmt.Errorf("list roster students: %w", err)
	}
	return students, nil
}

// ActiveGrants returns od/leave grants covering at for the given students.
func (r *RosterRepository) ActiveGrants(ctx context.Context, studentIDs []string, at time.Time) ([]models.PermissionGrant, error) {
	if len(studentIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT student_id, kind, valid_from, valid_to FROM permission_grants
WHERE student_id IN (?) AND valid_from <= ? AND valid_to >= ? ORDER BY valid_from ASC`, studentIDs, at, at)
	if err != nil {
		return nil, fmt.Errorf("build grant query: %w", err)
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)

	var grants []models.PermissionGrant
	if err := r.db.SelectContext(ctx, &grants, query, args...); err != nil {
		return nil, fmt.Errorf("list permission grants: %w", err)
	}
	return grants, nil
}
