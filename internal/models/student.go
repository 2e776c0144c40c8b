package models

import "time"

// Student is a roster entry for the active class.
type Student struct {
	ID       string  `db:"id" json:"id"`
	RollNo   string  `db:"roll_no" json:"roll_no"`
	Name     string  `db:"name" json:"name"`
	BeaconID *string `db:"beacon_id" json:"beacon_id,omitempty"`
	Batch    *int    `db:"batch" json:"batch,omitempty"`
}

// InBatch reports whether the student is visible under filter.
func (s Student) InBatch(filter BatchFilter) bool {
	if filter == BatchAll {
		return true
	}
	return s.Batch != nil && *s.Batch == int(filter)
}

// BatchFilter restricts the roster view to a lab sub-group.
type BatchFilter int

const (
	BatchAll BatchFilter = 0
	Batch1   BatchFilter = 1
	Batch2   BatchFilter = 2
)

// Valid returns true for supported filter values.
func (b BatchFilter) Valid() bool {
	return b == BatchAll || b == Batch1 || b == Batch2
}

// RosterFilter scopes roster queries against the backing store.
type RosterFilter struct {
	Dept    string
	Year    int
	Section string
	Batch   *int
}

// PermissionGrant is an externally approved od/leave window for a student.
type PermissionGrant struct {
	StudentID string           `db:"student_id" json:"student_id"`
	Kind      AttendanceStatus `db:"kind" json:"kind"`
	From      time.Time        `db:"valid_from" json:"from"`
	To        time.Time        `db:"valid_to" json:"to"`
}

// Covers reports whether the grant applies at t.
func (g PermissionGrant) Covers(t time.Time) bool {
	return !t.Before(g.From) && !t.After(g.To)
}
