package models

import "time"

// AttendanceStatus represents the per-student status inside a scan session.
type AttendanceStatus string

const (
	AttendanceStatusPending AttendanceStatus = "pending"
	AttendanceStatusPresent AttendanceStatus = "present"
	AttendanceStatusAbsent  AttendanceStatus = "absent"
	AttendanceStatusOD      AttendanceStatus = "od"
	AttendanceStatusLeave   AttendanceStatus = "leave"

	// StatusAny matches every status when used as a bulk predicate.
	StatusAny AttendanceStatus = "*"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPending, AttendanceStatusPresent, AttendanceStatusAbsent, AttendanceStatusOD, AttendanceStatusLeave:
		return true
	default:
		return false
	}
}

// Locked reports whether the status was granted out-of-band and must not be
// changed by detection or manual marking.
func (s AttendanceStatus) Locked() bool {
	return s == AttendanceStatusOD || s == AttendanceStatusLeave
}

// AttendanceRecord is one student's outcome for a session.
type AttendanceRecord struct {
	StudentID  string           `db:"student_id" json:"student_id"`
	Status     AttendanceStatus `db:"status" json:"status"`
	DetectedAt *time.Time       `db:"detected_at" json:"detected_at,omitempty"`
	MarkedAt   time.Time        `db:"marked_at" json:"marked_at"`
	IsManual   bool             `db:"is_manual" json:"is_manual"`
}

// StatusCounts summarises statuses within the active batch filter.
type StatusCounts struct {
	Present int `json:"present"`
	Absent  int `json:"absent"`
	OD      int `json:"od"`
	Leave   int `json:"leave"`
	Pending int `json:"pending"`
	Total   int `json:"total"`
}

// Add increments the counter matching status.
func (c *StatusCounts) Add(status AttendanceStatus) {
	switch status {
	case AttendanceStatusPresent:
		c.Present++
	case AttendanceStatusAbsent:
		c.Absent++
	case AttendanceStatusOD:
		c.OD++
	case AttendanceStatusLeave:
		c.Leave++
	default:
		c.Pending++
	}
	c.Total++
}

// BulkAction enumerates supported bulk status operations.
type BulkAction string

const (
	BulkActionMarkAllPresent    BulkAction = "mark_all_present"
	BulkActionMarkAllAbsent     BulkAction = "mark_all_absent"
	BulkActionMarkPendingAbsent BulkAction = "mark_pending_absent"
)

// Transition returns the predicate and target statuses for the action.
func (a BulkAction) Transition() (from, to AttendanceStatus, ok bool) {
	switch a {
	case BulkActionMarkAllPresent:
		return StatusAny, AttendanceStatusPresent, true
	case BulkActionMarkAllAbsent:
		return StatusAny, AttendanceStatusAbsent, true
	case BulkActionMarkPendingAbsent:
		return AttendanceStatusPending, AttendanceStatusAbsent, true
	default:
		return "", "", false
	}
}
