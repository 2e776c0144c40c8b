package models

import (
	"strings"
	"time"
)

// SessionState is the scan session state machine state.
type SessionState string

const (
	SessionStateHandshake  SessionState = "handshake"
	SessionStateScanning   SessionState = "scanning"
	SessionStateSubmitting SessionState = "submitting"
	SessionStateSuccess    SessionState = "success"
	SessionStateBlocked    SessionState = "blocked"
	SessionStateError      SessionState = "error"
)

// Terminal reports whether the session accepts no further transitions.
func (s SessionState) Terminal() bool {
	return s == SessionStateSuccess || s == SessionStateBlocked
}

// ClassKey identifies a class as subject and section.
type ClassKey string

// NewClassKey builds the composite key.
func NewClassKey(subjectCode, section string) ClassKey {
	return ClassKey(strings.ToUpper(strings.TrimSpace(subjectCode)) + ":" + strings.ToUpper(strings.TrimSpace(section)))
}

// ClassContext describes the class a session is capturing.
type ClassContext struct {
	Dept        string `json:"dept" validate:"required"`
	Year        int    `json:"year" validate:"required,min=1,max=6"`
	Section     string `json:"section" validate:"required"`
	SubjectCode string `json:"subject_code" validate:"required"`
	SubjectName string `json:"subject_name"`
	FacultyID   string `json:"faculty_id"`
}

// Key returns the class key of the context.
func (c ClassContext) Key() ClassKey {
	return NewClassKey(c.SubjectCode, c.Section)
}

// ScanSession is the caller-visible description of the live session.
type ScanSession struct {
	ID              string         `json:"id"`
	ClassKey        ClassKey       `json:"class_key"`
	Class           ClassContext   `json:"class"`
	State           SessionState   `json:"state"`
	Reason          string         `json:"reason,omitempty"`
	BatchFilter     BatchFilter    `json:"batch_filter"`
	TimerDeadline   *time.Time     `json:"timer_deadline,omitempty"`
	Remaining       int64          `json:"remaining_ms"`
	Paused          bool           `json:"paused"`
	Override        bool           `json:"override"`
	PendingOverride *SessionMarker `json:"pending_override,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
}

// SessionRecord is the backing-store row of a submitted session.
type SessionRecord struct {
	ID          string    `db:"id" json:"id"`
	SubjectCode string    `db:"subject_code" json:"subject_code"`
	Section     string    `db:"section" json:"section"`
	Dept        string    `db:"dept" json:"dept"`
	Year        int       `db:"year" json:"year"`
	Batch       *int      `db:"batch" json:"batch,omitempty"`
	FacultyID   string    `db:"faculty_id" json:"faculty_id"`
	SessionDate time.Time `db:"session_date" json:"session_date"`
	StartedAt   time.Time `db:"started_at" json:"started_at"`
	SubmittedAt time.Time `db:"submitted_at" json:"submitted_at"`
}

// SessionSnapshot is the immutable hand-off from a session to the sync layer.
type SessionSnapshot struct {
	SessionID   string             `json:"session_id"`
	Class       ClassContext       `json:"class"`
	Date        time.Time          `json:"date"`
	Batch       BatchFilter        `json:"batch"`
	Override    bool               `json:"override"`
	StartedAt   time.Time          `json:"started_at"`
	SubmittedAt time.Time          `json:"submitted_at"`
	Records     []AttendanceRecord `json:"records"`
	Students    []Student          `json:"students,omitempty"`
}

// Record converts the snapshot header into a backing-store row.
func (s SessionSnapshot) Record() SessionRecord {
	var batch *int
	if s.Batch != BatchAll {
		b := int(s.Batch)
		batch = &b
	}
	return SessionRecord{
		ID:          s.SessionID,
		SubjectCode: s.Class.SubjectCode,
		Section:     s.Class.Section,
		Dept:        s.Class.Dept,
		Year:        s.Class.Year,
		Batch:       batch,
		FacultyID:   s.Class.FacultyID,
		SessionDate: s.Date,
		StartedAt:   s.StartedAt,
		SubmittedAt: s.SubmittedAt,
	}
}

// Counts tallies the snapshot records.
func (s SessionSnapshot) Counts() StatusCounts {
	var counts StatusCounts
	for _, r := range s.Records {
		counts.Add(r.Status)
	}
	return counts
}

// SessionMarker is the last submitted session for a class on a given day.
type SessionMarker struct {
	SessionID   string    `json:"session_id" db:"id"`
	ClassKey    ClassKey  `json:"class_key" db:"-"`
	Date        string    `json:"date" db:"-"`
	SubmittedAt time.Time `json:"submitted_at" db:"submitted_at"`
}

// SubmitResult reports how a submission was delivered.
type SubmitResult struct {
	SessionID string       `json:"session_id"`
	Deferred  bool         `json:"deferred"`
	QueueID   string       `json:"queue_id,omitempty"`
	Counts    StatusCounts `json:"counts"`
}

// RosterEntry is a student with their current status, for display.
type RosterEntry struct {
	Student
	Status     AttendanceStatus `json:"status"`
	DetectedAt *time.Time       `json:"detected_at,omitempty"`
	IsManual   bool             `json:"is_manual"`
}

// DateKey formats t as the calendar day used in marker keys.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
