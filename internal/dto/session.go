package dto

import (
	"time"

	"github.com/noah-isme/beacon-attendance/internal/models"
)

// StartSessionRequest opens a scan session for a class.
type StartSessionRequest struct {
	Dept            string `json:"dept" validate:"required"`
	Year            int    `json:"year" validate:"required,min=1,max=6"`
	Section         string `json:"section" validate:"required"`
	SubjectCode     string `json:"subject_code" validate:"required"`
	SubjectName     string `json:"subject_name"`
	Batch           int    `json:"batch" validate:"min=0,max=2"`
	DurationSeconds int    `json:"duration_seconds" validate:"omitempty,min=10,max=3600"`
}

// Class builds the class context for the authenticated faculty.
func (r StartSessionRequest) Class(facultyID string) models.ClassContext {
	return models.ClassContext{
		Dept:        r.Dept,
		Year:        r.Year,
		Section:     r.Section,
		SubjectCode: r.SubjectCode,
		SubjectName: r.SubjectName,
		FacultyID:   facultyID,
	}
}

// Duration returns the requested countdown, or zero for the default.
func (r StartSessionRequest) Duration() time.Duration {
	return time.Duration(r.DurationSeconds) * time.Second
}

// OverrideRequest answers the already-submitted prompt.
type OverrideRequest struct {
	Proceed *bool `json:"proceed" validate:"required"`
}

// BatchFilterRequest switches the visible lab batch. 0 shows everyone.
type BatchFilterRequest struct {
	Batch *int `json:"batch" validate:"required,min=0,max=2"`
}

// StudentStatusRequest sets one student's status manually.
type StudentStatusRequest struct {
	Status models.AttendanceStatus `json:"status" validate:"required,oneof=present absent"`
}

// BulkStatusRequest applies a bulk action to the visible roster.
type BulkStatusRequest struct {
	Action models.BulkAction `json:"action" validate:"required,oneof=mark_all_present mark_all_absent mark_pending_absent"`
}

// SessionView is the current session as shown to the UI shell.
type SessionView struct {
	Session          models.ScanSession   `json:"session"`
	Counts           models.StatusCounts  `json:"counts"`
	Students         []models.RosterEntry `json:"students"`
	Offline          bool                 `json:"offline"`
	HideInstructions bool                 `json:"hide_instructions"`
	Result           *models.SubmitResult `json:"result,omitempty"`
}

// CountsResponse reports counts after a roster mutation.
type CountsResponse struct {
	Status  models.AttendanceStatus `json:"status,omitempty"`
	Changed int                     `json:"changed,omitempty"`
	Counts  models.StatusCounts     `json:"counts"`
}
