package dto

import "github.com/noah-isme/beacon-attendance/internal/models"

// RecordRequest amends or adds one student's record on a submitted session.
type RecordRequest struct {
	StudentID string                  `json:"student_id" validate:"required"`
	Status    models.AttendanceStatus `json:"status" validate:"required,oneof=present absent od leave"`
}

// AmendRecordRequest is RecordRequest without the student, which comes from the path.
type AmendRecordRequest struct {
	Status models.AttendanceStatus `json:"status" validate:"required,oneof=present absent od leave"`
}

// ReplayResponse summarises a manual replay pass.
type ReplayResponse struct {
	Processed int `json:"processed"`
}

// InstructionsPreference carries the hide-instructions flag.
type InstructionsPreference struct {
	Hidden *bool `json:"hidden" validate:"required"`
}

// DetectionRequest injects a simulated advertisement.
type DetectionRequest struct {
	BeaconID       string `json:"beacon_id" validate:"required"`
	SignalStrength int    `json:"signal_strength" validate:"min=-127,max=20"`
}

// AdapterStateRequest forces the simulated adapter into a state.
type AdapterStateRequest struct {
	State string `json:"state" validate:"required,oneof=unknown off on unauthorized unsupported resetting"`
}

// DevTokenRequest asks for a faculty token on a development device.
type DevTokenRequest struct {
	FacultyID string `json:"faculty_id" validate:"required"`
	Name      string `json:"name" validate:"required"`
	Dept      string `json:"dept" validate:"required"`
}
