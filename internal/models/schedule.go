package models

import (
	"fmt"
	"time"
)

// ClockTime is a wall-clock time of day in minutes since midnight.
type ClockTime int

// ParseClockTime parses HH:MM or HH:MM:SS.
func ParseClockTime(value string) (ClockTime, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return ClockTime(t.Hour()*60 + t.Minute()), nil
		}
	}
	return 0, fmt.Errorf("invalid clock time %q", value)
}

// ClockOf returns the time of day of t in t's location.
func ClockOf(t time.Time) ClockTime {
	return ClockTime(t.Hour()*60 + t.Minute())
}

// On returns the instant of c on the calendar day of day, in day's location.
func (c ClockTime) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, int(c)/60, int(c)%60, 0, 0, day.Location())
}

// String formats the clock time as HH:MM.
func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// MarshalText implements encoding.TextMarshaler.
func (c ClockTime) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ClockTime) UnmarshalText(text []byte) error {
	parsed, err := ParseClockTime(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Scan implements sql.Scanner for TIME columns.
func (c *ClockTime) Scan(value interface{}) error {
	switch v := value.(type) {
	case time.Time:
		*c = ClockOf(v)
		return nil
	case []byte:
		return c.UnmarshalText(v)
	case string:
		return c.UnmarshalText([]byte(v))
	default:
		return fmt.Errorf("unsupported type %T for ClockTime", value)
	}
}

// TimetableSlot is a scheduled class period for the faculty.
type TimetableSlot struct {
	ID          string       `db:"id" json:"id"`
	SubjectCode string       `db:"subject_code" json:"subject_code"`
	SubjectName string       `db:"subject_name" json:"subject_name"`
	Dept        string       `db:"dept" json:"dept"`
	Year        int          `db:"year" json:"year"`
	Section     string       `db:"section" json:"section"`
	Weekday     time.Weekday `db:"weekday" json:"weekday"`
	Start       ClockTime    `db:"start_time" json:"start"`
	End         ClockTime    `db:"end_time" json:"end"`
}

// ClassKey returns the composite key of the class taught in this slot.
func (s TimetableSlot) ClassKey() ClassKey {
	return NewClassKey(s.SubjectCode, s.Section)
}

// Contains reports whether clock falls inside the slot, end exclusive.
func (s TimetableSlot) Contains(clock ClockTime) bool {
	return clock >= s.Start && clock < s.End
}

// ScheduleReason explains a schedule gate decision.
type ScheduleReason string

const (
	ScheduleReasonAllowed       ScheduleReason = "allowed"
	ScheduleReasonHoliday       ScheduleReason = "holiday"
	ScheduleReasonBeforeHours   ScheduleReason = "before_hours"
	ScheduleReasonAfterHours    ScheduleReason = "after_hours"
	ScheduleReasonNoClass       ScheduleReason = "no_class"
	ScheduleReasonClassMismatch ScheduleReason = "class_mismatch"
)

// ScheduleDecision is the outcome of the schedule gate.
type ScheduleDecision struct {
	Allowed  bool           `json:"allowed"`
	Reason   ScheduleReason `json:"reason"`
	Current  *TimetableSlot `json:"current,omitempty"`
	Next     *TimetableSlot `json:"next,omitempty"`
	Previous *TimetableSlot `json:"previous,omitempty"`
	Title    string         `json:"title,omitempty"`
}
