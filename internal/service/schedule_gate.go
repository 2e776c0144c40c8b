package service

import (
	"sort"
	"time"

	"github.com/noah-isme/beacon-attendance/internal/models"
)

// ScheduleGateConfig holds the institution hours.
type ScheduleGateConfig struct {
	Opening  models.ClockTime
	Closing  models.ClockTime
	Grace    time.Duration
	Location *time.Location
}

// ScheduleGate decides whether scanning is permitted at a given instant.
type ScheduleGate struct {
	cfg ScheduleGateConfig
}

// NewScheduleGate constructs a gate.
func NewScheduleGate(cfg ScheduleGateConfig) *ScheduleGate {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &ScheduleGate{cfg: cfg}
}

// Location returns the timezone decisions are evaluated in.
func (g *ScheduleGate) Location() *time.Location {
	return g.cfg.Location
}

// IsScanAllowed evaluates now against today's timetable and calendar.
// Reasons are checked in order: holiday, before_hours, after_hours, no_class.
func (g *ScheduleGate) IsScanAllowed(now time.Time, timetable []models.TimetableSlot, calendar []models.CalendarDay) models.ScheduleDecision {
	local := now.In(g.cfg.Location)
	clock := models.ClockOf(local)

	for _, day := range calendar {
		if day.Blocks(local) {
			return models.ScheduleDecision{Reason: models.ScheduleReasonHoliday, Title: day.Title}
		}
	}

	today := make([]models.TimetableSlot, 0, len(timetable))
	for _, slot := range timetable {
		if slot.Weekday == local.Weekday() {
			today = append(today, slot)
		}
	}
	sort.SliceStable(today, func(i, j int) bool { return today[i].Start < today[j].Start })

	var next *models.TimetableSlot
	for i := range today {
		if today[i].Start > clock {
			slot := today[i]
			next = &slot
			break
		}
	}

	if g.cfg.Opening != g.cfg.Closing {
		if clock < g.cfg.Opening {
			return models.ScheduleDecision{Reason: models.ScheduleReasonBeforeHours, Next: next}
		}
		if clock >= g.cfg.Closing {
			return models.ScheduleDecision{Reason: models.ScheduleReasonAfterHours}
		}
	}

	for i := range today {
		if today[i].Contains(clock) {
			slot := today[i]
			return models.ScheduleDecision{Allowed: true, Reason: models.ScheduleReasonAllowed, Current: &slot, Next: next}
		}
	}

	decision := models.ScheduleDecision{Reason: models.ScheduleReasonNoClass, Next: next}
	for i := len(today) - 1; i >= 0; i-- {
		if today[i].End > clock {
			continue
		}
		ended := today[i].End.On(local)
		if local.Sub(ended) <= g.cfg.Grace {
			slot := today[i]
			decision.Previous = &slot
		}
		break
	}
	return decision
}
