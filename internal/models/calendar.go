package models

import "time"

// CalendarDayKind classifies an academic calendar entry.
type CalendarDayKind string

const (
	CalendarDayHoliday CalendarDayKind = "holiday"
	CalendarDayEvent   CalendarDayKind = "event"
)

// CalendarDay is a dated calendar entry that may suspend classes.
type CalendarDay struct {
	Date            time.Time       `db:"date" json:"date"`
	Kind            CalendarDayKind `db:"kind" json:"kind"`
	Title           string          `db:"title" json:"title"`
	SuspendsClasses bool            `db:"suspends_classes" json:"suspends_classes"`
}

// Blocks reports whether the entry stops scanning on the day of t.
func (d CalendarDay) Blocks(t time.Time) bool {
	if d.Kind != CalendarDayHoliday && !d.SuspendsClasses {
		return false
	}
	y1, m1, d1 := d.Date.Date()
	y2, m2, d2 := t.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}
