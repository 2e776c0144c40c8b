package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/beacon-attendance/internal/models"
)

type rosterReader interface {
	ListStudents(ctx context.Context, filter models.RosterFilter) ([]models.Student, error)
	ActiveGrants(ctx context.Context, studentIDs []string, at time.Time) ([]models.PermissionGrant, error)
}

type timetableReader interface {
	ListForFaculty(ctx context.Context, facultyID string, weekday time.Weekday) ([]models.TimetableSlot, error)
}

type calendarReader interface {
	ListRange(ctx context.Context, from, to time.Time) ([]models.CalendarDay, error)
}

// ClassData is everything a session needs from the backing store.
type ClassData struct {
	Students  []models.Student
	Grants    []models.PermissionGrant
	Timetable []models.TimetableSlot
	Calendar  []models.CalendarDay
	// Offline is set when any part was served from the local cache.
	Offline bool
}

// ClassDataService reads class data from the backing store and falls back to
// the last cached copy when the store cannot be reached.
type ClassDataService struct {
	roster    rosterReader
	timetable timetableReader
	calendar  calendarReader
	cache     *LocalStoreService
	timeout   time.Duration
	location  *time.Location
	logger    *zap.Logger
}

// NewClassDataService constructs the loader.
func NewClassDataService(roster rosterReader, timetable timetableReader, calendar calendarReader, cache *LocalStoreService, timeout time.Duration, logger *zap.Logger) *ClassDataService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ClassDataService{roster: roster, timetable: timetable, calendar: calendar, cache: cache, timeout: timeout, logger: logger}
}

// WithLocation sets the zone that decides which weekday and date "now" falls
// on. It should match the schedule gate's zone.
func (s *ClassDataService) WithLocation(loc *time.Location) *ClassDataService {
	s.location = loc
	return s
}

func (s *ClassDataService) localTime(now time.Time) time.Time {
	if s.location == nil {
		return now
	}
	return now.In(s.location)
}

// Load fetches roster, grants, today's timetable and calendar for class.
func (s *ClassDataService) Load(ctx context.Context, class models.ClassContext, now time.Time) (*ClassData, error) {
	now = s.localTime(now)
	data := &ClassData{}
	data.Students, data.Offline = s.Students(ctx, class)

	ids := make([]string, 0, len(data.Students))
	for _, st := range data.Students {
		ids = append(ids, st.ID)
	}
	grantKey := fmt.Sprintf("grants:%s:%d:%s:%s", class.Dept, class.Year, class.Section, models.DateKey(now))
	grants, offline, err := fetchCached(ctx, s, grantKey, func(ctx context.Context) ([]models.PermissionGrant, error) {
		return s.roster.ActiveGrants(ctx, ids, now)
	})
	if err != nil {
		s.logger.Sugar().Warnw("permission grants unavailable", "class", class.Key(), "error", err)
	}
	data.Grants = grants
	data.Offline = data.Offline || offline

	slots, days, offline, err := s.Schedule(ctx, class.FacultyID, now)
	if err != nil {
		s.logger.Sugar().Warnw("schedule unavailable", "faculty_id", class.FacultyID, "error", err)
	}
	data.Timetable, data.Calendar = slots, days
	data.Offline = data.Offline || offline
	return data, nil
}

// Students returns the full class roster. An unreachable store with no cached
// copy yields an empty roster.
func (s *ClassDataService) Students(ctx context.Context, class models.ClassContext) ([]models.Student, bool) {
	key := fmt.Sprintf("roster:%s:%d:%s", class.Dept, class.Year, class.Section)
	students, offline, err := fetchCached(ctx, s, key, func(ctx context.Context) ([]models.Student, error) {
		return s.roster.ListStudents(ctx, models.RosterFilter{Dept: class.Dept, Year: class.Year, Section: class.Section})
	})
	if err != nil {
		s.logger.Sugar().Warnw("roster unavailable", "class", class.Key(), "error", err)
	}
	return students, offline
}

// Schedule returns the faculty timetable for now's weekday and the calendar
// entries for now's date.
func (s *ClassDataService) Schedule(ctx context.Context, facultyID string, now time.Time) ([]models.TimetableSlot, []models.CalendarDay, bool, error) {
	now = s.localTime(now)
	slotKey := fmt.Sprintf("timetable:%s:%d", facultyID, now.Weekday())
	slots, slotsOffline, slotErr := fetchCached(ctx, s, slotKey, func(ctx context.Context) ([]models.TimetableSlot, error) {
		return s.timetable.ListForFaculty(ctx, facultyID, now.Weekday())
	})

	y, m, d := now.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	days, calOffline, calErr := fetchCached(ctx, s, "calendar:"+models.DateKey(now), func(ctx context.Context) ([]models.CalendarDay, error) {
		return s.calendar.ListRange(ctx, day, day)
	})

	err := slotErr
	if err == nil {
		err = calErr
	}
	return slots, days, slotsOffline || calOffline, err
}

// fetchCached loads from the store and refreshes the cache, or serves the
// cached copy when the store fails. The bool reports a cache-served result.
func fetchCached[T any](ctx context.Context, s *ClassDataService, key string, load func(ctx context.Context) (T, error)) (T, bool, error) {
	readCtx, cancel := context.WithTimeout(ctx, s.timeout)
	value, err := load(readCtx)
	cancel()
	if err == nil {
		if setErr := s.cache.Set(ctx, key, value); setErr != nil {
			s.logger.Debug("class data cache write failed", zap.String("key", key), zap.Error(setErr))
		}
		return value, false, nil
	}

	var cached T
	found, cacheErr := s.cache.Get(ctx, key, &cached)
	if cacheErr != nil || !found {
		var zero T
		return zero, false, fmt.Errorf("load %s: %w", key, err)
	}
	s.logger.Sugar().Infow("serving cached class data", "key", key, "error", err)
	return cached, true, nil
}
