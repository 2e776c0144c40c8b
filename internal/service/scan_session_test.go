package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/beacon-attendance/internal/models"
	"github.com/noah-isme/beacon-attendance/pkg/beacon"
	appErrors "github.com/noah-isme/beacon-attendance/pkg/errors"
)

var (
	mondayMorning = time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)
	testClass     = models.ClassContext{Dept: "CSE", Year: 3, Section: "A", SubjectCode: "CS301", SubjectName: "Operating Systems", FacultyID: "fac-1"}
)

type sessionFixture struct {
	driver   *beacon.SimulatedDriver
	store    *sessionStoreStub
	queue    *queueStoreStub
	roster   *rosterReaderStub
	kv       *memKV
	local    *LocalStoreService
	sync     *SyncService
	engine   *ScanEngine
	students []models.Student
}

func mustClock(t *testing.T, value string) models.ClockTime {
	t.Helper()
	c, err := models.ParseClockTime(value)
	require.NoError(t, err)
	return c
}

func mondaySlots(t *testing.T) []models.TimetableSlot {
	return []models.TimetableSlot{
		{ID: "slot-1", SubjectCode: "CS301", Dept: "CSE", Year: 3, Section: "A", Weekday: time.Monday, Start: mustClock(t, "09:00"), End: mustClock(t, "10:00")},
		{ID: "slot-2", SubjectCode: "CS302", Dept: "CSE", Year: 3, Section: "A", Weekday: time.Monday, Start: mustClock(t, "11:00"), End: mustClock(t, "12:00")},
	}
}

func newSessionFixture(t *testing.T, students int, now time.Time, cfg SessionConfig) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		driver:   beacon.NewSimulatedDriver(beacon.StateOn),
		store:    newSessionStoreStub(),
		queue:    newQueueStoreStub(),
		kv:       newMemKV(),
		students: testStudents(students),
	}
	f.roster = &rosterReaderStub{students: f.students}
	f.local = NewLocalStoreService(f.kv, nil, nil)
	f.sync = NewSyncService(f.store, f.queue, nil, f.local, nil, nil, SyncConfig{WriteTimeout: time.Second})

	gate := NewScheduleGate(ScheduleGateConfig{
		Opening:  mustClock(t, "08:00"),
		Closing:  mustClock(t, "17:00"),
		Grace:    30 * time.Minute,
		Location: time.UTC,
	})
	classData := NewClassDataService(f.roster, &timetableReaderStub{slots: mondaySlots(t)}, &calendarReaderStub{}, f.local, time.Second, nil)

	if cfg.Duration == 0 {
		cfg.Duration = time.Minute
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = 50 * time.Millisecond
	}
	if cfg.StateWaitTimeout == 0 {
		cfg.StateWaitTimeout = 200 * time.Millisecond
	}
	deps := SessionDeps{
		Discovery: NewDiscoveryService(f.driver, -100, nil, nil),
		Gate:      gate,
		Sync:      f.sync,
		Local:     f.local,
		Clock:     func() time.Time { return now },
	}
	f.engine = NewScanEngine(classData, nil, deps, cfg)
	t.Cleanup(f.engine.Close)
	return f
}

func (f *sessionFixture) beacon(i int) string {
	return *f.students[i].BeaconID
}

func (f *sessionFixture) start(t *testing.T) *ScanSession {
	t.Helper()
	session, err := f.engine.StartSession(context.Background(), testClass, StartOptions{})
	require.NoError(t, err)
	require.Equal(t, models.SessionStateScanning, session.State())
	return session
}

func TestScanSessionTwoDetectionsThenTimerAutoSubmits(t *testing.T) {
	f := newSessionFixture(t, 5, mondayMorning, SessionConfig{Duration: time.Second})
	session := f.start(t)
	assert.True(t, f.driver.Active())

	require.True(t, f.driver.EmitAt(strings.ToUpper(f.beacon(0)), -60, mondayMorning))
	require.True(t, f.driver.EmitAt(f.beacon(1), -70, mondayMorning))

	counts := session.Roster().Counts()
	assert.Equal(t, 2, counts.Present)
	assert.Equal(t, 3, counts.Absent)
	assert.Equal(t, 5, counts.Total)

	require.Eventually(t, func() bool {
		return session.State() == models.SessionStateSuccess
	}, 3*time.Second, 20*time.Millisecond)
	assert.False(t, f.driver.Active())

	result := session.Result()
	require.NotNil(t, result)
	assert.False(t, result.Deferred)
	assert.Equal(t, 2, result.Counts.Present)
	assert.Equal(t, 3, result.Counts.Absent)
	assert.Equal(t, 5, f.store.recordCount(session.ID()))
}

func TestScanSessionDebounceSuppressesRepeatWithinWindow(t *testing.T) {
	f := newSessionFixture(t, 3, mondayMorning, SessionConfig{Debounce: 2 * time.Second})
	session := f.start(t)
	student := f.students[0].ID

	f.driver.EmitAt(f.beacon(0), -60, mondayMorning)
	status, _ := session.Roster().Status(student)
	require.Equal(t, models.AttendanceStatusPresent, status)

	_, _, err := session.Toggle(student)
	require.NoError(t, err)

	f.driver.EmitAt(f.beacon(0), -60, mondayMorning.Add(500*time.Millisecond))
	status, _ = session.Roster().Status(student)
	assert.Equal(t, models.AttendanceStatusAbsent, status)

	f.driver.EmitAt(f.beacon(0), -60, mondayMorning.Add(2500*time.Millisecond))
	status, _ = session.Roster().Status(student)
	assert.Equal(t, models.AttendanceStatusPresent, status)
}

func TestScanSessionPublishesDetectedStudent(t *testing.T) {
	f := newSessionFixture(t, 2, mondayMorning, SessionConfig{})
	session := f.start(t)
	events, cancel := session.Subscribe()
	defer cancel()

	f.driver.EmitAt(f.beacon(1), -55, mondayMorning)

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type != SessionEventDetected {
				continue
			}
			assert.Equal(t, f.students[1].ID, ev.StudentID)
			assert.Equal(t, f.students[1].Name, ev.StudentName)
			return
		case <-deadline:
			t.Fatal("detected event not published")
		}
	}
}

func TestScanSessionBlockedWithoutClass(t *testing.T) {
	f := newSessionFixture(t, 3, time.Date(2024, 3, 4, 10, 45, 0, 0, time.UTC), SessionConfig{})

	session, err := f.engine.StartSession(context.Background(), testClass, StartOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrScheduleBlocked)
	assert.Equal(t, models.SessionStateBlocked, session.State())
	assert.Equal(t, string(models.ScheduleReasonNoClass), session.View().Reason)
	assert.False(t, f.driver.Active())

	require.Error(t, session.Retry(context.Background()))
}

func TestScanSessionBlockedForOtherClass(t *testing.T) {
	f := newSessionFixture(t, 3, time.Date(2024, 3, 4, 11, 15, 0, 0, time.UTC), SessionConfig{})

	session, err := f.engine.StartSession(context.Background(), testClass, StartOptions{})
	require.Error(t, err)
	assert.Equal(t, models.SessionStateBlocked, session.State())
	assert.Equal(t, string(models.ScheduleReasonClassMismatch), session.View().Reason)
}

func TestScanSessionEmptyRosterStaysInHandshake(t *testing.T) {
	f := newSessionFixture(t, 3, mondayMorning, SessionConfig{})
	students := f.roster.students
	f.roster.students = nil

	session, err := f.engine.StartSession(context.Background(), testClass, StartOptions{})
	assert.ErrorIs(t, err, appErrors.ErrRosterEmpty)
	assert.Equal(t, models.SessionStateHandshake, session.State())
	assert.False(t, f.driver.Active())

	f.roster.students = students
	require.NoError(t, session.Retry(context.Background()))
	assert.Equal(t, models.SessionStateScanning, session.State())
	assert.Equal(t, 3, session.Roster().Size())
}

func TestScanSessionHardwareOffMovesToError(t *testing.T) {
	f := newSessionFixture(t, 3, mondayMorning, SessionConfig{})
	f.driver.SetState(beacon.StateOff)

	session, err := f.engine.StartSession(context.Background(), testClass, StartOptions{})
	assert.ErrorIs(t, err, appErrors.ErrHardwareUnavailable)
	assert.Equal(t, models.SessionStateError, session.State())
	assert.Equal(t, string(beacon.StateOff), session.View().Reason)

	f.driver.SetState(beacon.StateOn)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, models.SessionStateError, session.State())

	require.NoError(t, session.Retry(context.Background()))
	assert.Equal(t, models.SessionStateScanning, session.State())
}

func TestScanSessionRequestsPermissionWhenUnauthorized(t *testing.T) {
	f := newSessionFixture(t, 2, mondayMorning, SessionConfig{})
	f.driver.SetState(beacon.StateUnauthorized)

	session := f.start(t)
	assert.True(t, f.driver.Active())

	f.driver.SetState(beacon.StateUnauthorized)
	f.driver.SetPermissionResult(false)
	_, err := f.engine.StartSession(context.Background(), testClass, StartOptions{})
	assert.ErrorIs(t, err, appErrors.ErrHardwareUnavailable)
	assert.True(t, session.Closed())
}

func TestScanSessionWaitsForResettingAdapter(t *testing.T) {
	f := newSessionFixture(t, 2, mondayMorning, SessionConfig{StateWaitTimeout: time.Second})
	f.driver.SetState(beacon.StateResetting)
	go func() {
		time.Sleep(50 * time.Millisecond)
		f.driver.SetState(beacon.StateOn)
	}()

	f.start(t)
	assert.True(t, f.driver.Active())
}

func TestScanSessionOverridePrompt(t *testing.T) {
	f := newSessionFixture(t, 3, mondayMorning, SessionConfig{})
	first := f.start(t)
	f.driver.EmitAt(f.beacon(0), -60, mondayMorning)
	_, err := first.Submit(context.Background())
	require.NoError(t, err)
	firstID := first.ID()

	second, err := f.engine.StartSession(context.Background(), testClass, StartOptions{})
	require.NoError(t, err)
	assert.True(t, first.Closed())
	assert.Equal(t, models.SessionStateHandshake, second.State())
	view := second.View()
	require.NotNil(t, view.PendingOverride)
	assert.Equal(t, firstID, view.PendingOverride.SessionID)
	assert.False(t, f.driver.Active())

	require.NoError(t, second.ResolveOverride(context.Background(), true))
	assert.Equal(t, models.SessionStateScanning, second.State())
	assert.Equal(t, firstID, second.ID())

	_, _, err = second.Bulk(models.BulkActionMarkAllPresent)
	require.NoError(t, err)
	result, err := second.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Counts.Present)

	record, ok := f.store.log(firstID, f.students[2].ID)
	require.True(t, ok)
	assert.Equal(t, models.AttendanceStatusPresent, record.Status)
}

func TestScanSessionOverrideCancelClosesSession(t *testing.T) {
	f := newSessionFixture(t, 2, mondayMorning, SessionConfig{})
	f.store.latest = &models.SessionMarker{SessionID: "earlier", SubmittedAt: mondayMorning.Add(-time.Hour)}

	session, err := f.engine.StartSession(context.Background(), testClass, StartOptions{})
	require.NoError(t, err)
	require.NotNil(t, session.View().PendingOverride)

	require.NoError(t, session.ResolveOverride(context.Background(), false))
	assert.True(t, session.Closed())
	_, err = f.engine.Current()
	assert.ErrorIs(t, err, appErrors.ErrNoActiveSession)
}

func TestScanSessionPauseResume(t *testing.T) {
	f := newSessionFixture(t, 3, mondayMorning, SessionConfig{})
	session := f.start(t)

	require.NoError(t, session.Pause())
	assert.False(t, f.driver.Active())
	view := session.View()
	assert.True(t, view.Paused)
	assert.Nil(t, view.TimerDeadline)
	assert.Greater(t, view.Remaining, int64(0))
	assert.False(t, f.driver.EmitAt(f.beacon(0), -60, mondayMorning))

	require.NoError(t, session.Resume())
	assert.True(t, f.driver.Active())
	assert.Equal(t, models.SessionStateScanning, session.State())
	assert.NotNil(t, session.View().TimerDeadline)
}

func TestScanSessionHardwareDropAutoResumes(t *testing.T) {
	f := newSessionFixture(t, 3, mondayMorning, SessionConfig{SettleDelay: 20 * time.Millisecond})
	f.start(t)

	f.driver.SetState(beacon.StateOff)
	assert.False(t, f.driver.Active())

	f.driver.SetState(beacon.StateOn)
	require.Eventually(t, f.driver.Active, time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, f.driver.Starts())
}

func TestScanSessionPausedScanDoesNotAutoResume(t *testing.T) {
	f := newSessionFixture(t, 3, mondayMorning, SessionConfig{SettleDelay: 10 * time.Millisecond})
	session := f.start(t)
	require.NoError(t, session.Pause())

	f.driver.SetState(beacon.StateOff)
	f.driver.SetState(beacon.StateOn)
	time.Sleep(50 * time.Millisecond)
	assert.False(t, f.driver.Active())
}

func TestScanSessionBlurStopsDiscoveryWithoutStateChange(t *testing.T) {
	f := newSessionFixture(t, 3, mondayMorning, SessionConfig{SettleDelay: 10 * time.Millisecond})
	session := f.start(t)

	session.Blur()
	assert.False(t, f.driver.Active())
	assert.Equal(t, models.SessionStateScanning, session.State())
	assert.ErrorIs(t, session.Resume(), appErrors.ErrInvalidState)

	f.driver.SetState(beacon.StateOff)
	f.driver.SetState(beacon.StateOn)
	time.Sleep(50 * time.Millisecond)
	assert.False(t, f.driver.Active())
}

func TestScanSessionRestartsDiscoveryAfterWindow(t *testing.T) {
	f := newSessionFixture(t, 2, mondayMorning, SessionConfig{})
	f.start(t)

	f.driver.ExpireWindow()
	assert.True(t, f.driver.Active())
	assert.Equal(t, 2, f.driver.Starts())
}

func TestScanSessionRestartsAfterWindowWithSlowTeardown(t *testing.T) {
	f := newSessionFixture(t, 2, mondayMorning, SessionConfig{})
	f.driver.SetTeardownDelay(30 * time.Millisecond)
	session := f.start(t)

	f.driver.ExpireWindow()
	assert.False(t, f.driver.TearingDown())
	assert.True(t, f.driver.Active())
	assert.Equal(t, 2, f.driver.Starts())
	require.True(t, f.driver.EmitAt(f.beacon(1), -60, mondayMorning))
	assert.Equal(t, 1, session.Roster().Counts().Present)

	// The restarted stream keeps its own window.
	f.driver.ExpireWindow()
	assert.True(t, f.driver.Active())
	assert.Equal(t, 3, f.driver.Starts())
}

func TestScanSessionQuickPauseResumeWithSlowTeardown(t *testing.T) {
	f := newSessionFixture(t, 2, mondayMorning, SessionConfig{})
	f.driver.SetTeardownDelay(30 * time.Millisecond)
	session := f.start(t)

	require.NoError(t, session.Pause())
	assert.True(t, f.driver.TearingDown())
	require.NoError(t, session.Resume())
	assert.True(t, f.driver.Active())
	require.True(t, f.driver.EmitAt(f.beacon(0), -60, mondayMorning))
	assert.Equal(t, 1, session.Roster().Counts().Present)
}

func TestScanSessionOfflineSubmitDefers(t *testing.T) {
	f := newSessionFixture(t, 4, mondayMorning, SessionConfig{})
	session := f.start(t)
	f.store.setDown(true)

	result, err := session.Submit(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Deferred)
	assert.Equal(t, models.SessionStateSuccess, session.State())
	assert.Equal(t, 1, f.queue.len())
	assert.Equal(t, 4, result.Counts.Absent)
}

func TestScanSessionFailedSubmitKeepsSnapshot(t *testing.T) {
	f := newSessionFixture(t, 3, mondayMorning, SessionConfig{})
	session := f.start(t)
	f.driver.EmitAt(f.beacon(2), -60, mondayMorning)
	f.store.setDown(true)
	f.queue.failNext = true

	_, err := session.Submit(context.Background())
	require.ErrorIs(t, err, appErrors.ErrSubmissionFailed)
	assert.Equal(t, models.SessionStateSubmitting, session.State())
	assert.False(t, f.driver.Active())
	snap := session.Snapshot()
	assert.Equal(t, 1, snap.Counts().Present)

	_, err = session.SetStatus(f.students[0].ID, models.AttendanceStatusPresent)
	assert.ErrorIs(t, err, appErrors.ErrInvalidState)

	f.store.setDown(false)
	result, err := session.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snap.SessionID, result.SessionID)
	assert.Equal(t, models.SessionStateSuccess, session.State())
	assert.Equal(t, 3, f.store.recordCount(snap.SessionID))
}

func TestScanSessionBatchFilterAndGrants(t *testing.T) {
	f := newSessionFixture(t, 4, mondayMorning, SessionConfig{})
	f.roster.grants = []models.PermissionGrant{{
		StudentID: f.students[1].ID,
		Kind:      models.AttendanceStatusLeave,
		From:      mondayMorning.Add(-time.Hour),
		To:        mondayMorning.Add(time.Hour),
	}}
	session := f.start(t)

	counts := session.Roster().Counts()
	assert.Equal(t, 1, counts.Leave)
	assert.Equal(t, 3, counts.Absent)

	_, err := session.SetStatus(f.students[1].ID, models.AttendanceStatusPresent)
	assert.ErrorIs(t, err, appErrors.ErrStatusLocked)

	changed, counts, err := session.Bulk(models.BulkActionMarkAllPresent)
	require.NoError(t, err)
	assert.Equal(t, 3, changed)
	assert.Equal(t, 1, counts.Leave)

	counts, err = session.SetBatchFilter(models.Batch1)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Total)
	assert.True(t, f.driver.Active())

	snap := session.Snapshot()
	assert.Len(t, snap.Records, 2)
	assert.Equal(t, models.Batch1, snap.Batch)
}
