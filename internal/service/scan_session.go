package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/beacon-attendance/internal/models"
	"github.com/noah-isme/beacon-attendance/pkg/beacon"
	appErrors "github.com/noah-isme/beacon-attendance/pkg/errors"
	"github.com/noah-isme/beacon-attendance/pkg/logger"
)

// SessionDeps are the collaborators shared by every scan session.
type SessionDeps struct {
	Discovery *DiscoveryService
	Gate      *ScheduleGate
	Sync      *SyncService
	Local     *LocalStoreService
	Metrics   *MetricsService
	Logger    *zap.Logger
	Clock     func() time.Time
}

// SessionConfig tunes a scan session.
type SessionConfig struct {
	Duration         time.Duration
	Debounce         time.Duration
	TickInterval     time.Duration
	SettleDelay      time.Duration
	StateWaitTimeout time.Duration
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.Duration <= 0 {
		c.Duration = 5 * time.Minute
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.StateWaitTimeout <= 0 {
		c.StateWaitTimeout = 3 * time.Second
	}
	return c
}

type classDataLoader func(ctx context.Context) (*ClassData, error)

// ScanSession drives one attendance capture for one class through
// handshake, scanning and submission.
type ScanSession struct {
	id        string
	class     models.ClassContext
	startedAt time.Time
	deps      SessionDeps
	cfg       SessionConfig
	logger    *zap.Logger
	hub       *eventHub
	roster    *RosterManager
	matcher   *IdentityMatcher
	reload    classDataLoader

	mu              sync.Mutex
	data            *ClassData
	state           models.SessionState
	reason          string
	override        bool
	pendingOverride *models.SessionMarker
	paused          bool
	blurred         bool
	closed          bool
	discovering     bool
	resumeOnReady   bool
	resumeTimer     *time.Timer
	remaining       time.Duration
	deadline        time.Time
	timerStop       chan struct{}
	snapshot        *models.SessionSnapshot
	submitting      bool
	result          *models.SubmitResult
	unsubscribeHW   func()
}

func newScanSession(id string, class models.ClassContext, data *ClassData, reload classDataLoader, deps SessionDeps, cfg SessionConfig) *ScanSession {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if data == nil {
		data = &ClassData{}
	}
	cfg = cfg.withDefaults()
	s := &ScanSession{
		id:        id,
		class:     class,
		startedAt: deps.Clock().UTC(),
		deps:      deps,
		cfg:       cfg,
		logger:    logger.ForSession(deps.Logger, id, string(class.Key())),
		hub:       newEventHub(),
		roster:    NewRosterManager(deps.Clock),
		matcher:   NewIdentityMatcher(cfg.Debounce, deps.Logger),
		reload:    reload,
		data:      data,
		state:     models.SessionStateHandshake,
		remaining: cfg.Duration,
	}
	s.loadRoster(data)
	if deps.Discovery != nil {
		s.unsubscribeHW = deps.Discovery.OnStateChange(s.onHardwareState)
	}
	deps.Metrics.RecordSessionState(string(models.SessionStateHandshake))
	return s
}

func (s *ScanSession) loadRoster(data *ClassData) {
	s.roster.Load(data.Students, data.Grants)
	s.matcher.BuildIndex(data.Students)
}

// ID returns the session id.
func (s *ScanSession) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Class returns the class this session captures.
func (s *ScanSession) Class() models.ClassContext {
	return s.class
}

// Roster exposes the session roster.
func (s *ScanSession) Roster() *RosterManager {
	return s.roster
}

// Closed reports whether the session was closed or superseded.
func (s *ScanSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// State returns the current state.
func (s *ScanSession) State() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Offline reports whether class data came from the local cache.
func (s *ScanSession) Offline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Offline
}

// Result returns the submission result once the session succeeded.
func (s *ScanSession) Result() *models.SubmitResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// View describes the session for callers.
func (s *ScanSession) View() models.ScanSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	view := models.ScanSession{
		ID:              s.id,
		ClassKey:        s.class.Key(),
		Class:           s.class,
		State:           s.state,
		Reason:          s.reason,
		BatchFilter:     s.roster.Filter(),
		Remaining:       s.remainingLocked().Milliseconds(),
		Paused:          s.paused,
		Override:        s.override,
		PendingOverride: s.pendingOverride,
		StartedAt:       s.startedAt,
	}
	if s.timerStop != nil {
		deadline := s.deadline
		view.TimerDeadline = &deadline
	}
	return view
}

// Subscribe returns a channel of session events. The channel closes when the
// session closes or cancel is called.
func (s *ScanSession) Subscribe() (<-chan SessionEvent, func()) {
	return s.hub.subscribe()
}

// Handshake runs the entry checks in order: schedule, roster, hardware and
// previous submission. It ends in scanning, in handshake with an override
// prompt or a roster error, in blocked, or in error.
func (s *ScanSession) Handshake(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return appErrors.ErrNoActiveSession
	}
	if s.state != models.SessionStateHandshake && s.state != models.SessionStateError {
		s.mu.Unlock()
		return appErrors.Clone(appErrors.ErrInvalidState, "handshake already completed")
	}
	s.setStateLocked(models.SessionStateHandshake, "")
	data := s.data
	s.mu.Unlock()

	if err := s.checkSchedule(data); err != nil {
		return err
	}

	if s.roster.Size() == 0 {
		s.publishError(appErrors.ErrRosterEmpty, string(models.SessionStateHandshake))
		return appErrors.ErrRosterEmpty
	}

	if err := s.checkHardware(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	override := s.override
	s.mu.Unlock()
	if !override {
		if marker := s.previousSession(ctx); marker != nil {
			s.mu.Lock()
			s.pendingOverride = marker
			s.publishStateLocked()
			s.mu.Unlock()
			s.logger.Sugar().Infow("previous submission found", "previous_session_id", marker.SessionID)
			return nil
		}
	}
	return s.beginScanning()
}

// Retry reruns the handshake after a hardware error or an empty roster. An
// empty roster is reloaded first.
func (s *ScanSession) Retry(ctx context.Context) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state != models.SessionStateError && state != models.SessionStateHandshake {
		return appErrors.Clone(appErrors.ErrInvalidState, "nothing to retry")
	}
	if s.roster.Size() == 0 && s.reload != nil {
		data, err := s.reload(ctx)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.data = data
		s.mu.Unlock()
		s.loadRoster(data)
	}
	return s.Handshake(ctx)
}

// ResolveOverride answers the previous-submission prompt. Continuing replaces
// the earlier submission; cancelling closes the session.
func (s *ScanSession) ResolveOverride(ctx context.Context, proceed bool) error {
	s.mu.Lock()
	if s.closed || s.state != models.SessionStateHandshake || s.pendingOverride == nil {
		s.mu.Unlock()
		return appErrors.Clone(appErrors.ErrInvalidState, "no override prompt pending")
	}
	marker := s.pendingOverride
	s.pendingOverride = nil
	if !proceed {
		s.mu.Unlock()
		s.logger.Info("override declined")
		s.Close()
		return nil
	}
	s.override = true
	s.id = marker.SessionID
	s.mu.Unlock()

	if err := s.deps.Local.ClearLastSession(ctx, s.class.Key()); err != nil {
		s.logger.Warn("failed to clear session marker", zap.Error(err))
	}
	s.logger.Sugar().Infow("overriding previous submission", "previous_session_id", marker.SessionID)
	return s.beginScanning()
}

// Pause stops discovery and the countdown, keeping the remaining time.
func (s *ScanSession) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireScanningLocked(); err != nil {
		return err
	}
	if s.paused {
		return nil
	}
	s.paused = true
	s.resumeOnReady = false
	s.stopDiscoveryLocked()
	s.stopTimerLocked()
	s.publishStateLocked()
	return nil
}

// Resume restarts discovery and the countdown after Pause.
func (s *ScanSession) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireScanningLocked(); err != nil {
		return err
	}
	if s.blurred {
		return appErrors.Clone(appErrors.ErrInvalidState, "session lost focus; start a new session")
	}
	if !s.paused {
		return nil
	}
	s.paused = false
	s.startDiscoveryLocked()
	s.startTimerLocked()
	s.publishStateLocked()
	return nil
}

// Blur handles loss of focus: discovery stops and the timer is cleared
// without a state change. Only a new session resumes scanning.
func (s *ScanSession) Blur() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.blurred = true
	s.resumeOnReady = false
	s.cancelResumeLocked()
	s.forceStopDiscoveryLocked()
	s.stopTimerLocked()
}

// SetBatchFilter changes the visible roster. Discovery keeps running.
func (s *ScanSession) SetBatchFilter(filter models.BatchFilter) (models.StatusCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state.Terminal() || s.state == models.SessionStateSubmitting {
		return models.StatusCounts{}, appErrors.Clone(appErrors.ErrInvalidState, "batch filter cannot change now")
	}
	if err := s.roster.SetFilter(filter); err != nil {
		return models.StatusCounts{}, err
	}
	return s.publishCountsLocked(), nil
}

// SetStatus applies a manual status to a student.
func (s *ScanSession) SetStatus(studentID string, status models.AttendanceStatus) (models.StatusCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireScanningLocked(); err != nil {
		return models.StatusCounts{}, err
	}
	if err := s.roster.SetStatus(studentID, status); err != nil {
		return models.StatusCounts{}, err
	}
	return s.publishCountsLocked(), nil
}

// Toggle flips a student between present and absent.
func (s *ScanSession) Toggle(studentID string) (models.AttendanceStatus, models.StatusCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireScanningLocked(); err != nil {
		return "", models.StatusCounts{}, err
	}
	status, err := s.roster.Toggle(studentID)
	if err != nil {
		return status, models.StatusCounts{}, err
	}
	return status, s.publishCountsLocked(), nil
}

// Bulk applies a bulk action to the visible roster.
func (s *ScanSession) Bulk(action models.BulkAction) (int, models.StatusCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireScanningLocked(); err != nil {
		return 0, models.StatusCounts{}, err
	}
	changed, err := s.roster.Bulk(action)
	if err != nil {
		return 0, models.StatusCounts{}, err
	}
	return changed, s.publishCountsLocked(), nil
}

// Submit hands the roster snapshot to the sync layer. A failed submission
// keeps the snapshot and the session in submitting; calling Submit again
// retries with the same snapshot.
func (s *ScanSession) Submit(ctx context.Context) (*models.SubmitResult, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, appErrors.ErrNoActiveSession
	}
	if s.submitting {
		s.mu.Unlock()
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "submission already in progress")
	}
	switch s.state {
	case models.SessionStateScanning:
		snap := s.buildSnapshotLocked()
		if len(snap.Records) == 0 {
			s.mu.Unlock()
			return nil, appErrors.Clone(appErrors.ErrValidation, "no students in the selected batch")
		}
		s.forceStopDiscoveryLocked()
		s.cancelResumeLocked()
		s.stopTimerLocked()
		s.snapshot = &snap
		s.setStateLocked(models.SessionStateSubmitting, "")
	case models.SessionStateSubmitting:
		if s.snapshot == nil {
			s.mu.Unlock()
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "nothing to submit")
		}
	case models.SessionStateSuccess:
		result := s.result
		s.mu.Unlock()
		return result, nil
	default:
		msg := fmt.Sprintf("cannot submit in %s state", s.state)
		s.mu.Unlock()
		return nil, appErrors.Clone(appErrors.ErrInvalidState, msg)
	}
	s.submitting = true
	snap := *s.snapshot
	s.mu.Unlock()

	result, err := s.deps.Sync.Submit(ctx, snap)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitting = false
	if err != nil {
		s.logger.Warn("submission failed; snapshot retained", zap.Error(err))
		s.hub.publish(SessionEvent{Type: SessionEventError, SessionID: s.id, State: s.state, Error: err.Error(), Reason: errorReason(err), At: s.deps.Clock().UTC()})
		return nil, err
	}
	s.result = result
	if !s.closed {
		s.setStateLocked(models.SessionStateSuccess, "")
	}
	return result, nil
}

// Snapshot returns the submitted snapshot, or the live roster when the
// session has not been submitted yet.
func (s *ScanSession) Snapshot() models.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot != nil {
		return *s.snapshot
	}
	return s.buildSnapshotLocked()
}

// Close releases the hardware and stops every timer. It is idempotent.
func (s *ScanSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.resumeOnReady = false
	s.cancelResumeLocked()
	s.forceStopDiscoveryLocked()
	s.stopTimerLocked()
	unsubscribe := s.unsubscribeHW
	s.unsubscribeHW = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.hub.close()
	s.logger.Debug("scan session closed")
}

func (s *ScanSession) checkSchedule(data *ClassData) error {
	if s.deps.Gate == nil {
		return nil
	}
	decision := s.deps.Gate.IsScanAllowed(s.deps.Clock(), data.Timetable, data.Calendar)
	reason := decision.Reason
	if decision.Allowed && decision.Current != nil && decision.Current.ClassKey() != s.class.Key() {
		reason = models.ScheduleReasonClassMismatch
	}
	if decision.Allowed && reason == models.ScheduleReasonAllowed {
		return nil
	}

	s.mu.Lock()
	s.setStateLocked(models.SessionStateBlocked, string(reason))
	s.mu.Unlock()
	s.logger.Sugar().Infow("scan blocked by schedule", "reason", reason)
	return appErrors.WithReason(appErrors.Clone(appErrors.ErrScheduleBlocked, blockedMessage(reason, decision)), string(reason))
}

func (s *ScanSession) checkHardware(ctx context.Context) error {
	if s.deps.Discovery == nil {
		return s.hardwareError(beacon.StateUnsupported)
	}
	state := s.deps.Discovery.State()
	if state.Transient() {
		state = s.waitForHardware(ctx)
	}
	if state == beacon.StateUnauthorized {
		granted, err := s.deps.Discovery.RequestPermission(ctx)
		if err != nil {
			s.logger.Warn("beacon permission request failed", zap.Error(err))
		}
		if granted {
			state = s.deps.Discovery.State()
		}
	}
	if state.Ready() {
		return nil
	}
	return s.hardwareError(state)
}

func (s *ScanSession) hardwareError(state beacon.State) error {
	s.mu.Lock()
	s.setStateLocked(models.SessionStateError, string(state))
	s.mu.Unlock()
	return appErrors.WithReason(appErrors.Clone(appErrors.ErrHardwareUnavailable, "beacon adapter is "+string(state)), string(state))
}

func (s *ScanSession) waitForHardware(ctx context.Context) beacon.State {
	changes := make(chan beacon.State, 4)
	unsubscribe := s.deps.Discovery.OnStateChange(func(st beacon.State) {
		select {
		case changes <- st:
		default:
		}
	})
	defer unsubscribe()

	timer := time.NewTimer(s.cfg.StateWaitTimeout)
	defer timer.Stop()

	state := s.deps.Discovery.State()
	for state.Transient() {
		select {
		case state = <-changes:
		case <-timer.C:
			return s.deps.Discovery.State()
		case <-ctx.Done():
			return s.deps.Discovery.State()
		}
	}
	return state
}

func (s *ScanSession) previousSession(ctx context.Context) *models.SessionMarker {
	date := s.sessionDate()
	marker, err := s.deps.Local.LastSession(ctx, s.class.Key(), models.DateKey(date))
	if err != nil {
		s.logger.Debug("local session marker unavailable", zap.Error(err))
	}
	if marker != nil || s.deps.Sync == nil {
		return marker
	}
	marker, err = s.deps.Sync.PreviousSession(ctx, s.class, date)
	if err != nil {
		s.logger.Debug("backing store session lookup skipped", zap.Error(err))
		return nil
	}
	return marker
}

func (s *ScanSession) beginScanning() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return appErrors.ErrNoActiveSession
	}
	s.roster.FinalizePending()
	s.paused = false
	s.remaining = s.cfg.Duration
	s.setStateLocked(models.SessionStateScanning, "")
	s.startDiscoveryLocked()
	s.startTimerLocked()
	s.publishCountsLocked()
	s.logger.Sugar().Infow("scanning started", "students", s.roster.Size(), "duration", s.cfg.Duration.String(), "override", s.override)
	return nil
}

func (s *ScanSession) requireScanningLocked() error {
	if s.closed {
		return appErrors.ErrNoActiveSession
	}
	if s.state != models.SessionStateScanning {
		return appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("session is %s", s.state))
	}
	return nil
}

func (s *ScanSession) startDiscoveryLocked() {
	if s.discovering || s.deps.Discovery == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StateWaitTimeout)
	_, err := s.deps.Discovery.StartDiscovery(ctx, s.matcher.FilterIDs(), s.handleDetection, s.onDiscoveryTimeout, s.onDiscoveryError)
	cancel()
	if err != nil {
		if errors.Is(err, beacon.ErrNotReady) {
			s.resumeOnReady = true
		}
		s.logger.Warn("failed to start discovery", zap.Error(err))
		s.hub.publish(SessionEvent{Type: SessionEventError, SessionID: s.id, State: s.state, Error: err.Error(), Reason: string(s.deps.Discovery.State()), At: s.deps.Clock().UTC()})
		return
	}
	s.discovering = true
}

func (s *ScanSession) stopDiscoveryLocked() {
	if !s.discovering {
		return
	}
	s.forceStopDiscoveryLocked()
}

// forceStopDiscoveryLocked releases the adapter whether or not this session
// believes it is discovering.
func (s *ScanSession) forceStopDiscoveryLocked() {
	s.discovering = false
	if s.deps.Discovery != nil {
		s.deps.Discovery.StopDiscovery()
	}
}

func (s *ScanSession) startTimerLocked() {
	if s.timerStop != nil || s.remaining <= 0 {
		return
	}
	stop := make(chan struct{})
	s.timerStop = stop
	s.deadline = time.Now().Add(s.remaining)
	go s.runTimer(stop, s.deadline)
}

func (s *ScanSession) stopTimerLocked() {
	if s.timerStop == nil {
		return
	}
	close(s.timerStop)
	s.timerStop = nil
	s.remaining = time.Until(s.deadline)
	if s.remaining < 0 {
		s.remaining = 0
	}
}

func (s *ScanSession) remainingLocked() time.Duration {
	if s.timerStop == nil {
		return s.remaining
	}
	left := time.Until(s.deadline)
	if left < 0 {
		return 0
	}
	return left
}

func (s *ScanSession) runTimer(stop chan struct{}, deadline time.Time) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	expiry := time.NewTimer(time.Until(deadline))
	defer expiry.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			left := time.Until(deadline)
			if left < 0 {
				left = 0
			}
			s.hub.publish(SessionEvent{Type: SessionEventTick, SessionID: s.id, State: models.SessionStateScanning, RemainingMs: left.Milliseconds(), At: s.deps.Clock().UTC()})
		case <-expiry.C:
			s.onTimerExpired(stop)
			return
		}
	}
}

func (s *ScanSession) onTimerExpired(stop chan struct{}) {
	s.mu.Lock()
	if s.timerStop != stop || s.closed || s.state != models.SessionStateScanning {
		s.mu.Unlock()
		return
	}
	s.timerStop = nil
	s.remaining = 0
	s.mu.Unlock()

	s.logger.Info("scan timer expired; submitting")
	if _, err := s.Submit(context.Background()); err != nil {
		s.logger.Warn("auto-submit failed", zap.Error(err))
	}
}

func (s *ScanSession) handleDetection(d beacon.Detection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state != models.SessionStateScanning || s.paused {
		return
	}
	studentID, outcome := s.matcher.Match(d)
	s.deps.Metrics.RecordDetection(string(outcome))
	if outcome != MatchAccepted {
		return
	}
	if !s.roster.MarkDetected(studentID, d.Timestamp) {
		return
	}
	student, _ := s.roster.Student(studentID)
	s.hub.publish(SessionEvent{
		Type:        SessionEventDetected,
		SessionID:   s.id,
		State:       s.state,
		StudentID:   studentID,
		StudentName: student.Name,
		At:          d.Timestamp,
	})
	s.publishCountsLocked()
}

func (s *ScanSession) onDiscoveryTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discovering = false
	if s.closed || s.state != models.SessionStateScanning || s.paused || s.blurred {
		return
	}
	s.logger.Debug("discovery window ended; restarting")
	s.startDiscoveryLocked()
}

func (s *ScanSession) onDiscoveryError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discovering = false
	if s.closed {
		return
	}
	s.hub.publish(SessionEvent{Type: SessionEventError, SessionID: s.id, State: s.state, Error: err.Error(), At: s.deps.Clock().UTC()})
}

func (s *ScanSession) onHardwareState(state beacon.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if !state.Ready() {
		s.cancelResumeLocked()
		if s.discovering {
			s.resumeOnReady = s.state == models.SessionStateScanning
			s.forceStopDiscoveryLocked()
		}
		s.hub.publish(SessionEvent{Type: SessionEventError, SessionID: s.id, State: s.state, Reason: string(state), Error: appErrors.ErrHardwareUnavailable.Message, At: s.deps.Clock().UTC()})
		return
	}
	if !s.resumeOnReady || s.state != models.SessionStateScanning || s.paused || s.blurred {
		return
	}
	s.cancelResumeLocked()
	s.resumeTimer = time.AfterFunc(s.cfg.SettleDelay, s.autoResume)
}

func (s *ScanSession) autoResume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumeTimer = nil
	if s.closed || !s.resumeOnReady || s.state != models.SessionStateScanning || s.paused || s.blurred {
		return
	}
	s.resumeOnReady = false
	s.logger.Info("beacon adapter back on; resuming discovery")
	s.startDiscoveryLocked()
}

func (s *ScanSession) cancelResumeLocked() {
	if s.resumeTimer != nil {
		s.resumeTimer.Stop()
		s.resumeTimer = nil
	}
}

func (s *ScanSession) buildSnapshotLocked() models.SessionSnapshot {
	return models.SessionSnapshot{
		SessionID:   s.id,
		Class:       s.class,
		Date:        s.sessionDate(),
		Batch:       s.roster.Filter(),
		Override:    s.override,
		StartedAt:   s.startedAt,
		SubmittedAt: s.deps.Clock().UTC(),
		Records:     s.roster.Snapshot(),
		Students:    s.roster.VisibleStudents(),
	}
}

// sessionDate is the local calendar day of the session start, as a UTC
// midnight so it stores as a plain date.
func (s *ScanSession) sessionDate() time.Time {
	loc := time.Local
	if s.deps.Gate != nil {
		loc = s.deps.Gate.Location()
	}
	y, m, d := s.startedAt.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *ScanSession) setStateLocked(state models.SessionState, reason string) {
	changed := s.state != state || s.reason != reason
	s.state = state
	s.reason = reason
	if !changed {
		return
	}
	s.deps.Metrics.RecordSessionState(string(state))
	s.publishStateLocked()
}

func (s *ScanSession) publishStateLocked() {
	s.hub.publish(SessionEvent{Type: SessionEventState, SessionID: s.id, State: s.state, Reason: s.reason, At: s.deps.Clock().UTC()})
}

func (s *ScanSession) publishCountsLocked() models.StatusCounts {
	counts := s.roster.Counts()
	s.hub.publish(SessionEvent{Type: SessionEventCounts, SessionID: s.id, State: s.state, Counts: &counts, At: s.deps.Clock().UTC()})
	return counts
}

func (s *ScanSession) publishError(err *appErrors.Error, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hub.publish(SessionEvent{Type: SessionEventError, SessionID: s.id, State: s.state, Reason: reason, Error: err.Message, At: s.deps.Clock().UTC()})
}

func errorReason(err error) string {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		if appErr.Reason != "" {
			return appErr.Reason
		}
		return appErr.Code
	}
	return ""
}

func blockedMessage(reason models.ScheduleReason, decision models.ScheduleDecision) string {
	switch reason {
	case models.ScheduleReasonHoliday:
		if decision.Title != "" {
			return "no classes today: " + decision.Title
		}
		return "no classes today"
	case models.ScheduleReasonBeforeHours:
		return "scanning opens with the first class"
	case models.ScheduleReasonAfterHours:
		return "scanning closed for the day"
	case models.ScheduleReasonClassMismatch:
		return "another class is scheduled now"
	default:
		return "no class scheduled now"
	}
}
