package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/beacon-attendance/internal/models"
	"github.com/noah-isme/beacon-attendance/pkg/database"
	appErrors "github.com/noah-isme/beacon-attendance/pkg/errors"
)

type sessionStore interface {
	Ping(ctx context.Context) error
	CreateSession(ctx context.Context, write models.SessionWrite) error
	ReplaceSession(ctx context.Context, write models.SessionWrite) error
	InsertLog(ctx context.Context, sessionID string, record models.AttendanceRecord) error
	UpsertLog(ctx context.Context, sessionID string, record models.AttendanceRecord) error
	LatestForClass(ctx context.Context, subjectCode, section string, date time.Time) (*models.SessionMarker, error)
}

type queueStore interface {
	Create(ctx context.Context, item *models.QueueItem) error
	GetByID(ctx context.Context, id string) (*models.QueueItem, error)
	List(ctx context.Context, filter models.QueueFilter) ([]models.QueueItem, error)
	ListPending(ctx context.Context, limit int) ([]models.QueueItem, error)
	MarkProcessing(ctx context.Context, id string) (bool, error)
	MarkCompleted(ctx context.Context, id string) error
	RecordFailure(ctx context.Context, id string, cause string, maxRetries int) (models.QueueStatus, error)
	ResetForRetry(ctx context.Context, id string) error
	RecoverProcessing(ctx context.Context) (int64, error)
	PurgeCompleted(ctx context.Context) (int64, error)
	CountByStatus(ctx context.Context) (map[models.QueueStatus]int, error)
}

type grantSource interface {
	ActiveGrants(ctx context.Context, studentIDs []string, at time.Time) ([]models.PermissionGrant, error)
}

// SyncConfig tunes the write path.
type SyncConfig struct {
	WriteTimeout time.Duration
	MaxRetries   int
}

// SyncService writes attendance to the backing store, falling back to the
// durable local queue when the store cannot be reached. Every accepted
// submission ends in either a confirmed write or a queue item.
type SyncService struct {
	store   sessionStore
	queue   queueStore
	grants  grantSource
	local   *LocalStoreService
	metrics *MetricsService
	logger  *zap.Logger
	cfg     SyncConfig
	onQueue func()
}

// NewSyncService constructs the sync manager. grants may be nil.
func NewSyncService(store sessionStore, queue queueStore, grants grantSource, local *LocalStoreService, metrics *MetricsService, logger *zap.Logger, cfg SyncConfig) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	return &SyncService{store: store, queue: queue, grants: grants, local: local, metrics: metrics, logger: logger, cfg: cfg}
}

// OnEnqueue registers a callback fired after an item is queued.
func (s *SyncService) OnEnqueue(fn func()) {
	s.onQueue = fn
}

// Submit delivers a session snapshot. A store failure is not an error: the
// snapshot is queued and the result is marked deferred.
func (s *SyncService) Submit(ctx context.Context, snap models.SessionSnapshot) (*models.SubmitResult, error) {
	if snap.SessionID == "" || len(snap.Records) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "snapshot has no records")
	}
	snap = s.reconcileGrants(ctx, snap)

	op := models.QueueOpCreateSession
	if snap.Override {
		op = models.QueueOpUpdateSession
	}
	write := models.SessionWrite{Session: snap.Record(), Logs: snap.Records}

	result := &models.SubmitResult{SessionID: snap.SessionID, Counts: snap.Counts()}
	queued, err := s.writeOrEnqueue(ctx, op, write)
	if err != nil {
		s.metrics.RecordSubmission(SubmissionFailed)
		return nil, err
	}
	if queued != nil {
		result.Deferred = true
		result.QueueID = queued.ID
		s.metrics.RecordSubmission(SubmissionDeferred)
	} else {
		s.metrics.RecordSubmission(SubmissionDirect)
	}

	marker := models.SessionMarker{
		SessionID:   snap.SessionID,
		ClassKey:    snap.Class.Key(),
		Date:        models.DateKey(snap.Date),
		SubmittedAt: snap.SubmittedAt,
	}
	if err := s.local.SaveLastSession(ctx, marker); err != nil {
		s.logger.Sugar().Warnw("failed to store session marker", "session_id", snap.SessionID, "error", err)
	}

	s.logger.Sugar().Infow("attendance submitted",
		"session_id", snap.SessionID,
		"class", marker.ClassKey,
		"deferred", result.Deferred,
		"present", result.Counts.Present,
		"absent", result.Counts.Absent,
	)
	return result, nil
}

// AmendRecord changes one record of an already submitted session.
func (s *SyncService) AmendRecord(ctx context.Context, sessionID string, record models.AttendanceRecord) (*models.SubmitResult, error) {
	return s.logWrite(ctx, models.QueueOpUpdateLog, sessionID, record)
}

// AddLateRecord adds a record for a student missing from a submitted session.
func (s *SyncService) AddLateRecord(ctx context.Context, sessionID string, record models.AttendanceRecord) (*models.SubmitResult, error) {
	return s.logWrite(ctx, models.QueueOpCreateLog, sessionID, record)
}

func (s *SyncService) logWrite(ctx context.Context, op models.QueueOperation, sessionID string, record models.AttendanceRecord) (*models.SubmitResult, error) {
	if sessionID == "" || record.StudentID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "session and student are required")
	}
	if !record.Status.Valid() || record.Status == models.AttendanceStatusPending {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid attendance status")
	}
	if record.MarkedAt.IsZero() {
		record.MarkedAt = time.Now().UTC()
	}
	queued, err := s.writeOrEnqueue(ctx, op, models.LogWrite{SessionID: sessionID, Record: record})
	if err != nil {
		return nil, err
	}
	result := &models.SubmitResult{SessionID: sessionID}
	result.Counts.Add(record.Status)
	if queued != nil {
		result.Deferred = true
		result.QueueID = queued.ID
	}
	return result, nil
}

// PreviousSession looks up a session already submitted for the class on date
// in the backing store. Errors mean the store could not be asked.
func (s *SyncService) PreviousSession(ctx context.Context, class models.ClassContext, date time.Time) (*models.SessionMarker, error) {
	readCtx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()
	y, m, d := date.Date()
	return s.store.LatestForClass(readCtx, class.SubjectCode, class.Section, time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

// ListItems returns queue items for inspection.
func (s *SyncService) ListItems(ctx context.Context, filter models.QueueFilter) ([]models.QueueItem, error) {
	items, err := s.queue.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sync queue")
	}
	return items, nil
}

// RetryFailed puts a failed item back in the replay rotation.
func (s *SyncService) RetryFailed(ctx context.Context, id string) error {
	if err := s.queue.ResetForRetry(ctx, id); err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return appErr
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset queue item")
	}
	s.notifyQueued()
	return nil
}

// Apply executes a queued operation against the backing store. Duplicate key
// responses count as success.
func (s *SyncService) Apply(ctx context.Context, op models.QueueOperation, payload models.QueuePayload) error {
	writeCtx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()

	var err error
	switch op {
	case models.QueueOpCreateSession, models.QueueOpUpdateSession:
		var write models.SessionWrite
		if err := payload.Decode(&write); err != nil {
			return err
		}
		if op == models.QueueOpCreateSession {
			err = s.store.CreateSession(writeCtx, write)
		} else {
			err = s.store.ReplaceSession(writeCtx, write)
		}
	case models.QueueOpCreateLog, models.QueueOpUpdateLog:
		var write models.LogWrite
		if err := payload.Decode(&write); err != nil {
			return err
		}
		if op == models.QueueOpCreateLog {
			err = s.store.InsertLog(writeCtx, write.SessionID, write.Record)
		} else {
			err = s.store.UpsertLog(writeCtx, write.SessionID, write.Record)
		}
	default:
		return fmt.Errorf("unsupported queue operation %q", op)
	}
	if err != nil && database.IsUniqueViolation(err) {
		s.logger.Sugar().Infow("duplicate write treated as delivered", "operation", op)
		return nil
	}
	return err
}

// writeOrEnqueue tries the store directly and queues the operation on
// failure. It returns the queued item, or nil when the write went through.
func (s *SyncService) writeOrEnqueue(ctx context.Context, op models.QueueOperation, body interface{}) (*models.QueueItem, error) {
	payload, err := models.NewQueuePayload(body)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode write")
	}

	writeErr := s.Apply(ctx, op, payload)
	if writeErr == nil {
		return nil, nil
	}
	s.logger.Sugar().Warnw("direct write failed, queueing", "operation", op, "error", writeErr)

	cause := writeErr.Error()
	item := &models.QueueItem{Operation: op, Payload: payload, LastError: &cause}
	if err := s.queue.Create(ctx, item); err != nil {
		s.logger.Sugar().Errorw("failed to queue write", "operation", op, "error", err)
		return nil, appErrors.Wrap(err, appErrors.ErrSubmissionFailed.Code, appErrors.ErrSubmissionFailed.Status, "attendance could not be saved; retry submission")
	}
	s.notifyQueued()
	return item, nil
}

// reconcileGrants applies permission grants known to the store at submit
// time so a late grant wins over a manual or detected status.
func (s *SyncService) reconcileGrants(ctx context.Context, snap models.SessionSnapshot) models.SessionSnapshot {
	if s.grants == nil {
		return snap
	}
	ids := make([]string, len(snap.Records))
	for i, r := range snap.Records {
		ids[i] = r.StudentID
	}
	readCtx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	grants, err := s.grants.ActiveGrants(readCtx, ids, snap.SubmittedAt)
	cancel()
	if err != nil {
		s.logger.Debug("grant reconciliation skipped", zap.Error(err))
		return snap
	}
	if len(grants) == 0 {
		return snap
	}
	byStudent := make(map[string]models.AttendanceStatus, len(grants))
	for _, g := range grants {
		if g.Kind.Locked() && g.Covers(snap.SubmittedAt) {
			byStudent[g.StudentID] = g.Kind
		}
	}
	records := make([]models.AttendanceRecord, len(snap.Records))
	copy(records, snap.Records)
	for i := range records {
		kind, ok := byStudent[records[i].StudentID]
		if !ok || records[i].Status == kind {
			continue
		}
		records[i].Status = kind
		records[i].DetectedAt = nil
		records[i].IsManual = false
	}
	snap.Records = records
	return snap
}

func (s *SyncService) notifyQueued() {
	if s.onQueue != nil {
		s.onQueue()
	}
}
