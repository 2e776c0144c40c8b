package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/beacon-attendance/internal/models"
	"github.com/noah-isme/beacon-attendance/pkg/jobs"
)

type storePinger interface {
	Ping(ctx context.Context) error
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) (bool, error)
	Wait(ctx context.Context) error
}

type queueApplier interface {
	Apply(ctx context.Context, op models.QueueOperation, payload models.QueuePayload) error
}

// SyncReplayerConfig governs queue replay.
type SyncReplayerConfig struct {
	Interval   time.Duration
	BatchSize  int
	MaxRetries int
	// PassTimeout bounds one replay pass including dispatch.
	PassTimeout time.Duration
}

// SyncReplayer drains the durable write queue into the backing store. It runs
// independently of any scan session.
type SyncReplayer struct {
	queue      queueStore
	store      storePinger
	applier    queueApplier
	dispatcher jobDispatcher
	metrics    *MetricsService
	logger     *zap.Logger
	cfg        SyncReplayerConfig

	trigger chan struct{}
	passMu  sync.Mutex
}

// NewSyncReplayer constructs the replayer. The dispatcher is attached with
// SetDispatcher because its handler is the replayer itself.
func NewSyncReplayer(queue queueStore, store storePinger, applier queueApplier, metrics *MetricsService, logger *zap.Logger, cfg SyncReplayerConfig) *SyncReplayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.PassTimeout <= 0 {
		cfg.PassTimeout = 2 * time.Minute
	}
	return &SyncReplayer{
		queue:   queue,
		store:   store,
		applier: applier,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
		trigger: make(chan struct{}, 1),
	}
}

// SetDispatcher attaches the worker queue that runs Handle.
func (r *SyncReplayer) SetDispatcher(dispatcher jobDispatcher) {
	r.dispatcher = dispatcher
}

// Start recovers items left in processing by a previous run and boots the
// replay loop. It returns immediately.
func (r *SyncReplayer) Start(ctx context.Context) {
	recovered, err := r.queue.RecoverProcessing(ctx)
	if err != nil {
		r.logger.Sugar().Warnw("failed to recover processing queue items", "error", err)
	} else if recovered > 0 {
		r.logger.Sugar().Infow("recovered interrupted queue items", "count", recovered)
	}

	ticker := time.NewTicker(r.cfg.Interval)
	go func() {
		defer ticker.Stop()
		r.runPass(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.runPass(ctx)
			case <-r.trigger:
				r.runPass(ctx)
			}
		}
	}()
}

// Trigger requests a replay pass as soon as possible. Triggers coalesce.
func (r *SyncReplayer) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

func (r *SyncReplayer) runPass(ctx context.Context) {
	passCtx, cancel := context.WithTimeout(ctx, r.cfg.PassTimeout)
	defer cancel()
	if _, err := r.ReplayOnce(passCtx); err != nil {
		r.logger.Debug("replay pass skipped", zap.Error(err))
	}
}

// ReplayOnce runs a single pass over pending items and returns how many were
// dispatched. An unreachable store ends the pass before any item is touched.
func (r *SyncReplayer) ReplayOnce(ctx context.Context) (int, error) {
	r.passMu.Lock()
	defer r.passMu.Unlock()
	defer r.refreshDepth(ctx)

	if err := r.store.Ping(ctx); err != nil {
		return 0, err
	}
	items, err := r.queue.ListPending(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	dispatched := 0
	for _, item := range items {
		if r.dispatcher == nil {
			if err := r.Handle(ctx, jobs.Job{ID: item.ID, Type: string(item.Operation)}); err != nil {
				r.logger.Sugar().Warnw("queue item replay failed", "queue_id", item.ID, "error", err)
			}
			dispatched++
			continue
		}
		queued, err := r.dispatcher.Enqueue(jobs.Job{ID: item.ID, Type: string(item.Operation)})
		if err != nil {
			r.logger.Sugar().Warnw("failed to dispatch queue item", "queue_id", item.ID, "error", err)
			continue
		}
		if queued {
			dispatched++
		}
	}
	if r.dispatcher != nil {
		if err := r.dispatcher.Wait(ctx); err != nil {
			return dispatched, err
		}
	}

	if purged, err := r.queue.PurgeCompleted(ctx); err != nil {
		r.logger.Sugar().Warnw("failed to purge completed queue items", "error", err)
	} else if purged > 0 {
		r.logger.Sugar().Infow("sync replay pass finished", "dispatched", dispatched, "purged", purged)
	}
	return dispatched, nil
}

// Handle replays one queue item. A failed write increments its retry count;
// the item moves to failed once the count exceeds the configured maximum.
func (r *SyncReplayer) Handle(ctx context.Context, job jobs.Job) error {
	claimed, err := r.queue.MarkProcessing(ctx, job.ID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	item, err := r.queue.GetByID(ctx, job.ID)
	if err != nil {
		return err
	}

	applyErr := r.applier.Apply(ctx, item.Operation, item.Payload)
	if applyErr != nil {
		status, err := r.queue.RecordFailure(ctx, item.ID, applyErr.Error(), r.cfg.MaxRetries)
		if err != nil {
			r.logger.Sugar().Warnw("failed to record queue item failure", "queue_id", item.ID, "error", err)
		}
		r.metrics.RecordReplay(string(item.Operation), false)
		if status == models.QueueStatusFailed {
			r.logger.Sugar().Errorw("queue item exhausted retries", "queue_id", item.ID, "operation", item.Operation, "error", applyErr)
		}
		return applyErr
	}

	if err := r.queue.MarkCompleted(ctx, item.ID); err != nil {
		r.logger.Sugar().Warnw("failed to mark queue item completed", "queue_id", item.ID, "error", err)
		return err
	}
	r.metrics.RecordReplay(string(item.Operation), true)
	return nil
}

func (r *SyncReplayer) refreshDepth(ctx context.Context) {
	if r.metrics == nil {
		return
	}
	counts, err := r.queue.CountByStatus(ctx)
	if err != nil {
		return
	}
	for _, status := range []models.QueueStatus{models.QueueStatusPending, models.QueueStatusProcessing, models.QueueStatusFailed} {
		r.metrics.SetQueueDepth(string(status), counts[status])
	}
}
