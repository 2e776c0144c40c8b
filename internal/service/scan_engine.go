package service

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/beacon-attendance/internal/models"
	appErrors "github.com/noah-isme/beacon-attendance/pkg/errors"
)

// StartOptions adjust a new session.
type StartOptions struct {
	Duration time.Duration
	Batch    models.BatchFilter
}

// ScanEngine owns the single live scan session of the device.
type ScanEngine struct {
	classData *ClassDataService
	validate  *validator.Validate
	deps      SessionDeps
	cfg       SessionConfig
	logger    *zap.Logger

	mu      sync.Mutex
	current *ScanSession
}

// NewScanEngine constructs the engine.
func NewScanEngine(classData *ClassDataService, validate *validator.Validate, deps SessionDeps, cfg SessionConfig) *ScanEngine {
	if validate == nil {
		validate = validator.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &ScanEngine{classData: classData, validate: validate, deps: deps, cfg: cfg, logger: deps.Logger}
}

// StartSession supersedes any live session with a new one for class and runs
// its handshake. The new session is current even when the handshake fails so
// callers can inspect its state and retry.
func (e *ScanEngine) StartSession(ctx context.Context, class models.ClassContext, opts StartOptions) (*ScanSession, error) {
	if err := e.validate.Struct(class); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class context")
	}
	if !opts.Batch.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "batch filter must be 0, 1 or 2")
	}

	now := e.deps.Clock()
	load := func(ctx context.Context) (*ClassData, error) {
		if e.classData == nil {
			return &ClassData{}, nil
		}
		return e.classData.Load(ctx, class, now)
	}
	data, err := load(ctx)
	if err != nil {
		return nil, err
	}

	cfg := e.cfg
	if opts.Duration > 0 {
		cfg.Duration = opts.Duration
	}
	session := newScanSession(uuid.NewString(), class, data, load, e.deps, cfg)
	if err := session.roster.SetFilter(opts.Batch); err != nil {
		return nil, err
	}

	e.mu.Lock()
	previous := e.current
	e.current = session
	e.mu.Unlock()
	if previous != nil {
		previous.Close()
		e.logger.Sugar().Infow("scan session superseded", "previous_session_id", previous.ID(), "session_id", session.ID())
	}

	e.logger.Sugar().Infow("scan session started",
		"session_id", session.ID(),
		"class", class.Key(),
		"students", session.roster.Size(),
		"offline", data.Offline,
	)
	return session, session.Handshake(ctx)
}

// Current returns the live session.
func (e *ScanEngine) Current() (*ScanSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil || e.current.Closed() {
		return nil, appErrors.ErrNoActiveSession
	}
	return e.current, nil
}

// Close closes the live session, if any.
func (e *ScanEngine) Close() {
	e.mu.Lock()
	current := e.current
	e.current = nil
	e.mu.Unlock()
	if current != nil {
		current.Close()
	}
}
