package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/beacon-attendance/internal/models"
	appErrors "github.com/noah-isme/beacon-attendance/pkg/errors"
)

// KVStore abstracts the local durable key/value capability.
type KVStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}) error
	Delete(ctx context.Context, key string) error
}

const (
	lastSessionKeyPrefix = "last_session:"
	hideInstructionsKey  = "hide_instructions"
)

// LocalStoreService wraps the key/value store with typed helpers and metrics.
type LocalStoreService struct {
	repo    KVStore
	metrics *MetricsService
	logger  *zap.Logger
}

// NewLocalStoreService constructs a local store service.
func NewLocalStoreService(repo KVStore, metrics *MetricsService, logger *zap.Logger) *LocalStoreService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalStoreService{repo: repo, metrics: metrics, logger: logger}
}

// Get retrieves a stored entry. It returns true when the key was present.
func (s *LocalStoreService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if s == nil || s.repo == nil {
		return false, nil
	}
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	duration := time.Since(start)
	if err != nil {
		s.metrics.RecordCacheOperation(false, duration)
		if errors.Is(err, appErrors.ErrCacheMiss) {
			return false, nil
		}
		s.logger.Warn("local store get failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
	s.metrics.RecordCacheOperation(true, duration)
	return true, nil
}

// Set stores value under key.
func (s *LocalStoreService) Set(ctx context.Context, key string, value interface{}) error {
	if s == nil || s.repo == nil {
		return nil
	}
	if err := s.repo.Set(ctx, key, value); err != nil {
		s.logger.Warn("local store set failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// Remove deletes key.
func (s *LocalStoreService) Remove(ctx context.Context, key string) error {
	if s == nil || s.repo == nil {
		return nil
	}
	if err := s.repo.Delete(ctx, key); err != nil {
		s.logger.Warn("local store delete failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// LastSession returns the marker of the session submitted for classKey on
// date, or nil when the class was not submitted that day.
func (s *LocalStoreService) LastSession(ctx context.Context, classKey models.ClassKey, date string) (*models.SessionMarker, error) {
	var marker models.SessionMarker
	found, err := s.Get(ctx, lastSessionKeyPrefix+string(classKey), &marker)
	if err != nil || !found {
		return nil, err
	}
	if marker.Date != date {
		return nil, nil
	}
	return &marker, nil
}

// SaveLastSession records the latest submitted session for its class.
func (s *LocalStoreService) SaveLastSession(ctx context.Context, marker models.SessionMarker) error {
	return s.Set(ctx, lastSessionKeyPrefix+string(marker.ClassKey), marker)
}

// ClearLastSession forgets the marker for classKey.
func (s *LocalStoreService) ClearLastSession(ctx context.Context, classKey models.ClassKey) error {
	return s.Remove(ctx, lastSessionKeyPrefix+string(classKey))
}

// HideInstructions reports whether the scan instructions were dismissed.
func (s *LocalStoreService) HideInstructions(ctx context.Context) (bool, error) {
	var hidden bool
	if _, err := s.Get(ctx, hideInstructionsKey, &hidden); err != nil {
		return false, err
	}
	return hidden, nil
}

// SetHideInstructions persists the instructions preference.
func (s *LocalStoreService) SetHideInstructions(ctx context.Context, hidden bool) error {
	return s.Set(ctx, hideInstructionsKey, hidden)
}
