package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/beacon-attendance/pkg/beacon"
)

// DiscoveryService owns the single discovery stream of a beacon driver.
type DiscoveryService struct {
	driver    beacon.Driver
	minSignal int
	metrics   *MetricsService
	logger    *zap.Logger

	mu       sync.Mutex
	inFlight bool
	active   bool
}

// NewDiscoveryService wraps driver. Detections weaker than minSignal dBm are dropped.
func NewDiscoveryService(driver beacon.Driver, minSignal int, metrics *MetricsService, logger *zap.Logger) *DiscoveryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiscoveryService{driver: driver, minSignal: minSignal, metrics: metrics, logger: logger}
}

// State returns the adapter state.
func (s *DiscoveryService) State() beacon.State {
	return s.driver.State()
}

// RequestPermission asks the platform for beacon access.
func (s *DiscoveryService) RequestPermission(ctx context.Context) (bool, error) {
	return s.driver.RequestPermission(ctx)
}

// OnStateChange subscribes to adapter state changes.
func (s *DiscoveryService) OnStateChange(fn func(beacon.State)) func() {
	return s.driver.SubscribeState(fn)
}

// Active reports whether a discovery stream is running.
func (s *DiscoveryService) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active || s.inFlight
}

// StartDiscovery starts the stream. Starting while this service's stream is
// running or starting is a no-op. A driver stream the service does not own is
// reported as beacon.ErrAlreadyActive. The returned func stops the stream.
func (s *DiscoveryService) StartDiscovery(ctx context.Context, filterIDs []string, onEvent func(beacon.Detection), onTimeout func(), onError func(error)) (func(), error) {
	s.mu.Lock()
	if s.active || s.inFlight {
		s.mu.Unlock()
		return s.StopDiscovery, nil
	}
	s.inFlight = true
	s.mu.Unlock()

	cb := beacon.Callbacks{
		OnEvent: func(d beacon.Detection) {
			if d.SignalStrength < s.minSignal {
				s.metrics.RecordDetection(DetectionWeakSignal)
				s.logger.Debug("weak beacon signal dropped", zap.String("beacon_id", d.BeaconID), zap.Int("rssi", d.SignalStrength))
				return
			}
			if onEvent != nil {
				onEvent(d)
			}
		},
		OnTimeout: func() {
			s.markStopped()
			if onTimeout != nil {
				onTimeout()
			}
		},
		OnError: func(err error) {
			s.markStopped()
			s.logger.Warn("beacon discovery error", zap.Error(err))
			if onError != nil {
				onError(err)
			}
		},
	}

	err := s.driver.StartDiscovery(ctx, filterIDs, cb)

	s.mu.Lock()
	s.inFlight = false
	s.active = err == nil
	s.mu.Unlock()
	if err != nil {
		return func() {}, err
	}
	return s.StopDiscovery, nil
}

// StopDiscovery stops the stream unconditionally. It is safe to call when idle.
func (s *DiscoveryService) StopDiscovery() {
	s.markStopped()
	if err := s.driver.StopDiscovery(); err != nil {
		s.logger.Debug("stop discovery", zap.Error(err))
	}
}

func (s *DiscoveryService) markStopped() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}
