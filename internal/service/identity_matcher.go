package service

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/beacon-attendance/internal/models"
	"github.com/noah-isme/beacon-attendance/pkg/beacon"
)

// MatchOutcome classifies a detection after matching.
type MatchOutcome string

const (
	MatchAccepted  MatchOutcome = MatchOutcome(DetectionAccepted)
	MatchDuplicate MatchOutcome = MatchOutcome(DetectionDuplicate)
	MatchUnmatched MatchOutcome = MatchOutcome(DetectionUnmatched)
)

// NormalizeBeaconID canonicalises a beacon identifier so that sources with
// different casing or separators compare equal. UUID-shaped identifiers map to
// the lowercase dashed form; anything else is lowercased with separators removed.
func NormalizeBeaconID(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if id, err := uuid.Parse(trimmed); err == nil {
		return id.String()
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', ':', '_', '{', '}', ' ', '\t', '\n', '\r':
			return -1
		}
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, trimmed)
}

// IdentityMatcher maps detections to roster students and suppresses repeats.
// A window > 0 accepts a beacon again once that long has passed since its
// last accepted detection; a window <= 0 accepts each beacon once per session.
type IdentityMatcher struct {
	mu       sync.Mutex
	window   time.Duration
	index    map[string]string
	accepted map[string]time.Time
	logger   *zap.Logger
}

// NewIdentityMatcher constructs a matcher with the given debounce window.
func NewIdentityMatcher(window time.Duration, logger *zap.Logger) *IdentityMatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentityMatcher{
		window:   window,
		index:    make(map[string]string),
		accepted: make(map[string]time.Time),
		logger:   logger,
	}
}

// BuildIndex replaces the beacon index with the given students. The debounce
// cache is kept. When two students share a beacon the first one wins.
func (m *IdentityMatcher) BuildIndex(students []models.Student) map[string]string {
	index := make(map[string]string, len(students))
	for _, st := range students {
		if st.BeaconID == nil {
			continue
		}
		id := NormalizeBeaconID(*st.BeaconID)
		if id == "" {
			continue
		}
		if owner, exists := index[id]; exists {
			m.logger.Sugar().Warnw("duplicate beacon id in roster", "beacon_id", id, "kept", owner, "skipped", st.ID)
			continue
		}
		index[id] = st.ID
	}

	m.mu.Lock()
	m.index = index
	m.mu.Unlock()

	out := make(map[string]string, len(index))
	for k, v := range index {
		out[k] = v
	}
	return out
}

// FilterIDs returns the canonical identifiers currently indexed.
func (m *IdentityMatcher) FilterIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.index))
	for id := range m.index {
		ids = append(ids, id)
	}
	return ids
}

// Match resolves a detection to a student. Only accepted detections update
// the debounce cache.
func (m *IdentityMatcher) Match(event beacon.Detection) (string, MatchOutcome) {
	id := NormalizeBeaconID(event.BeaconID)

	m.mu.Lock()
	defer m.mu.Unlock()

	studentID, ok := m.index[id]
	if !ok {
		m.logger.Debug("unmatched beacon detection", zap.String("beacon_id", event.BeaconID), zap.Int("rssi", event.SignalStrength))
		return "", MatchUnmatched
	}
	if last, seen := m.accepted[id]; seen {
		if m.window <= 0 || event.Timestamp.Sub(last) < m.window {
			m.logger.Debug("duplicate beacon detection", zap.String("beacon_id", id), zap.Duration("since_last", event.Timestamp.Sub(last)))
			return "", MatchDuplicate
		}
	}
	m.accepted[id] = event.Timestamp
	return studentID, MatchAccepted
}

// Reset clears the debounce cache.
func (m *IdentityMatcher) Reset() {
	m.mu.Lock()
	m.accepted = make(map[string]time.Time)
	m.mu.Unlock()
}
