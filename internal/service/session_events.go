package service

import (
	"sync"
	"time"

	"github.com/noah-isme/beacon-attendance/internal/models"
)

// SessionEventType classifies events published by a scan session.
type SessionEventType string

const (
	SessionEventState    SessionEventType = "state"
	SessionEventCounts   SessionEventType = "counts"
	SessionEventDetected SessionEventType = "detected"
	SessionEventTick     SessionEventType = "tick"
	SessionEventError    SessionEventType = "error"
)

// SessionEvent is a single notification for subscribers of a session.
type SessionEvent struct {
	Type        SessionEventType     `json:"type"`
	SessionID   string               `json:"session_id"`
	State       models.SessionState  `json:"state,omitempty"`
	Reason      string               `json:"reason,omitempty"`
	Counts      *models.StatusCounts `json:"counts,omitempty"`
	StudentID   string               `json:"student_id,omitempty"`
	StudentName string               `json:"student_name,omitempty"`
	RemainingMs int64                `json:"remaining_ms,omitempty"`
	Error       string               `json:"error,omitempty"`
	At          time.Time            `json:"at"`
}

const subscriberBuffer = 32

// eventHub fans events out to subscribers. Slow subscribers lose events
// instead of blocking the publisher.
type eventHub struct {
	mu     sync.Mutex
	subs   map[int]chan SessionEvent
	next   int
	closed bool
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[int]chan SessionEvent)}
}

func (h *eventHub) subscribe() (<-chan SessionEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan SessionEvent, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
}

func (h *eventHub) publish(ev SessionEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
