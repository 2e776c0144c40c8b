package service

import (
	"sync"
	"time"

	"github.com/noah-isme/beacon-attendance/internal/models"
	appErrors "github.com/noah-isme/beacon-attendance/pkg/errors"
)

type rosterSlot struct {
	student    models.Student
	status     models.AttendanceStatus
	detectedAt *time.Time
	markedAt   time.Time
	manual     bool
}

// RosterManager holds the authoritative per-student status of a session.
// Every status change goes through its mutex.
type RosterManager struct {
	mu     sync.Mutex
	order  []string
	slots  map[string]*rosterSlot
	filter models.BatchFilter
	now    func() time.Time
}

// NewRosterManager constructs an empty roster manager.
func NewRosterManager(now func() time.Time) *RosterManager {
	if now == nil {
		now = time.Now
	}
	return &RosterManager{slots: make(map[string]*rosterSlot), now: now}
}

// Load replaces the roster; every student starts pending and active grants
// are applied.
func (r *RosterManager) Load(students []models.Student, grants []models.PermissionGrant) {
	r.mu.Lock()
	r.order = make([]string, 0, len(students))
	r.slots = make(map[string]*rosterSlot, len(students))
	now := r.now()
	for _, st := range students {
		if _, dup := r.slots[st.ID]; dup {
			continue
		}
		r.order = append(r.order, st.ID)
		r.slots[st.ID] = &rosterSlot{student: st, status: models.AttendanceStatusPending, markedAt: now}
	}
	r.mu.Unlock()
	r.ApplyGrants(grants)
}

// ApplyGrants sets od/leave for covered students. Grants override any
// status, including manual marks.
func (r *RosterManager) ApplyGrants(grants []models.PermissionGrant) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	applied := 0
	for _, g := range grants {
		if !g.Kind.Locked() || !g.Covers(now) {
			continue
		}
		slot, ok := r.slots[g.StudentID]
		if !ok || slot.status == g.Kind {
			continue
		}
		slot.status = g.Kind
		slot.detectedAt = nil
		slot.manual = false
		slot.markedAt = now
		applied++
	}
	return applied
}

// SetFilter changes the active batch filter.
func (r *RosterManager) SetFilter(filter models.BatchFilter) error {
	if !filter.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "batch filter must be 0, 1 or 2")
	}
	r.mu.Lock()
	r.filter = filter
	r.mu.Unlock()
	return nil
}

// Filter returns the active batch filter.
func (r *RosterManager) Filter() models.BatchFilter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filter
}

// Size returns the number of loaded students regardless of filter.
func (r *RosterManager) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// VisibleStudents returns the students inside the active filter in roster order.
func (r *RosterManager) VisibleStudents() []models.Student {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Student, 0, len(r.order))
	for _, id := range r.order {
		if slot := r.slots[id]; slot.student.InBatch(r.filter) {
			out = append(out, slot.student)
		}
	}
	return out
}

// Entries returns the visible roster with current statuses.
func (r *RosterManager) Entries() []models.RosterEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.RosterEntry, 0, len(r.order))
	for _, id := range r.order {
		slot := r.slots[id]
		if !slot.student.InBatch(r.filter) {
			continue
		}
		out = append(out, models.RosterEntry{Student: slot.student, Status: slot.status, DetectedAt: slot.detectedAt, IsManual: slot.manual})
	}
	return out
}

// Student returns a loaded student by id.
func (r *RosterManager) Student(id string) (models.Student, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.slots[id]
	if !ok {
		return models.Student{}, false
	}
	return slot.student, true
}

// Status returns the current status of a student.
func (r *RosterManager) Status(id string) (models.AttendanceStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.slots[id]
	if !ok {
		return "", false
	}
	return slot.status, true
}

// MarkDetected records a beacon-driven present. It reports whether the status
// changed; locked and already present students are left alone.
func (r *RosterManager) MarkDetected(id string, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.slots[id]
	if !ok || slot.status.Locked() || slot.status == models.AttendanceStatusPresent {
		return false
	}
	detected := at
	slot.status = models.AttendanceStatusPresent
	slot.detectedAt = &detected
	slot.markedAt = at
	slot.manual = false
	return true
}

// SetStatus applies a manual status. od and leave cannot be set manually and
// students holding them cannot be changed.
func (r *RosterManager) SetStatus(id string, status models.AttendanceStatus) error {
	switch status {
	case models.AttendanceStatusPresent, models.AttendanceStatusAbsent, models.AttendanceStatusPending:
	default:
		return appErrors.Clone(appErrors.ErrValidation, "status must be present, absent or pending")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.slots[id]
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "student not in roster")
	}
	if slot.status.Locked() {
		return appErrors.ErrStatusLocked
	}
	r.setManualLocked(slot, status)
	return nil
}

// Toggle cycles present and absent; pending counts as absent.
func (r *RosterManager) Toggle(id string) (models.AttendanceStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.slots[id]
	if !ok {
		return "", appErrors.Clone(appErrors.ErrNotFound, "student not in roster")
	}
	if slot.status.Locked() {
		return slot.status, appErrors.ErrStatusLocked
	}
	next := models.AttendanceStatusPresent
	if slot.status == models.AttendanceStatusPresent {
		next = models.AttendanceStatusAbsent
	}
	r.setManualLocked(slot, next)
	return next, nil
}

func (r *RosterManager) setManualLocked(slot *rosterSlot, status models.AttendanceStatus) {
	if slot.status == status {
		return
	}
	slot.status = status
	slot.markedAt = r.now()
	slot.manual = true
	if status != models.AttendanceStatusPresent {
		slot.detectedAt = nil
	}
}

// BulkSet moves every visible student in status from to status to, skipping
// od and leave. It returns how many students changed.
func (r *RosterManager) BulkSet(from, to models.AttendanceStatus) (int, error) {
	if to.Locked() || !to.Valid() {
		return 0, appErrors.Clone(appErrors.ErrValidation, "bulk target must be present, absent or pending")
	}
	if from != models.StatusAny && !from.Valid() {
		return 0, appErrors.Clone(appErrors.ErrValidation, "invalid bulk predicate status")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := 0
	for _, id := range r.order {
		slot := r.slots[id]
		if !slot.student.InBatch(r.filter) || slot.status.Locked() || slot.status == to {
			continue
		}
		if from != models.StatusAny && slot.status != from {
			continue
		}
		r.setManualLocked(slot, to)
		changed++
	}
	return changed, nil
}

// Bulk applies a named bulk action.
func (r *RosterManager) Bulk(action models.BulkAction) (int, error) {
	from, to, ok := action.Transition()
	if !ok {
		return 0, appErrors.Clone(appErrors.ErrValidation, "unsupported bulk action")
	}
	return r.BulkSet(from, to)
}

// FinalizePending turns every pending student into absent. It is applied when
// scanning starts so undetected students show as absent.
func (r *RosterManager) FinalizePending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	changed := 0
	for _, id := range r.order {
		slot := r.slots[id]
		if slot.status == models.AttendanceStatusPending {
			slot.status = models.AttendanceStatusAbsent
			slot.markedAt = now
			changed++
		}
	}
	return changed
}

// Counts tallies statuses within the active filter.
func (r *RosterManager) Counts() models.StatusCounts {
	r.mu.Lock()
	defer r.mu.Unlock()
	var counts models.StatusCounts
	for _, id := range r.order {
		slot := r.slots[id]
		if slot.student.InBatch(r.filter) {
			counts.Add(slot.status)
		}
	}
	return counts
}

// Snapshot returns one record per visible student. Pending students are
// recorded as absent.
func (r *RosterManager) Snapshot() []models.AttendanceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	records := make([]models.AttendanceRecord, 0, len(r.order))
	for _, id := range r.order {
		slot := r.slots[id]
		if !slot.student.InBatch(r.filter) {
			continue
		}
		status := slot.status
		if status == models.AttendanceStatusPending {
			status = models.AttendanceStatusAbsent
		}
		var detected *time.Time
		if slot.detectedAt != nil {
			d := *slot.detectedAt
			detected = &d
		}
		records = append(records, models.AttendanceRecord{
			StudentID:  id,
			Status:     status,
			DetectedAt: detected,
			MarkedAt:   slot.markedAt,
			IsManual:   slot.manual,
		})
	}
	return records
}
