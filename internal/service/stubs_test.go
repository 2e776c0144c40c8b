package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/beacon-attendance/internal/models"
	appErrors "github.com/noah-isme/beacon-attendance/pkg/errors"
)

var errStoreDown = errors.New("dial tcp: connection refused")

type memKV struct {
	mu      sync.Mutex
	entries map[string][]byte
	failSet bool
}

func newMemKV() *memKV {
	return &memKV{entries: map[string][]byte{}}
}

func (m *memKV) Get(ctx context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memKV) Set(ctx context.Context, key string, value interface{}) error {
	if m.failSet {
		return errors.New("disk full")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.entries[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *memKV) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

type sessionStoreStub struct {
	mu       sync.Mutex
	down     bool
	sessions map[string]models.SessionRecord
	logs     map[string]map[string]models.AttendanceRecord
	writes   int
	latest   *models.SessionMarker
}

func newSessionStoreStub() *sessionStoreStub {
	return &sessionStoreStub{
		sessions: map[string]models.SessionRecord{},
		logs:     map[string]map[string]models.AttendanceRecord{},
	}
}

func (s *sessionStoreStub) setDown(down bool) {
	s.mu.Lock()
	s.down = down
	s.mu.Unlock()
}

func (s *sessionStoreStub) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return errStoreDown
	}
	return nil
}

func (s *sessionStoreStub) CreateSession(ctx context.Context, write models.SessionWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return errStoreDown
	}
	s.writes++
	if _, exists := s.sessions[write.Session.ID]; !exists {
		s.sessions[write.Session.ID] = write.Session
	}
	logs := s.logs[write.Session.ID]
	if logs == nil {
		logs = map[string]models.AttendanceRecord{}
		s.logs[write.Session.ID] = logs
	}
	for _, r := range write.Logs {
		if _, exists := logs[r.StudentID]; !exists {
			logs[r.StudentID] = r
		}
	}
	return nil
}

func (s *sessionStoreStub) ReplaceSession(ctx context.Context, write models.SessionWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return errStoreDown
	}
	s.writes++
	s.sessions[write.Session.ID] = write.Session
	logs := map[string]models.AttendanceRecord{}
	for _, r := range write.Logs {
		logs[r.StudentID] = r
	}
	s.logs[write.Session.ID] = logs
	return nil
}

func (s *sessionStoreStub) InsertLog(ctx context.Context, sessionID string, record models.AttendanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return errStoreDown
	}
	s.writes++
	if s.logs[sessionID] == nil {
		s.logs[sessionID] = map[string]models.AttendanceRecord{}
	}
	if _, exists := s.logs[sessionID][record.StudentID]; !exists {
		s.logs[sessionID][record.StudentID] = record
	}
	return nil
}

func (s *sessionStoreStub) UpsertLog(ctx context.Context, sessionID string, record models.AttendanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return errStoreDown
	}
	s.writes++
	if s.logs[sessionID] == nil {
		s.logs[sessionID] = map[string]models.AttendanceRecord{}
	}
	s.logs[sessionID][record.StudentID] = record
	return nil
}

func (s *sessionStoreStub) LatestForClass(ctx context.Context, subjectCode, section string, date time.Time) (*models.SessionMarker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, errStoreDown
	}
	return s.latest, nil
}

func (s *sessionStoreStub) recordCount(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs[sessionID])
}

func (s *sessionStoreStub) log(sessionID, studentID string) (models.AttendanceRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.logs[sessionID][studentID]
	return r, ok
}

type queueStoreStub struct {
	mu       sync.Mutex
	items    map[string]*models.QueueItem
	failNext bool
}

func newQueueStoreStub() *queueStoreStub {
	return &queueStoreStub{items: map[string]*models.QueueItem{}}
}

func (q *queueStoreStub) Create(ctx context.Context, item *models.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failNext {
		q.failNext = false
		return errors.New("database is locked")
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = models.QueueStatusPending
	}
	now := time.Now().UTC()
	item.CreatedAt, item.UpdatedAt = now, now
	copied := *item
	q.items[item.ID] = &copied
	return nil
}

func (q *queueStoreStub) GetByID(ctx context.Context, id string) (*models.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "queue item not found")
	}
	copied := *item
	return &copied, nil
}

func (q *queueStoreStub) List(ctx context.Context, filter models.QueueFilter) ([]models.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.QueueItem, 0, len(q.items))
	for _, item := range q.items {
		if filter.Status != nil && item.Status != *filter.Status {
			continue
		}
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (q *queueStoreStub) ListPending(ctx context.Context, limit int) ([]models.QueueItem, error) {
	status := models.QueueStatusPending
	items, err := q.List(ctx, models.QueueFilter{Status: &status})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (q *queueStoreStub) MarkProcessing(ctx context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok || item.Status != models.QueueStatusPending {
		return false, nil
	}
	item.Status = models.QueueStatusProcessing
	return true, nil
}

func (q *queueStoreStub) MarkCompleted(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if item, ok := q.items[id]; ok {
		item.Status = models.QueueStatusCompleted
		item.LastError = nil
	}
	return nil
}

func (q *queueStoreStub) RecordFailure(ctx context.Context, id string, cause string, maxRetries int) (models.QueueStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return "", appErrors.Clone(appErrors.ErrNotFound, "queue item not found")
	}
	item.RetryCount++
	item.LastError = &cause
	item.Status = models.QueueStatusPending
	if item.RetryCount > maxRetries {
		item.Status = models.QueueStatusFailed
	}
	return item.Status, nil
}

func (q *queueStoreStub) ResetForRetry(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok || item.Status != models.QueueStatusFailed {
		return appErrors.Clone(appErrors.ErrNotFound, "failed queue item not found")
	}
	item.Status = models.QueueStatusPending
	item.RetryCount = 0
	return nil
}

func (q *queueStoreStub) RecoverProcessing(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int64
	for _, item := range q.items {
		if item.Status == models.QueueStatusProcessing {
			item.Status = models.QueueStatusPending
			n++
		}
	}
	return n, nil
}

func (q *queueStoreStub) PurgeCompleted(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int64
	for id, item := range q.items {
		if item.Status == models.QueueStatusCompleted {
			delete(q.items, id)
			n++
		}
	}
	return n, nil
}

func (q *queueStoreStub) CountByStatus(ctx context.Context) (map[models.QueueStatus]int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	counts := map[models.QueueStatus]int{}
	for _, item := range q.items {
		counts[item.Status]++
	}
	return counts, nil
}

func (q *queueStoreStub) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type grantSourceStub struct {
	grants []models.PermissionGrant
	err    error
}

func (g *grantSourceStub) ActiveGrants(ctx context.Context, studentIDs []string, at time.Time) ([]models.PermissionGrant, error) {
	return g.grants, g.err
}

type rosterReaderStub struct {
	students []models.Student
	grants   []models.PermissionGrant
	err      error
	calls    int
}

func (r *rosterReaderStub) ListStudents(ctx context.Context, filter models.RosterFilter) ([]models.Student, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.students, nil
}

func (r *rosterReaderStub) ActiveGrants(ctx context.Context, studentIDs []string, at time.Time) ([]models.PermissionGrant, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.grants, nil
}

type timetableReaderStub struct {
	slots []models.TimetableSlot
	err   error
}

func (t *timetableReaderStub) ListForFaculty(ctx context.Context, facultyID string, weekday time.Weekday) ([]models.TimetableSlot, error) {
	if t.err != nil {
		return nil, t.err
	}
	out := make([]models.TimetableSlot, 0, len(t.slots))
	for _, slot := range t.slots {
		if slot.Weekday == weekday {
			out = append(out, slot)
		}
	}
	return out, nil
}

type calendarReaderStub struct {
	days []models.CalendarDay
	err  error
	from time.Time
}

func (c *calendarReaderStub) ListRange(ctx context.Context, from, to time.Time) ([]models.CalendarDay, error) {
	c.from = from
	if c.err != nil {
		return nil, c.err
	}
	return c.days, nil
}

func strPtr(v string) *string { return &v }

func intPtr(v int) *int { return &v }

func testStudents(n int) []models.Student {
	students := make([]models.Student, 0, n)
	for i := 1; i <= n; i++ {
		id := uuid.NewSHA1(uuid.NameSpaceOID, []byte{byte(i)}).String()
		students = append(students, models.Student{
			ID:       "stu-" + string(rune('0'+i)),
			RollNo:   "R" + string(rune('0'+i)),
			Name:     "Student " + string(rune('A'+i-1)),
			BeaconID: strPtr(id),
			Batch:    intPtr(1 + (i+1)%2),
		})
	}
	return students
}
