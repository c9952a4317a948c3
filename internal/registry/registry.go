package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"taskhub/internal/domain"
)

var (
	ErrDuplicateTask = errors.New("task id already registered")
	ErrNotFound      = errors.New("task not found")
	ErrTerminalTask  = errors.New("task already in terminal state")
	ErrBadTransition = errors.New("invalid status transition")
)

// Registry is the source of truth for task status queries. Producers create
// records, the worker loop transitions them; both may run concurrently with
// readers calling Get or Counts.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*domain.TaskRecord
	now     func() time.Time
}

func New() *Registry {
	return &Registry{
		records: make(map[string]*domain.TaskRecord),
		now:     time.Now,
	}
}

// Create inserts a new record in the queued state. Task ids are never reused,
// so a duplicate id is a programmer error on the producer side.
func (r *Registry) Create(id, taskType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[id]; ok {
		return ErrDuplicateTask
	}
	r.records[id] = &domain.TaskRecord{
		ID:        id,
		Type:      taskType,
		Status:    domain.StatusQueued,
		CreatedAt: r.now(),
	}
	return nil
}

// Transition moves a record to the given status. Terminal records reject any
// further mutation; re-entering queued is never valid. Besides the worker
// loop, a producer may fail a still-queued record directly when its work item
// is rejected at enqueue time, so queued -> failed is a legal transition.
// ErrTerminalTask from any caller indicates a bug.
func (r *Registry) Transition(id string, status domain.TaskStatus, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status.Terminal() {
		return ErrTerminalTask
	}
	if status == domain.StatusQueued {
		return ErrBadTransition
	}

	rec.Status = status
	if status.Terminal() {
		t := r.now()
		rec.CompletedAt = &t
	}
	if status == domain.StatusFailed {
		rec.Error = errMsg
	}
	return nil
}

// Get returns a copy of the record, so callers never observe a later mutation.
func (r *Registry) Get(id string) (domain.TaskRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return domain.TaskRecord{}, ErrNotFound
	}
	return *rec, nil
}

// Counts scans all records. Each record reflects its state at the instant it
// was read; the scan as a whole is not atomic against concurrent transitions.
func (r *Registry) Counts() domain.QueueCounts {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var c domain.QueueCounts
	c.Total = len(r.records)
	for _, rec := range r.records {
		switch rec.Status {
		case domain.StatusQueued:
			c.Queued++
		case domain.StatusProcessing:
			c.Processing++
		case domain.StatusCompleted:
			c.Completed++
		case domain.StatusFailed:
			c.Failed++
		}
	}
	return c
}

// List returns up to limit records, newest first. limit <= 0 means all.
func (r *Registry) List(limit int) []domain.TaskRecord {
	r.mu.RLock()
	out := make([]domain.TaskRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
