package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/civictwin/Main/simulation/internal/models"
)

type MemoryConfig struct {
	// Capacity bounds the number of retained jobs. Zero means unbounded.
	Capacity int
	// TTL is how long a finished job is kept after its last update. Zero
	// keeps finished jobs until capacity pressure evicts them.
	TTL time.Duration
	Now func() time.Time
}

// MemoryStore keeps jobs for the life of the process. The map lock only
// guards membership; each record carries its own lock so updates to
// different jobs never contend.
type MemoryStore struct {
	mu       sync.RWMutex
	jobs     map[uuid.UUID]*record
	order    []uuid.UUID
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

type record struct {
	mu  sync.Mutex
	job models.Job
}

func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		jobs:     map[uuid.UUID]*record{},
		capacity: cfg.Capacity,
		ttl:      cfg.TTL,
		now:      now,
	}
}

func copyJob(job models.Job) models.Job {
	out := job
	out.Results = job.Results.Clone()
	if job.Params != nil {
		p := *job.Params
		out.Params = &p
	}
	return out
}

func (m *MemoryStore) CreateJob(ctx context.Context, in JobInput) (models.Job, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	now := m.now()
	job := models.Job{
		ID:          in.ID,
		Status:      models.StatusQueued,
		Config:      in.Config,
		SubmittedBy: in.SubmittedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[job.ID]; exists {
		return models.Job{}, fmt.Errorf("job %s already exists", job.ID)
	}
	m.evictExpiredLocked(now)
	if m.capacity > 0 && len(m.jobs) >= m.capacity {
		if !m.evictOldestFinishedLocked() {
			return models.Job{}, ErrFull
		}
	}
	m.jobs[job.ID] = &record{job: job}
	m.order = append(m.order, job.ID)
	return copyJob(job), nil
}

func (m *MemoryStore) lookup(id uuid.UUID) (*record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.jobs[id]
	return rec, ok
}

func (m *MemoryStore) GetJob(ctx context.Context, id uuid.UUID) (models.Job, error) {
	rec, ok := m.lookup(id)
	if !ok {
		return models.Job{}, ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if m.expired(rec.job, m.now()) {
		return models.Job{}, ErrNotFound
	}
	return copyJob(rec.job), nil
}

func (m *MemoryStore) UpdateJobStatus(ctx context.Context, in JobStatusUpdate) (models.Job, error) {
	rec, ok := m.lookup(in.ID)
	if !ok {
		return models.Job{}, ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	job := rec.job
	if !job.Status.CanTransition(in.Status) {
		return models.Job{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, in.Status)
	}
	job.Status = in.Status
	if in.Params != nil {
		p := *in.Params
		job.Params = &p
	}
	switch in.Status {
	case models.StatusCompleted:
		job.Results = in.Results.Clone()
		if job.Results == nil {
			job.Results = models.TimeSeries{}
		}
	case models.StatusFailed:
		job.Error = in.Error
	}
	job.UpdatedAt = m.now()
	rec.job = job
	return copyJob(job), nil
}

func (m *MemoryStore) ListJobs(ctx context.Context, filter ListJobsFilter) ([]models.Job, error) {
	// m.order is creation order; walk it backwards for newest first.
	m.mu.RLock()
	recs := make([]*record, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		recs = append(recs, m.jobs[m.order[i]])
	}
	m.mu.RUnlock()

	now := m.now()
	var jobs []models.Job
	for _, rec := range recs {
		rec.mu.Lock()
		job := rec.job
		rec.mu.Unlock()
		if m.expired(job, now) {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		jobs = append(jobs, job)
	}
	start := filter.Offset
	if start > len(jobs) {
		start = len(jobs)
	}
	if start < 0 {
		start = 0
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	end := start + limit
	if end > len(jobs) {
		end = len(jobs)
	}
	result := make([]models.Job, 0, end-start)
	for _, job := range jobs[start:end] {
		result = append(result, copyJob(job))
	}
	return result, nil
}

func (m *MemoryStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs), nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) expired(job models.Job, now time.Time) bool {
	return m.ttl > 0 && job.Status.Terminal() && now.Sub(job.UpdatedAt) > m.ttl
}

// evictExpiredLocked drops finished jobs past their TTL. m.mu must be held
// for writing.
func (m *MemoryStore) evictExpiredLocked(now time.Time) {
	if m.ttl <= 0 {
		return
	}
	kept := m.order[:0]
	for _, id := range m.order {
		rec := m.jobs[id]
		rec.mu.Lock()
		drop := m.expired(rec.job, now)
		rec.mu.Unlock()
		if drop {
			delete(m.jobs, id)
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}

// evictOldestFinishedLocked removes the oldest job in a terminal state.
// Queued and running jobs are never evicted.
func (m *MemoryStore) evictOldestFinishedLocked() bool {
	for i, id := range m.order {
		rec := m.jobs[id]
		rec.mu.Lock()
		terminal := rec.job.Status.Terminal()
		rec.mu.Unlock()
		if terminal {
			delete(m.jobs, id)
			m.order = append(m.order[:i], m.order[i+1:]...)
			return true
		}
	}
	return false
}
