package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nugacorp/device-jobs/internal/domain"
)

var _ Store = (*Memory)(nil)

// Memory is an in-process Store. The mutex plays the role of the row lock a
// database takes on a conditional UPDATE, so Claim has the same
// at-most-one-winner behavior as the Postgres store. Jobs are copied on the
// way in and out.
type Memory struct {
	mu      sync.Mutex
	jobs    map[string]*domain.Job
	now     func() time.Time
	history map[string][]domain.Status
}

// MemoryOption configures a Memory store
type MemoryOption func(*Memory)

// WithClock overrides the time source used for timestamps and staleness checks
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates an empty in-memory store
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		jobs:    make(map[string]*domain.Job),
		now:     time.Now,
		history: make(map[string][]domain.Status),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Insert(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.ID]; ok {
		return domain.ErrInvalidRequest
	}

	m.jobs[job.ID] = job.Clone()
	m.history[job.ID] = []domain.Status{job.Status}
	return nil
}

func (m *Memory) Get(_ context.Context, tenantID, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok || j.TenantID != tenantID {
		return nil, domain.ErrJobNotFound
	}
	return j.Clone(), nil
}

func (m *Memory) List(_ context.Context, filter ListFilter) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []domain.Job{}
	for _, j := range m.sorted(filter.Ascending) {
		if j.TenantID != filter.TenantID {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if filter.Cursor != nil && !pastCursor(j, filter.Cursor, filter.Ascending) {
			continue
		}
		out = append(out, *j.Clone())
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) FetchPending(_ context.Context, limit int) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []domain.Job{}
	for _, j := range m.sorted(true) {
		if j.Status != domain.StatusPending {
			continue
		}
		out = append(out, *j.Clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) Claim(_ context.Context, jobID, workerID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok || j.Status != domain.StatusPending {
		return nil, domain.ErrJobAlreadyClaimed
	}

	now := m.now()
	j.Status = domain.StatusInProgress
	j.WorkerID = &workerID
	j.HeartbeatAt = &now
	j.UpdatedAt = now
	m.record(j)
	return j.Clone(), nil
}

func (m *Memory) Complete(_ context.Context, jobID, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.owned(jobID, workerID)
	if err != nil {
		return err
	}
	j.Status = domain.StatusDone
	j.ErrorMessage = nil
	j.HeartbeatAt = nil
	j.UpdatedAt = m.now()
	m.record(j)
	return nil
}

func (m *Memory) Requeue(_ context.Context, jobID, workerID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.owned(jobID, workerID)
	if err != nil {
		return err
	}
	if j.RetryCount >= j.MaxRetries {
		return domain.ErrJobNotInProgress
	}
	j.Status = domain.StatusPending
	j.RetryCount++
	j.ErrorMessage = &errMsg
	j.WorkerID = nil
	j.HeartbeatAt = nil
	j.UpdatedAt = m.now()
	m.record(j)
	return nil
}

func (m *Memory) Fail(_ context.Context, jobID, workerID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.owned(jobID, workerID)
	if err != nil {
		return err
	}
	j.Status = domain.StatusFailed
	j.ErrorMessage = &errMsg
	j.HeartbeatAt = nil
	j.UpdatedAt = m.now()
	m.record(j)
	return nil
}

func (m *Memory) Heartbeat(_ context.Context, jobID, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.owned(jobID, workerID)
	if err != nil {
		return err
	}
	now := m.now()
	j.HeartbeatAt = &now
	return nil
}

func (m *Memory) RecoverStale(_ context.Context, threshold time.Duration, errMsg string) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-threshold)
	out := []domain.Job{}
	for _, j := range m.sorted(true) {
		if j.Status != domain.StatusInProgress {
			continue
		}
		last := j.UpdatedAt
		if j.HeartbeatAt != nil {
			last = *j.HeartbeatAt
		}
		if !last.Before(cutoff) {
			continue
		}

		if j.RetryCount < j.MaxRetries {
			j.Status = domain.StatusPending
			j.RetryCount++
		} else {
			j.Status = domain.StatusFailed
		}
		msg := errMsg
		j.ErrorMessage = &msg
		j.WorkerID = nil
		j.HeartbeatAt = nil
		j.UpdatedAt = now
		m.record(j)
		out = append(out, *j.Clone())
	}
	return out, nil
}

func (m *Memory) Ping(context.Context) error {
	return nil
}

// History returns every status a job has been in, in order
func (m *Memory) History(jobID string) []domain.Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]domain.Status(nil), m.history[jobID]...)
}

func (m *Memory) owned(jobID, workerID string) (*domain.Job, error) {
	j, ok := m.jobs[jobID]
	if !ok || j.Status != domain.StatusInProgress || j.WorkerID == nil || *j.WorkerID != workerID {
		return nil, domain.ErrJobNotInProgress
	}
	return j, nil
}

func (m *Memory) record(j *domain.Job) {
	m.history[j.ID] = append(m.history[j.ID], j.Status)
}

// sorted returns jobs by (created_at, id), the same key the Postgres store orders on
func (m *Memory) sorted(ascending bool) []*domain.Job {
	jobs := make([]*domain.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(a, b int) bool {
		ja, jb := jobs[a], jobs[b]
		less := ja.CreatedAt.Before(jb.CreatedAt) ||
			(ja.CreatedAt.Equal(jb.CreatedAt) && ja.ID < jb.ID)
		if ascending {
			return less
		}
		return !less
	})
	return jobs
}

func pastCursor(j *domain.Job, c *JobCursor, ascending bool) bool {
	if !j.CreatedAt.Equal(c.CreatedAt) {
		if ascending {
			return j.CreatedAt.After(c.CreatedAt)
		}
		return j.CreatedAt.Before(c.CreatedAt)
	}
	if ascending {
		return j.ID > c.JobID
	}
	return j.ID < c.JobID
}
