// Package storage holds the durable job store. It is the only shared mutable
// resource between the API and any number of workers: every state change is a
// conditional write against it.
package storage

import (
	"context"
	"time"

	"github.com/nugacorp/device-jobs/internal/domain"
)

// Store is the Job Store contract
type Store interface {
	// Insert persists a new job row
	Insert(ctx context.Context, job *domain.Job) error

	// Get returns the job with the given id if it belongs to tenantID
	Get(ctx context.Context, tenantID, jobID string) (*domain.Job, error)

	// List returns the tenant's jobs filtered and ordered by creation time
	List(ctx context.Context, filter ListFilter) ([]domain.Job, error)

	// FetchPending returns up to limit PENDING jobs, oldest first
	FetchPending(ctx context.Context, limit int) ([]domain.Job, error)

	// Claim moves a job from PENDING to IN_PROGRESS only if it is still PENDING
	Claim(ctx context.Context, jobID, workerID string) (*domain.Job, error)

	// Complete moves an owned IN_PROGRESS job to DONE
	Complete(ctx context.Context, jobID, workerID string) error

	// Requeue moves an owned IN_PROGRESS job back to PENDING and bumps retry_count
	Requeue(ctx context.Context, jobID, workerID, errMsg string) error

	// Fail moves an owned IN_PROGRESS job to FAILED
	Fail(ctx context.Context, jobID, workerID, errMsg string) error

	// Heartbeat refreshes heartbeat_at for an owned IN_PROGRESS job
	Heartbeat(ctx context.Context, jobID, workerID string) error

	// RecoverStale requeues (or fails, when out of retries) IN_PROGRESS jobs
	// whose last sign of life is older than threshold
	RecoverStale(ctx context.Context, threshold time.Duration, errMsg string) ([]domain.Job, error)

	// Ping checks the store is reachable
	Ping(ctx context.Context) error
}

// ListFilter scopes a List call. TenantID is required.
type ListFilter struct {
	TenantID  string
	Status    domain.Status
	Limit     int
	Cursor    *JobCursor
	Ascending bool
}

// JobCursor is a keyset position in a created_at ordered listing
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}
