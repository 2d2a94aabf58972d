package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nugacorp/device-jobs/internal/domain"
)

const jobColumns = `id, tenant_id, subject_id, action, status, payload, error_message,
		retry_count, max_retries, worker_id, heartbeat_at, created_at, updated_at`

var _ Store = (*Postgres)(nil)

// Postgres handles all device_jobs operations on PostgreSQL
type Postgres struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgres creates a new Postgres store
func NewPostgres(db *sqlx.DB, logger *slog.Logger) *Postgres {
	return &Postgres{
		db:     db,
		logger: logger,
	}
}

// Insert persists a new job row
func (s *Postgres) Insert(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO device_jobs (
			id, tenant_id, subject_id, action, status,
			payload, retry_count, max_retries, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.TenantID,
		job.SubjectID,
		string(job.Action),
		string(job.Status),
		job.Payload,
		job.RetryCount,
		job.MaxRetries,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	return nil
}

// Get retrieves a job by id within a tenant
func (s *Postgres) Get(ctx context.Context, tenantID, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM device_jobs
		WHERE id = $1 AND tenant_id = $2
	`

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, jobID, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// List returns the tenant's jobs ordered by created_at, newest first unless Ascending is set
func (s *Postgres) List(ctx context.Context, filter ListFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM device_jobs
		WHERE tenant_id = $1`
	args := []interface{}{filter.TenantID}
	argIdx := 2

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}

	cmp, dir := "<", "DESC"
	if filter.Ascending {
		cmp, dir = ">", "ASC"
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) %s ($%d, $%d::uuid)", cmp, argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += fmt.Sprintf(" ORDER BY created_at %s, id %s", dir, dir)

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
	}

	jobs := []domain.Job{}
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// FetchPending returns up to limit PENDING jobs, oldest first
func (s *Postgres) FetchPending(ctx context.Context, limit int) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM device_jobs
		WHERE status = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`

	jobs := []domain.Job{}
	if err := s.db.SelectContext(ctx, &jobs, query, string(domain.StatusPending), limit); err != nil {
		return nil, fmt.Errorf("failed to fetch pending jobs: %w", err)
	}

	return jobs, nil
}

// Claim attempts to claim a job using a conditional update on status.
// Returns the claimed job, or ErrJobAlreadyClaimed when another worker got there first.
func (s *Postgres) Claim(ctx context.Context, jobID, workerID string) (*domain.Job, error) {
	query := `
		UPDATE device_jobs
		SET status = $1,
		    worker_id = $2,
		    heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE id = $3
		  AND status = $4
		RETURNING ` + jobColumns

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query,
		string(domain.StatusInProgress), workerID, jobID, string(domain.StatusPending))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to claim job - already claimed or not pending",
				slog.String("job_id", jobID),
				slog.String("worker_id", workerID),
			)
			return nil, domain.ErrJobAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	s.logger.Debug("Job claimed",
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID),
		slog.String("action", string(job.Action)),
	)

	return &job, nil
}

// Complete marks an owned job as DONE and clears its error message
func (s *Postgres) Complete(ctx context.Context, jobID, workerID string) error {
	query := `
		UPDATE device_jobs
		SET status = $1,
		    error_message = NULL,
		    heartbeat_at = NULL,
		    updated_at = NOW()
		WHERE id = $2
		  AND status = $3
		  AND worker_id = $4
	`

	return s.execOwned(ctx, "complete", query,
		string(domain.StatusDone), jobID, string(domain.StatusInProgress), workerID)
}

// Requeue sends an owned job back to PENDING with retry_count incremented.
// The retry_count < max_retries guard keeps the counter within its ceiling.
func (s *Postgres) Requeue(ctx context.Context, jobID, workerID, errMsg string) error {
	query := `
		UPDATE device_jobs
		SET status = $1,
		    retry_count = retry_count + 1,
		    error_message = $2,
		    worker_id = NULL,
		    heartbeat_at = NULL,
		    updated_at = NOW()
		WHERE id = $3
		  AND status = $4
		  AND worker_id = $5
		  AND retry_count < max_retries
	`

	return s.execOwned(ctx, "requeue", query,
		string(domain.StatusPending), errMsg, jobID, string(domain.StatusInProgress), workerID)
}

// Fail marks an owned job as FAILED with the last error message
func (s *Postgres) Fail(ctx context.Context, jobID, workerID, errMsg string) error {
	query := `
		UPDATE device_jobs
		SET status = $1,
		    error_message = $2,
		    heartbeat_at = NULL,
		    updated_at = NOW()
		WHERE id = $3
		  AND status = $4
		  AND worker_id = $5
	`

	return s.execOwned(ctx, "fail", query,
		string(domain.StatusFailed), errMsg, jobID, string(domain.StatusInProgress), workerID)
}

// Heartbeat updates heartbeat_at for a running job. updated_at is left alone,
// it only moves on state transitions.
func (s *Postgres) Heartbeat(ctx context.Context, jobID, workerID string) error {
	query := `
		UPDATE device_jobs
		SET heartbeat_at = NOW()
		WHERE id = $1
		  AND status = $2
		  AND worker_id = $3
	`

	return s.execOwned(ctx, "heartbeat", query, jobID, string(domain.StatusInProgress), workerID)
}

// RecoverStale treats IN_PROGRESS jobs without a recent heartbeat as a failed attempt
func (s *Postgres) RecoverStale(ctx context.Context, threshold time.Duration, errMsg string) ([]domain.Job, error) {
	query := `
		UPDATE device_jobs
		SET status = CASE WHEN retry_count < max_retries THEN $1 ELSE $2 END,
		    retry_count = CASE WHEN retry_count < max_retries THEN retry_count + 1 ELSE retry_count END,
		    error_message = $3,
		    worker_id = NULL,
		    heartbeat_at = NULL,
		    updated_at = NOW()
		WHERE status = $4
		  AND COALESCE(heartbeat_at, updated_at) < NOW() - ($5 * INTERVAL '1 second')
		RETURNING ` + jobColumns

	jobs := []domain.Job{}
	err := s.db.SelectContext(ctx, &jobs, query,
		string(domain.StatusPending),
		string(domain.StatusFailed),
		errMsg,
		string(domain.StatusInProgress),
		threshold.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to recover stale jobs: %w", err)
	}

	return jobs, nil
}

// Ping checks the database connection
func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// execOwned runs a conditional update and maps "no rows" to ErrJobNotInProgress
func (s *Postgres) execOwned(ctx context.Context, op, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s job: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return domain.ErrJobNotInProgress
	}

	return nil
}
