package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugacorp/device-jobs/internal/domain"
	"github.com/nugacorp/device-jobs/internal/executor"
)

// Outcome is what one processing attempt did to a job
type Outcome string

const (
	OutcomeDone     Outcome = "done"
	OutcomeRequeued Outcome = "requeued"
	OutcomeFailed   Outcome = "failed"
	// OutcomeSkipped means the job was not claimed, or its result could not be recorded
	OutcomeSkipped Outcome = "skipped"
)

// processJob claims one job, executes it and records the result.
// ctx only gates the claim; once claimed the job runs to completion under
// its own timeout so shutdown does not abandon it half-way.
func (w *Worker) processJob(ctx context.Context, candidate domain.Job) Outcome {
	if ctx.Err() != nil {
		return OutcomeSkipped
	}

	// Step 1: Claim job (PENDING → IN_PROGRESS)
	job, err := w.store.Claim(ctx, candidate.ID, w.workerID)
	if err != nil {
		if errors.Is(err, domain.ErrJobAlreadyClaimed) {
			w.logger.Debug("Job already claimed, skipping",
				slog.String("job_id", candidate.ID),
			)
			return OutcomeSkipped
		}
		w.logger.Error("Failed to claim job",
			slog.String("job_id", candidate.ID),
			slog.Any("error", err),
		)
		return OutcomeSkipped
	}

	w.logger.Info("Processing job",
		slog.String("job_id", job.ID),
		slog.String("tenant_id", job.TenantID),
		slog.String("action", string(job.Action)),
		slog.Int("retry_count", job.RetryCount),
		slog.String("worker_id", w.workerID),
	)

	runCtx := context.WithoutCancel(ctx)

	// Step 2: Execute with timeout while heartbeating.
	// The heartbeat outlives the deadline: an executor that ignores ctx still
	// holds the job, and the sweeper must not hand it to another worker.
	jobCtx, cancel := context.WithTimeout(runCtx, w.jobTimeout)
	heartbeatDone := make(chan struct{})
	heartbeatStopped := make(chan struct{})
	go func() {
		defer close(heartbeatStopped)
		w.sendJobHeartbeat(runCtx, job.ID, heartbeatDone)
	}()

	start := time.Now()
	execErr := w.execute(jobCtx, job)
	cancel()
	close(heartbeatDone)
	<-heartbeatStopped

	// Step 3: Record the result
	if execErr == nil {
		if err := w.store.Complete(runCtx, job.ID, w.workerID); err != nil {
			w.logResultWriteError(job, "DONE", err)
			return OutcomeSkipped
		}
		w.logger.Info("Job completed successfully",
			slog.String("job_id", job.ID),
			slog.Duration("duration", time.Since(start)),
		)
		return OutcomeDone
	}

	errMsg := execErr.Error()

	if !errors.Is(execErr, domain.ErrPermanent) && job.CanRetry() {
		if err := w.store.Requeue(runCtx, job.ID, w.workerID, errMsg); err != nil {
			w.logResultWriteError(job, "PENDING", err)
			return OutcomeSkipped
		}
		w.logger.Warn("Job execution failed, will be retried",
			slog.String("job_id", job.ID),
			slog.Int("retry_count", job.RetryCount+1),
			slog.Int("max_retries", job.MaxRetries),
			slog.String("error", errMsg),
		)
		return OutcomeRequeued
	}

	if err := w.store.Fail(runCtx, job.ID, w.workerID, errMsg); err != nil {
		w.logResultWriteError(job, "FAILED", err)
		return OutcomeSkipped
	}
	w.logger.Error("Job failed",
		slog.String("job_id", job.ID),
		slog.Int("retry_count", job.RetryCount),
		slog.Int("max_retries", job.MaxRetries),
		slog.Bool("permanent", errors.Is(execErr, domain.ErrPermanent)),
		slog.String("error", errMsg),
	)
	return OutcomeFailed
}

// execute runs the executor, turning a panic or a blown deadline into an error
func (w *Worker) execute(ctx context.Context, job *domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()

	err = w.executor.Execute(ctx, executor.CommandFor(job))
	if err == nil && ctx.Err() != nil {
		// the executor ignored its deadline
		err = fmt.Errorf("job execution timed out: %w", ctx.Err())
	}
	return err
}

func (w *Worker) logResultWriteError(job *domain.Job, target string, err error) {
	if errors.Is(err, domain.ErrJobNotInProgress) {
		w.logger.Warn("Job no longer owned by this worker, result dropped",
			slog.String("job_id", job.ID),
			slog.String("target_status", target),
		)
		return
	}
	w.logger.Error("Failed to record job result",
		slog.String("job_id", job.ID),
		slog.String("target_status", target),
		slog.Any("error", err),
	)
}

// sendJobHeartbeat periodically updates the job's heartbeat timestamp until
// done is closed
func (w *Worker) sendJobHeartbeat(ctx context.Context, jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.Heartbeat(ctx, jobID, w.workerID); err != nil {
				w.logger.Warn("Failed to update job heartbeat",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
