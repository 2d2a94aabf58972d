// Package worker drains PENDING device jobs: it claims them, runs them
// through an executor and records the outcome under the retry policy.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugacorp/device-jobs/internal/config"
	"github.com/nugacorp/device-jobs/internal/executor"
	"github.com/nugacorp/device-jobs/internal/storage"
)

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Store             storage.Store
	Executor          executor.Executor
	WorkerID          string
	PollInterval      time.Duration
	BatchSize         int
	Concurrency       int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
}

// Worker represents the background job worker
type Worker struct {
	logger            *slog.Logger
	store             storage.Store
	executor          executor.Executor
	workerID          string
	pollInterval      time.Duration
	batchSize         int
	concurrency       int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration

	wake     chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker creates a new worker instance. Zero values fall back to the
// configuration defaults; an empty WorkerID becomes worker-<uuid>.
func NewWorker(cfg *Config) *Worker {
	w := &Worker{
		logger:            cfg.Logger,
		store:             cfg.Store,
		executor:          cfg.Executor,
		workerID:          cfg.WorkerID,
		pollInterval:      cfg.PollInterval,
		batchSize:         cfg.BatchSize,
		concurrency:       cfg.Concurrency,
		jobTimeout:        cfg.JobTimeout,
		heartbeatInterval: cfg.HeartbeatInterval,
		wake:              make(chan struct{}, 1),
		stopChan:          make(chan struct{}),
	}

	if w.workerID == "" {
		w.workerID = defaultWorkerID()
	}
	if w.pollInterval <= 0 {
		w.pollInterval = 5 * time.Second
	}
	if w.batchSize <= 0 {
		w.batchSize = config.DefaultBatchSize
	}
	if w.concurrency <= 0 {
		w.concurrency = 1
	}
	if w.jobTimeout <= 0 {
		w.jobTimeout = 30 * time.Second
	}
	if w.heartbeatInterval <= 0 {
		w.heartbeatInterval = 10 * time.Second
	}

	return w
}

func defaultWorkerID() string {
	return "worker-" + uuid.New().String()
}

// ID returns the identifier written to worker_id on claimed jobs
func (w *Worker) ID() string {
	return w.workerID
}

// Wake makes a waiting Start loop poll immediately. It never blocks.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Start runs poll cycles until ctx is canceled or Stop is called.
// A job already executing when that happens finishes and records its outcome.
func (w *Worker) Start(ctx context.Context) error {
	w.wg.Add(1)
	defer w.wg.Done()

	if err := w.store.Ping(ctx); err != nil {
		return fmt.Errorf("job store unreachable: %w", err)
	}

	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Int("batch_size", w.batchSize),
		slog.Duration("poll_interval", w.pollInterval),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Worker context canceled, stopping...",
				slog.String("worker_id", w.workerID),
			)
			return nil
		case <-timer.C:
		case <-w.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		stats, err := w.RunCycle(ctx)
		if err != nil {
			w.logger.Error("Poll cycle failed",
				slog.String("worker_id", w.workerID),
				slog.Any("error", err),
			)
		} else if stats.Fetched > 0 {
			w.logger.Info("Poll cycle finished",
				slog.String("worker_id", w.workerID),
				slog.Int("fetched", stats.Fetched),
				slog.Int("done", stats.Done),
				slog.Int("requeued", stats.Requeued),
				slog.Int("failed", stats.Failed),
				slog.Int("skipped", stats.Skipped),
			)
		}

		timer.Reset(w.pollInterval)
	}
}

// Stop gracefully stops the worker and waits for Start to return
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

// RunCycle performs one poll: fetch up to batch_size PENDING jobs oldest
// first and process each. Jobs not yet started when ctx is canceled stay PENDING.
func (w *Worker) RunCycle(ctx context.Context) (CycleStats, error) {
	if err := ctx.Err(); err != nil {
		return CycleStats{}, err
	}

	jobs, err := w.store.FetchPending(ctx, w.batchSize)
	if err != nil {
		return CycleStats{}, fmt.Errorf("failed to fetch pending jobs: %w", err)
	}

	stats := w.processBatch(ctx, jobs)
	stats.Fetched = len(jobs)
	return stats, nil
}
