package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nugacorp/device-jobs/internal/domain"
	"github.com/nugacorp/device-jobs/internal/storage"
)

// LostWorkerMessage is recorded on jobs recovered from a dead worker
const LostWorkerMessage = "worker lost while executing job"

// cronParser accepts standard 5-field expressions and descriptors like "@every 1m"
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Sweeper periodically returns jobs abandoned IN_PROGRESS by a crashed
// worker to PENDING, or FAILED when their retry budget is spent.
type Sweeper struct {
	store      storage.Store
	schedule   cron.Schedule
	staleAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewSweeper parses schedule and creates a sweeper
func NewSweeper(store storage.Store, schedule string, staleAfter time.Duration, logger *slog.Logger) (*Sweeper, error) {
	sched, err := cronParser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	return &Sweeper{
		store:      store,
		schedule:   sched,
		staleAfter: staleAfter,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Sweep runs one recovery pass and returns the jobs it changed
func (s *Sweeper) Sweep(ctx context.Context) ([]domain.Job, error) {
	jobs, err := s.store.RecoverStale(ctx, s.staleAfter, LostWorkerMessage)
	if err != nil {
		return nil, fmt.Errorf("failed to recover stale jobs: %w", err)
	}

	for _, job := range jobs {
		s.logger.Warn("Recovered job from lost worker",
			slog.String("job_id", job.ID),
			slog.String("status", string(job.Status)),
			slog.Int("retry_count", job.RetryCount),
		)
	}

	return jobs, nil
}

// Run sweeps on schedule until ctx is canceled
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("Stale job sweeper started",
		slog.Duration("stale_after", s.staleAfter),
	)

	for {
		next := s.schedule.Next(s.now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("Stale job sweeper stopped")
			return nil
		case <-timer.C:
		}

		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("Stale job sweep failed", slog.Any("error", err))
		}
	}
}
