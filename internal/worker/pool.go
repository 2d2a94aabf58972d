package worker

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nugacorp/device-jobs/internal/domain"
)

// CycleStats counts what one poll cycle did
type CycleStats struct {
	Fetched  int
	Done     int
	Requeued int
	Failed   int
	Skipped  int
}

func (s *CycleStats) add(o Outcome) {
	switch o {
	case OutcomeDone:
		s.Done++
	case OutcomeRequeued:
		s.Requeued++
	case OutcomeFailed:
		s.Failed++
	default:
		s.Skipped++
	}
}

// processBatch runs jobs through processJob with at most w.concurrency in
// flight. With concurrency 1 jobs run strictly in fetch order.
func (w *Worker) processBatch(ctx context.Context, jobs []domain.Job) CycleStats {
	var (
		mu    sync.Mutex
		stats CycleStats
		g     errgroup.Group
	)
	g.SetLimit(w.concurrency)

	for _, job := range jobs {
		if ctx.Err() != nil {
			mu.Lock()
			stats.Skipped++
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			outcome := w.processJob(ctx, job)
			mu.Lock()
			stats.add(outcome)
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return stats
}
