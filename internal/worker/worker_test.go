package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugacorp/device-jobs/internal/domain"
	"github.com/nugacorp/device-jobs/internal/executor"
	"github.com/nugacorp/device-jobs/internal/storage"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

var epoch = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

func insertJob(t *testing.T, store storage.Store, maxRetries int, offset time.Duration) string {
	t.Helper()
	id := uuid.New().String()
	created := epoch.Add(offset)
	require.NoError(t, store.Insert(context.Background(), &domain.Job{
		ID:         id,
		TenantID:   "t1",
		Action:     domain.ActionCreate,
		Status:     domain.StatusPending,
		Payload:    domain.Payload{"username": "alice", "profile": "10M"},
		MaxRetries: maxRetries,
		CreatedAt:  created,
		UpdatedAt:  created,
	}))
	return id
}

func newTestWorker(store storage.Store, exec executor.Executor, id string) *Worker {
	return NewWorker(&Config{
		Logger:            discard,
		Store:             store,
		Executor:          exec,
		WorkerID:          id,
		PollInterval:      time.Hour,
		JobTimeout:        time.Second,
		HeartbeatInterval: time.Hour,
	})
}

func getJob(t *testing.T, store storage.Store, id string) *domain.Job {
	t.Helper()
	job, err := store.Get(context.Background(), "t1", id)
	require.NoError(t, err)
	return job
}

func succeed(context.Context, executor.Command) error { return nil }

func TestNewWorker_Defaults(t *testing.T) {
	w := NewWorker(&Config{Logger: discard, Store: storage.NewMemory(), Executor: executor.Func(succeed)})

	assert.NotEmpty(t, w.ID())
	assert.Equal(t, 10, w.batchSize)
	assert.Equal(t, 1, w.concurrency)
	assert.Equal(t, 5*time.Second, w.pollInterval)
	assert.Equal(t, 30*time.Second, w.jobTimeout)
}

func TestRunCycle_Success(t *testing.T) {
	store := storage.NewMemory()
	id := insertJob(t, store, 3, 0)

	var got executor.Command
	w := newTestWorker(store, executor.Func(func(_ context.Context, cmd executor.Command) error {
		got = cmd
		return nil
	}), "w1")

	stats, err := w.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleStats{Fetched: 1, Done: 1}, stats)

	job := getJob(t, store, id)
	assert.Equal(t, domain.StatusDone, job.Status)
	assert.Nil(t, job.ErrorMessage)
	assert.Equal(t, 0, job.RetryCount)

	assert.Equal(t, id, got.JobID)
	assert.Equal(t, domain.ActionCreate, got.Action)
	assert.Equal(t, 1, got.Attempt)
	assert.Equal(t, []domain.Status{domain.StatusPending, domain.StatusInProgress, domain.StatusDone}, store.History(id))
}

func TestRunCycle_AlwaysFailingExhaustsRetries(t *testing.T) {
	store := storage.NewMemory()
	id := insertJob(t, store, 2, 0)

	var calls int
	w := newTestWorker(store, executor.Func(func(context.Context, executor.Command) error {
		calls++
		return errors.New("device connection failed")
	}), "w1")

	for i := 0; i < 5; i++ {
		_, err := w.RunCycle(context.Background())
		require.NoError(t, err)
	}

	job := getJob(t, store, id)
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Equal(t, 2, job.RetryCount)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "device connection failed", *job.ErrorMessage)
	assert.Equal(t, 3, calls)

	assert.Equal(t, []domain.Status{
		domain.StatusPending,
		domain.StatusInProgress,
		domain.StatusPending,
		domain.StatusInProgress,
		domain.StatusPending,
		domain.StatusInProgress,
		domain.StatusFailed,
	}, store.History(id))
}

func TestRunCycle_ZeroRetriesFailsImmediately(t *testing.T) {
	store := storage.NewMemory()
	id := insertJob(t, store, 0, 0)
	w := newTestWorker(store, executor.Func(func(context.Context, executor.Command) error {
		return errors.New("boom")
	}), "w1")

	stats, err := w.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	job := getJob(t, store, id)
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Equal(t, 0, job.RetryCount)
}

func TestRunCycle_RetryThenSucceed(t *testing.T) {
	store := storage.NewMemory()
	id := insertJob(t, store, 3, 0)

	var attempts []int
	w := newTestWorker(store, executor.Func(func(_ context.Context, cmd executor.Command) error {
		attempts = append(attempts, cmd.Attempt)
		if cmd.Attempt < 2 {
			return errors.New("transient")
		}
		return nil
	}), "w1")

	stats, err := w.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Requeued)

	job := getJob(t, store, id)
	assert.Equal(t, domain.StatusPending, job.Status)
	assert.Equal(t, 1, job.RetryCount)

	_, err = w.RunCycle(context.Background())
	require.NoError(t, err)

	job = getJob(t, store, id)
	assert.Equal(t, domain.StatusDone, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	assert.Nil(t, job.ErrorMessage)
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestRunCycle_PermanentErrorSkipsRetries(t *testing.T) {
	store := storage.NewMemory()
	id := insertJob(t, store, 3, 0)
	w := newTestWorker(store, executor.Func(func(context.Context, executor.Command) error {
		return domain.Permanent(errors.New("payload missing profile"))
	}), "w1")

	_, err := w.RunCycle(context.Background())
	require.NoError(t, err)

	job := getJob(t, store, id)
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Equal(t, 0, job.RetryCount)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "payload missing profile")
}

func TestRunCycle_PanicIsFailure(t *testing.T) {
	store := storage.NewMemory()
	id := insertJob(t, store, 1, 0)
	w := newTestWorker(store, executor.Func(func(context.Context, executor.Command) error {
		panic("nil router")
	}), "w1")

	stats, err := w.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Requeued)

	job := getJob(t, store, id)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "executor panic")
}

func TestRunCycle_TimeoutIsFailure(t *testing.T) {
	store := storage.NewMemory()
	id := insertJob(t, store, 1, 0)
	w := NewWorker(&Config{
		Logger:   discard,
		Store:    store,
		WorkerID: "w1",
		Executor: executor.Func(func(ctx context.Context, _ executor.Command) error {
			<-ctx.Done()
			return ctx.Err()
		}),
		JobTimeout:        20 * time.Millisecond,
		HeartbeatInterval: time.Hour,
	})

	_, err := w.RunCycle(context.Background())
	require.NoError(t, err)

	job := getJob(t, store, id)
	assert.Equal(t, domain.StatusPending, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "deadline exceeded")
}

func TestRunCycle_DeadlineIgnoredKeepsHeartbeat(t *testing.T) {
	store := storage.NewMemory()
	id := insertJob(t, store, 1, 0)

	started := make(chan struct{})
	w := NewWorker(&Config{
		Logger:   discard,
		Store:    store,
		WorkerID: "w1",
		Executor: executor.Func(func(context.Context, executor.Command) error {
			close(started)
			time.Sleep(400 * time.Millisecond)
			return nil
		}),
		JobTimeout:        20 * time.Millisecond,
		HeartbeatInterval: 10 * time.Millisecond,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := w.RunCycle(context.Background())
		assert.NoError(t, err)
	}()

	<-started
	time.Sleep(250 * time.Millisecond)

	// the call is still running well past its deadline; the job stays owned
	recovered, err := store.RecoverStale(context.Background(), 100*time.Millisecond, LostWorkerMessage)
	require.NoError(t, err)
	assert.Empty(t, recovered)
	assert.Equal(t, domain.StatusInProgress, getJob(t, store, id).Status)

	<-done

	job := getJob(t, store, id)
	assert.Equal(t, domain.StatusPending, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "timed out")
	assert.Equal(t, []domain.Status{
		domain.StatusPending, domain.StatusInProgress, domain.StatusPending,
	}, store.History(id))
}

func TestRunCycle_OldestFirstWithinBatch(t *testing.T) {
	store := storage.NewMemory()
	third := insertJob(t, store, 3, 3*time.Second)
	first := insertJob(t, store, 3, 1*time.Second)
	second := insertJob(t, store, 3, 2*time.Second)

	var order []string
	w := newTestWorker(store, executor.Func(func(_ context.Context, cmd executor.Command) error {
		order = append(order, cmd.JobID)
		return nil
	}), "w1")

	_, err := w.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{first, second, third}, order)
}

func TestRunCycle_BatchSizeLimitsFetch(t *testing.T) {
	store := storage.NewMemory()
	for i := 0; i < 5; i++ {
		insertJob(t, store, 3, time.Duration(i)*time.Second)
	}
	w := NewWorker(&Config{
		Logger:    discard,
		Store:     store,
		Executor:  executor.Func(succeed),
		BatchSize: 2,
	})

	stats, err := w.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Fetched)

	pending, err := store.FetchPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func TestRunCycle_Concurrency(t *testing.T) {
	store := storage.NewMemory()
	for i := 0; i < 8; i++ {
		insertJob(t, store, 3, time.Duration(i)*time.Second)
	}

	var inFlight, peak int32
	w := NewWorker(&Config{
		Logger: discard,
		Store:  store,
		Executor: executor.Func(func(context.Context, executor.Command) error {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return nil
		}),
		Concurrency: 3,
	})

	stats, err := w.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, stats.Done)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestRunCycle_TwoWorkersRace(t *testing.T) {
	store := storage.NewMemory()
	id := insertJob(t, store, 3, 0)

	var calls int32
	exec := executor.Func(func(context.Context, executor.Command) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	workers := []*Worker{newTestWorker(store, exec, "w1"), newTestWorker(store, exec, "w2")}
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			_, err := w.RunCycle(context.Background())
			assert.NoError(t, err)
		}(w)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, domain.StatusDone, getJob(t, store, id).Status)
}

func TestRunCycle_ShutdownFinishesCurrentJob(t *testing.T) {
	store := storage.NewMemory()
	first := insertJob(t, store, 3, 0)
	second := insertJob(t, store, 3, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	w := newTestWorker(store, executor.Func(func(ctx context.Context, _ executor.Command) error {
		cancel()
		// the job context must outlive the worker's
		return ctx.Err()
	}), "w1")

	stats, err := w.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Done)
	assert.Equal(t, 1, stats.Skipped)

	assert.Equal(t, domain.StatusDone, getJob(t, store, first).Status)
	assert.Equal(t, domain.StatusPending, getJob(t, store, second).Status)
}

func TestRunCycle_CanceledContext(t *testing.T) {
	store := storage.NewMemory()
	insertJob(t, store, 3, 0)
	w := newTestWorker(store, executor.Func(succeed), "w1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.RunCycle(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunCycle_ReclaimedJobResultDropped(t *testing.T) {
	var clock atomic.Int64
	clock.Store(epoch.UnixNano())
	store := storage.NewMemory(storage.WithClock(func() time.Time { return time.Unix(0, clock.Load()).UTC() }))
	id := insertJob(t, store, 3, 0)

	sweeper, err := NewSweeper(store, "@every 1m", time.Minute, discard)
	require.NoError(t, err)

	w := newTestWorker(store, executor.Func(func(ctx context.Context, _ executor.Command) error {
		clock.Add(int64(10 * time.Minute))
		recovered, err := sweeper.Sweep(ctx)
		assert.NoError(t, err)
		assert.Len(t, recovered, 1)
		return nil
	}), "w1")

	stats, err := w.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)

	job := getJob(t, store, id)
	assert.Equal(t, domain.StatusPending, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, LostWorkerMessage, *job.ErrorMessage)
}

type failingFetchStore struct {
	storage.Store
}

func (failingFetchStore) FetchPending(context.Context, int) ([]domain.Job, error) {
	return nil, errors.New("connection reset")
}

func TestRunCycle_FetchError(t *testing.T) {
	w := newTestWorker(failingFetchStore{}, executor.Func(succeed), "w1")

	_, err := w.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch pending jobs")
}

func TestStart_WakeAndStop(t *testing.T) {
	store := storage.NewMemory()
	w := newTestWorker(store, executor.Func(succeed), "w1")

	done := make(chan error, 1)
	go func() { done <- w.Start(context.Background()) }()

	// give the initial cycle time to find nothing
	time.Sleep(20 * time.Millisecond)
	id := insertJob(t, store, 3, 0)
	w.Wake()

	assert.Eventually(t, func() bool {
		return getJob(t, store, id).Status == domain.StatusDone
	}, 2*time.Second, 10*time.Millisecond)

	w.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestStart_ContextCancel(t *testing.T) {
	store := storage.NewMemory()
	ids := make([]string, 3)
	for i := range ids {
		ids[i] = insertJob(t, store, 3, time.Duration(i)*time.Second)
	}
	w := NewWorker(&Config{
		Logger:       discard,
		Store:        store,
		Executor:     executor.Func(succeed),
		PollInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	assert.Eventually(t, func() bool {
		for _, id := range ids {
			if getJob(t, store, id).Status != domain.StatusDone {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal(fmt.Sprintf("worker %s did not stop", w.ID()))
	}
}

type unreachableStore struct {
	storage.Store
}

func (unreachableStore) Ping(context.Context) error {
	return errors.New("dial tcp: connection refused")
}

func TestStart_StoreUnreachable(t *testing.T) {
	w := newTestWorker(unreachableStore{}, executor.Func(succeed), "w1")

	err := w.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job store unreachable")
}

func TestRunCycle_SuspendSucceedsOnThirdAttempt(t *testing.T) {
	store := storage.NewMemory()
	subject := "c1"
	id := uuid.New().String()
	require.NoError(t, store.Insert(context.Background(), &domain.Job{
		ID:         id,
		TenantID:   "t1",
		SubjectID:  &subject,
		Action:     domain.ActionSuspend,
		Status:     domain.StatusPending,
		Payload:    domain.Payload{},
		MaxRetries: 2,
		CreatedAt:  epoch,
		UpdatedAt:  epoch,
	}))

	var calls int
	w := newTestWorker(store, executor.Func(func(_ context.Context, cmd executor.Command) error {
		calls++
		assert.Equal(t, "c1", cmd.SubjectID)
		if calls <= 2 {
			return errors.New("device connection failed")
		}
		return nil
	}), "w1")

	for i := 0; i < 4; i++ {
		_, err := w.RunCycle(context.Background())
		require.NoError(t, err)
	}

	job := getJob(t, store, id)
	assert.Equal(t, domain.StatusDone, job.Status)
	assert.Equal(t, 2, job.RetryCount)
	assert.Nil(t, job.ErrorMessage)
	assert.Equal(t, 3, calls)
}
