package executor

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"
)

// ErrDeviceUnreachable is the failure reported by the simulated device
var ErrDeviceUnreachable = errors.New("device connection failed")

// SimulatedConfig tunes the simulated device
type SimulatedConfig struct {
	Latency     time.Duration
	FailureRate float64        // 0..1 probability of a failed attempt
	Random      func() float64 // defaults to math/rand/v2 Float64
	Logger      *slog.Logger
}

// Simulated stands in for a RouterOS device: it waits Latency and fails a
// FailureRate share of attempts
type Simulated struct {
	latency     time.Duration
	failureRate float64
	random      func() float64
	logger      *slog.Logger
}

// NewSimulated creates a simulated device executor
func NewSimulated(cfg *SimulatedConfig) *Simulated {
	random := cfg.Random
	if random == nil {
		random = rand.Float64
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Simulated{
		latency:     cfg.Latency,
		failureRate: cfg.FailureRate,
		random:      random,
		logger:      logger,
	}
}

// Execute waits for the simulated latency and then succeeds or fails
func (s *Simulated) Execute(ctx context.Context, cmd Command) error {
	s.logger.Info("Executing device command (simulated)",
		slog.String("job_id", cmd.JobID),
		slog.String("tenant_id", cmd.TenantID),
		slog.String("action", string(cmd.Action)),
		slog.String("subject_id", cmd.SubjectID),
		slog.Int("attempt", cmd.Attempt),
	)

	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	if s.random() < s.failureRate {
		return ErrDeviceUnreachable
	}

	return nil
}
