// Package executor defines the boundary between the job queue and the device
// that actually carries out a command.
package executor

import (
	"context"

	"github.com/nugacorp/device-jobs/internal/domain"
)

// Command is the device command derived from a claimed job
type Command struct {
	JobID     string
	TenantID  string
	Action    domain.Action
	SubjectID string
	Payload   domain.Payload
	Attempt   int // 1 for the first execution
}

// Executor carries out one command against a device. Implementations must be
// safe to call again for the same job: a retry re-sends the same command.
// Returning an error wrapped with domain.Permanent fails the job without retrying.
type Executor interface {
	Execute(ctx context.Context, cmd Command) error
}

// Func adapts a plain function to Executor
type Func func(ctx context.Context, cmd Command) error

// Execute calls f
func (f Func) Execute(ctx context.Context, cmd Command) error {
	return f(ctx, cmd)
}

// CommandFor builds the command for a claimed job
func CommandFor(job *domain.Job) Command {
	cmd := Command{
		JobID:    job.ID,
		TenantID: job.TenantID,
		Action:   job.Action,
		Payload:  job.Payload,
		Attempt:  job.RetryCount + 1,
	}
	if job.SubjectID != nil {
		cmd.SubjectID = *job.SubjectID
	}
	return cmd
}
