package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Action is the kind of device command a job carries
type Action string

const (
	ActionCreate  Action = "CREATE"
	ActionUpdate  Action = "UPDATE"
	ActionSuspend Action = "SUSPEND"
	ActionDelete  Action = "DELETE"
)

// Actions lists every accepted action in a stable order
var Actions = []Action{ActionCreate, ActionUpdate, ActionSuspend, ActionDelete}

// Valid reports whether the action belongs to the closed action set
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionSuspend, ActionDelete:
		return true
	default:
		return false
	}
}

// Status is the lifecycle state of a job
type Status string

// Job status constants
const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
	StatusFailed     Status = "FAILED"
)

// Valid reports whether the status is one of the known states
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusDone, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is allowed from s
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// CanTransition reports whether moving from s to next follows the job state machine.
// IN_PROGRESS -> PENDING is the retry edge.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusInProgress
	case StatusInProgress:
		return next == StatusDone || next == StatusFailed || next == StatusPending
	default:
		return false
	}
}

// Payload is the opaque action-specific document attached to a job.
// It is stored as a JSON object.
type Payload map[string]any

// Value implements driver.Valuer
func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return b, nil
}

// Scan implements sql.Scanner
func (p *Payload) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*p = Payload{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported payload type %T", src)
	}

	out := Payload{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}
	*p = out
	return nil
}

// Job is a durable record of one requested device command and its execution state
type Job struct {
	ID           string     `db:"id"`
	TenantID     string     `db:"tenant_id"`
	SubjectID    *string    `db:"subject_id"`
	Action       Action     `db:"action"`
	Status       Status     `db:"status"`
	Payload      Payload    `db:"payload"`
	ErrorMessage *string    `db:"error_message"`
	RetryCount   int        `db:"retry_count"`
	MaxRetries   int        `db:"max_retries"`
	WorkerID     *string    `db:"worker_id"`
	HeartbeatAt  *time.Time `db:"heartbeat_at"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// CanRetry reports whether one more failed attempt still fits in the retry budget
func (j *Job) CanRetry() bool {
	return j.RetryCount+1 <= j.MaxRetries
}

// Clone returns a deep copy of the job so callers never share pointers or maps
func (j *Job) Clone() *Job {
	cp := *j
	if j.SubjectID != nil {
		s := *j.SubjectID
		cp.SubjectID = &s
	}
	if j.ErrorMessage != nil {
		s := *j.ErrorMessage
		cp.ErrorMessage = &s
	}
	if j.WorkerID != nil {
		s := *j.WorkerID
		cp.WorkerID = &s
	}
	if j.HeartbeatAt != nil {
		t := *j.HeartbeatAt
		cp.HeartbeatAt = &t
	}
	if j.Payload != nil {
		cp.Payload = make(Payload, len(j.Payload))
		for k, v := range j.Payload {
			cp.Payload[k] = v
		}
	}
	return &cp
}

// JobCreatedEvent is the wake-up notification published after a job is enqueued
type JobCreatedEvent struct {
	JobID    string `json:"job_id"`
	TenantID string `json:"tenant_id"`
	Action   Action `json:"action"`
}
