package dto

import (
	"time"

	"github.com/nugacorp/device-jobs/internal/domain"
)

type CreateJobRequest struct {
	TenantID   string         `json:"tenant_id" binding:"required"`
	SubjectID  string         `json:"subject_id"`
	Action     string         `json:"action" binding:"required"`
	Payload    map[string]any `json:"payload"`
	MaxRetries *int           `json:"max_retries"`
}

type CreateJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type GetJobRequest struct {
	TenantID string `form:"tenant_id"`
}

type ListJobsRequest struct {
	TenantID string `form:"tenant_id"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
	Order    string `form:"order" binding:"omitempty,oneof=asc desc"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID        string         `json:"job_id"`
	TenantID     string         `json:"tenant_id"`
	SubjectID    *string        `json:"subject_id"`
	Action       string         `json:"action"`
	Status       string         `json:"status"`
	Payload      map[string]any `json:"payload"`
	ErrorMessage *string        `json:"error_message"`
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
	CreatedAt    string         `json:"created_at"`
	UpdatedAt    string         `json:"updated_at"`
}

// NewJobDTO converts a domain job to its API representation
func NewJobDTO(job *domain.Job) JobDTO {
	return JobDTO{
		JobID:        job.ID,
		TenantID:     job.TenantID,
		SubjectID:    job.SubjectID,
		Action:       string(job.Action),
		Status:       string(job.Status),
		Payload:      job.Payload,
		ErrorMessage: job.ErrorMessage,
		RetryCount:   job.RetryCount,
		MaxRetries:   job.MaxRetries,
		CreatedAt:    job.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:    job.UpdatedAt.Format(time.RFC3339Nano),
	}
}
