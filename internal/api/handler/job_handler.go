package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nugacorp/device-jobs/internal/api/dto"
	"github.com/nugacorp/device-jobs/internal/api/service"
	"github.com/nugacorp/device-jobs/internal/auth"
	"github.com/nugacorp/device-jobs/internal/domain"
)

// CreateJob handles POST /api/v1/jobs
// Queues one device command for a tenant
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Debug("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	job, err := h.gateway.Enqueue(c.Request.Context(), auth.FromContext(c.Request.Context()), service.EnqueueRequest{
		TenantID:   req.TenantID,
		SubjectID:  req.SubjectID,
		Action:     domain.Action(req.Action),
		Payload:    req.Payload,
		MaxRetries: req.MaxRetries,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.CreateJobResponse{
		JobID:  job.ID,
		Status: string(job.Status),
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves detailed information about a specific job
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	var req dto.GetJobRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	job, err := h.reader.Get(c.Request.Context(), auth.FromContext(c.Request.Context()), req.TenantID, jobID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists a tenant's jobs with optional status filter and keyset pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Debug("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	page, err := h.reader.List(c.Request.Context(), auth.FromContext(c.Request.Context()), service.ListQuery{
		TenantID:  req.TenantID,
		Status:    domain.Status(req.Status),
		PageSize:  req.PageSize,
		Cursor:    req.Cursor,
		Ascending: req.Order == "asc",
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	jobs := make([]dto.JobDTO, len(page.Jobs))
	for i := range page.Jobs {
		jobs[i] = dto.NewJobDTO(&page.Jobs[i])
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobs,
		NextCursor: page.NextCursor,
	})
}
