package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nugacorp/device-jobs/internal/auth"
	"github.com/nugacorp/device-jobs/internal/domain"
	"github.com/nugacorp/device-jobs/internal/storage"
)

const (
	// DefaultPageSize is used when a list request does not set page_size
	DefaultPageSize = 20
	// MaxPageSize caps page_size
	MaxPageSize = 100
)

// ListQuery selects a page of a tenant's jobs
type ListQuery struct {
	TenantID  string
	Status    domain.Status
	PageSize  int
	Cursor    string
	Ascending bool
}

// Page is one page of jobs plus the cursor for the next one, empty on the last page
type Page struct {
	Jobs       []domain.Job
	NextCursor string
}

// Reader answers status queries. It never mutates jobs.
type Reader struct {
	store      storage.Store
	authorizer Authorizer
	logger     *slog.Logger
}

// NewReader creates a new Reader
func NewReader(store storage.Store, authorizer Authorizer, logger *slog.Logger) *Reader {
	return &Reader{
		store:      store,
		authorizer: authorizer,
		logger:     logger,
	}
}

// Get returns one job of the tenant. Jobs of other tenants are reported as not found.
// An empty tenantID means the caller's own tenant.
func (r *Reader) Get(ctx context.Context, id *auth.Identity, tenantID, jobID string) (*domain.Job, error) {
	tenantID, err := r.scope(id, tenantID)
	if err != nil {
		return nil, err
	}

	if _, err := uuid.Parse(jobID); err != nil {
		return nil, fmt.Errorf("%w: job_id must be a valid UUID", domain.ErrInvalidRequest)
	}

	job, err := r.store.Get(ctx, tenantID, jobID)
	if err != nil {
		return nil, storeError(err)
	}

	return job, nil
}

// List returns a page of the tenant's jobs, newest first unless q.Ascending is set
func (r *Reader) List(ctx context.Context, id *auth.Identity, q ListQuery) (*Page, error) {
	tenantID, err := r.scope(id, q.TenantID)
	if err != nil {
		return nil, err
	}

	if q.Status != "" && !q.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidRequest, q.Status)
	}

	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	cursor, err := DecodeJobCursor(q.Cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}

	// One extra row tells us whether another page exists
	jobs, err := r.store.List(ctx, storage.ListFilter{
		TenantID:  tenantID,
		Status:    q.Status,
		Limit:     pageSize + 1,
		Cursor:    cursor,
		Ascending: q.Ascending,
	})
	if err != nil {
		r.logger.Error("Failed to list jobs",
			slog.String("tenant_id", tenantID),
			slog.Any("error", err),
		)
		return nil, storeError(err)
	}

	page := &Page{Jobs: jobs}
	if len(jobs) > pageSize {
		page.Jobs = jobs[:pageSize]
		last := page.Jobs[pageSize-1]
		page.NextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.ID,
		})
	}

	return page, nil
}

// scope resolves the tenant a read is for and checks the caller may see it
func (r *Reader) scope(id *auth.Identity, tenantID string) (string, error) {
	if id == nil {
		return "", domain.ErrUnauthenticated
	}
	if tenantID == "" {
		tenantID = id.TenantID
	}
	if tenantID == "" {
		return "", fmt.Errorf("%w: tenant_id is required", domain.ErrInvalidRequest)
	}
	if err := r.authorizer.Authorize(id, tenantID); err != nil {
		return "", err
	}
	return tenantID, nil
}
