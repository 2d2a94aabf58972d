// Package service holds the request-side use cases: accepting device jobs and
// reading them back, independent of the HTTP transport.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nugacorp/device-jobs/internal/auth"
	"github.com/nugacorp/device-jobs/internal/domain"
	"github.com/nugacorp/device-jobs/internal/storage"
)

// Authorizer decides whether an identity may act for a tenant
type Authorizer interface {
	Authorize(id *auth.Identity, tenantID string) error
}

// RateLimiter counts enqueue attempts per key
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Notifier tells idle workers that a job is waiting
type Notifier interface {
	JobCreated(ctx context.Context, job *domain.Job) error
}

// EnqueueRequest is a validated-at-the-edge request to queue one device command
type EnqueueRequest struct {
	TenantID   string
	SubjectID  string
	Action     domain.Action
	Payload    domain.Payload
	MaxRetries *int
}

// GatewayConfig holds the Gateway's collaborators. Limiter and Notifier are optional.
type GatewayConfig struct {
	Store             storage.Store
	Authorizer        Authorizer
	Limiter           RateLimiter
	Notifier          Notifier
	Logger            *slog.Logger
	DefaultMaxRetries int
	MaxRetriesCap     int
}

// Gateway accepts device job requests and persists them as PENDING jobs
type Gateway struct {
	store             storage.Store
	authorizer        Authorizer
	limiter           RateLimiter
	notifier          Notifier
	logger            *slog.Logger
	defaultMaxRetries int
	maxRetriesCap     int
	now               func() time.Time
}

// NewGateway creates a new Gateway
func NewGateway(cfg *GatewayConfig) *Gateway {
	return &Gateway{
		store:             cfg.Store,
		authorizer:        cfg.Authorizer,
		limiter:           cfg.Limiter,
		notifier:          cfg.Notifier,
		logger:            cfg.Logger,
		defaultMaxRetries: cfg.DefaultMaxRetries,
		maxRetriesCap:     cfg.MaxRetriesCap,
		now:               time.Now,
	}
}

// Enqueue validates and authorizes req, then inserts exactly one PENDING job.
// A store failure is reported as ErrUnavailable and is not retried here; a
// client that resubmits creates a second, distinct job.
func (g *Gateway) Enqueue(ctx context.Context, id *auth.Identity, req EnqueueRequest) (*domain.Job, error) {
	if id == nil {
		return nil, domain.ErrUnauthenticated
	}

	if req.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", domain.ErrInvalidRequest)
	}

	if !req.Action.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidAction, req.Action)
	}

	maxRetries := g.defaultMaxRetries
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 || *req.MaxRetries > g.maxRetriesCap {
			return nil, fmt.Errorf("%w: max_retries must be between 0 and %d", domain.ErrInvalidRequest, g.maxRetriesCap)
		}
		maxRetries = *req.MaxRetries
	}

	if err := g.authorizer.Authorize(id, req.TenantID); err != nil {
		g.logger.Warn("Enqueue denied",
			slog.String("subject", id.Subject),
			slog.String("role", string(id.Role)),
			slog.String("tenant_id", req.TenantID),
		)
		return nil, err
	}

	if err := g.checkRate(ctx, req.TenantID); err != nil {
		return nil, err
	}

	now := g.now().UTC()
	payload := req.Payload
	if payload == nil {
		payload = domain.Payload{}
	}

	job := &domain.Job{
		ID:         uuid.New().String(),
		TenantID:   req.TenantID,
		Action:     req.Action,
		Status:     domain.StatusPending,
		Payload:    payload,
		RetryCount: 0,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if req.SubjectID != "" {
		subject := req.SubjectID
		job.SubjectID = &subject
	}

	if err := g.store.Insert(ctx, job); err != nil {
		g.logger.Error("Failed to insert job",
			slog.String("tenant_id", req.TenantID),
			slog.String("action", string(req.Action)),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}

	g.logger.Info("Job enqueued",
		slog.String("job_id", job.ID),
		slog.String("tenant_id", job.TenantID),
		slog.String("action", string(job.Action)),
		slog.Int("max_retries", job.MaxRetries),
	)

	if g.notifier != nil {
		if err := g.notifier.JobCreated(ctx, job); err != nil {
			g.logger.Warn("Failed to publish job notification, workers will pick it up on the next poll",
				slog.String("job_id", job.ID),
				slog.Any("error", err),
			)
		}
	}

	return job, nil
}

// checkRate enforces the per-tenant enqueue limit. A limiter outage lets the request through.
func (g *Gateway) checkRate(ctx context.Context, tenantID string) error {
	if g.limiter == nil {
		return nil
	}

	allowed, err := g.limiter.Allow(ctx, tenantID)
	if err != nil {
		g.logger.Warn("Rate limiter unavailable, allowing request",
			slog.String("tenant_id", tenantID),
			slog.Any("error", err),
		)
		return nil
	}

	if !allowed {
		return fmt.Errorf("%w: tenant %s", domain.ErrRateLimited, tenantID)
	}

	return nil
}

// storeError maps store failures to the domain errors callers can act on
func storeError(err error) error {
	if errors.Is(err, domain.ErrJobNotFound) {
		return domain.ErrJobNotFound
	}
	return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
}
