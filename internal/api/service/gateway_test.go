package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugacorp/device-jobs/internal/auth"
	"github.com/nugacorp/device-jobs/internal/domain"
	"github.com/nugacorp/device-jobs/internal/storage"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type stubLimiter struct {
	allowed bool
	err     error
	keys    []string
}

func (l *stubLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allowed, l.err
}

type stubNotifier struct {
	jobs []string
	err  error
}

func (n *stubNotifier) JobCreated(_ context.Context, job *domain.Job) error {
	n.jobs = append(n.jobs, job.ID)
	return n.err
}

type failingStore struct {
	storage.Store
}

func (failingStore) Insert(context.Context, *domain.Job) error {
	return errors.New("connection refused")
}

func newGateway(store storage.Store, limiter RateLimiter, notifier Notifier) *Gateway {
	return NewGateway(&GatewayConfig{
		Store:             store,
		Authorizer:        auth.NewRoleAuthorizer(),
		Limiter:           limiter,
		Notifier:          notifier,
		Logger:            discard,
		DefaultMaxRetries: 3,
		MaxRetriesCap:     10,
	})
}

func wispOwner(tenant string) *auth.Identity {
	return &auth.Identity{Subject: "u1", Role: auth.RoleWispOwner, TenantID: tenant}
}

func intPtr(v int) *int { return &v }

func TestGateway_EnqueueCreatesPendingJob(t *testing.T) {
	store := storage.NewMemory()
	notifier := &stubNotifier{}
	g := newGateway(store, nil, notifier)

	job, err := g.Enqueue(context.Background(), wispOwner("t1"), EnqueueRequest{
		TenantID:  "t1",
		SubjectID: "c1",
		Action:    domain.ActionCreate,
		Payload:   domain.Payload{"username": "alice", "profile": "10M"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, domain.StatusPending, job.Status)
	assert.Equal(t, 0, job.RetryCount)
	assert.Equal(t, 3, job.MaxRetries)
	require.NotNil(t, job.SubjectID)
	assert.Equal(t, "c1", *job.SubjectID)
	assert.Nil(t, job.WorkerID)
	assert.Equal(t, []string{job.ID}, notifier.jobs)

	stored, err := store.Get(context.Background(), "t1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", stored.Payload["username"])
}

func TestGateway_EnqueueDefaults(t *testing.T) {
	g := newGateway(storage.NewMemory(), nil, nil)

	job, err := g.Enqueue(context.Background(), wispOwner("t1"), EnqueueRequest{
		TenantID:   "t1",
		Action:     domain.ActionDelete,
		MaxRetries: intPtr(0),
	})
	require.NoError(t, err)
	assert.Nil(t, job.SubjectID)
	assert.NotNil(t, job.Payload)
	assert.Empty(t, job.Payload)
	assert.Equal(t, 0, job.MaxRetries)
}

func TestGateway_EnqueueRejects(t *testing.T) {
	tests := []struct {
		name    string
		id      *auth.Identity
		req     EnqueueRequest
		wantErr error
	}{
		{
			name:    "no identity",
			req:     EnqueueRequest{TenantID: "t1", Action: domain.ActionCreate},
			wantErr: domain.ErrUnauthenticated,
		},
		{
			name:    "missing tenant",
			id:      wispOwner("t1"),
			req:     EnqueueRequest{Action: domain.ActionCreate},
			wantErr: domain.ErrInvalidRequest,
		},
		{
			name:    "unknown action",
			id:      wispOwner("t1"),
			req:     EnqueueRequest{TenantID: "t1", Action: "REBOOT"},
			wantErr: domain.ErrInvalidAction,
		},
		{
			name:    "max retries above cap",
			id:      wispOwner("t1"),
			req:     EnqueueRequest{TenantID: "t1", Action: domain.ActionCreate, MaxRetries: intPtr(11)},
			wantErr: domain.ErrInvalidRequest,
		},
		{
			name:    "negative max retries",
			id:      wispOwner("t1"),
			req:     EnqueueRequest{TenantID: "t1", Action: domain.ActionCreate, MaxRetries: intPtr(-1)},
			wantErr: domain.ErrInvalidRequest,
		},
		{
			name:    "other tenant",
			id:      wispOwner("t2"),
			req:     EnqueueRequest{TenantID: "t1", Action: domain.ActionCreate},
			wantErr: domain.ErrUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemory()
			g := newGateway(store, nil, nil)

			_, err := g.Enqueue(context.Background(), tt.id, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)

			jobs, err := store.FetchPending(context.Background(), 10)
			require.NoError(t, err)
			assert.Empty(t, jobs)
		})
	}
}

func TestGateway_SuperAdminAnyTenant(t *testing.T) {
	g := newGateway(storage.NewMemory(), nil, nil)
	admin := &auth.Identity{Subject: "root", Role: auth.RoleSuperAdmin}

	job, err := g.Enqueue(context.Background(), admin, EnqueueRequest{TenantID: "t9", Action: domain.ActionSuspend})
	require.NoError(t, err)
	assert.Equal(t, "t9", job.TenantID)
}

func TestGateway_StoreUnavailable(t *testing.T) {
	notifier := &stubNotifier{}
	g := newGateway(failingStore{}, nil, notifier)

	_, err := g.Enqueue(context.Background(), wispOwner("t1"), EnqueueRequest{TenantID: "t1", Action: domain.ActionCreate})
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.Empty(t, notifier.jobs)
}

func TestGateway_NotifierFailureIgnored(t *testing.T) {
	notifier := &stubNotifier{err: errors.New("broker down")}
	g := newGateway(storage.NewMemory(), nil, notifier)

	job, err := g.Enqueue(context.Background(), wispOwner("t1"), EnqueueRequest{TenantID: "t1", Action: domain.ActionUpdate})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, job.Status)
}

func TestGateway_RateLimit(t *testing.T) {
	t.Run("over limit", func(t *testing.T) {
		limiter := &stubLimiter{allowed: false}
		g := newGateway(storage.NewMemory(), limiter, nil)

		_, err := g.Enqueue(context.Background(), wispOwner("t1"), EnqueueRequest{TenantID: "t1", Action: domain.ActionCreate})
		assert.ErrorIs(t, err, domain.ErrRateLimited)
		assert.Equal(t, []string{"t1"}, limiter.keys)
	})

	t.Run("limiter outage allows", func(t *testing.T) {
		limiter := &stubLimiter{err: errors.New("redis down")}
		g := newGateway(storage.NewMemory(), limiter, nil)

		_, err := g.Enqueue(context.Background(), wispOwner("t1"), EnqueueRequest{TenantID: "t1", Action: domain.ActionCreate})
		assert.NoError(t, err)
	})
}

func TestGateway_ResubmitCreatesDistinctJobs(t *testing.T) {
	store := storage.NewMemory()
	g := newGateway(store, nil, nil)
	req := EnqueueRequest{TenantID: "t1", Action: domain.ActionCreate}

	first, err := g.Enqueue(context.Background(), wispOwner("t1"), req)
	require.NoError(t, err)
	second, err := g.Enqueue(context.Background(), wispOwner("t1"), req)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
}

type recordingPublisher struct {
	body        []byte
	contentType string
}

func (p *recordingPublisher) PublishWithRetry(_ context.Context, body []byte, contentType string) error {
	p.body = body
	p.contentType = contentType
	return nil
}

func TestBrokerNotifier(t *testing.T) {
	pub := &recordingPublisher{}
	n := NewBrokerNotifier(pub, 0)

	err := n.JobCreated(context.Background(), &domain.Job{ID: "j1", TenantID: "t1", Action: domain.ActionUpdate})
	require.NoError(t, err)
	assert.Equal(t, "application/json", pub.contentType)
	assert.JSONEq(t, `{"job_id":"j1","tenant_id":"t1","action":"UPDATE"}`, string(pub.body))
}
