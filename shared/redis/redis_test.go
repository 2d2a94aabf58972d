package redis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Validation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name    string
		url     string
		wantErr error
	}{
		{name: "empty URL", url: "", wantErr: ErrEmptyConnectionURL},
		{name: "http scheme", url: "http://localhost:6379", wantErr: ErrFailedToParseURL},
		{name: "no scheme", url: "localhost:6379", wantErr: ErrFailedToParseURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(context.Background(), &Config{URL: tt.url}, logger)
			require.Error(t, err)
			assert.Nil(t, client)
			assert.True(t, errors.Is(err, tt.wantErr))
		})
	}
}

func TestParseOptions_Overrides(t *testing.T) {
	opts, err := parseOptions(&Config{
		URL:         "redis://localhost:6380/2",
		PoolSize:    7,
		DialTimeout: 2 * time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, "localhost:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 7, opts.PoolSize)
	assert.Equal(t, 2*time.Second, opts.DialTimeout)
}

func TestFixedWindowLimiter_WindowKey(t *testing.T) {
	l := NewFixedWindowLimiter(nil, "enqueue", 10, time.Minute)
	at := time.Date(2026, 1, 1, 12, 0, 30, 0, time.UTC)

	k1 := l.windowKey("t1", at)
	k2 := l.windowKey("t1", at.Add(20*time.Second))
	k3 := l.windowKey("t1", at.Add(40*time.Second))

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Contains(t, k1, "enqueue:t1:")
	assert.NotEqual(t, k1, l.windowKey("t2", at))
}

func TestFixedWindowLimiter_UnreachableServer(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	l := NewFixedWindowLimiter(rdb, "enqueue", 10, time.Minute)

	allowed, err := l.Allow(context.Background(), "t1")
	require.Error(t, err)
	assert.False(t, allowed)
}
