package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrEmptyConnectionURL = errors.New("redis: empty connection URL")
	ErrFailedToParseURL   = errors.New("redis: failed to parse connection URL")
	ErrConnectionFailed   = errors.New("redis: failed to establish connection")
)

// Config holds Redis connection configuration
type Config struct {
	URL           string
	PoolSize      int
	MinIdleConns  int
	DialTimeout   time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	RetryAttempts int
	RetryInterval time.Duration
}

// Client wraps a go-redis client with connection retry and logging
type Client struct {
	rdb    redis.UniversalClient
	logger *slog.Logger
}

// NewClient parses the URL and connects, retrying with a growing delay.
// Both redis:// and rediss:// (TLS) URLs are accepted.
func NewClient(ctx context.Context, config *Config, logger *slog.Logger) (*Client, error) {
	opts, err := parseOptions(config)
	if err != nil {
		return nil, err
	}

	logger.Info("Connecting to Redis",
		slog.String("addr", opts.Addr),
		slog.Int("db", opts.DB),
	)

	attempts := max(config.RetryAttempts, 1)
	for i := range attempts {
		rdb := redis.NewClient(opts)

		err = rdb.Ping(ctx).Err()
		if err == nil {
			logger.Info("Successfully connected to Redis", slog.String("addr", opts.Addr))
			return &Client{rdb: rdb, logger: logger}, nil
		}

		_ = rdb.Close()

		logger.Warn("Failed to connect to Redis",
			slog.Int("attempt", i+1),
			slog.Int("max_attempts", attempts),
			slog.Any("error", err),
		)

		if i == attempts-1 {
			break
		}
		if waitErr := wait(ctx, time.Duration(i+1)*config.RetryInterval); waitErr != nil {
			return nil, errors.Join(ErrConnectionFailed, waitErr)
		}
	}

	return nil, errors.Join(ErrConnectionFailed, err)
}

func parseOptions(config *Config) (*redis.Options, error) {
	if config.URL == "" {
		return nil, ErrEmptyConnectionURL
	}
	if !strings.HasPrefix(config.URL, "redis://") && !strings.HasPrefix(config.URL, "rediss://") {
		return nil, ErrFailedToParseURL
	}

	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseURL, err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.MinIdleConns > 0 {
		opts.MinIdleConns = config.MinIdleConns
	}
	if config.DialTimeout > 0 {
		opts.DialTimeout = config.DialTimeout
	}
	if config.ReadTimeout > 0 {
		opts.ReadTimeout = config.ReadTimeout
	}
	if config.WriteTimeout > 0 {
		opts.WriteTimeout = config.WriteTimeout
	}

	return opts, nil
}

// GetClient returns the underlying go-redis client
func (c *Client) GetClient() redis.UniversalClient {
	return c.rdb
}

// HealthCheck pings Redis
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection pool
func (c *Client) Close() error {
	c.logger.Info("Closing Redis connection")
	return c.rdb.Close()
}

func wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
