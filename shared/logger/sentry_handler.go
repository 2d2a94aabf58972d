package logger

import (
	"context"
	"errors"
	"log/slog"

	sentryslog "github.com/getsentry/sentry-go/slog"
)

// sentryTee writes every record to the local handler and copies warnings and
// errors to Sentry. A Sentry failure never drops the local line.
type sentryTee struct {
	local  slog.Handler
	remote slog.Handler
}

func newSentryTee(local slog.Handler) slog.Handler {
	remote := sentryslog.Option{
		EventLevel: []slog.Level{slog.LevelError},
		LogLevel:   []slog.Level{slog.LevelWarn, slog.LevelError},
	}.NewSentryHandler(context.Background())

	return &sentryTee{local: local, remote: remote}
}

func (h *sentryTee) Enabled(ctx context.Context, level slog.Level) bool {
	return h.local.Enabled(ctx, level) || (level >= slog.LevelWarn && h.remote.Enabled(ctx, level))
}

func (h *sentryTee) Handle(ctx context.Context, rec slog.Record) error {
	var localErr error
	if h.local.Enabled(ctx, rec.Level) {
		localErr = h.local.Handle(ctx, rec.Clone())
	}
	if rec.Level < slog.LevelWarn || !h.remote.Enabled(ctx, rec.Level) {
		return localErr
	}
	return errors.Join(localErr, h.remote.Handle(ctx, rec))
}

func (h *sentryTee) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &sentryTee{local: h.local.WithAttrs(attrs), remote: h.remote.WithAttrs(attrs)}
}

func (h *sentryTee) WithGroup(name string) slog.Handler {
	return &sentryTee{local: h.local.WithGroup(name), remote: h.remote.WithGroup(name)}
}
