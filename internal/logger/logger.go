// Package logger builds the structured loggers used by every binary.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/getsentry/sentry-go"
	sentryslog "github.com/getsentry/sentry-go/slog"

	"github.com/unclebandit/mailcast-backend/internal/config"
)

// New returns a JSON logger on stdout tagged with the binary name. When a Sentry
// DSN is configured, warnings and errors are also shipped to Sentry.
func New(service string, cfg config.SentryConfig) *slog.Logger {
	return newLogger(os.Stdout, service, cfg)
}

func newLogger(w io.Writer, service string, cfg config.SentryConfig) *slog.Logger {
	stdout := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})

	if cfg.DSN == "" {
		return slog.New(stdout).With(slog.String("service", service))
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		EnableLogs:  true,
	}); err != nil {
		slog.New(stdout).Error("failed to initialize sentry", slog.String("error", err.Error()))
		return slog.New(stdout).With(slog.String("service", service))
	}

	sentryHandler := sentryslog.Option{
		EventLevel: []slog.Level{slog.LevelError},
		LogLevel:   []slog.Level{slog.LevelWarn, slog.LevelError},
	}.NewSentryHandler(context.Background())

	return slog.New(&teeHandler{local: stdout, remote: sentryHandler}).With(slog.String("service", service))
}

// teeHandler writes every record to local and copies it to remote when remote
// accepts the level. Only local write errors are reported.
type teeHandler struct {
	local  slog.Handler
	remote slog.Handler
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return t.local.Enabled(ctx, level) || t.remote.Enabled(ctx, level)
}

func (t *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	if t.remote.Enabled(ctx, r.Level) {
		_ = t.remote.Handle(ctx, r.Clone())
	}
	if !t.local.Enabled(ctx, r.Level) {
		return nil
	}
	return t.local.Handle(ctx, r)
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &teeHandler{local: t.local.WithAttrs(attrs), remote: t.remote.WithAttrs(attrs)}
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{local: t.local.WithGroup(name), remote: t.remote.WithGroup(name)}
}

// Discard is a logger that drops everything. Tests use it.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
