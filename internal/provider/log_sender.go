package provider

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// LogSender accepts every message and only logs it. Used in development.
type LogSender struct {
	log *slog.Logger
}

func NewLogSender(log *slog.Logger) *LogSender {
	return &LogSender{log: log.With(slog.String("component", "provider.log"))}
}

func (s *LogSender) Send(ctx context.Context, msg Message) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, Classify(0, err)
	}
	id := uuid.NewString()
	s.log.Info("email accepted",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.Int("attachments", len(msg.Attachments)),
		slog.String("provider_message_id", id),
	)
	return Result{ProviderMessageID: id}, nil
}
