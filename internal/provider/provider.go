// Package provider sends rendered campaign email through the transactional
// email provider.
package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/unclebandit/mailcast-backend/internal/config"
)

type Attachment struct {
	Filename    string
	Content     []byte
	ContentType string
}

// Message is one fully rendered email to one recipient.
type Message struct {
	To          string
	Subject     string
	HTML        string
	Text        string
	Attachments []Attachment
	Tags        map[string]string
}

type Result struct {
	ProviderMessageID string
}

// Sender delivers a message. Errors are *appErrors.ProviderError values that
// say whether the failure is worth retrying.
type Sender interface {
	Send(ctx context.Context, msg Message) (Result, error)
}

// New builds the sender named by cfg.Name.
func New(cfg config.ProviderConfig, log *slog.Logger) (Sender, error) {
	switch cfg.Name {
	case "resend":
		return NewResend(cfg), nil
	case "log":
		return NewLogSender(log), nil
	default:
		return nil, fmt.Errorf("provider: unknown provider %q", cfg.Name)
	}
}
