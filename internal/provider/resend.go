package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/resend/resend-go/v3"

	"github.com/unclebandit/mailcast-backend/internal/config"
)

const defaultTimeout = 15 * time.Second

// Resend sends through the Resend API. The SDK does not expose response
// status codes, so a wrapping transport records them per request.
type Resend struct {
	client *resend.Client
	from   string
}

func NewResend(cfg config.ProviderConfig) *Resend {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := &http.Client{
		Timeout:   timeout,
		Transport: &statusTransport{base: http.DefaultTransport},
	}

	from := cfg.SenderEmail
	if cfg.SenderName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.SenderName, cfg.SenderEmail)
	}

	return &Resend{
		client: resend.NewCustomClient(httpClient, cfg.APIKey),
		from:   from,
	}
}

func (s *Resend) Send(ctx context.Context, msg Message) (Result, error) {
	req := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
	}
	for _, a := range msg.Attachments {
		req.Attachments = append(req.Attachments, &resend.Attachment{
			Filename:    a.Filename,
			Content:     a.Content,
			ContentType: a.ContentType,
		})
	}
	for name, value := range msg.Tags {
		req.Tags = append(req.Tags, resend.Tag{Name: name, Value: value})
	}

	status := new(int)
	resp, err := s.client.Emails.SendWithContext(withStatusRecorder(ctx, status), req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("provider call timed out: %w", err)
		}
		return Result{}, Classify(*status, fmt.Errorf("resend: %w", err))
	}
	if resp == nil || resp.Id == "" {
		return Result{}, Classify(*status, errors.New("resend: response carried no message id"))
	}
	return Result{ProviderMessageID: resp.Id}, nil
}

type statusKey struct{}

func withStatusRecorder(ctx context.Context, status *int) context.Context {
	return context.WithValue(ctx, statusKey{}, status)
}

// statusTransport copies the response status into the recorder carried by the
// request context.
type statusTransport struct {
	base http.RoundTripper
}

func (t *statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if resp != nil {
		if rec, ok := req.Context().Value(statusKey{}).(*int); ok {
			*rec = resp.StatusCode
		}
	}
	return resp, err
}

// SetBaseURL points the client at another API root.
func (s *Resend) SetBaseURL(raw string) error {
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("resend: parse base url: %w", err)
	}
	s.client.BaseURL = u
	return nil
}

var _ Sender = (*Resend)(nil)
