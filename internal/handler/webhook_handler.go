// internal/handler/webhook_handler.go
package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/unclebandit/mailcast-backend/internal/queue"
	"github.com/unclebandit/mailcast-backend/internal/tracker"
)

const maxWebhookBody = 1 << 20

// Publisher is the part of the queue the webhook writes to.
type Publisher interface {
	Publish(ctx context.Context, topic string, body []byte) error
}

// WebhookHandler ingests provider delivery callbacks and hands them to the
// tracker through the delivery event queue.
type WebhookHandler struct {
	Queue  Publisher
	Secret string
	// AllowUnsigned accepts every callback when no secret is configured.
	AllowUnsigned bool
	Log           *slog.Logger
	Now           func() time.Time
}

func NewWebhookHandler(q Publisher, secret string, log *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		Queue:  q,
		Secret: secret,
		Log:    log.With(slog.String("component", "webhook")),
		Now:    time.Now,
	}
}

// ProviderCallbackHandler accepts one callback. Unrecognized events are
// acknowledged with 202 and dropped so the provider does not redeliver them.
func (h *WebhookHandler) ProviderCallbackHandler(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid webhook secret"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tl *http.MaxBytesError
		if errors.As(err, &tl) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	ev, err := tracker.ParseWebhook(body, h.Now())
	if err != nil {
		if errors.Is(err, tracker.ErrUnrecognizedEvent) {
			h.Log.Warn("discarding webhook", slog.String("error", err.Error()))
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	msg, err := json.Marshal(ev)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "encode event"})
		return
	}
	if err := h.Queue.Publish(r.Context(), queue.DeliveryEventsTopic, msg); err != nil {
		h.Log.Error("failed to enqueue delivery event",
			slog.String("provider_message_id", ev.ProviderMessageID), slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event queue unavailable"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// authorized checks the shared secret from the X-Webhook-Secret header or the
// "secret" query parameter. Without a configured secret every callback is
// rejected unless AllowUnsigned is set.
func (h *WebhookHandler) authorized(r *http.Request) bool {
	if h.Secret == "" {
		return h.AllowUnsigned
	}
	got := r.Header.Get("X-Webhook-Secret")
	if got == "" {
		got = r.URL.Query().Get("secret")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.Secret)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
