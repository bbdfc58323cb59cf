package tracker

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/unclebandit/mailcast-backend/internal/model"
)

var ErrUnrecognizedEvent = errors.New("tracker: unrecognized delivery event")

// Event is a provider callback normalised to the fields the tracker acts on.
type Event struct {
	ProviderMessageID string                  `json:"providerMessageId"`
	Type              model.DeliveryEventType `json:"event"`
	ReceivedAt        time.Time               `json:"receivedAt"`
	Raw               json.RawMessage         `json:"raw,omitempty"`
}

type webhookPayload struct {
	// generic shape
	ProviderMessageID string `json:"providerMessageId"`
	Event             string `json:"event"`

	// resend shape
	Type string `json:"type"`
	Data struct {
		EmailID string `json:"email_id"`
	} `json:"data"`
}

var resendTypes = map[string]model.DeliveryEventType{
	"email.bounced":    model.EventBounce,
	"email.complained": model.EventComplaint,
	"email.delivered":  model.EventDelivered,
}

// ParseWebhook normalises a raw callback body. Both the generic
// {providerMessageId, event} shape and Resend's {type, data.email_id} shape
// are accepted. Anything else yields ErrUnrecognizedEvent.
func ParseWebhook(body []byte, receivedAt time.Time) (Event, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrUnrecognizedEvent, err)
	}

	ev := Event{ReceivedAt: receivedAt.UTC(), Raw: json.RawMessage(body)}
	switch {
	case p.Type != "":
		t, ok := resendTypes[p.Type]
		if !ok {
			return Event{}, fmt.Errorf("%w: type %q", ErrUnrecognizedEvent, p.Type)
		}
		ev.Type = t
		ev.ProviderMessageID = p.Data.EmailID
	default:
		ev.Type = model.DeliveryEventType(strings.ToLower(strings.TrimSpace(p.Event)))
		ev.ProviderMessageID = p.ProviderMessageID
	}

	if ev.ProviderMessageID == "" {
		return Event{}, fmt.Errorf("%w: missing provider message id", ErrUnrecognizedEvent)
	}
	switch ev.Type {
	case model.EventBounce, model.EventComplaint, model.EventDelivered:
		return ev, nil
	default:
		return Event{}, fmt.Errorf("%w: event %q", ErrUnrecognizedEvent, ev.Type)
	}
}
