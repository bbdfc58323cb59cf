// internal/model/delivery_event.go
package model

import "time"

type DeliveryEventType string

const (
	EventBounce    DeliveryEventType = "bounce"
	EventComplaint DeliveryEventType = "complaint"
	EventDelivered DeliveryEventType = "delivered"
)

// DeliveryEvent is a normalised provider callback.
type DeliveryEvent struct {
	ID                int64             `db:"id" json:"id,omitempty"`
	ProviderMessageID string            `db:"provider_message_id" json:"provider_message_id"`
	Event             DeliveryEventType `db:"event" json:"event"`
	Payload           string            `db:"payload" json:"payload,omitempty"`
	ReceivedAt        time.Time         `db:"received_at" json:"received_at"`
}
