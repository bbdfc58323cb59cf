package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/unclebandit/mailcast-backend/internal/model"
)

type DeliveryEventRepositoryInterface interface {
	Insert(ctx context.Context, e *model.DeliveryEvent) error
	Suppress(ctx context.Context, email, reason string, at time.Time) error
}

// DeliveryEventRepository stores provider callbacks and the suppression list
// they feed.
type DeliveryEventRepository struct {
	DB *sql.DB
}

func (r *DeliveryEventRepository) Insert(ctx context.Context, e *model.DeliveryEvent) error {
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO delivery_events (provider_message_id, event, payload, received_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	return r.DB.QueryRowContext(ctx, query, e.ProviderMessageID, e.Event, e.Payload, e.ReceivedAt.UTC()).Scan(&e.ID)
}

// Suppress adds an address to the suppression list. The first reason wins.
func (r *DeliveryEventRepository) Suppress(ctx context.Context, email, reason string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO suppressions (email, reason, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (email) DO NOTHING
	`, strings.ToLower(email), reason, at.UTC())
	return err
}

var _ DeliveryEventRepositoryInterface = (*DeliveryEventRepository)(nil)
