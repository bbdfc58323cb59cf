// internal/tracker/tracker.go
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/unclebandit/mailcast-backend/internal/model"
)

type JobStore interface {
	GetByProviderMessageID(ctx context.Context, providerMessageID string) (*model.EmailJob, error)
	TransitionFromCallback(ctx context.Context, jobID int64, to model.JobState, now time.Time) (bool, error)
	MarkDelivered(ctx context.Context, jobID int64, at time.Time) error
}

type EventStore interface {
	Insert(ctx context.Context, e *model.DeliveryEvent) error
	Suppress(ctx context.Context, email, reason string, at time.Time) error
}

type CampaignCompleter interface {
	MarkCompletedIfDone(ctx context.Context, campaignID int64, now time.Time) (bool, error)
}

// Tracker applies delivery callbacks to email jobs.
type Tracker struct {
	jobs      JobStore
	events    EventStore
	campaigns CampaignCompleter
	now       func() time.Time
	log       *slog.Logger
}

func New(jobs JobStore, events EventStore, campaigns CampaignCompleter, log *slog.Logger) *Tracker {
	return &Tracker{
		jobs:      jobs,
		events:    events,
		campaigns: campaigns,
		now:       time.Now,
		log:       log.With(slog.String("component", "tracker")),
	}
}

// HandleMessage is the queue handler for normalised events. Undecodable
// messages are dropped; storage errors are returned so the queue redelivers.
func (t *Tracker) HandleMessage(ctx context.Context, body []byte) error {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		t.log.Warn("discarding undecodable delivery event", slog.String("error", err.Error()))
		return nil
	}
	return t.Apply(ctx, ev)
}

// Apply records ev and moves the matching job. Unmatched message ids and
// duplicate callbacks are no-ops.
func (t *Tracker) Apply(ctx context.Context, ev Event) error {
	log := t.log.With(slog.String("provider_message_id", ev.ProviderMessageID), slog.String("event", string(ev.Type)))

	target, ok := targetState(ev.Type)
	if !ok && ev.Type != model.EventDelivered {
		log.Warn("discarding unrecognized delivery event")
		return nil
	}

	job, err := t.jobs.GetByProviderMessageID(ctx, ev.ProviderMessageID)
	if err != nil {
		return fmt.Errorf("tracker: lookup job: %w", err)
	}
	if job == nil {
		log.Warn("discarding delivery event for unknown message")
		return nil
	}
	log = log.With(slog.Int64("job_id", job.ID), slog.Int64("campaign_id", job.CampaignID))

	at := ev.ReceivedAt
	if at.IsZero() {
		at = t.now().UTC()
	}

	if err := t.events.Insert(ctx, &model.DeliveryEvent{
		ProviderMessageID: ev.ProviderMessageID,
		Event:             ev.Type,
		Payload:           string(ev.Raw),
		ReceivedAt:        at,
	}); err != nil {
		return fmt.Errorf("tracker: store event: %w", err)
	}

	if ev.Type == model.EventDelivered {
		if err := t.jobs.MarkDelivered(ctx, job.ID, at); err != nil {
			return fmt.Errorf("tracker: mark delivered: %w", err)
		}
		log.Info("delivery confirmed")
		return nil
	}

	changed, err := t.jobs.TransitionFromCallback(ctx, job.ID, target, t.now())
	if err != nil {
		return fmt.Errorf("tracker: transition job: %w", err)
	}
	if err := t.events.Suppress(ctx, job.RecipientEmail, string(ev.Type), at); err != nil {
		return fmt.Errorf("tracker: suppress address: %w", err)
	}
	if !changed {
		log.Info("duplicate delivery event ignored", slog.String("state", string(job.State)))
		return nil
	}
	log.Info("job transitioned", slog.String("from", string(job.State)), slog.String("to", string(target)))

	if _, err := t.campaigns.MarkCompletedIfDone(ctx, job.CampaignID, t.now()); err != nil {
		log.Error("completion check failed", slog.String("error", err.Error()))
	}
	return nil
}

func targetState(t model.DeliveryEventType) (model.JobState, bool) {
	switch t {
	case model.EventBounce:
		return model.JobBounced, true
	case model.EventComplaint:
		return model.JobComplained, true
	default:
		return "", false
	}
}
