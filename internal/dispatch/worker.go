// internal/dispatch/worker.go
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/mailcast-backend/internal/config"
	appErrors "github.com/unclebandit/mailcast-backend/internal/errors"
	"github.com/unclebandit/mailcast-backend/internal/model"
	"github.com/unclebandit/mailcast-backend/internal/provider"
	"github.com/unclebandit/mailcast-backend/internal/ratelimit"
	"github.com/unclebandit/mailcast-backend/internal/render"
)

// JobStore is the part of the job repository a worker drives.
type JobStore interface {
	Claim(ctx context.Context, limit int, claimToken string, now time.Time) ([]*model.EmailJob, error)
	RecordOutcome(ctx context.Context, jobID int64, claimToken string, out model.Outcome, now time.Time) error
	ReleaseClaim(ctx context.Context, jobID int64, claimToken string, now time.Time) error
}

// CampaignStore is the part of the campaign repository a worker reads.
type CampaignStore interface {
	GetByID(ctx context.Context, id int64) (*model.Campaign, error)
	GetRecipient(ctx context.Context, campaignID int64, email string) (*model.Recipient, error)
	MarkCompletedIfDone(ctx context.Context, campaignID int64, now time.Time) (bool, error)
}

type Renderer interface {
	Render(ctx context.Context, c *model.Campaign, rec model.Recipient) (*render.Content, error)
}

// Deps are the collaborators shared by every worker of a pool.
type Deps struct {
	Jobs      JobStore
	Campaigns CampaignStore
	Renderer  Renderer
	Sender    provider.Sender
	Limiter   ratelimit.Limiter
	Log       *slog.Logger
}

type Worker struct {
	ID int

	deps         Deps
	batchSize    int
	pollInterval time.Duration
	callTimeout  time.Duration
	classifier   Classifier
	now          func() time.Time
	log          *slog.Logger
}

type Option func(*Worker)

func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// WithRand replaces the jitter source.
func WithRand(rnd func() float64) Option {
	return func(w *Worker) { w.classifier.Rand = rnd }
}

func NewWorker(id int, cfg config.DispatchConfig, callTimeout time.Duration, deps Deps, opts ...Option) *Worker {
	w := &Worker{
		ID:           id,
		deps:         deps,
		batchSize:    cfg.BatchSize,
		pollInterval: cfg.PollInterval,
		callTimeout:  callTimeout,
		classifier: Classifier{
			MaxAttempts: cfg.MaxAttempts,
			Backoff:     BackoffFrom(cfg),
			Rand:        rand.Float64,
		},
		now: time.Now,
		log: deps.Log.With(slog.String("component", "dispatch"), slog.Int("worker_id", id)),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run claims and processes batches until ctx is done. An empty claim makes the
// worker sleep for the poll interval.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started")
	defer w.log.Info("worker stopped")

	for {
		processed, err := w.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			w.log.Error("dispatch batch failed", slog.String("error", err.Error()))
		}
		if ctx.Err() != nil {
			return nil
		}
		if processed > 0 && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.pollInterval):
		}
	}
}

// RunOnce claims one batch and works through it. It returns how many jobs were
// claimed.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	claimToken := uuid.NewString()
	jobs, err := w.deps.Jobs.Claim(ctx, w.batchSize, claimToken, w.now())
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	b := &batch{token: claimToken, campaigns: map[int64]*model.Campaign{}}
	for i, job := range jobs {
		if err := w.deps.Limiter.Acquire(ctx); err != nil {
			if isRateLimitTimeout(err) {
				w.log.Warn("rate limit acquire timed out, releasing batch",
					slog.Int("released", len(jobs)-i))
			}
			w.release(ctx, b, jobs[i:])
			break
		}
		w.process(ctx, b, job)
	}

	w.completeCampaigns(ctx, jobs)
	return len(jobs), nil
}

type batch struct {
	token     string
	campaigns map[int64]*model.Campaign
}

func (w *Worker) process(ctx context.Context, b *batch, job *model.EmailJob) {
	log := w.log.With(slog.Int64("job_id", job.ID), slog.Int64("campaign_id", job.CampaignID))

	res, err := w.send(ctx, b, job)
	if err != nil && ctx.Err() != nil {
		w.release(ctx, b, []*model.EmailJob{job})
		return
	}
	if err != nil && appErrors.IsStorageError(err) {
		// nothing was sent; the job stays claimable and keeps its attempt count
		log.Warn("storage unavailable, releasing job", slog.String("error", err.Error()))
		w.release(ctx, b, []*model.EmailJob{job})
		return
	}

	outcome := w.classifier.Classify(err, job.AttemptCount, w.now())
	outcome.ProviderMessageID = res.ProviderMessageID

	if err := w.deps.Jobs.RecordOutcome(context.WithoutCancel(ctx), job.ID, b.token, outcome, w.now()); err != nil {
		if errors.Is(err, appErrors.ErrClaimLost) {
			log.Warn("claim lost before outcome was recorded", slog.String("state", string(outcome.State)))
			return
		}
		log.Error("record outcome failed", slog.String("error", err.Error()))
		return
	}

	switch outcome.State {
	case model.JobSent:
		log.Info("email sent", slog.String("provider_message_id", outcome.ProviderMessageID))
	case model.JobFailedRetryable:
		log.Warn("send failed, will retry",
			slog.String("error", outcome.Error),
			slog.Time("next_attempt_at", outcome.NextAttemptAt))
	default:
		log.Warn("send failed permanently", slog.String("error", outcome.Error))
	}
}

// send renders the job's content and calls the provider under the call timeout.
func (w *Worker) send(ctx context.Context, b *batch, job *model.EmailJob) (provider.Result, error) {
	campaign, err := w.campaign(ctx, b, job.CampaignID)
	if err != nil {
		return provider.Result{}, err
	}

	rec, err := w.deps.Campaigns.GetRecipient(ctx, job.CampaignID, job.RecipientEmail)
	if err != nil {
		return provider.Result{}, err
	}
	if rec == nil {
		rec = &model.Recipient{CampaignID: job.CampaignID, Email: job.RecipientEmail}
	}

	content, err := w.deps.Renderer.Render(ctx, campaign, *rec)
	if err != nil {
		return provider.Result{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, w.callTimeout)
	defer cancel()

	return w.deps.Sender.Send(callCtx, provider.Message{
		To:          job.RecipientEmail,
		Subject:     content.Subject,
		HTML:        content.HTML,
		Text:        content.Text,
		Attachments: content.Attachments,
		Tags: map[string]string{
			"campaign_id": strconv.FormatInt(job.CampaignID, 10),
			"job_id":      strconv.FormatInt(job.ID, 10),
		},
	})
}

func (w *Worker) campaign(ctx context.Context, b *batch, id int64) (*model.Campaign, error) {
	if c, ok := b.campaigns[id]; ok {
		return c, nil
	}
	c, err := w.deps.Campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	b.campaigns[id] = c
	return c, nil
}

// release hands jobs back without counting an attempt. It runs even when ctx
// is already cancelled.
func (w *Worker) release(ctx context.Context, b *batch, jobs []*model.EmailJob) {
	rctx := context.WithoutCancel(ctx)
	for _, job := range jobs {
		if err := w.deps.Jobs.ReleaseClaim(rctx, job.ID, b.token, w.now()); err != nil && !errors.Is(err, appErrors.ErrClaimLost) {
			w.log.Error("release claim failed", slog.Int64("job_id", job.ID), slog.String("error", err.Error()))
		}
	}
}

func (w *Worker) completeCampaigns(ctx context.Context, jobs []*model.EmailJob) {
	rctx := context.WithoutCancel(ctx)
	seen := map[int64]bool{}
	for _, job := range jobs {
		if seen[job.CampaignID] {
			continue
		}
		seen[job.CampaignID] = true

		done, err := w.deps.Campaigns.MarkCompletedIfDone(rctx, job.CampaignID, w.now())
		if err != nil {
			w.log.Error("completion check failed", slog.Int64("campaign_id", job.CampaignID), slog.String("error", err.Error()))
			continue
		}
		if done {
			w.log.Info("campaign completed", slog.Int64("campaign_id", job.CampaignID))
		}
	}
}
