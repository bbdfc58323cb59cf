// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/unclebandit/mailcast-backend/internal/config"
)

type CampaignMaintainer interface {
	PromoteDue(ctx context.Context, now time.Time) (int64, error)
	CompleteSendingCampaigns(ctx context.Context, now time.Time) (int64, error)
	PurgeRetained(ctx context.Context, before time.Time) (int64, error)
}

type JobReclaimer interface {
	ReclaimStale(ctx context.Context, claimedBefore, now time.Time, maxAttempts int) (int64, error)
}

type RevocationPurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Scheduler runs periodic maintenance over the campaign and job tables.
type Scheduler struct {
	campaigns    CampaignMaintainer
	jobs         JobReclaimer
	revocations  RevocationPurger
	claimTimeout time.Duration
	maxAttempts  int
	retention    time.Duration
	now          func() time.Time
	log          *slog.Logger
	cron         *cron.Cron
}

// New wires the maintenance jobs. revocations may be nil when revocations live
// in Redis and expire on their own.
func New(cfg config.DispatchConfig, campaigns CampaignMaintainer, jobs JobReclaimer, revocations RevocationPurger, log *slog.Logger) (*Scheduler, error) {
	log = log.With(slog.String("component", "scheduler"))
	cl := cronLogger{log: log}

	s := &Scheduler{
		campaigns:    campaigns,
		jobs:         jobs,
		revocations:  revocations,
		claimTimeout: cfg.ClaimTimeout,
		maxAttempts:  cfg.MaxAttempts,
		retention:    time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		now:          time.Now,
		log:          log,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}

	jobsBySpec := []struct {
		spec string
		fn   func(context.Context)
	}{
		{"@every 30s", s.PromoteAndComplete},
		{"@every 1m", s.ReclaimStale},
		{"@hourly", s.PurgeRevocations},
		{"@daily", s.PurgeRetained},
	}
	for _, j := range jobsBySpec {
		fn := j.fn
		if _, err := s.cron.AddFunc(j.spec, func() { fn(context.Background()) }); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Run starts the cron loop and blocks until ctx is done and running jobs finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler started", slog.Int("jobs", len(s.cron.Entries())))
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
	return nil
}

// PromoteAndComplete moves due scheduled campaigns to sending and completes
// sending campaigns whose jobs are all terminal.
func (s *Scheduler) PromoteAndComplete(ctx context.Context) {
	now := s.now()
	if n, err := s.campaigns.PromoteDue(ctx, now); err != nil {
		s.log.Error("promote due campaigns failed", slog.String("error", err.Error()))
	} else if n > 0 {
		s.log.Info("promoted scheduled campaigns", slog.Int64("count", n))
	}

	if n, err := s.campaigns.CompleteSendingCampaigns(ctx, now); err != nil {
		s.log.Error("completion sweep failed", slog.String("error", err.Error()))
	} else if n > 0 {
		s.log.Info("completed campaigns", slog.Int64("count", n))
	}
}

// ReclaimStale takes back jobs stuck in flight past the claim timeout.
func (s *Scheduler) ReclaimStale(ctx context.Context) {
	now := s.now()
	n, err := s.jobs.ReclaimStale(ctx, now.Add(-s.claimTimeout), now, s.maxAttempts)
	if err != nil {
		s.log.Error("reclaim stale claims failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		s.log.Warn("reclaimed stale claims", slog.Int64("count", n))
	}
}

func (s *Scheduler) PurgeRevocations(ctx context.Context) {
	if s.revocations == nil {
		return
	}
	n, err := s.revocations.PurgeExpired(ctx, s.now())
	if err != nil {
		s.log.Error("purge revocations failed", slog.String("error", err.Error()))
		return
	}
	s.log.Info("purged expired revocations", slog.Int64("count", n))
}

func (s *Scheduler) PurgeRetained(ctx context.Context) {
	if s.retention <= 0 {
		return
	}
	n, err := s.campaigns.PurgeRetained(ctx, s.now().Add(-s.retention))
	if err != nil {
		s.log.Error("retention cleanup failed", slog.String("error", err.Error()))
		return
	}
	s.log.Info("retention cleanup done", slog.Int64("rows", n))
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(keysAndValues, slog.String("error", err.Error()))...)
}
