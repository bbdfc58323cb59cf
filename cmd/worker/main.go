// cmd/worker/main.go
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/mailcast-backend/internal/blob"
	"github.com/unclebandit/mailcast-backend/internal/config"
	"github.com/unclebandit/mailcast-backend/internal/db"
	"github.com/unclebandit/mailcast-backend/internal/dispatch"
	"github.com/unclebandit/mailcast-backend/internal/logger"
	"github.com/unclebandit/mailcast-backend/internal/provider"
	"github.com/unclebandit/mailcast-backend/internal/queue"
	"github.com/unclebandit/mailcast-backend/internal/ratelimit"
	"github.com/unclebandit/mailcast-backend/internal/redisconn"
	"github.com/unclebandit/mailcast-backend/internal/render"
	"github.com/unclebandit/mailcast-backend/internal/repository"
	"github.com/unclebandit/mailcast-backend/internal/scheduler"
	"github.com/unclebandit/mailcast-backend/internal/tracker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logger.New("worker", cfg.Sentry)
	defer sentry.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("worker exited with error", slog.String("error", err.Error()))
		sentry.Flush(2 * time.Second)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	conn, err := db.Open(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx, conn, log); err != nil {
			return err
		}
	}

	var rdb redis.UniversalClient
	if needsRedis(cfg) {
		if rdb, err = redisconn.Open(ctx, cfg.Redis.URL); err != nil {
			return err
		}
		defer rdb.Close()
	}

	limiter, err := ratelimit.New(cfg.RateLimit, rdb)
	if err != nil {
		return err
	}
	sender, err := provider.New(cfg.Provider, log)
	if err != nil {
		return err
	}
	blobs, err := blob.New(cfg.Blob)
	if err != nil {
		return err
	}

	campaignRepo := &repository.CampaignRepository{DB: conn}
	jobRepo := &repository.EmailJobRepository{DB: conn}
	eventRepo := &repository.DeliveryEventRepository{DB: conn}

	pool := dispatch.NewPool(cfg.Dispatch, cfg.Provider.CallTimeout, dispatch.Deps{
		Jobs:      jobRepo,
		Campaigns: campaignRepo,
		Renderer:  render.NewRenderer(blobs),
		Sender:    sender,
		Limiter:   limiter,
		Log:       log,
	})

	sched, err := scheduler.New(cfg.Dispatch, campaignRepo, jobRepo, revocationPurger(cfg, conn), log)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })

	// without a broker the server applies delivery events itself
	if cfg.AMQP.URL != "" {
		q, err := queue.NewAMQP(cfg.AMQP.URL, log)
		if err != nil {
			return err
		}
		defer q.Close()
		t := tracker.New(jobRepo, eventRepo, campaignRepo, log)
		g.Go(func() error { return q.Consume(gctx, queue.DeliveryEventsTopic, t.HandleMessage) })
	}

	log.Info("worker running",
		slog.Int("workers", cfg.Dispatch.Workers),
		slog.String("provider", cfg.Provider.Name),
		slog.String("rate_limit_backend", cfg.RateLimit.Backend))
	return g.Wait()
}

func needsRedis(cfg *config.Config) bool {
	return cfg.RateLimit.Backend == "redis"
}

// revocationPurger returns the table to garbage-collect, or nil when
// revocations live in Redis and expire by themselves.
func revocationPurger(cfg *config.Config, conn *sql.DB) scheduler.RevocationPurger {
	if cfg.Auth.RevocationStore == "redis" {
		return nil
	}
	return &repository.RevocationRepository{DB: conn}
}
