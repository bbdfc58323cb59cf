// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/mailcast-backend/internal/blob"
	"github.com/unclebandit/mailcast-backend/internal/config"
	"github.com/unclebandit/mailcast-backend/internal/controller"
	"github.com/unclebandit/mailcast-backend/internal/db"
	"github.com/unclebandit/mailcast-backend/internal/handler"
	"github.com/unclebandit/mailcast-backend/internal/logger"
	"github.com/unclebandit/mailcast-backend/internal/queue"
	"github.com/unclebandit/mailcast-backend/internal/redisconn"
	"github.com/unclebandit/mailcast-backend/internal/render"
	"github.com/unclebandit/mailcast-backend/internal/repository"
	"github.com/unclebandit/mailcast-backend/internal/router"
	"github.com/unclebandit/mailcast-backend/internal/service"
	"github.com/unclebandit/mailcast-backend/internal/token"
	"github.com/unclebandit/mailcast-backend/internal/tracker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logger.New("server", cfg.Sentry)
	defer sentry.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", slog.String("error", err.Error()))
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

	userRepo := &repository.UserRepository{DB: conn}
	campaignRepo := &repository.CampaignRepository{DB: conn}
	jobRepo := &repository.EmailJobRepository{DB: conn}
	eventRepo := &repository.DeliveryEventRepository{DB: conn}

	var revocations token.RevocationStore = &repository.RevocationRepository{DB: conn}
	if cfg.Auth.RevocationStore == "redis" {
		rdb, err := redisconn.Open(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer closeRedis(rdb, log)
		revocations = token.NewRedisRevocationStore(rdb)
	}

	tokens := token.NewService(cfg.Auth, userRepo, revocations, log)

	blobs, err := blob.New(cfg.Blob)
	if err != nil {
		return err
	}
	renderer := render.NewRenderer(blobs)

	g, gctx := errgroup.WithContext(ctx)

	var q queue.Queue
	if cfg.AMQP.URL != "" {
		aq, err := queue.NewAMQP(cfg.AMQP.URL, log)
		if err != nil {
			return err
		}
		q = aq
	} else {
		// no broker: delivery events are applied in this process
		q = queue.NewInMemoryQueue(log)
		t := tracker.New(jobRepo, eventRepo, campaignRepo, log)
		g.Go(func() error { return q.Consume(gctx, queue.DeliveryEventsTopic, t.HandleMessage) })
	}
	defer q.Close()

	webhooks := handler.NewWebhookHandler(q, cfg.Webhook.Secret, log)
	if cfg.Webhook.Secret == "" && cfg.Webhook.Insecure {
		webhooks.AllowUnsigned = true
		log.Warn("provider webhook accepts unsigned callbacks")
	}

	h := router.New(router.Deps{
		Campaigns: &controller.CampaignController{
			CampaignService: service.NewCampaignService(campaignRepo, renderer, log),
			Log:             log,
		},
		Auth: &controller.AuthController{
			AuthService: service.NewAuthService(userRepo, tokens, cfg.Auth.BcryptCost, log),
			Log:         log,
		},
		Webhooks: webhooks,
		Verifier: tokens,
		Log:      log,
	})

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      h,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g.Go(func() error {
		log.Info("server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func closeRedis(rdb redis.UniversalClient, log *slog.Logger) {
	if err := rdb.Close(); err != nil {
		log.Warn("closing redis", slog.String("error", err.Error()))
	}
}
