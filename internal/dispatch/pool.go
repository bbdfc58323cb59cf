package dispatch

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/mailcast-backend/internal/config"
)

// Pool runs a fixed set of workers against the shared job table.
type Pool struct {
	Workers []*Worker
	log     *slog.Logger
}

func NewPool(cfg config.DispatchConfig, callTimeout time.Duration, deps Deps, opts ...Option) *Pool {
	p := &Pool{log: deps.Log.With(slog.String("component", "dispatch.pool"))}
	for i := range cfg.Workers {
		p.Workers = append(p.Workers, NewWorker(i+1, cfg, callTimeout, deps, opts...))
	}
	return p
}

// Run blocks until ctx is done and every worker has returned.
func (p *Pool) Run(ctx context.Context) error {
	p.log.Info("dispatch pool starting", slog.Int("workers", len(p.Workers)))

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range p.Workers {
		g.Go(func() error { return w.Run(gctx) })
	}
	return g.Wait()
}
