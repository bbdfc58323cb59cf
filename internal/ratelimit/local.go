package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	appErrors "github.com/unclebandit/mailcast-backend/internal/errors"
)

// Local is an in-process bucket shared by every worker of one process.
type Local struct {
	lim     *rate.Limiter
	timeout time.Duration
}

func NewLocal(refillPerSec float64, capacity int, timeout time.Duration) *Local {
	return &Local{
		lim:     rate.NewLimiter(rate.Limit(refillPerSec), capacity),
		timeout: timeout,
	}
}

func (l *Local) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	// Wait fails fast when the next token lies beyond the deadline.
	if err := l.lim.Wait(wctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return appErrors.ErrRateLimitTimeout
	}
	return nil
}
