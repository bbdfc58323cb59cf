// Package ratelimit implements the token bucket that guards calls to the email
// provider.
package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/unclebandit/mailcast-backend/internal/config"
)

// Limiter blocks until a provider call may proceed. It returns
// appErrors.ErrRateLimitTimeout when the acquire timeout elapses first, and the
// context error when the caller's context is done.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// New builds the limiter selected by cfg.Backend. client may be nil for the
// local backend.
func New(cfg config.RateLimitConfig, client redis.UniversalClient) (Limiter, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocal(cfg.RefillPerSec, cfg.Capacity, cfg.AcquireTimeout), nil
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("ratelimit: redis backend needs a client")
		}
		return NewRedis(client, cfg.Key, cfg.RefillPerSec, cfg.Capacity, cfg.AcquireTimeout), nil
	default:
		return nil, fmt.Errorf("ratelimit: unknown backend %q", cfg.Backend)
	}
}
