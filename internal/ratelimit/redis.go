package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	appErrors "github.com/unclebandit/mailcast-backend/internal/errors"
)

// takeScript refills the bucket for the elapsed time, then takes one token.
// It returns 0 on success or the milliseconds until a token will be available.
var takeScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local per_ms = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end
if now > ts then
  tokens = math.min(capacity, tokens + (now - ts) * per_ms)
  ts = now
end

local wait = 0
if tokens >= 1 then
  tokens = tokens - 1
else
  wait = math.ceil((1 - tokens) / per_ms)
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(ts))
redis.call('PEXPIRE', KEYS[1], math.ceil(capacity / per_ms) + 1000)
return wait
`)

// Redis is a bucket kept in Redis so that every worker process draws from the
// same provider quota.
type Redis struct {
	client   redis.UniversalClient
	key      string
	perMilli float64
	capacity int
	timeout  time.Duration
	now      func() time.Time
}

func NewRedis(client redis.UniversalClient, key string, refillPerSec float64, capacity int, timeout time.Duration) *Redis {
	return &Redis{
		client:   client,
		key:      key,
		perMilli: refillPerSec / 1000,
		capacity: capacity,
		timeout:  timeout,
		now:      time.Now,
	}
}

func (r *Redis) Acquire(ctx context.Context) error {
	deadline := r.now().Add(r.timeout)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		wait, err := takeScript.Run(ctx, r.client, []string{r.key},
			r.capacity,
			strconv.FormatFloat(r.perMilli, 'f', -1, 64),
			r.now().UnixMilli(),
		).Int64()
		if err != nil {
			return err
		}
		if wait == 0 {
			return nil
		}

		remaining := deadline.Sub(r.now())
		delay := time.Duration(wait) * time.Millisecond
		if delay > remaining {
			return appErrors.ErrRateLimitTimeout
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
