// Package redisconn opens the shared Redis client used by the distributed rate
// limiter and the Redis revocation store.
package redisconn

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrEmptyURL         = errors.New("redis: empty connection URL")
	ErrFailedToParseURL = errors.New("redis: failed to parse connection URL")
	ErrConnectionFailed = errors.New("redis: failed to establish connection")
)

const (
	defaultAttempts = 3
	defaultInterval = 2 * time.Second
)

// Open parses a redis:// or rediss:// URL and pings until the server answers
// or the attempts run out.
func Open(ctx context.Context, url string) (redis.UniversalClient, error) {
	if url == "" {
		return nil, ErrEmptyURL
	}
	if !strings.HasPrefix(url, "redis://") && !strings.HasPrefix(url, "rediss://") {
		return nil, ErrFailedToParseURL
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseURL, err)
	}
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	var lastErr error
	for i := range defaultAttempts {
		client := redis.NewClient(opts)
		if lastErr = client.Ping(ctx).Err(); lastErr == nil {
			return client, nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrConnectionFailed, ctx.Err())
		case <-time.After(time.Duration(i+1) * defaultInterval):
		}
	}
	return nil, errors.Join(ErrConnectionFailed, lastErr)
}
