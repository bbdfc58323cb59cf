package token

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisRevocationStore(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	now := time.Now()
	store := NewRedisRevocationStore(client)
	store.now = func() time.Time { return now }
	srv.SetTime(now)
	ctx := context.Background()

	require.NoError(t, store.Revoke(ctx, "jti-1", now.Add(time.Hour)))
	revoked, err := store.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	ttl := srv.TTL("revoked:jti-1")
	assert.InDelta(t, time.Hour.Seconds(), ttl.Seconds(), 2)

	srv.FastForward(time.Hour + time.Second)
	revoked, err = store.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, store.Revoke(ctx, "jti-old", now.Add(-time.Minute)))
	assert.False(t, srv.Exists("revoked:jti-old"))
}
