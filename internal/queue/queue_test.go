package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/mailcast-backend/internal/logger"
)

func TestInMemoryQueue_DeliversBufferedMessages(t *testing.T) {
	q := NewInMemoryQueue(logger.Discard())
	require.NoError(t, q.Publish(context.Background(), "events", []byte("one")))
	require.NoError(t, q.Publish(context.Background(), "events", []byte("two")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 2)
	go func() {
		_ = q.Consume(ctx, "events", func(_ context.Context, body []byte) error {
			got <- string(body)
			return nil
		})
	}()

	assert.Equal(t, "one", <-got)
	assert.Equal(t, "two", <-got)
}

func TestInMemoryQueue_RetriesThenDrops(t *testing.T) {
	q := NewInMemoryQueue(logger.Discard())
	q.RetryDelay = time.Millisecond

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = q.Consume(ctx, "events", func(context.Context, []byte) error {
			calls.Add(1)
			return errors.New("boom")
		})
	}()

	require.NoError(t, q.Publish(ctx, "events", []byte("x")))
	require.Eventually(t, func() bool { return calls.Load() == 4 }, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(4), calls.Load(), "one delivery plus three retries")
}

func TestInMemoryQueue_RecoversOnRetry(t *testing.T) {
	q := NewInMemoryQueue(logger.Discard())
	q.RetryDelay = time.Millisecond

	done := make(chan struct{})
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = q.Consume(ctx, "events", func(context.Context, []byte) error {
			if calls.Add(1) == 1 {
				return errors.New("transient")
			}
			close(done)
			return nil
		})
	}()

	require.NoError(t, q.Publish(ctx, "events", []byte("x")))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("message was not redelivered")
	}
}

func TestInMemoryQueue_ConsumeStopsOnCancel(t *testing.T) {
	q := NewInMemoryQueue(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, q.Consume(ctx, "events", func(context.Context, []byte) error { return nil }))
}

func TestRetryCount(t *testing.T) {
	assert.Equal(t, 0, retryCount(nil))
	assert.Equal(t, 2, retryCount(amqp.Table{retryHeader: int32(2)}))
	assert.Equal(t, 3, retryCount(amqp.Table{retryHeader: int64(3)}))
	assert.Equal(t, 0, retryCount(amqp.Table{retryHeader: "nope"}))
}
