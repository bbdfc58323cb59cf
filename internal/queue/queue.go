// internal/queue/queue.go
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Handler processes one message body. A returned error triggers a bounded
// redelivery.
type Handler func(ctx context.Context, body []byte) error

// Queue carries opaque message bodies between publishers and a consumer.
type Queue interface {
	Publish(ctx context.Context, topic string, body []byte) error
	// Consume blocks, feeding every message on topic to h until ctx is done.
	Consume(ctx context.Context, topic string, h Handler) error
	Close() error
}

const (
	DeliveryEventsTopic = "delivery_events"

	defaultMaxRetries = 3
	defaultBuffer     = 1024
)

var ErrQueueFull = errors.New("queue: topic buffer full")

// InMemoryQueue is a process-local queue with retry. Messages published before a
// consumer starts are buffered.
type InMemoryQueue struct {
	mu         sync.Mutex
	topics     map[string]chan []byte
	MaxRetries int
	RetryDelay time.Duration
	log        *slog.Logger
}

func NewInMemoryQueue(log *slog.Logger) *InMemoryQueue {
	return &InMemoryQueue{
		topics:     make(map[string]chan []byte),
		MaxRetries: defaultMaxRetries,
		RetryDelay: 500 * time.Millisecond,
		log:        log.With(slog.String("component", "queue.memory")),
	}
}

func (q *InMemoryQueue) topic(name string) chan []byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.topics[name]
	if !ok {
		ch = make(chan []byte, defaultBuffer)
		q.topics[name] = ch
	}
	return ch
}

func (q *InMemoryQueue) Publish(ctx context.Context, topic string, body []byte) error {
	select {
	case q.topic(topic) <- body:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("%w: %s", ErrQueueFull, topic)
	}
}

func (q *InMemoryQueue) Consume(ctx context.Context, topic string, h Handler) error {
	ch := q.topic(topic)
	for {
		select {
		case <-ctx.Done():
			return nil
		case body := <-ch:
			q.process(ctx, topic, h, body)
		}
	}
}

// process runs h with linear backoff between attempts. The message is dropped
// after MaxRetries redeliveries.
func (q *InMemoryQueue) process(ctx context.Context, topic string, h Handler, body []byte) {
	for attempt := 0; ; attempt++ {
		err := h(ctx, body)
		if err == nil {
			return
		}
		if attempt >= q.MaxRetries {
			q.log.Error("message permanently failed",
				slog.String("topic", topic), slog.Int("attempts", attempt+1), slog.String("error", err.Error()))
			return
		}
		q.log.Warn("message failed, retrying",
			slog.String("topic", topic), slog.Int("attempt", attempt+1), slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt+1) * q.RetryDelay):
		}
	}
}

func (q *InMemoryQueue) Close() error { return nil }

var _ Queue = (*InMemoryQueue)(nil)
