package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"
)

const retryHeader = "x-retry-count"

// AMQPQueue publishes to and consumes from durable RabbitMQ queues named after
// the topic. Failed messages are republished with an incremented retry header
// until MaxRetries, then dropped.
type AMQPQueue struct {
	conn       *amqp.Connection
	pub        *amqp.Channel
	pubMu      sync.Mutex
	declared   sync.Map
	MaxRetries int
	log        *slog.Logger
}

func NewAMQP(url string, log *slog.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("queue: connect to amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("queue: open channel: %w", err)
	}
	return &AMQPQueue{
		conn:       conn,
		pub:        ch,
		MaxRetries: defaultMaxRetries,
		log:        log.With(slog.String("component", "queue.amqp")),
	}, nil
}

func declare(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	return err
}

func (q *AMQPQueue) Publish(ctx context.Context, topic string, body []byte) error {
	return q.publish(ctx, topic, body, 0)
}

func (q *AMQPQueue) publish(ctx context.Context, topic string, body []byte, retries int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.pubMu.Lock()
	defer q.pubMu.Unlock()

	if _, ok := q.declared.Load(topic); !ok {
		if err := declare(q.pub, topic); err != nil {
			return fmt.Errorf("queue: declare %s: %w", topic, err)
		}
		q.declared.Store(topic, true)
	}

	return q.pub.Publish("", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table{retryHeader: int32(retries)},
		Body:         body,
	})
}

func (q *AMQPQueue) Consume(ctx context.Context, topic string, h Handler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("queue: open consumer channel: %w", err)
	}
	defer ch.Close()

	if err := declare(ch, topic); err != nil {
		return fmt.Errorf("queue: declare %s: %w", topic, err)
	}
	if err := ch.Qos(10, 0, false); err != nil {
		return fmt.Errorf("queue: set qos: %w", err)
	}

	msgs, err := ch.Consume(
		topic,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("queue: register consumer: %w", err)
	}

	q.log.Info("consuming", slog.String("topic", topic))
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("queue: delivery channel for %s closed", topic)
			}
			q.handle(ctx, topic, h, d)
		}
	}
}

func (q *AMQPQueue) handle(ctx context.Context, topic string, h Handler, d amqp.Delivery) {
	err := h(ctx, d.Body)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	retries := retryCount(d.Headers)
	if retries >= q.MaxRetries {
		q.log.Error("message permanently failed",
			slog.String("topic", topic), slog.Int("retries", retries), slog.String("error", err.Error()))
		_ = d.Ack(false)
		return
	}

	q.log.Warn("message failed, requeueing",
		slog.String("topic", topic), slog.Int("retry", retries+1), slog.String("error", err.Error()))
	if perr := q.publish(context.WithoutCancel(ctx), topic, d.Body, retries+1); perr != nil {
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// retryCount reads the retry header, which may come back as any integer width.
func retryCount(h amqp.Table) int {
	switch v := h[retryHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case int16:
		return int(v)
	default:
		return 0
	}
}

func (q *AMQPQueue) Close() error {
	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	if err := q.pub.Close(); err != nil {
		q.conn.Close()
		return err
	}
	return q.conn.Close()
}

var _ Queue = (*AMQPQueue)(nil)
