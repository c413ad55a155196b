package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Handler processes one message body.  A returned error rejects the message
// without requeueing it.
type Handler func(ctx context.Context, body []byte) error

// Consumer reads a durable queue, reconnecting with exponential backoff
// whenever the broker connection drops.
type Consumer struct {
	url      string
	queue    string
	prefetch int
	log      logrus.FieldLogger
}

// NewConsumer returns a Consumer for queue on the broker at url.
func NewConsumer(url, queue string, log logrus.FieldLogger) *Consumer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Consumer{url: url, queue: queue, prefetch: 50, log: log.WithField("queue", queue)}
}

// Run consumes until ctx is cancelled and then returns ctx.Err().
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.WithError(err).WithField("retry_in", backoff).Warn("consumer: dial failed")
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn, handle)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.WithError(err).Warn("consumer: loop ended, reconnecting")
		if err := sleep(ctx, 2*time.Second); err != nil {
			return err
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection, handle Handler) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		c.log.WithError(err).Warn("consumer: set QoS failed")
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			deliver(ctx, d, d.Body, handle, c.log)
		}
	}
}

// acknowledger is the part of amqp.Delivery deliver needs.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func deliver(ctx context.Context, d acknowledger, body []byte, handle Handler, log logrus.FieldLogger) {
	if err := handle(ctx, body); err != nil {
		log.WithError(err).Error("consumer: handle message failed")
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
