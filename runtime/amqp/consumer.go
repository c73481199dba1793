package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/xraph/salvage/job"
	"github.com/xraph/salvage/worker"
)

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerLogger sets the consumer logger.
func WithConsumerLogger(l *slog.Logger) ConsumerOption {
	return func(c *Consumer) { c.logger = l }
}

// WithPrefetch sets how many unacknowledged deliveries the broker sends.
func WithPrefetch(n int) ConsumerOption {
	return func(c *Consumer) { c.prefetch = n }
}

// Consumer reads jobs from their work queues and runs them through an
// Executor. Every delivery is acknowledged after execution; failures have
// already been re-enqueued or dead-lettered by then.
type Consumer struct {
	conn     *amqp.Connection
	exchange string
	exec     *worker.Executor
	prefetch int
	logger   *slog.Logger
}

// NewConsumer creates a Consumer for jobs published to exchange.
func NewConsumer(conn *amqp.Connection, exchange string, exec *worker.Executor, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		conn:     conn,
		exchange: exchange,
		exec:     exec,
		prefetch: 10,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run declares and binds a work queue per job name and consumes until
// ctx is cancelled or the channel closes.
func (c *Consumer) Run(ctx context.Context, jobNames ...string) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("salvage/amqp: open channel: %w", err)
	}

	var wg sync.WaitGroup
	fail := func(err error) error {
		_ = ch.Close()
		wg.Wait()
		return err
	}

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fail(fmt.Errorf("salvage/amqp: qos: %w", err))
	}

	for _, name := range jobNames {
		queue := c.exchange + "." + name
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fail(fmt.Errorf("salvage/amqp: declare queue %s: %w", queue, err))
		}
		if err := ch.QueueBind(queue, name, c.exchange, false, nil); err != nil {
			return fail(fmt.Errorf("salvage/amqp: bind queue %s: %w", queue, err))
		}
		deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
		if err != nil {
			return fail(fmt.Errorf("salvage/amqp: consume %s: %w", queue, err))
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range deliveries {
				c.Handle(ctx, d)
			}
		}()
	}

	c.logger.Info("amqp consumer started", slog.Any("jobs", jobNames))
	select {
	case <-ctx.Done():
	case amqpErr := <-closed:
		wg.Wait()
		if amqpErr != nil {
			return fmt.Errorf("salvage/amqp: channel closed: %w", amqpErr)
		}
		return nil
	}
	// Closing the channel ends every delivery stream.
	_ = ch.Close()
	wg.Wait()
	c.logger.Info("amqp consumer stopped")
	return nil
}

// Handle executes one delivery and acknowledges it. Undecodable messages
// are rejected without requeue.
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) {
	var j job.Job
	if err := json.Unmarshal(d.Body, &j); err != nil {
		c.logger.Error("rejecting undecodable job message",
			slog.String("message_id", d.MessageId),
			slog.String("error", err.Error()),
		)
		if err := d.Reject(false); err != nil {
			c.logger.Warn("reject failed", slog.String("error", err.Error()))
		}
		return
	}

	state, err := c.exec.Execute(ctx, &j)
	if err != nil {
		c.logger.Debug("job execution failed",
			slog.String("job_id", j.ID),
			slog.String("job_name", j.Name),
			slog.String("state", string(state)),
			slog.String("error", err.Error()),
		)
	}
	if err := d.Ack(false); err != nil {
		c.logger.Warn("ack failed", slog.String("job_id", j.ID), slog.String("error", err.Error()))
	}
}
