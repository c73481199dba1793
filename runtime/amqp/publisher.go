// Package amqp is a RabbitMQ work-queue runtime.
//
// Jobs are published as JSON to a durable direct exchange, routed by job
// name. A retry is delayed without a scheduler: the job is published into
// a per-delay queue whose message TTL expires it back onto the work
// exchange through RabbitMQ dead-lettering.
//
//	ex.jobs ──(name)──► ex.jobs.<name> ──► Consumer ──► worker.Executor
//	   ▲                                                     │ failure
//	   └── dead-letter ◄── ex.jobs.delay.<name>.<ms> ◄───────┘ Reenqueue
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/xraph/salvage"
	"github.com/xraph/salvage/dlq"
	"github.com/xraph/salvage/id"
	"github.com/xraph/salvage/job"
	"github.com/xraph/salvage/middleware"
	"github.com/xraph/salvage/orchestrator"
)

var (
	_ orchestrator.Runtime = (*Publisher)(nil)
	_ dlq.Dispatcher       = (*Publisher)(nil)
)

// delayQueueGrace keeps a delay queue alive past its TTL after the last
// declare.
const delayQueueGrace = 5 * time.Minute

// Channel is the subset of *amqp.Channel the Publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) { p.logger = l }
}

// WithPublishTimeout bounds each publish when ctx has no deadline.
func WithPublishTimeout(d time.Duration) Option {
	return func(p *Publisher) { p.publishTimeout = d }
}

// Publisher submits jobs to RabbitMQ. It implements orchestrator.Runtime
// and dlq.Dispatcher.
type Publisher struct {
	ch             Channel
	exchange       string
	known          map[string]struct{}
	publishTimeout time.Duration
	logger         *slog.Logger
}

// New opens a confirming channel on conn and declares the work exchange.
// knownJobs lists the job names consumers handle; Lookup reports only
// those.
func New(ctx context.Context, conn *amqp.Connection, exchange string, knownJobs []string, opts ...Option) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("salvage/amqp: open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("salvage/amqp: enable confirms: %w", err)
	}
	return NewWithChannel(ctx, &confirmingChannel{Channel: ch}, exchange, knownJobs, opts...)
}

// NewWithChannel builds a Publisher on an existing channel. The work
// queue of every known job is declared and bound up front so jobs
// published before a consumer starts are kept.
func NewWithChannel(_ context.Context, ch Channel, exchange string, knownJobs []string, opts ...Option) (*Publisher, error) {
	p := &Publisher{
		ch:             ch,
		exchange:       exchange,
		known:          make(map[string]struct{}, len(knownJobs)),
		publishTimeout: 10 * time.Second,
		logger:         slog.Default(),
	}
	for _, name := range knownJobs {
		p.known[name] = struct{}{}
	}
	for _, o := range opts {
		o(p)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("salvage/amqp: declare exchange %s: %w", exchange, err)
	}
	for _, name := range knownJobs {
		queue := p.WorkQueueName(name)
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return nil, fmt.Errorf("salvage/amqp: declare queue %s: %w", queue, err)
		}
		if err := ch.QueueBind(queue, name, exchange, false, nil); err != nil {
			return nil, fmt.Errorf("salvage/amqp: bind queue %s: %w", queue, err)
		}
	}
	return p, nil
}

// Close closes the channel.
func (p *Publisher) Close() error {
	return p.ch.Close()
}

// Lookup reports whether consumers handle jobName.
func (p *Publisher) Lookup(jobName string) bool {
	_, ok := p.known[jobName]
	return ok
}

// Dispatch publishes a new job and returns its id.
func (p *Publisher) Dispatch(ctx context.Context, jobName string, args []any, kwargs map[string]any) (string, error) {
	if !p.Lookup(jobName) {
		return "", fmt.Errorf("%w: %q", salvage.ErrHandlerNotFound, jobName)
	}
	corr, ok := middleware.CorrelationID(ctx)
	if !ok {
		corr = uuid.NewString()
	}
	j := &job.Job{
		ID:            id.NewJobID().String(),
		Name:          jobName,
		Args:          args,
		Kwargs:        kwargs,
		CorrelationID: corr,
		ScheduledAt:   time.Now().UTC(),
	}
	if err := p.publish(ctx, p.exchange, jobName, j, nil); err != nil {
		return "", err
	}
	p.logger.Debug("job published", slog.String("job_id", j.ID), slog.String("job_name", jobName))
	return j.ID, nil
}

// Reenqueue publishes j into the delay queue for delay. The queue's TTL
// dead-letters it back to the work exchange under its job name.
func (p *Publisher) Reenqueue(ctx context.Context, j *job.Job, delay time.Duration) error {
	if delay <= 0 {
		return p.publish(ctx, p.exchange, j.Name, j, nil)
	}
	queue, err := p.declareDelayQueue(j.Name, delay)
	if err != nil {
		return err
	}
	headers := amqp.Table{
		"x-retry-count": int32(j.RetryCount),
		"x-retry-at":    time.Now().Add(delay).Unix(),
	}
	// The default exchange routes directly to the named queue.
	if err := p.publish(ctx, "", queue, j, headers); err != nil {
		return err
	}
	p.logger.Debug("job scheduled on delay queue",
		slog.String("job_id", j.ID),
		slog.String("queue", queue),
		slog.Duration("delay", delay),
	)
	return nil
}

// DelayQueueName returns the delay queue used for jobName and delay.
func (p *Publisher) DelayQueueName(jobName string, delay time.Duration) string {
	return fmt.Sprintf("%s.delay.%s.%d", p.exchange, jobName, delay.Milliseconds())
}

// WorkQueueName returns the queue consumers read jobName from.
func (p *Publisher) WorkQueueName(jobName string) string {
	return p.exchange + "." + jobName
}

// declareDelayQueue declares the delay queue for jobName and delay. It
// runs before every delayed publish: a redeclare renews the queue's
// x-expires lease, which publishing alone does not.
func (p *Publisher) declareDelayQueue(jobName string, delay time.Duration) (string, error) {
	name := p.DelayQueueName(jobName, delay)
	ttl := delay.Milliseconds()
	_, err := p.ch.QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-message-ttl":             ttl,
		"x-dead-letter-exchange":    p.exchange,
		"x-dead-letter-routing-key": jobName,
		"x-expires":                 ttl + delayQueueGrace.Milliseconds(),
	})
	if err != nil {
		return "", fmt.Errorf("salvage/amqp: declare delay queue %s: %w", name, err)
	}
	return name, nil
}

func (p *Publisher) publish(ctx context.Context, exchange, key string, j *job.Job, headers amqp.Table) error {
	body, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("salvage/amqp: encode job %s: %w", j.ID, err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.publishTimeout)
		defer cancel()
	}
	err = p.ch.PublishWithContext(ctx, exchange, key, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     j.ID,
		CorrelationId: j.CorrelationID,
		Type:          j.Name,
		Timestamp:     time.Now(),
		Headers:       headers,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("salvage/amqp: publish %s: %w", j.ID, err)
	}
	return nil
}

// confirmingChannel waits for the broker to confirm each publish.
type confirmingChannel struct {
	*amqp.Channel
}

func (c *confirmingChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	dc, err := c.Channel.PublishWithDeferredConfirmWithContext(ctx, exchange, key, mandatory, immediate, msg)
	if err != nil {
		return err
	}
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return fmt.Errorf("publish to %q nacked by broker", key)
	}
	return nil
}
