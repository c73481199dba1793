package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xraph/salvage/ext"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*PrometheusExtension)(nil)
	_ ext.JobCompleted   = (*PrometheusExtension)(nil)
	_ ext.JobFailed      = (*PrometheusExtension)(nil)
	_ ext.RetryScheduled = (*PrometheusExtension)(nil)
	_ ext.DeadLettered   = (*PrometheusExtension)(nil)
	_ ext.Evicted        = (*PrometheusExtension)(nil)
	_ ext.Recovered      = (*PrometheusExtension)(nil)
	_ ext.Purged         = (*PrometheusExtension)(nil)
)

// PrometheusExtension exports lifecycle events as Prometheus collectors
// under the "salvage" namespace.
type PrometheusExtension struct {
	jobDuration  *prometheus.HistogramVec
	jobFailures  *prometheus.CounterVec
	retries      *prometheus.CounterVec
	retryDelay   *prometheus.HistogramVec
	deadLettered *prometheus.CounterVec
	evicted      prometheus.Counter
	recovered    *prometheus.CounterVec
	purged       prometheus.Counter
}

// NewPrometheusExtension creates the collectors and registers them with
// reg. A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusExtension(reg prometheus.Registerer) (*PrometheusExtension, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &PrometheusExtension{
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "salvage",
			Subsystem: "job",
			Name:      "duration_seconds",
			Help:      "Duration of successful job executions",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job_name"}),

		jobFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salvage",
			Subsystem: "job",
			Name:      "failures_total",
			Help:      "Total number of failed job executions",
		}, []string{"job_name"}),

		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salvage",
			Subsystem: "retry",
			Name:      "scheduled_total",
			Help:      "Total number of retries scheduled",
		}, []string{"job_name", "policy"}),

		retryDelay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "salvage",
			Subsystem: "retry",
			Name:      "delay_seconds",
			Help:      "Delay before scheduled retries",
			Buckets:   []float64{1, 3, 9, 27, 81, 243, 600},
		}, []string{"policy"}),

		deadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salvage",
			Subsystem: "dlq",
			Name:      "recorded_total",
			Help:      "Total number of failures recorded in the dead letter queue",
		}, []string{"job_name", "critical"}),

		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "salvage",
			Subsystem: "dlq",
			Name:      "evicted_total",
			Help:      "Total number of records evicted to bound the queue",
		}),

		recovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salvage",
			Subsystem: "dlq",
			Name:      "recovered_total",
			Help:      "Total number of dead-lettered jobs re-dispatched",
		}, []string{"job_name"}),

		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "salvage",
			Subsystem: "dlq",
			Name:      "purged_total",
			Help:      "Total number of records removed by purge",
		}),
	}

	for _, c := range []prometheus.Collector{
		p.jobDuration, p.jobFailures, p.retries, p.retryDelay,
		p.deadLettered, p.evicted, p.recovered, p.purged,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Name implements ext.Extension.
func (p *PrometheusExtension) Name() string { return "observability-prometheus" }

// OnJobCompleted implements ext.JobCompleted.
func (p *PrometheusExtension) OnJobCompleted(_ context.Context, _, jobName string, elapsed time.Duration) error {
	p.jobDuration.WithLabelValues(jobName).Observe(elapsed.Seconds())
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (p *PrometheusExtension) OnJobFailed(_ context.Context, _, jobName string, _ int, _ error) error {
	p.jobFailures.WithLabelValues(jobName).Inc()
	return nil
}

// OnRetryScheduled implements ext.RetryScheduled.
func (p *PrometheusExtension) OnRetryScheduled(_ context.Context, _, jobName, policy string, _ int, delay time.Duration) error {
	p.retries.WithLabelValues(jobName, policy).Inc()
	p.retryDelay.WithLabelValues(policy).Observe(delay.Seconds())
	return nil
}

// OnDeadLettered implements ext.DeadLettered.
func (p *PrometheusExtension) OnDeadLettered(_ context.Context, _, jobName, _ string, critical bool) error {
	label := "false"
	if critical {
		label = "true"
	}
	p.deadLettered.WithLabelValues(jobName, label).Inc()
	return nil
}

// OnEvicted implements ext.Evicted.
func (p *PrometheusExtension) OnEvicted(_ context.Context, jobIDs []string) error {
	p.evicted.Add(float64(len(jobIDs)))
	return nil
}

// OnRecovered implements ext.Recovered.
func (p *PrometheusExtension) OnRecovered(_ context.Context, _, jobName, _ string) error {
	p.recovered.WithLabelValues(jobName).Inc()
	return nil
}

// OnPurged implements ext.Purged.
func (p *PrometheusExtension) OnPurged(_ context.Context, removed int) error {
	p.purged.Add(float64(removed))
	return nil
}
