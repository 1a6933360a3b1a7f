// Package metrics exposes the scheduler's Prometheus surface. The
// Collector implements the hook listener interfaces, so wiring it is a
// single Register call on the hook registry; nothing in the scheduling
// path knows Prometheus exists.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jabbala/tenantfair/alloc"
	"github.com/jabbala/tenantfair/request"
	"github.com/jabbala/tenantfair/tier"
)

// Collector holds every metric the scheduler publishes.
type Collector struct {
	queueDepth      *prometheus.GaugeVec
	queueWait       *prometheus.HistogramVec
	rejections      *prometheus.CounterVec
	dispatches      *prometheus.CounterVec
	completions     *prometheus.CounterVec
	dispatchSeconds *prometheus.HistogramVec
	creditsGranted  *prometheus.CounterVec
	creditsConsumed *prometheus.CounterVec
	timeouts        *prometheus.CounterVec
	cancellations   *prometheus.CounterVec
	throttled       prometheus.Gauge
}

// New creates a Collector and registers its metrics with reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tenantfair_queue_depth",
			Help: "Requests currently queued, by tier.",
		}, []string{"tier"}),
		queueWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tenantfair_queue_wait_seconds",
			Help:    "Time requests spent queued before dispatch, by tier.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"tier"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantfair_rejections_total",
			Help: "Requests refused at admission or enqueue, by tier and reason.",
		}, []string{"tier", "reason"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantfair_dispatches_total",
			Help: "Requests claimed by a worker slot, by tier.",
		}, []string{"tier"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantfair_completions_total",
			Help: "Dispatched requests finished, by tier and outcome.",
		}, []string{"tier", "outcome"}),
		dispatchSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tenantfair_dispatch_seconds",
			Help:    "Downstream pipeline execution time, by tier.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"tier"}),
		creditsGranted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantfair_credits_granted_total",
			Help: "Dequeue credits granted by the allocator, by tier.",
		}, []string{"tier"}),
		creditsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantfair_credits_consumed_total",
			Help: "Dequeue credits consumed by dispatches, by tier.",
		}, []string{"tier"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantfair_queue_timeouts_total",
			Help: "Requests expired in the queue and moved to the DLQ, by tier.",
		}, []string{"tier"}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantfair_cancellations_total",
			Help: "Requests withdrawn by callers before dispatch, by tier.",
		}, []string{"tier"}),
		throttled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tenantfair_throttled_tenants",
			Help: "Tenants currently penalized by the governor.",
		}),
	}

	reg.MustRegister(
		c.queueDepth, c.queueWait, c.rejections, c.dispatches,
		c.completions, c.dispatchSeconds, c.creditsGranted,
		c.creditsConsumed, c.timeouts, c.cancellations, c.throttled,
	)

	// Pre-create the per-tier series so dashboards see zeros instead of
	// absent series.
	for _, t := range tier.All() {
		c.queueDepth.WithLabelValues(t.String())
		c.dispatches.WithLabelValues(t.String())
	}
	return c
}

// Name implements hook.Listener.
func (c *Collector) Name() string { return "prometheus-metrics" }

// SetQueueDepths records the observed per-tier queue depths.
func (c *Collector) SetQueueDepths(depths map[tier.Tier]int) {
	for _, t := range tier.All() {
		c.queueDepth.WithLabelValues(t.String()).Set(float64(depths[t]))
	}
}

// SetThrottledTenants records the current governor penalty count.
func (c *Collector) SetThrottledTenants(n int) {
	c.throttled.Set(float64(n))
}

// OnRequestRejected implements hook.RequestRejected.
func (c *Collector) OnRequestRejected(_ context.Context, _ string, t tier.Tier, reason string) error {
	c.rejections.WithLabelValues(t.String(), reason).Inc()
	return nil
}

// OnRequestDispatched implements hook.RequestDispatched.
func (c *Collector) OnRequestDispatched(_ context.Context, req *request.ScheduledRequest, wait time.Duration) error {
	c.dispatches.WithLabelValues(req.Tier.String()).Inc()
	c.queueWait.WithLabelValues(req.Tier.String()).Observe(wait.Seconds())
	return nil
}

// OnRequestCompleted implements hook.RequestCompleted.
func (c *Collector) OnRequestCompleted(_ context.Context, req *request.ScheduledRequest, elapsed time.Duration, pipelineErr error) error {
	outcome := "success"
	if pipelineErr != nil {
		outcome = "error"
	}
	c.completions.WithLabelValues(req.Tier.String(), outcome).Inc()
	c.dispatchSeconds.WithLabelValues(req.Tier.String()).Observe(elapsed.Seconds())
	return nil
}

// OnRequestTimedOut implements hook.RequestTimedOut.
func (c *Collector) OnRequestTimedOut(_ context.Context, req *request.ScheduledRequest) error {
	c.timeouts.WithLabelValues(req.Tier.String()).Inc()
	return nil
}

// OnRequestCancelled implements hook.RequestCancelled.
func (c *Collector) OnRequestCancelled(_ context.Context, req *request.ScheduledRequest) error {
	c.cancellations.WithLabelValues(req.Tier.String()).Inc()
	return nil
}

// OnTickAllocated implements hook.TickAllocated.
func (c *Collector) OnTickAllocated(_ context.Context, allocations []alloc.Allocation) error {
	for _, a := range allocations {
		c.creditsGranted.WithLabelValues(a.Tier.String()).Add(float64(a.Granted))
		c.creditsConsumed.WithLabelValues(a.Tier.String()).Add(float64(a.Consumed))
	}
	return nil
}

// OnTenantThrottled implements hook.TenantThrottled.
func (c *Collector) OnTenantThrottled(_ context.Context, _ string, _ tier.Tier, _, _ int) error {
	c.throttled.Inc()
	return nil
}

// OnTenantUnthrottled implements hook.TenantUnthrottled.
func (c *Collector) OnTenantUnthrottled(_ context.Context, _ string, _ tier.Tier) error {
	c.throttled.Dec()
	return nil
}

// ---------------------------------------------------------------------------
// Series accessors, used by tests and the stats endpoint
// ---------------------------------------------------------------------------

// QueueDepthGauge returns the depth gauge for one tier.
func (c *Collector) QueueDepthGauge(t tier.Tier) prometheus.Gauge {
	return c.queueDepth.WithLabelValues(t.String())
}

// RejectionCounter returns the rejection counter for one tier/reason pair.
func (c *Collector) RejectionCounter(t tier.Tier, reason string) prometheus.Counter {
	return c.rejections.WithLabelValues(t.String(), reason)
}

// DispatchCounter returns the dispatch counter for one tier.
func (c *Collector) DispatchCounter(t tier.Tier) prometheus.Counter {
	return c.dispatches.WithLabelValues(t.String())
}

// CompletionCounter returns the completion counter for one tier/outcome pair.
func (c *Collector) CompletionCounter(t tier.Tier, outcome string) prometheus.Counter {
	return c.completions.WithLabelValues(t.String(), outcome)
}

// CreditsGrantedCounter returns the granted-credit counter for one tier.
func (c *Collector) CreditsGrantedCounter(t tier.Tier) prometheus.Counter {
	return c.creditsGranted.WithLabelValues(t.String())
}

// CreditsConsumedCounter returns the consumed-credit counter for one tier.
func (c *Collector) CreditsConsumedCounter(t tier.Tier) prometheus.Counter {
	return c.creditsConsumed.WithLabelValues(t.String())
}

// TimeoutCounter returns the queue-timeout counter for one tier.
func (c *Collector) TimeoutCounter(t tier.Tier) prometheus.Counter {
	return c.timeouts.WithLabelValues(t.String())
}

// CancellationCounter returns the cancellation counter for one tier.
func (c *Collector) CancellationCounter(t tier.Tier) prometheus.Counter {
	return c.cancellations.WithLabelValues(t.String())
}

// ThrottledGauge returns the throttled-tenant gauge.
func (c *Collector) ThrottledGauge() prometheus.Gauge {
	return c.throttled
}
