package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CDRDirectionCounter returns archived CDR counts grouped by direction.
type CDRDirectionCounter interface {
	CountByDirection(ctx context.Context) (map[string]int64, error)
}

// Registry bundles the engine's live counters plus a scrape-time collector
// for values held in storage. Label cardinality stays bounded: outcomes,
// reasons and entities are closed sets, never caller-supplied strings.
type Registry struct {
	RoutingDecisions  *prometheus.CounterVec // outcome
	AuthFailures      *prometheus.CounterVec // scheme, reason
	CacheOps          *prometheus.CounterVec // entity, result
	IdempotentReplays prometheus.Counter
	RateLimited       *prometheus.CounterVec // endpoint
	WebhookDuration   *prometheus.HistogramVec
}

// NewRegistry creates and registers the live counters.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		RoutingDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opbx_routing_decisions_total",
			Help: "Routing decisions by outcome",
		}, []string{"outcome"}),
		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opbx_auth_failures_total",
			Help: "Webhook authentication failures by scheme and reason",
		}, []string{"scheme", "reason"}),
		CacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opbx_config_cache_ops_total",
			Help: "Config cache lookups by entity and result",
		}, []string{"entity", "result"}),
		IdempotentReplays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opbx_idempotent_replays_total",
			Help: "Webhook deliveries answered from the idempotency store",
		}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opbx_rate_limited_total",
			Help: "Requests rejected by the rate limiter, by endpoint",
		}, []string{"endpoint"}),
		WebhookDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "opbx_webhook_duration_seconds",
			Help:    "Webhook handling latency by endpoint",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
	reg.MustRegister(
		r.RoutingDecisions,
		r.AuthFailures,
		r.CacheOps,
		r.IdempotentReplays,
		r.RateLimited,
		r.WebhookDuration,
	)
	return r
}

// CacheHit implements the cache stats surface.
func (r *Registry) CacheHit(entity string) {
	r.CacheOps.WithLabelValues(entity, "hit").Inc()
}

// CacheMiss implements the cache stats surface.
func (r *Registry) CacheMiss(entity string) {
	r.CacheOps.WithLabelValues(entity, "miss").Inc()
}

// Collector gathers storage-held values at scrape time.
type Collector struct {
	cdrs      CDRDirectionCounter
	startTime time.Time

	callsTotalDesc *prometheus.Desc
	uptimeDesc     *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates the scrape-time collector. The CDR counter may be
// nil when no archive is configured.
func NewCollector(cdrs CDRDirectionCounter, startTime time.Time) *Collector {
	return &Collector{
		cdrs:      cdrs,
		startTime: startTime,

		callsTotalDesc: prometheus.NewDesc(
			"opbx_calls_total",
			"Total calls archived, by direction",
			[]string{"direction"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"opbx_uptime_seconds",
			"Seconds since the process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.callsTotalDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries storage at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.cdrs != nil {
		counts, err := c.cdrs.CountByDirection(ctx)
		if err != nil {
			slog.Error("metrics: failed to count cdrs by direction", "error", err)
		} else {
			for _, dir := range []string{"inbound", "outbound", "internal"} {
				ch <- prometheus.MustNewConstMetric(
					c.callsTotalDesc, prometheus.CounterValue,
					float64(counts[dir]), dir,
				)
			}
		}
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
