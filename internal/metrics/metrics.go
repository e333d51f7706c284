package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "socratic"

// Collector holds the Prometheus metrics of the service. Each collector owns
// its registry so tests can build as many as they like.
type Collector struct {
	registry *prometheus.Registry

	RemoteCalls    *prometheus.CounterVec
	RemoteDuration *prometheus.HistogramVec
	EffortScores   prometheus.Histogram
	ScoreFallbacks prometheus.Counter
	StaleScores    prometheus.Counter
	ActiveLessons  prometheus.Gauge
	HTTPRequests   *prometheus.CounterVec
}

// New creates a collector with process and Go runtime collectors attached.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		RemoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_calls_total",
			Help:      "Remote model calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		RemoteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_call_duration_seconds",
			Help:      "Latency of remote model calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"operation"}),
		EffortScores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "effort_scores",
			Help:      "Distribution of effort scores returned by the scorer.",
			Buckets:   prometheus.LinearBuckets(0, 2, 11),
		}),
		ScoreFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "score_fallbacks_total",
			Help:      "Scoring requests answered with the fallback score.",
		}),
		StaleScores: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_scores_total",
			Help:      "Scores discarded because the lesson was reset or restarted.",
		}),
		ActiveLessons: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_lessons",
			Help:      "Lessons currently held in memory.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status.",
		}, []string{"method", "route", "status"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.RemoteCalls,
		c.RemoteDuration,
		c.EffortScores,
		c.ScoreFallbacks,
		c.StaleScores,
		c.ActiveLessons,
		c.HTTPRequests,
	)
	return c
}

// ObserveRemoteCall records one remote model call. Safe on a nil collector.
func (c *Collector) ObserveRemoteCall(operation string, started time.Time, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.RemoteCalls.WithLabelValues(operation, outcome).Inc()
	c.RemoteDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// ObserveScore records a score and whether it came from the fallback path.
func (c *Collector) ObserveScore(score int, fallback bool) {
	if c == nil {
		return
	}
	c.EffortScores.Observe(float64(score))
	if fallback {
		c.ScoreFallbacks.Inc()
	}
}

// IncStaleScores counts a dropped scorer result.
func (c *Collector) IncStaleScores() {
	if c == nil {
		return
	}
	c.StaleScores.Inc()
}

// SetActiveLessons updates the lesson gauge.
func (c *Collector) SetActiveLessons(n int) {
	if c == nil {
		return
	}
	c.ActiveLessons.Set(float64(n))
}

// Registry exposes the underlying registry, mostly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
