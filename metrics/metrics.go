// Package metrics registers the Prometheus collectors shared by the receiver
// and the dispatcher.
package metrics

import (
	"context"
	"strconv"
	"time"

	"campaign-tracker/models"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	// Total HTTP requests partitioned by method, route, and status code
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	// Request duration in seconds partitioned by method, route, and status code
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	httpInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Number of HTTP requests currently being served",
		},
	)

	openDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_open_decisions_total",
			Help: "Pixel requests partitioned by the tracking decision taken",
		},
		[]string{"decision"},
	)

	dispatchRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_rows_total",
			Help: "Campaign rows handled by the dispatcher partitioned by outcome",
		},
		[]string{"batch", "outcome"},
	)

	dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_batch_duration_seconds",
			Help:    "Time spent on one dispatch pass over a batch",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"batch"},
	)
)

// Middleware records request metrics. Labels use the matched route template to
// keep cardinality low.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		labels := prometheus.Labels{
			"method": c.Request.Method,
			"route":  route,
			"status": strconv.Itoa(c.Writer.Status()),
		}
		httpRequestsTotal.With(labels).Inc()
		httpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}

func ObserveDecision(d models.Decision) {
	openDecisions.WithLabelValues(string(d)).Inc()
}

func ObserveDispatch(batch, outcome string) {
	dispatchRows.WithLabelValues(batch, outcome).Inc()
}

func ObserveBatchDuration(batch string, d time.Duration) {
	dispatchDuration.WithLabelValues(batch).Observe(d.Seconds())
}

// Push sends the default registry to a Pushgateway. The dispatcher is short-lived
// and is never scraped.
func Push(ctx context.Context, gatewayURL, job string) error {
	return push.New(gatewayURL, job).
		Gatherer(prometheus.DefaultGatherer).
		PushContext(ctx)
}
