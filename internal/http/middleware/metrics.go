// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file exposes Prometheus instrumentation for HTTP traffic. Every label
// comes from a closed set:
//
//   - method: HTTP verb
//   - route:  the registered Gin route (e.g. /api/v1/tickets/:id/approve),
//     or "unmatched" so scans of random URLs cannot grow the series count
//   - status: numeric status code as a string
//   - role:   the caller's workflow role, "anonymous" or "unknown"
//
// Workflow-level counters live in internal/observability.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tbourn/go-ncr-backend/internal/workflow"
)

const unmatchedRoute = "unmatched"

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ncr",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route, status and caller role.",
		},
		[]string{"method", "route", "status", "role"},
	)

	// status is left out to keep the histogram small
	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ncr",
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ncr",
			Name:      "http_requests_inflight",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpReplays = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ncr",
			Name:      "http_idempotent_replays_total",
			Help:      "Responses replayed from an Idempotency-Key record.",
		},
		[]string{"route"},
	)

	// Ticket lists with many defect lines are the large payloads.
	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ncr",
			Name:      "http_response_size_bytes",
			Help:      "Size of HTTP responses in bytes.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8), // 256B..4MiB
		},
		[]string{"method", "route"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpRespSize, httpReplays)
}

// Metrics instruments requests. Install it before Idempotency so replays are
// counted, and before Authenticate: the role is read after the chain ran.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		method := c.Request.Method

		httpReqs.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status()), roleLabel(c)).Inc()
		httpLat.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		// Size is -1 when nothing was written.
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(method, route).Observe(float64(size))
		}
		if IsReplay(c) {
			httpReplays.WithLabelValues(route).Inc()
		}
	}
}

func roleLabel(c *gin.Context) string {
	id, ok := IdentityFrom(c)
	if !ok {
		return "anonymous"
	}
	role, err := workflow.ParseRole(id.Role)
	if err != nil {
		return "unknown"
	}
	return string(role)
}
