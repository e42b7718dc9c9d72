// Package metrics expone colectores Prometheus del servicio.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry contiene los colectores propios del servicio.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "account_api",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "account_api",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "account_api",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)

	authRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "account_api",
			Subsystem: "auth",
			Name:      "rejections_total",
			Help:      "Requests rejected by the identity middleware.",
		},
	)

	slugAttempts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "account_api",
			Subsystem: "slug",
			Name:      "attempts",
			Help:      "Lookups needed to find a free slug.",
			Buckets:   []float64{1, 2, 3, 5, 8, 16},
		},
		[]string{"collection"},
	)

	workflowOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "account_api",
			Subsystem: "users",
			Name:      "operations_total",
			Help:      "User workflow operations by outcome.",
		},
		[]string{"operation", "outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		authRejections,
		slugAttempts,
		workflowOutcomes,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler devuelve el handler HTTP que expone el registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// GinMiddleware registra requests, latencia e in-flight por ruta de gin.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}
		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := strings.ToUpper(c.Request.Method)
		httpRequests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

func RecordAuthRejection() {
	authRejections.Inc()
}

// ObserveSlugAttempts tiene la firma que espera slug.Generator.WithObserver.
func ObserveSlugAttempts(collection string, attempts int) {
	slugAttempts.WithLabelValues(collection).Observe(float64(attempts))
}

func RecordWorkflow(operation, outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	workflowOutcomes.WithLabelValues(operation, outcome).Inc()
}
