package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	// AttemptTransitions counts state changes by target state and end reason
	AttemptTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attempt_transitions_total",
			Help: "Attempt state transitions",
		},
		[]string{"state", "reason"},
	)

	Autosaves = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "attempt_autosaves_total",
			Help: "Progress snapshots persisted",
		},
	)

	CohortComputations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cohort_computations_total",
			Help: "Cohort aggregates computed from storage",
		},
	)
)

var registerOnce sync.Once

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RequestCounter,
			RequestDuration,
			AttemptTransitions,
			Autosaves,
			CohortComputations,
		)
	})
}

// RecordTransition counts one attempt entering state for reason
func RecordTransition(state, reason string) {
	AttemptTransitions.WithLabelValues(state, reason).Inc()
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		RequestCounter.WithLabelValues(
			c.Request.Method,
			endpoint,
			strconv.Itoa(c.Writer.Status()),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			endpoint,
		).Observe(time.Since(start).Seconds())
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
