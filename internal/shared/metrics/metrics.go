package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	evaluationStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evaluation_started_total",
		Help: "Total evaluations started",
	})
	evaluationCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evaluation_completed_total",
		Help: "Total evaluations completed",
	})
	evaluationFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evaluation_failed_total",
		Help: "Total evaluations failed",
	})

	evaluationDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "evaluation_duration_ms",
		Help:    "Evaluation duration in milliseconds",
		Buckets: []float64{250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000, 300000},
	})
)

// IncEvaluationStarted increments the started counter.
func IncEvaluationStarted() {
	evaluationStartedTotal.Inc()
}

// IncEvaluationCompleted increments the completed counter.
func IncEvaluationCompleted() {
	evaluationCompletedTotal.Inc()
}

// IncEvaluationFailed increments the failed counter.
func IncEvaluationFailed() {
	evaluationFailedTotal.Inc()
}

// ObserveEvaluationDurationMs records an end-to-end evaluation duration.
func ObserveEvaluationDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	evaluationDurationMs.Observe(value)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
