package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	questionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metricsgate_questions_total",
			Help: "Total number of answered questions by outcome.",
		},
		[]string{"outcome"},
	)
	questionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "metricsgate_question_duration_seconds",
			Help:    "End-to-end question handling latency in seconds.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 45},
		},
	)
	repairRoundsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "metricsgate_repair_rounds_total",
			Help: "Total number of candidate repair rounds triggered by validation rejections.",
		},
	)
	queryDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "metricsgate_query_duration_seconds",
			Help:    "Read-only scalar query latency in seconds.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)
)

func init() {
	prometheus.MustRegister(
		questionsTotal,
		questionDurationSeconds,
		repairRoundsTotal,
		queryDurationSeconds,
	)
}

func ObserveQuestion(outcome string, elapsed time.Duration) {
	questionsTotal.WithLabelValues(outcome).Inc()
	questionDurationSeconds.Observe(elapsed.Seconds())
}

func IncrementRepairRound() {
	repairRoundsTotal.Inc()
}

func ObserveQuery(elapsed time.Duration) {
	queryDurationSeconds.Observe(elapsed.Seconds())
}
