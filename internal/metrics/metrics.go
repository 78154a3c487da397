package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "pfmea"

var (
	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Total number of pipeline runs, labeled by PFMEA type and outcome (done or the error kind).",
		},
		[]string{"pfmea_type", "outcome"},
	)

	PipelineDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "End-to-end latency of a pipeline run (seconds).",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"outcome"},
	)

	StepDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Latency of a single pipeline step (seconds).",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"step", "outcome"},
	)

	BackendRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Total number of analysis backend calls, labeled by endpoint and HTTP status class.",
		},
		[]string{"endpoint", "status"},
	)

	ArtifactsReleasedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_released_total",
			Help:      "Total number of spreadsheet artifacts released after being superseded or reset.",
		},
	)

	RateLimitHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of requests rejected by the rate limiter.",
		},
		[]string{"scope", "operation"},
	)
)

func init() {
	prometheus.MustRegister(
		SubmissionsTotal,
		PipelineDurationSeconds,
		StepDurationSeconds,
		BackendRequestsTotal,
		ArtifactsReleasedTotal,
		RateLimitHitsTotal,
	)
}
