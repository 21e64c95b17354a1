package heaven

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "heavensync",
		Name:      "sync_attempts_total",
		Help:      "Sync attempts by result and cause.",
	}, []string{"result", "cause"})
	metricDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "heavensync",
		Name:      "sync_duration_seconds",
		Help:      "Wall time of sync attempts, from session open to close.",
		Buckets:   []float64{5, 10, 20, 30, 45, 60, 90, 120, 180},
	}, []string{"result"})
	metricStepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "heavensync",
		Name:      "step_failures_total",
		Help:      "Workflow step failures by step.",
	}, []string{"step"})
	metricArtifacts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "heavensync",
		Name:      "artifacts_captured_total",
		Help:      "Error screenshot captures by outcome.",
	}, []string{"outcome"})
)

func recordResult(r Result) {
	result := "success"
	if !r.Success {
		result = "failure"
	}
	metricAttempts.WithLabelValues(result, r.Cause).Inc()
	metricDuration.WithLabelValues(result).Observe(r.Duration.Seconds())
}

func recordStepFailure(step StepName) {
	metricStepFailures.WithLabelValues(string(step)).Inc()
}

func recordArtifact(outcome string) {
	metricArtifacts.WithLabelValues(outcome).Inc()
}
