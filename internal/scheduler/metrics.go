package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "heavensync",
		Name:      "attempts_in_flight",
		Help:      "Sync attempts currently holding a browser session.",
	})
	metricPollErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "heavensync",
		Name:      "queue_poll_errors_total",
		Help:      "Errors claiming attempts from the queue.",
	})
)
