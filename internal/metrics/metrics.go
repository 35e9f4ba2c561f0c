package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Probe metrics
	ProbeRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlwatch_probe_runs_total",
			Help: "Total number of probe evaluations",
		},
		[]string{"probe", "state"}, // state: ok, alert, failed
	)

	ProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlwatch_probe_duration_seconds",
			Help:    "Probe evaluation latency in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"probe"},
	)

	ProbeSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlwatch_probe_skipped_total",
			Help: "Total number of probe runs skipped because the previous run was still in flight",
		},
		[]string{"probe"},
	)

	ProbeRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sqlwatch_probe_running",
			Help: "Whether a probe evaluation is currently in flight",
		},
		[]string{"probe"},
	)

	// Alert metrics
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlwatch_alerts_total",
			Help: "Total number of alerts raised",
		},
		[]string{"probe", "severity", "kind"},
	)

	AlertsSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlwatch_alerts_suppressed_total",
			Help: "Total number of alerts suppressed by a cooldown",
		},
		[]string{"probe"},
	)

	// Sink metrics
	SinkDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlwatch_sink_deliveries_total",
			Help: "Total number of alert delivery attempts",
		},
		[]string{"sink", "status"}, // status: success, failed
	)

	SinkFallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlwatch_sink_fallback_total",
			Help: "Total number of alerts written to the fallback log after retries were exhausted",
		},
		[]string{"sink"},
	)
)
