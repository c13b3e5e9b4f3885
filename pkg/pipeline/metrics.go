package pipeline

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	prometheusMetricNamespace = "theft_lakehouse"

	defaultPushJob     = "theft_lakehouse"
	pushRequestTimeout = 10 * time.Second
)

// MetricsConfig configures pushing pipeline metrics to a Prometheus
// Pushgateway when a command finishes. Pipeline commands exit after one run,
// so a scrape would never see their counters.
type MetricsConfig struct {
	// PushgatewayURL is the Pushgateway base URL. Empty disables pushing.
	PushgatewayURL string `json:"pushgatewayURL,omitempty" mapstructure:"pushgateway_url" toml:"pushgateway_url,omitempty"`
	// Job defaults to theft_lakehouse.
	Job string `json:"job,omitempty" mapstructure:"job" toml:"job,omitempty"`
}

var (
	rowsReadCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: prometheusMetricNamespace,
			Name:      "conform_rows_read_total",
			Help:      "Raw rows read by the conformance stage.",
		},
		[]string{"dataset"},
	)

	rowsConformedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: prometheusMetricNamespace,
			Name:      "conform_rows_written_total",
			Help:      "Conformed rows written to Silver tables.",
		},
		[]string{"dataset"},
	)

	rowsDroppedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: prometheusMetricNamespace,
			Name:      "conform_rows_dropped_total",
			Help:      "Raw rows dropped by the conformance stage.",
		},
		[]string{"dataset", "reason"},
	)

	filesLandedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: prometheusMetricNamespace,
			Name:      "ingest_files_landed_total",
			Help:      "Source files copied into the Bronze landing area.",
		},
		[]string{"dataset"},
	)

	aggregateGroupsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: prometheusMetricNamespace,
			Name:      "aggregate_groups",
			Help:      "Rows in each Gold table after the last aggregation.",
		},
		[]string{"table"},
	)

	stageDurationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: prometheusMetricNamespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of a pipeline stage.",
			Buckets:   []float64{0.1, 1.0, 10.0, 60.0, 300.0},
		},
		[]string{"stage", "target"},
	)

	stageFailedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: prometheusMetricNamespace,
			Name:      "stage_failed_total",
			Help:      "Pipeline stages that ended with an error.",
		},
		[]string{"stage", "target"},
	)

	runsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: prometheusMetricNamespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by command and outcome.",
		},
		[]string{"command", "status"},
	)
)

var pipelineCollectors = []prometheus.Collector{
	rowsReadCounter,
	rowsConformedCounter,
	rowsDroppedCounter,
	filesLandedCounter,
	aggregateGroupsGauge,
	stageDurationHistogram,
	stageFailedCounter,
	runsCounter,
}

func init() {
	for _, c := range pipelineCollectors {
		prometheus.MustRegister(c)
	}
}

// pushMetrics replaces the metric group of command on the Pushgateway with
// the current value of every pipeline collector.
func pushMetrics(cfg MetricsConfig, command string) error {
	job := cfg.Job
	if job == "" {
		job = defaultPushJob
	}
	pusher := push.New(cfg.PushgatewayURL, job).
		Grouping("instance", command).
		Client(&http.Client{Timeout: pushRequestTimeout})
	for _, c := range pipelineCollectors {
		pusher = pusher.Collector(c)
	}
	return pusher.Push()
}
