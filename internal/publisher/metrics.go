package publisher

import "github.com/prometheus/client_golang/prometheus"

// metricsSet mirrors the observable parameters as Prometheus gauges/counters
// so operators can graph queue health alongside the WebSocket feed. Package-
// level vars registered once in init(), the same shape the rest of the
// corpus uses for its own metrics — a Publisher constructed more than once
// (e.g. across tests in this package) must not re-register them.
type metricsSet struct {
	running        prometheus.Gauge
	alert          prometheus.Gauge
	index          prometheus.Gauge
	timeOnQueue    prometheus.Gauge
	contentsLen    prometheus.Gauge
	pendingAccepts prometheus.Gauge
	failures       prometheus.Counter
	errors         prometheus.Counter
}

var (
	metricRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ocsqueue",
		Name:      "running",
		Help:      "1 if the queue is running (STATUS=Running), 0 if stopped.",
	})
	metricAlert = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ocsqueue",
		Name:      "alert_code",
		Help:      "Current ALERT code (0 none, 1 backend error, 2 empty).",
	})
	metricIndex = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ocsqueue",
		Name:      "index",
		Help:      "Current highlight index (INDEX).",
	})
	metricTimeOnQueue = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ocsqueue",
		Name:      "time_on_queue_minutes",
		Help:      "Minutes of observation time remaining on the queue (TIMEONQUEUE).",
	})
	metricContentsLen = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ocsqueue",
		Name:      "contents_entries",
		Help:      "Number of entries currently published in Queue.Contents[].",
	})
	metricPendingAccepts = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ocsqueue",
		Subsystem: "msbcomplete",
		Name:      "pending_accepts",
		Help:      "Number of MSBCOMPLETED records awaiting an operator decision.",
	})
	metricFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ocsqueue",
		Subsystem: "backend",
		Name:      "send_failures_total",
		Help:      "Total recoverable send failures (FAILURE.DETAILS populated).",
	})
	metricErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ocsqueue",
		Subsystem: "backend",
		Name:      "error_stream_lines_total",
		Help:      "Total lines appended to the error message stream.",
	})
)

func init() {
	prometheus.MustRegister(metricRunning, metricAlert, metricIndex, metricTimeOnQueue,
		metricContentsLen, metricPendingAccepts, metricFailures, metricErrors)
}

func newMetricsSet() *metricsSet {
	return &metricsSet{
		running:        metricRunning,
		alert:          metricAlert,
		index:          metricIndex,
		timeOnQueue:    metricTimeOnQueue,
		contentsLen:    metricContentsLen,
		pendingAccepts: metricPendingAccepts,
		failures:       metricFailures,
		errors:         metricErrors,
	}
}
