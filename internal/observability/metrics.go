package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	fetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modload",
			Subsystem: "fetch",
			Name:      "total",
			Help:      "Completed source fetches.",
		},
		[]string{"transport", "outcome"},
	)
	fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "modload",
			Subsystem: "fetch",
			Name:      "duration_seconds",
			Help:      "Source fetch duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"transport", "outcome"},
	)
	fetchInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "modload",
			Subsystem: "fetch",
			Name:      "inflight",
			Help:      "Fetches currently in flight.",
		},
	)
	fetchDeduped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "modload",
			Subsystem: "fetch",
			Name:      "deduplicated_total",
			Help:      "Fetch requests attached to an already in-flight retrieval.",
		},
	)
	modulesDeclared = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "modload",
			Subsystem: "loader",
			Name:      "modules_declared_total",
			Help:      "Modules that reached declared status.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modload",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests served by the module repository.",
		},
		[]string{"server", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "modload",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"server", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			fetchTotal, fetchDuration, fetchInflight, fetchDeduped,
			modulesDeclared, httpRequests, httpDuration,
		)
	})
}

func RecordFetch(transport, outcome string, duration time.Duration) {
	RegisterMetrics()
	fetchTotal.WithLabelValues(transport, outcome).Inc()
	fetchDuration.WithLabelValues(transport, outcome).Observe(duration.Seconds())
}

func FetchStarted() {
	RegisterMetrics()
	fetchInflight.Inc()
}

func FetchFinished() {
	RegisterMetrics()
	fetchInflight.Dec()
}

func RecordFetchDeduplicated() {
	RegisterMetrics()
	fetchDeduped.Inc()
}

func RecordModuleDeclared() {
	RegisterMetrics()
	modulesDeclared.Inc()
}

func RecordHTTPRequest(server, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(server, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(server, method, path, statusLabel).Observe(duration.Seconds())
}
