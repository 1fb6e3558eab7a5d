package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tasksync",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	syncRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tasksync",
			Name:      "sync_records_total",
			Help:      "Sync records by outcome (queued, synced, retried, failed).",
		},
		[]string{"result"},
	)

	featureAvailable = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tasksync",
			Name:      "feature_available",
			Help:      "Last probed availability per feature (1 available, 0 not).",
		},
		[]string{"feature"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, syncRecords, featureAvailable)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// IncSync increments the sync outcome counter.
func IncSync(result string) {
	syncRecords.WithLabelValues(result).Inc()
}

// SetFeature records a probe result.
func SetFeature(feature string, available bool) {
	v := 0.0
	if available {
		v = 1
	}
	featureAvailable.WithLabelValues(feature).Set(v)
}
