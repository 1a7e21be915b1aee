// ABOUTME: Prometheus instrumentation for the save path
// ABOUTME: Counters registered once at package level via promauto

package persist

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	saveAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "localsync",
		Subsystem: "persist",
		Name:      "save_attempts_total",
		Help:      "Number of database save attempts.",
	})

	saveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "localsync",
		Subsystem: "persist",
		Name:      "save_failures_total",
		Help:      "Number of database save attempts that failed on every backend.",
	})

	blobSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "localsync",
		Subsystem: "persist",
		Name:      "blob_bytes",
		Help:      "Size of the last successfully exported database blob.",
	})
)
