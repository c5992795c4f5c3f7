package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	eventsIndexed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examchain_events_indexed_total",
			Help: "Total number of contract events stored, by event name",
		},
		[]string{"event"},
	)

	eventsDuplicate = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examchain_events_duplicate_total",
			Help: "Total number of redelivered events dropped by the idempotency key",
		},
		[]string{"event"},
	)

	projectorUnhandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examchain_projector_unhandled_total",
			Help: "Total number of events left unprocessed by missing preconditions",
		},
		[]string{"event"},
	)

	projectorFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examchain_projector_failures_total",
			Help: "Total number of projector errors, by event name",
		},
		[]string{"event"},
	)

	lastStoredBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "examchain_last_stored_block",
			Help: "The highest block number with a stored event",
		},
	)

	blockProcessingTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "examchain_block_processing_duration_seconds",
			Help:    "Time taken to decode and persist one block",
			Buckets: prometheus.DefBuckets,
		},
	)

	streamReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "examchain_stream_reconnects_total",
			Help: "Total number of stream resubscriptions after a failure",
		},
	)

	// System metrics
	uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "examchain_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examchain_errors_total",
			Help: "Total number of errors by component and severity",
		},
		[]string{"component", "severity"},
	)

	componentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "examchain_component_health",
			Help: "Component health status (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)

	goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "examchain_goroutines",
			Help: "Number of active goroutines",
		},
	)

	memoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "examchain_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

func EventIndexedInc(eventName string) {
	eventsIndexed.WithLabelValues(eventName).Inc()
}

func EventDuplicateInc(eventName string) {
	eventsDuplicate.WithLabelValues(eventName).Inc()
}

func ProjectorUnhandledInc(eventName string) {
	projectorUnhandled.WithLabelValues(eventName).Inc()
}

func ProjectorFailureInc(eventName string) {
	projectorFailures.WithLabelValues(eventName).Inc()
}

func LastStoredBlockSet(blockNum uint64) {
	lastStoredBlock.Set(float64(blockNum))
}

func BlockProcessingTimeLog(duration time.Duration) {
	blockProcessingTime.Observe(duration.Seconds())
}

func StreamReconnectInc() {
	streamReconnects.Inc()
}

func ErrorInc(component string, severity string) {
	errorsTotal.WithLabelValues(component, severity).Inc()
}

func ComponentHealthSet(component string, healthy bool) {
	boolAsFloat := float64(1)
	if !healthy {
		boolAsFloat = 0
	}

	componentHealth.WithLabelValues(component).Set(boolAsFloat)
}

// UpdateSystemMetrics updates runtime system metrics.
// This should be called periodically (e.g., every 15 seconds).
func UpdateSystemMetrics() {
	uptime.Set(time.Since(startTime).Seconds())
	goroutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	memoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	memoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	memoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	memoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}
