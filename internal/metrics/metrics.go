// Package metrics provides Prometheus metrics for the photools server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photools_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photools_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Scan metrics
	scansStartedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photools_scans_started_total",
			Help: "Total number of scans started",
		},
		[]string{"strategy"},
	)

	scansCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photools_scans_completed_total",
			Help: "Total number of scans reaching a terminal status",
		},
		[]string{"strategy", "status"},
	)

	scanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photools_scan_duration_seconds",
			Help:    "Scan duration in seconds",
			Buckets: []float64{.1, .5, 1, 5, 15, 60, 300, 1800},
		},
		[]string{"strategy"},
	)

	filesScannedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photools_files_scanned_total",
			Help: "Total files processed across all scans",
		},
	)

	activeScans = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photools_active_scans",
			Help: "Number of scans currently running",
		},
	)

	// Security metrics
	securityViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photools_security_violations_total",
			Help: "Total path validation failures by rule",
		},
		[]string{"rule"},
	)

	pathValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photools_path_validations_total",
			Help: "Total path validations",
		},
		[]string{"result"},
	)

	// Metadata extraction metrics
	extractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photools_extractions_total",
			Help: "Total metadata extractions",
		},
		[]string{"status"},
	)

	extractionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "photools_extraction_duration_seconds",
			Help:    "Metadata extraction duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Import pipeline metrics
	importsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photools_imports_total",
			Help: "Total photo imports through the pipeline",
		},
		[]string{"status"},
	)

	importQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photools_import_queue_depth",
			Help: "Number of files waiting in the import queue",
		},
	)

	// Storage metrics
	storageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photools_storage_operation_duration_seconds",
			Help:    "Storage backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	storageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photools_storage_operations_total",
			Help: "Total storage backend operations",
		},
		[]string{"backend", "operation", "status"},
	)

	storageBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photools_storage_bytes_written_total",
			Help: "Total bytes written to storage backends",
		},
	)

	duplicatesDetectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photools_duplicates_detected_total",
			Help: "Total duplicate files detected by content hash",
		},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photools_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photools_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photools_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photools_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordScanStarted records the start of a scan.
func RecordScanStarted(strategy string) {
	scansStartedTotal.WithLabelValues(strategy).Inc()
	activeScans.Inc()
}

// RecordScanCompleted records a scan reaching a terminal status.
func RecordScanCompleted(strategy, status string, duration time.Duration) {
	scansCompletedTotal.WithLabelValues(strategy, status).Inc()
	scanDuration.WithLabelValues(strategy).Observe(duration.Seconds())
	activeScans.Dec()
}

// RecordFilesScanned adds to the processed-file counter.
func RecordFilesScanned(n int) {
	filesScannedTotal.Add(float64(n))
}

// RecordSecurityViolation records a path validation failure by rule.
func RecordSecurityViolation(rule string) {
	securityViolationsTotal.WithLabelValues(rule).Inc()
	pathValidationsTotal.WithLabelValues("denied").Inc()
}

// RecordPathValidated records a successful path validation.
func RecordPathValidated() {
	pathValidationsTotal.WithLabelValues("allowed").Inc()
}

// RecordExtraction records a metadata extraction attempt.
func RecordExtraction(duration time.Duration, success bool) {
	extractionDuration.Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	extractionsTotal.WithLabelValues(status).Inc()
}

// RecordImport records a pipeline import result.
func RecordImport(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	importsTotal.WithLabelValues(status).Inc()
}

// SetImportQueueDepth sets the current import queue depth.
func SetImportQueueDepth(depth int) {
	importQueueDepth.Set(float64(depth))
}

// RecordStorageOperation records a storage backend operation.
func RecordStorageOperation(backend, operation string, duration time.Duration, success bool) {
	storageOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	storageOperationsTotal.WithLabelValues(backend, operation, status).Inc()
}

// RecordStorageBytesWritten adds to the bytes-written counter.
func RecordStorageBytesWritten(n int64) {
	storageBytesWritten.Add(float64(n))
}

// RecordDuplicateDetected records a content-hash duplicate hit.
func RecordDuplicateDetected() {
	duplicatesDetectedTotal.Inc()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetDBConnectionsOpen sets the number of open database connections.
func SetDBConnectionsOpen(count int) {
	dbConnectionsOpen.Set(float64(count))
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
