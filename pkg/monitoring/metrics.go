package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MCP tool metrics
	MCPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conflate_mcp_requests_total",
			Help: "Total number of MCP tool calls",
		},
		[]string{"tool", "status"},
	)

	MCPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conflate_mcp_request_duration_seconds",
			Help:    "Duration of MCP tool calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	// Map API metrics
	ExternalServiceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conflate_external_service_requests_total",
			Help: "Total number of requests to the map API and Overpass",
		},
		[]string{"service", "operation", "status"},
	)

	ExternalServiceRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conflate_external_service_request_duration_seconds",
			Help:    "Duration of external service requests",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"service", "operation"},
	)

	RateLimitExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conflate_rate_limit_exceeded_total",
			Help: "Number of responses rejected by a remote rate limit",
		},
		[]string{"service"},
	)

	RateLimitWaitTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conflate_rate_limit_wait_duration_seconds",
			Help:    "Time spent waiting on the client-side rate limiter",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"service"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conflate_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conflate_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "conflate_cache_size",
			Help: "Current number of cache entries",
		},
		[]string{"cache_type"},
	)

	// Conflation metrics
	ProposalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conflate_proposals_total",
			Help: "Proposal sets computed, by outcome",
		},
		[]string{"outcome"},
	)

	CandidatesPerProposal = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conflate_candidates_per_proposal",
			Help:    "Number of ranked candidates found for a feature",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
	)

	EditsAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conflate_edits_applied_total",
			Help: "Edits applied to the graph, by action",
		},
		[]string{"action"},
	)

	ReviewsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conflate_reviews_total",
			Help: "Features marked as reviewed, by decision",
		},
		[]string{"decision"},
	)

	DirtyEntities = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conflate_dirty_entities",
			Help: "Entities with unsaved local changes",
		},
	)

	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conflate_uploads_total",
			Help: "Changeset uploads, by status",
		},
		[]string{"status"},
	)

	UploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conflate_upload_duration_seconds",
			Help:    "Duration of changeset uploads including opening the changeset",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	UploadedEntitiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conflate_uploaded_entities_total",
			Help: "Entities sent in uploads, by action",
		},
		[]string{"action"},
	)

	ActiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "conflate_active_connections",
			Help: "Number of active client connections",
		},
		[]string{"transport", "type"},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conflate_errors_total",
			Help: "Total number of errors by component",
		},
		[]string{"component", "error_type"},
	)

	// System metrics
	SystemInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "conflate_system_info",
			Help: "Build information",
		},
		[]string{"version", "go_version", "commit", "build_date"},
	)

	GoRoutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conflate_goroutines",
			Help: "Number of goroutines",
		},
	)

	MemoryUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conflate_memory_usage_bytes",
			Help: "Allocated heap memory in bytes",
		},
	)

	GCRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conflate_gc_runs_total",
			Help: "Number of completed GC cycles",
		},
	)
)

// TransportInfo holds transport configuration and status
type TransportInfo struct {
	Type           string `json:"type"`                      // "http_sse" or "stdio"
	HTTPAddr       string `json:"http_addr,omitempty"`       // HTTP address if enabled
	ActiveSessions int    `json:"active_sessions,omitempty"` // Active SSE sessions
}

// ServiceHealth is the body of the health endpoint
type ServiceHealth struct {
	Service       string                 `json:"service"`
	Version       string                 `json:"version"`
	Status        string                 `json:"status"` // "healthy", "degraded", "unhealthy"
	Uptime        time.Duration          `json:"uptime"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	StartTime     time.Time              `json:"start_time,omitempty"`
	Connections   map[string]ConnStatus  `json:"connections"`
	Editing       map[string]interface{} `json:"editing,omitempty"` // Editing session summary
	Metrics       map[string]interface{} `json:"metrics,omitempty"`
	Transport     *TransportInfo         `json:"transport,omitempty"`
}

// ConnStatus is the last observed state of an upstream dependency
type ConnStatus struct {
	Status    string    `json:"status"`               // "connected", "degraded", "error"
	Latency   int64     `json:"latency_ms,omitempty"` // Latency of the last probe in milliseconds
	LastError string    `json:"last_error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordMCPRequest records one tool call
func RecordMCPRequest(tool string, duration time.Duration, success bool) {
	MCPRequestsTotal.WithLabelValues(tool, statusLabel(success)).Inc()
	MCPRequestDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordExternalServiceRequest records one request to a remote service
func RecordExternalServiceRequest(service, operation string, duration time.Duration, success bool) {
	ExternalServiceRequestsTotal.WithLabelValues(service, operation, statusLabel(success)).Inc()
	ExternalServiceRequestDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

func RecordCacheHit(cacheType string) {
	CacheHits.WithLabelValues(cacheType).Inc()
}

func RecordCacheMiss(cacheType string) {
	CacheMisses.WithLabelValues(cacheType).Inc()
}

func UpdateCacheSize(cacheType string, size int) {
	CacheSize.WithLabelValues(cacheType).Set(float64(size))
}

func RecordRateLimitExceeded(service string) {
	RateLimitExceeded.WithLabelValues(service).Inc()
}

func RecordRateLimitWait(service string, duration time.Duration) {
	RateLimitWaitTime.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordProposal records a computed proposal set. outcome is "matched"
// when at least one existing entity is proposed, "create_only" or "empty".
func RecordProposal(outcome string, candidates int) {
	ProposalsTotal.WithLabelValues(outcome).Inc()
	CandidatesPerProposal.Observe(float64(candidates))
}

func RecordEditApplied(action string) {
	EditsAppliedTotal.WithLabelValues(action).Inc()
}

func RecordReview(decision string) {
	ReviewsTotal.WithLabelValues(decision).Inc()
}

func SetDirtyEntities(count int) {
	DirtyEntities.Set(float64(count))
}

// RecordUpload records an upload attempt and, on success, the entity counts sent
func RecordUpload(duration time.Duration, success bool, created, modified int) {
	UploadsTotal.WithLabelValues(statusLabel(success)).Inc()
	UploadDuration.Observe(duration.Seconds())
	if success {
		UploadedEntitiesTotal.WithLabelValues("create").Add(float64(created))
		UploadedEntitiesTotal.WithLabelValues("modify").Add(float64(modified))
	}
}

func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

func UpdateActiveConnections(transport, connType string, count int) {
	ActiveConnections.WithLabelValues(transport, connType).Set(float64(count))
}
