package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker metrics
	WorkerExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fintelli_worker_executions_total",
			Help: "Total number of worker executions",
		},
		[]string{"worker", "status"}, // status: success|error
	)

	WorkerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fintelli_worker_duration_seconds",
			Help:    "Worker execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"worker"},
	)

	// Agent metrics
	AgentResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fintelli_agent_results_total",
			Help: "Agent results by terminal status",
		},
		[]string{"agent", "status"}, // status: ok|fallback|failed
	)

	AgentLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fintelli_agent_latency_seconds",
			Help:    "Agent analysis latency in seconds",
			Buckets: []float64{0.05, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"agent"},
	)

	CompletionCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fintelli_completion_calls_total",
			Help: "Total number of LLM completion calls",
		},
		[]string{"provider", "status"}, // status: success|error|rate_limited
	)

	Briefings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fintelli_briefings_total",
			Help: "Daily briefings by origin",
		},
		[]string{"origin"}, // origin: generated|template
	)

	// Cache metrics
	CacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fintelli_cache_requests_total",
			Help: "Cache lookups by namespace and outcome",
		},
		[]string{"namespace", "outcome"}, // outcome: hit|miss|shared|store_hit
	)

	CacheComputations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fintelli_cache_computations_total",
			Help: "Compute function executions by namespace and status",
		},
		[]string{"namespace", "status"}, // status: success|error
	)

	CacheStoreErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fintelli_cache_store_errors_total",
			Help: "Persistent cache store failures",
		},
		[]string{"namespace", "op"},
	)

	CacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fintelli_cache_entries",
			Help: "Live cache entries after the last janitor sweep",
		},
		[]string{"tier"}, // tier: local|store
	)

	CacheEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fintelli_cache_evictions_total",
			Help: "Expired local cache entries dropped by the janitor",
		},
	)

	// Vector index metrics
	VectorQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fintelli_vector_queries_total",
			Help: "Vector similarity queries",
		},
		[]string{"status"},
	)

	// Workflow metrics
	WorkflowRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fintelli_workflow_runs_total",
			Help: "Workflow runs by terminal state",
		},
		[]string{"state"}, // state: SUCCEEDED|PARTIAL|FAILED
	)

	WorkflowStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fintelli_workflow_stage_duration_seconds",
			Help:    "Workflow stage duration in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	ReportConfidence = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fintelli_report_confidence",
			Help: "Confidence of the most recently compiled report",
		},
	)

	// Database metrics
	DBQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fintelli_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"database", "operation", "status"}, // database: postgres|clickhouse|redis
	)

	DBQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fintelli_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		},
		[]string{"database", "operation"},
	)

	// System metrics
	KafkaMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fintelli_kafka_messages_total",
			Help: "Total Kafka messages produced",
		},
		[]string{"topic", "status"},
	)

	// HTTP API metrics
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fintelli_http_requests_total",
			Help: "Total HTTP API requests",
		},
		[]string{"route", "code"},
	)

	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fintelli_http_request_duration_seconds",
			Help:    "HTTP API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

var initOnce sync.Once

// Init registers all metrics with Prometheus
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			WorkerExecutions,
			WorkerDuration,
			AgentResults,
			AgentLatency,
			CompletionCalls,
			Briefings,
			CacheRequests,
			CacheComputations,
			CacheStoreErrors,
			CacheEntries,
			CacheEvictions,
			VectorQueries,
			WorkflowRuns,
			WorkflowStageDuration,
			ReportConfidence,
			DBQueries,
			DBQueryDuration,
			KafkaMessages,
			HTTPRequests,
			HTTPDuration,
		)
	})
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordWorkerExecution records a worker execution
func RecordWorkerExecution(worker string, duration time.Duration, err error) {
	WorkerExecutions.WithLabelValues(worker, statusOf(err)).Inc()
	WorkerDuration.WithLabelValues(worker).Observe(duration.Seconds())
}

// RecordAgentResult records an agent invocation and its result status
func RecordAgentResult(agent, status string, latency time.Duration) {
	AgentResults.WithLabelValues(agent, status).Inc()
	AgentLatency.WithLabelValues(agent).Observe(latency.Seconds())
}

// RecordCompletion records an LLM completion call
func RecordCompletion(provider string, err error) {
	CompletionCalls.WithLabelValues(provider, statusOf(err)).Inc()
}

// RecordBriefing records whether a daily briefing came from the model or the
// fixed template
func RecordBriefing(generated bool) {
	origin := "template"
	if generated {
		origin = "generated"
	}
	Briefings.WithLabelValues(origin).Inc()
}

// RecordStage records the duration of a workflow stage
func RecordStage(stage string, duration time.Duration) {
	WorkflowStageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordDBQuery records a database query
func RecordDBQuery(database, operation string, duration time.Duration, err error) {
	DBQueries.WithLabelValues(database, operation, statusOf(err)).Inc()
	DBQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// RecordHTTPRequest records one API request
func RecordHTTPRequest(route string, code int, duration time.Duration) {
	HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	HTTPDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
