package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aiguide"

type moduleMetrics struct {
	activeSessions       prometheus.Gauge
	sessionsCreated      prometheus.Counter
	sessionsCleaned      *prometheus.CounterVec
	queryDuration        prometheus.Histogram
	queryFallbacks       prometheus.Counter
	notificationsQueued  prometheus.Counter
	notificationsDrained prometheus.Counter

	agentRunTotal    *prometheus.CounterVec
	agentRunDuration prometheus.Histogram
	agentIterations  prometheus.Histogram

	modelInvocations  *prometheus.CounterVec
	modelRetries      prometheus.Counter
	modelCallDuration prometheus.Histogram

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	knowledgeSearchTotal    *prometheus.CounterVec
	knowledgeSearchDuration prometheus.Histogram

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Current registered session count.",
			}),
			sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_created_total",
				Help:      "Total sessions created.",
			}),
			sessionsCleaned: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_cleaned_total",
				Help:      "Total sessions cleaned up by reason.",
			}, []string{"reason"}),
			queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_query_duration_seconds",
				Help:      "Session query processing duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			}),
			queryFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_query_fallbacks_total",
				Help:      "Queries answered with the fixed apology after an internal failure.",
			}),
			notificationsQueued: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_queued_total",
				Help:      "Proactive notifications queued.",
			}),
			notificationsDrained: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_drained_total",
				Help:      "Proactive notifications delivered to clients.",
			}),
			agentRunTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_run_total",
				Help:      "Total orchestrator runs by outcome.",
			}, []string{"status"}),
			agentRunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "agent_run_duration_seconds",
				Help:      "Orchestrator run duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			}),
			agentIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "agent_iterations",
				Help:      "THINK cycles per orchestrator run.",
				Buckets:   []float64{1, 2, 3, 4, 6, 8, 12, 16},
			}),
			modelInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_invocations_total",
				Help:      "Model gateway invocations by status.",
			}, []string{"status"}),
			modelRetries: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_retries_total",
				Help:      "Model call retries after transient failures.",
			}),
			modelCallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "model_invocation_duration_seconds",
				Help:      "Model gateway invocation duration including retries.",
				Buckets:   prometheus.DefBuckets,
			}),
			toolExecutionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_execution_total",
				Help:      "Total tool executions by tool and status.",
			}, []string{"tool", "status"}),
			toolExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_execution_duration_seconds",
				Help:      "Tool execution duration in seconds by tool.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"tool"}),
			knowledgeSearchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "knowledge_search_total",
				Help:      "Knowledge searches by mode.",
			}, []string{"mode"}),
			knowledgeSearchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "knowledge_search_duration_seconds",
				Help:      "Knowledge search duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			}),
			httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status code.",
			}, []string{"route", "code"}),
			httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by route.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
		}

		prometheus.MustRegister(
			m.activeSessions,
			m.sessionsCreated,
			m.sessionsCleaned,
			m.queryDuration,
			m.queryFallbacks,
			m.notificationsQueued,
			m.notificationsDrained,
			m.agentRunTotal,
			m.agentRunDuration,
			m.agentIterations,
			m.modelInvocations,
			m.modelRetries,
			m.modelCallDuration,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.knowledgeSearchTotal,
			m.knowledgeSearchDuration,
			m.httpRequestsTotal,
			m.httpRequestDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordSessionCreated() {
	getMetrics().sessionsCreated.Inc()
}

// RecordSessionCleaned counts a removal; reason is explicit, idle or shutdown.
func RecordSessionCleaned(reason string) {
	getMetrics().sessionsCleaned.WithLabelValues(reason).Inc()
}

func RecordSessionQuery(duration time.Duration, fallback bool) {
	m := getMetrics()
	m.queryDuration.Observe(duration.Seconds())
	if fallback {
		m.queryFallbacks.Inc()
	}
}

func RecordNotificationQueued() {
	getMetrics().notificationsQueued.Inc()
}

func RecordNotificationsDrained(count int) {
	getMetrics().notificationsDrained.Add(float64(count))
}

// RecordAgentRun records one orchestrator run; status is answered, ignored or error.
func RecordAgentRun(status string, duration time.Duration, iterations int) {
	m := getMetrics()
	m.agentRunTotal.WithLabelValues(status).Inc()
	m.agentRunDuration.Observe(duration.Seconds())
	m.agentIterations.Observe(float64(iterations))
}

func RecordModelInvocation(duration time.Duration, success bool) {
	m := getMetrics()
	m.modelInvocations.WithLabelValues(statusLabel(success)).Inc()
	m.modelCallDuration.Observe(duration.Seconds())
}

func RecordModelRetry() {
	getMetrics().modelRetries.Inc()
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, statusLabel(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordKnowledgeSearch(mode string, duration time.Duration) {
	m := getMetrics()
	m.knowledgeSearchTotal.WithLabelValues(mode).Inc()
	m.knowledgeSearchDuration.Observe(duration.Seconds())
}

func RecordHTTPRequest(route string, code int, duration time.Duration) {
	m := getMetrics()
	m.httpRequestsTotal.WithLabelValues(route, http.StatusText(code)).Inc()
	m.httpRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}
