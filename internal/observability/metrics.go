package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the service exports. All methods are safe
// on a nil receiver so callers never need to check whether metrics are on.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests  *prometheus.CounterVec
	apiLatency   *prometheus.HistogramVec
	apiInflight  prometheus.Gauge
	jobOutcomes  *prometheus.CounterVec
	jobLatency   *prometheus.HistogramVec
	generations  *prometheus.CounterVec
	embedLookups *prometheus.CounterVec
	llmTokens    *prometheus.CounterVec
	llmCost      *prometheus.CounterVec
	queuePruned  *prometheus.CounterVec
	treeEdits    *prometheus.CounterVec
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Current() *Metrics {
	return instance
}

// Init builds the process-wide metrics on first call.
func Init() *Metrics {
	initOnce.Do(func() {
		instance = New()
	})
	return instance
}

// New builds an isolated set of collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codeframe_api_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "codeframe_api_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		apiInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "codeframe_api_inflight_requests",
			Help: "HTTP requests currently being served.",
		}),
		jobOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codeframe_cluster_jobs_total",
			Help: "Cluster job attempts by outcome (completed, retried, failed, aborted).",
		}, []string{"outcome"}),
		jobLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "codeframe_cluster_job_duration_seconds",
			Help:    "Wall time of one cluster job attempt.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codeframe_generations_total",
			Help: "Generations reaching a terminal status, by status and cause.",
		}, []string{"status", "cause"}),
		embedLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codeframe_embedding_cache_lookups_total",
			Help: "Embedding cache lookups by result (hit, miss, error).",
		}, []string{"model", "result"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codeframe_llm_tokens_total",
			Help: "Tokens used by labeling calls.",
		}, []string{"model"}),
		llmCost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codeframe_llm_cost_usd_total",
			Help: "Estimated labeling spend in USD.",
		}, []string{"model"}),
		queuePruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codeframe_queue_pruned_total",
			Help: "Cluster job rows removed by retention.",
		}, []string{"status"}),
		treeEdits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codeframe_hierarchy_edits_total",
			Help: "Hierarchy mutations by action and result.",
		}, []string{"action", "result"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.jobOutcomes, m.jobLatency, m.generations,
		m.embedLookups, m.llmTokens, m.llmCost,
		m.queuePruned, m.treeEdits,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveAPI(method, route string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.apiRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.apiLatency.WithLabelValues(method, route).Observe(dur.Seconds())
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) ObserveClusterJob(outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.jobOutcomes.WithLabelValues(outcome).Inc()
	m.jobLatency.WithLabelValues(outcome).Observe(dur.Seconds())
}

func (m *Metrics) IncGeneration(status, cause string) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(status, cause).Inc()
}

func (m *Metrics) AddEmbeddingLookups(model string, hits, misses, errs int) {
	if m == nil {
		return
	}
	m.embedLookups.WithLabelValues(model, "hit").Add(float64(hits))
	m.embedLookups.WithLabelValues(model, "miss").Add(float64(misses))
	m.embedLookups.WithLabelValues(model, "error").Add(float64(errs))
}

func (m *Metrics) AddLLMUsage(model string, tokens int64, costUSD float64) {
	if m == nil {
		return
	}
	m.llmTokens.WithLabelValues(model).Add(float64(tokens))
	if costUSD > 0 {
		m.llmCost.WithLabelValues(model).Add(costUSD)
	}
}

func (m *Metrics) AddQueuePruned(status string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.queuePruned.WithLabelValues(status).Add(float64(n))
}

func (m *Metrics) IncTreeEdit(action, result string) {
	if m == nil {
		return
	}
	m.treeEdits.WithLabelValues(action, result).Inc()
}
