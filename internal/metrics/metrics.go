// Package metrics holds the Prometheus collectors for scoring, leaderboards
// and the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "promptarena"

type Metrics struct {
	registry *prometheus.Registry

	submissions       *prometheus.CounterVec
	newBestScores     prometheus.Counter
	compositeScores   prometheus.Histogram
	ledgerConflicts   prometheus.Counter
	upstreamErrors    *prometheus.CounterVec
	llmDuration       *prometheus.HistogramVec
	leaderboardCache  *prometheus.CounterVec
	chainJobs         *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
	httpRequestLength *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "submissions_total",
			Help: "Prompt submissions recorded, by outcome.",
		}, []string{"source", "outcome"}),
		newBestScores: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "new_best_scores_total",
			Help: "Submissions that raised a session's best score.",
		}),
		compositeScores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "composite_score",
			Help:    "Distribution of computed composite scores.",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
		ledgerConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ledger_version_conflicts_total",
			Help: "Optimistic concurrency conflicts on session updates.",
		}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "upstream_errors_total",
			Help: "Failed calls to the LLM or execution sandbox.",
		}, []string{"service", "operation"}),
		llmDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "llm_request_duration_seconds",
			Help:    "LLM call latency by operation.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"operation"}),
		leaderboardCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "leaderboard_cache_total",
			Help: "Leaderboard cache lookups by result.",
		}, []string{"board", "result"}),
		chainJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "chain_jobs_total",
			Help: "Prompt-chaining jobs processed, by status.",
		}, []string{"status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpRequestLength: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	reg.MustRegister(
		m.submissions, m.newBestScores, m.compositeScores, m.ledgerConflicts,
		m.upstreamErrors, m.llmDuration, m.leaderboardCache, m.chainJobs,
		m.httpRequests, m.httpRequestLength,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordSubmission(source string, composite int, newBest bool) {
	m.submissions.WithLabelValues(source, "recorded").Inc()
	m.compositeScores.Observe(float64(composite))
	if newBest {
		m.newBestScores.Inc()
	}
}

func (m *Metrics) RecordSubmissionFailure(source string) {
	m.submissions.WithLabelValues(source, "failed").Inc()
}

func (m *Metrics) RecordLedgerConflict() { m.ledgerConflicts.Inc() }

func (m *Metrics) RecordUpstreamError(service, operation string) {
	m.upstreamErrors.WithLabelValues(service, operation).Inc()
}

func (m *Metrics) ObserveLLM(operation string, started time.Time) {
	m.llmDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func (m *Metrics) RecordCacheLookup(board string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.leaderboardCache.WithLabelValues(board, result).Inc()
}

func (m *Metrics) RecordChainJob(status string) {
	m.chainJobs.WithLabelValues(status).Inc()
}

// Middleware records request counts and latency keyed by the chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		m.httpRequestLength.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
