// Package metrics provides Prometheus instrumentation for Harrier.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, route pattern, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "harrier",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status code.",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration observes request latency by method and route.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "harrier",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// TransactionsScored counts scored transactions by risk level.
	TransactionsScored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "harrier",
			Name:      "transactions_scored_total",
			Help:      "Total transactions scored, by risk level.",
		},
		[]string{"risk_level"},
	)

	// ScoringDuration observes end-to-end scoring latency.
	ScoringDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "harrier",
			Name:      "scoring_duration_seconds",
			Help:      "Time spent fusing rule and model scores for one transaction.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// EstimatorFallbacks counts predictions served by the heuristic.
	EstimatorFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "harrier",
			Name:      "estimator_fallbacks_total",
			Help:      "Predictions answered by the heuristic, by configured model and reason.",
		},
		[]string{"model", "reason"},
	)

	// AlertsRaised counts alerts by queue.
	AlertsRaised = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "harrier",
			Name:      "alerts_raised_total",
			Help:      "Total alerts raised, by queue.",
		},
		[]string{"queue"},
	)

	// CasesOpened counts cases by how they were opened (auto, manual).
	CasesOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "harrier",
			Name:      "cases_opened_total",
			Help:      "Total cases opened, by source.",
		},
		[]string{"source"},
	)

	// EscalationFailures counts case auto-creation failures after an alert was stored.
	EscalationFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "harrier",
		Name:      "escalation_failures_total",
		Help:      "Cases that could not be created after their alert was persisted.",
	})

	// SARsFiled counts filed suspicious activity reports.
	SARsFiled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "harrier",
		Name:      "sars_filed_total",
		Help:      "Total SARs filed.",
	})

	// CacheLookups counts response cache lookups by layer and result (hit, miss).
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "harrier",
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by layer and result.",
		},
		[]string{"layer", "result"},
	)

	// RulesLoaded tracks the size of the current rule snapshot.
	RulesLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "harrier",
		Name:      "rules_loaded",
		Help:      "Number of active rules in the current snapshot.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TransactionsScored,
		ScoringDuration,
		EstimatorFallbacks,
		AlertsRaised,
		CasesOpened,
		EscalationFailures,
		SARsFiled,
		CacheLookups,
		RulesLoaded,
	)
}

// Middleware records request metrics keyed by the chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(r.Method, route, statusBucket(status)).Inc()
	})
}

// Handler returns the Prometheus metrics HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	if code < 100 || code > 599 {
		return strconv.Itoa(code)
	}
	return strconv.Itoa(code/100) + "xx"
}
