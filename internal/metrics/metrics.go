// Package metrics declares the Prometheus collectors for the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waitflo_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "waitflo_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waitflo_events_ingested_total",
		Help: "Events received, by type and outcome (accepted, duplicate, rejected)",
	}, []string{"type", "outcome"})

	EventsAttributed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waitflo_events_attributed_total",
		Help: "Events by attribution result (attributed, unattributed, self_referral)",
	}, []string{"result"})

	AccruedCents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waitflo_accrued_cents_total",
		Help: "Cents accrued to accounts, by source",
	}, []string{"source"})

	PlatformRetainedCents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waitflo_platform_retained_cents_total",
		Help: "Cents of monetary events kept by the platform after accruals, by event type",
	}, []string{"type"})

	PayoutRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waitflo_payout_requests_total",
		Help: "Payout requests, by outcome",
	}, []string{"outcome"})

	PayoutDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waitflo_payout_decisions_total",
		Help: "Admin payout decisions",
	}, []string{"decision"})

	PaidOutCents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waitflo_paid_out_cents_total",
		Help: "Cents debited by settled payouts",
	})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waitflo_report_cache_lookups_total",
		Help: "Reporting cache lookups, by result (hit, miss, error)",
	}, []string{"result"})
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and latency. The route label is the
// ServeMux pattern that matched, so path parameters do not explode
// cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
