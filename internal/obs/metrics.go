package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	ledgerOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Credit ledger operations by kind and outcome.",
		},
		[]string{"op", "result"},
	)

	compensations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_compensations_total",
			Help: "Refunds issued because a record insert failed after a successful debit.",
		},
		[]string{"kind", "result"},
	)

	refunds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_refunds_total",
			Help: "Cancellation refunds by record kind and outcome.",
		},
		[]string{"kind", "result"},
	)

	creditDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_request_decisions_total",
			Help: "Admin decisions on credit top-up requests.",
		},
		[]string{"decision"},
	)

	linksIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "access_links_issued_total",
		Help: "Access links issued for purchases.",
	})

	linksSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "access_links_swept_total",
		Help: "Expired access links flipped to inactive by the sweeper.",
	})

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the last readiness probe succeeded.",
	})
)

// Init registers all collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			ledgerOps, compensations, refunds, creditDecisions,
			linksIssued, linksSwept, readyGauge,
		)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records RPS, latency and in-flight requests. It must be mounted
// with chi's Use so the matched route pattern is known after the handler runs.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		route := RoutePattern(r)
		httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

// RoutePattern returns the chi route pattern matched for r, or "unmatched".
// Using the pattern keeps label cardinality bounded by the route table.
func RoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// LedgerOp counts a ledger debit/credit outcome.
func LedgerOp(op, result string) { ledgerOps.WithLabelValues(op, result).Inc() }

// Compensation counts a saga refund after a failed insert.
func Compensation(kind, result string) { compensations.WithLabelValues(kind, result).Inc() }

// Refund counts a cancellation refund.
func Refund(kind, result string) { refunds.WithLabelValues(kind, result).Inc() }

// CreditDecision counts approve/reject outcomes.
func CreditDecision(decision string) { creditDecisions.WithLabelValues(decision).Inc() }

// LinkIssued counts an issued access link.
func LinkIssued() { linksIssued.Inc() }

// LinksSwept adds n to the swept-links counter.
func LinksSwept(n int64) {
	if n > 0 {
		linksSwept.Add(float64(n))
	}
}

// SetReady records the readiness probe result.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}
