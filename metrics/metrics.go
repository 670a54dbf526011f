// Package metrics exposes Prometheus collectors for the HTTP surface and
// the billing engine.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/policy-billing/billing"
	"github.com/warp/policy-billing/generic"
)

const namespace = "policy_billing"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "route"},
	)

	invoicesGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "invoices_generated_total",
			Help:      "Invoices generated, by billing schedule.",
		},
		[]string{"schedule"},
	)

	paymentsRecorded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "payments_total",
			Help:      "Payments recorded.",
		},
	)

	paymentAmount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "payment_amount_total",
			Help:      "Sum of recorded payment amounts.",
		},
	)

	policiesCanceled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "policies_canceled_total",
			Help:      "Policies canceled, by reason.",
		},
		[]string{"reason"},
	)

	sweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "runs_total",
			Help:      "Cancellation sweeps, by final status.",
		},
		[]string{"status"},
	)

	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "run_duration_seconds",
			Help:      "Duration of cancellation sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)

	sweepPolicies = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "last_run_policies",
			Help:      "Policy counts found by the most recent sweep.",
		},
		[]string{"state"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		invoicesGenerated,
		paymentsRecorded,
		paymentAmount,
		policiesCanceled,
		sweepRuns,
		sweepDuration,
		sweepPolicies,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
// Requests are labeled with the chi route pattern, not the raw path.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := routePattern(r)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

// RecordSweep records the outcome of one cancellation sweep.
func RecordSweep(run billing.SweepRun) {
	duration := time.Millisecond
	if run.CompletedAt != nil && run.CompletedAt.After(run.StartedAt) {
		duration = run.CompletedAt.Sub(run.StartedAt)
	}
	sweepRuns.WithLabelValues(string(run.Status)).Inc()
	sweepDuration.Observe(duration.Seconds())
	sweepPolicies.WithLabelValues("scanned").Set(float64(run.Scanned))
	sweepPolicies.WithLabelValues("pending_nonpay").Set(float64(run.PendingNonPay))
	sweepPolicies.WithLabelValues("cancelable").Set(float64(run.Cancelable))
	sweepPolicies.WithLabelValues("canceled").Set(float64(run.Canceled))
}

// =============================================================================
// BILLING OBSERVER
// =============================================================================

// Observer counts billing writes. Pass it with billing.WithObserver.
type Observer struct{}

var _ billing.Observer = Observer{}

func (Observer) InvoicesGenerated(_ generic.PolicyID, schedule billing.Schedule, count int) {
	invoicesGenerated.WithLabelValues(schedule.String()).Add(float64(count))
}

func (Observer) PaymentRecorded(_ generic.PolicyID, amount generic.Money) {
	paymentsRecorded.Inc()
	paymentAmount.Add(amount.Float64())
}

func (Observer) PolicyCanceled(_ generic.PolicyID, reason billing.CancelReason) {
	label := string(reason)
	if label == "" {
		label = "unknown"
	}
	policiesCanceled.WithLabelValues(label).Inc()
}

// =============================================================================
// HELPERS
// =============================================================================

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
