package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/policy-billing/billing"
	"github.com/warp/policy-billing/generic"
)

func TestInstrumentHandler_LabelsByRoute(t *testing.T) {
	r := chi.NewRouter()
	r.Use(InstrumentHandler)
	r.Get("/api/policy/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/policy/{id}", "404"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/policy/abc", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/policy/def", nil))

	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/policy/{id}", "404"))
	assert.Equal(t, 2.0, after-before)
}

func TestObserver_CountsBillingEvents(t *testing.T) {
	obs := Observer{}

	before := testutil.ToFloat64(invoicesGenerated.WithLabelValues("Monthly"))
	obs.InvoicesGenerated("p-1", billing.ScheduleMonthly, 12)
	assert.Equal(t, 12.0, testutil.ToFloat64(invoicesGenerated.WithLabelValues("Monthly"))-before)

	paidBefore := testutil.ToFloat64(paymentAmount)
	obs.PaymentRecorded("p-1", generic.MustParseMoney("100.50"))
	assert.InDelta(t, 100.50, testutil.ToFloat64(paymentAmount)-paidBefore, 0.001)

	canceledBefore := testutil.ToFloat64(policiesCanceled.WithLabelValues("nonpayment"))
	obs.PolicyCanceled("p-1", billing.CancelReasonNonPayment)
	assert.Equal(t, 1.0, testutil.ToFloat64(policiesCanceled.WithLabelValues("nonpayment"))-canceledBefore)
}

func TestRecordSweep(t *testing.T) {
	started := time.Now()
	completed := started.Add(50 * time.Millisecond)
	RecordSweep(billing.SweepRun{
		Status:      billing.SweepCompleted,
		Scanned:     4,
		Cancelable:  1,
		StartedAt:   started,
		CompletedAt: &completed,
	})

	assert.Equal(t, 4.0, testutil.ToFloat64(sweepPolicies.WithLabelValues("scanned")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sweepPolicies.WithLabelValues("cancelable")))
}

func TestHandler_ExposesRegistry(t *testing.T) {
	Observer{}.PaymentRecorded("p-1", generic.NewMoneyFromInt(1))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "policy_billing_billing_payments_total"))
}
