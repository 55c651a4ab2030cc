package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RegistrationSubmitted("east", true)
		m.PaymentApplied("east")
		m.DuplicateTransaction()
		m.Transition("approved")
		m.DeliveryFailed("west")
		m.Resend(true)
		m.SetOutstandingFailures(map[string]int{"east": 1})
		m.ReportCacheLookup(false)
		m.ObserveHTTPRequest("GET", "/", 200, time.Millisecond)
	})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRegistrationSubmitted_DuplicateAlsoCountsDuplicates(t *testing.T) {
	m := New()

	m.RegistrationSubmitted("east", false)
	m.RegistrationSubmitted("east", true)
	m.DuplicateTransaction()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.registrations.WithLabelValues("east", "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.registrations.WithLabelValues("east", "duplicate")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.duplicates))
}

func TestSetOutstandingFailures_ReplacesPreviousValues(t *testing.T) {
	m := New()

	m.SetOutstandingFailures(map[string]int{"east": 3, "west": 1})
	m.SetOutstandingFailures(map[string]int{"east": 2})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.failedDeliveries.WithLabelValues("east")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.failedDeliveries))
}

func TestHandler_ExposesNamespacedMetrics(t *testing.T) {
	m := New()
	m.Transition("paid")
	m.ObserveHTTPRequest(http.MethodPost, "/api/fund-requests", http.StatusCreated, 20*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `regengine_fund_request_transitions_total{status="paid"} 1`))
	assert.True(t, strings.Contains(body, `regengine_http_requests_total{method="POST",route="/api/fund-requests",status="201"} 1`))
}
