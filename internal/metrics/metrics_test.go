package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.OTPSent.Inc()
	m.OTPRateLimited.Inc()
	m.OTPVerifyFailed.Inc()
	m.RefreshRotated.Inc()
	m.RefreshReuseDetected.Inc()
	m.SMSDeliveryFailed.WithLabelValues("queue_full").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, fam := range families {
		names[fam.GetName()] = true
	}
	for _, name := range []string{
		"otp_sent_total",
		"otp_rate_limited_total",
		"otp_verify_failed_total",
		"refresh_rotated_total",
		"refresh_reuse_detected_total",
		"sms_delivery_failed_total",
	} {
		assert.True(t, names[name], "expected metric %q to be registered", name)
	}
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	m := New(prometheus.NewRegistry())

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"a", "b", "c"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/users/"+id, nil))
		assert.Equal(t, http.StatusTeapot, rr.Code)
	}

	assert.Equal(t, float64(3), testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/users/{id}", "418")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.httpDuration))
}
