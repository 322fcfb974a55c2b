// Package metrics holds the Prometheus collectors of the auth server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups all collectors. Build it once per registry with New.
type Metrics struct {
	OTPSent              prometheus.Counter
	OTPRateLimited       prometheus.Counter
	OTPVerifyFailed      prometheus.Counter
	RefreshRotated       prometheus.Counter
	RefreshReuseDetected prometheus.Counter
	SMSDeliveryFailed    *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OTPSent: f.NewCounter(prometheus.CounterOpts{
			Name: "otp_sent_total",
			Help: "Total number of one-time codes issued",
		}),
		OTPRateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "otp_rate_limited_total",
			Help: "Total number of send-otp requests refused by the rate limiter",
		}),
		OTPVerifyFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "otp_verify_failed_total",
			Help: "Total number of failed one-time code verifications",
		}),
		RefreshRotated: f.NewCounter(prometheus.CounterOpts{
			Name: "refresh_rotated_total",
			Help: "Total number of successful refresh token rotations",
		}),
		RefreshReuseDetected: f.NewCounter(prometheus.CounterOpts{
			Name: "refresh_reuse_detected_total",
			Help: "Total number of revoked refresh tokens presented again",
		}),
		SMSDeliveryFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sms_delivery_failed_total",
			Help: "Total number of one-time code deliveries that failed or were dropped",
		}, []string{"reason"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// statusRecorder captures the response status.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and latency labelled by the chi route
// pattern, so path parameters do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		path := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		m.httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(rw.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
