package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type shimMetrics struct {
	activeSessions  prometheus.Gauge
	sessionsCreated prometheus.Counter
	sessionsClosed  prometheus.Counter
	sessionsExpired prometheus.Counter

	sessionPutDuration prometheus.Histogram
	sessionGetDuration prometheus.Histogram

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *shimMetrics
)

func getMetrics() *shimMetrics {
	metricsOnce.Do(func() {
		m := &shimMetrics{
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "stateshim_active_sessions",
					Help: "Current number of live sessions in the registry.",
				},
			),
			sessionsCreated: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "stateshim_sessions_created_total",
					Help: "Total sessions created.",
				},
			),
			sessionsClosed: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "stateshim_sessions_closed_total",
					Help: "Total sessions closed explicitly.",
				},
			),
			sessionsExpired: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "stateshim_sessions_expired_total",
					Help: "Total sessions removed by TTL expiration.",
				},
			),
			sessionPutDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "stateshim_session_put_duration_seconds",
					Help:    "Duration of session value writes in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			sessionGetDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "stateshim_session_get_duration_seconds",
					Help:    "Duration of session value reads in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			requestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "stateshim_requests_total",
					Help: "Total HTTP requests by route and status.",
				},
				[]string{"route", "status"},
			),
			requestDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "stateshim_request_duration_seconds",
					Help:    "HTTP request duration in seconds by route.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"route"},
			),
		}

		registry.MustRegister(
			m.activeSessions,
			m.sessionsCreated,
			m.sessionsClosed,
			m.sessionsExpired,
			m.sessionPutDuration,
			m.sessionGetDuration,
			m.requestsTotal,
			m.requestDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

var registry = prometheus.NewRegistry()

// EnsureRegistered forces metric registration. Safe to call multiple times.
func EnsureRegistered() {
	getMetrics()
}

// SetActiveSessions sets the live-session gauge
func SetActiveSessions(n int) {
	getMetrics().activeSessions.Set(float64(n))
}

// SessionCreated increments the created-session counter
func SessionCreated() {
	getMetrics().sessionsCreated.Inc()
}

// SessionClosed increments the closed-session counter
func SessionClosed() {
	getMetrics().sessionsClosed.Inc()
}

// SessionsExpired adds to the expired-session counter
func SessionsExpired(n int) {
	if n > 0 {
		getMetrics().sessionsExpired.Add(float64(n))
	}
}

// RecordSessionPut records the duration of a session value write
func RecordSessionPut(d time.Duration) {
	getMetrics().sessionPutDuration.Observe(d.Seconds())
}

// RecordSessionGet records the duration of a session value read
func RecordSessionGet(d time.Duration) {
	getMetrics().sessionGetDuration.Observe(d.Seconds())
}

// RecordRequest records one served HTTP request
func RecordRequest(route, status string, d time.Duration) {
	m := getMetrics()
	m.requestsTotal.WithLabelValues(route, status).Inc()
	m.requestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// Handler returns an HTTP handler exposing the metrics registry
func Handler() http.Handler {
	EnsureRegistered()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
