// Package metrics collects Prometheus metrics and exposes them for scraping.
//
// Two kinds of numbers are kept:
//   - HTTP traffic, recorded by Middleware for every request
//   - business events (registrations, logins, cache lookups), recorded by the
//     services through the service.Recorder interface Collector implements
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector is the Prometheus-backed implementation of service.Recorder.
type Collector struct {
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	authEvents   *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics on reg.
// Tests pass a fresh prometheus.NewRegistry() to stay isolated.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "accounts_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_auth_events_total",
			Help: "Account events: register, login_success, login_failure, logout, password_change.",
		}, []string{"event"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_token_cache_lookups_total",
			Help: "Token cache lookups by result: hit, miss, tombstone, error.",
		}, []string{"result"}),
	}

	reg.MustRegister(c.httpRequests, c.httpDuration, c.authEvents, c.cacheLookups)
	return c
}

// AuthEvent counts one account event.
func (c *Collector) AuthEvent(event string) {
	c.authEvents.WithLabelValues(event).Inc()
}

// TokenCacheLookup counts one token cache lookup.
func (c *Collector) TokenCacheLookup(result string) {
	c.cacheLookups.WithLabelValues(result).Inc()
}

// statusRecorder captures the status code a handler wrote.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Middleware records count and latency of every request.
//
// ROUTE LABEL:
// The label is chi's route pattern ("/api/users/{id}"), not the raw path, so
// /api/users/1/ and /api/users/2/ share one series. Requests no route matched
// are grouped under "unmatched".
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}

		c.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		c.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler returns the HTTP handler Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
