// Package metrics exposes Prometheus HTTP metrics for the wishlist service.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mw_http_requests_total",
			Help: "Total HTTP requests handled by the wishlist service.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mw_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// RateLimited counts requests rejected by a limiter, by limiter name.
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mw_rate_limited_total",
			Help: "Requests rejected by rate limiting.",
		},
		[]string{"limiter"},
	)

	// CatalogRequests counts upstream catalog lookups by outcome.
	CatalogRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mw_catalog_requests_total",
			Help: "Catalog search calls by outcome.",
		},
		[]string{"outcome"},
	)
)

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency per normalized route.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := NormalizePath(r.URL.Path)
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// NormalizePath collapses wish ids and frontend routes so labels stay bounded.
func NormalizePath(path string) string {
	switch path {
	case "/healthz", "/metrics",
		"/api/users/login", "/api/admin/login",
		"/api/wishes", "/api/wishes/me", "/api/search-tmdb",
		"/api/admin/wishes", "/api/admin/admins", "/api/admin/users", "/api/admin/stats":
		return path
	}
	const wishPrefix = "/api/admin/wishes/"
	if strings.HasPrefix(path, wishPrefix) {
		return wishPrefix + "{id}"
	}
	if strings.HasPrefix(path, "/api/") {
		return "/api/other"
	}
	return "/app"
}
