// Package metrics exposes Prometheus instrumentation for mgxhub's daemon,
// grounded in the teacher's internal/metrics package. Every metric below is
// registered by promauto when the package is imported; IngestQueueDepth and
// RatingRunDuration are registered but nothing updates them. Handler mounts
// the scrape endpoint.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mgxhub_http_requests_total",
	Help: "Total HTTP requests handled by the read API.",
}, []string{"method", "path", "status"})

var HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "mgxhub_http_request_duration_seconds",
	Help:    "HTTP request latency in seconds.",
	Buckets: prometheus.DefBuckets,
}, []string{"method", "path"})

var GamesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mgxhub_games_ingested_total",
	Help: "Games processed by the record pipeline, by outcome status.",
}, []string{"status"})

var IngestQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "mgxhub_ingest_queue_depth",
	Help: "Current number of paths waiting in the ingest queue.",
})

var ArchiveExtractions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mgxhub_archive_extractions_total",
	Help: "Archive extraction attempts by format and outcome.",
}, []string{"format", "result"})

var RatingRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "mgxhub_rating_run_duration_seconds",
	Help:    "Wall-clock duration of a full ELO rating pass.",
	Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
})

var AuthEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mgxhub_auth_events_total",
	Help: "Authentication attempts by result.",
}, []string{"result"})

func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency per (method, templated path).
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		dur := time.Since(start).Seconds()
		path := sanitizePath(r.URL.Path)
		status := strconv.Itoa(rw.status)
		HTTPRequests.WithLabelValues(r.Method, path, status).Inc()
		HTTPDuration.WithLabelValues(r.Method, path).Observe(dur)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func sanitizePath(path string) string {
	if len(path) > 64 {
		return path[:64] + "..."
	}
	return path
}
