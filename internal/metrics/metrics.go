// Package metrics exposes Prometheus collectors for the download service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal                  *prometheus.CounterVec
	retriesTotal               prometheus.Counter
	orphanSignalsTotal         prometheus.Counter
	activeDownloads            prometheus.Gauge
	queuedDownloads            prometheus.Gauge
	canonicalizationsTotal     *prometheus.CounterVec
	transferBytesTotal         *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediafetch_jobs_total",
				Help: "Job status transitions, labeled by the status entered.",
			},
			[]string{"status"},
		)

		retriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mediafetch_retries_total",
				Help: "Total number of scheduled retries.",
			},
		)

		orphanSignalsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mediafetch_orphan_signals_total",
				Help: "Transport signals that matched no known job.",
			},
		)

		activeDownloads = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mediafetch_active_downloads",
				Help: "Number of transfers currently holding a slot.",
			},
		)

		queuedDownloads = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mediafetch_queued_downloads",
				Help: "Number of jobs waiting for a slot.",
			},
		)

		canonicalizationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediafetch_canonicalizations_total",
				Help: "URL canonicalization outcomes, labeled by rule and result.",
			},
			[]string{"rule", "result"},
		)

		transferBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediafetch_transfer_bytes_total",
				Help: "Total bytes saved, labeled by site.",
			},
			[]string{"site"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mediafetch_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveJob increments the job counter for the status just entered.
func ObserveJob(status string) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
}

// ObserveRetry counts a scheduled retry.
func ObserveRetry() {
	Init()
	retriesTotal.Inc()
}

// ObserveOrphanSignal counts a completion signal with no matching job.
func ObserveOrphanSignal() {
	Init()
	orphanSignalsTotal.Inc()
}

// SetOccupancy publishes the governor's active and queued counts.
func SetOccupancy(active, queued int) {
	Init()
	activeDownloads.Set(float64(active))
	queuedDownloads.Set(float64(queued))
}

// ObserveCanonicalization records how a URL rewrite ended.
func ObserveCanonicalization(rule, result string) {
	Init()
	canonicalizationsTotal.WithLabelValues(rule, result).Inc()
}

// ObserveTransfer records bytes saved for a source URL.
func ObserveTransfer(rawURL string, n int64) {
	Init()
	if n > 0 {
		transferBytesTotal.WithLabelValues(SanitizeSite(rawURL)).Add(float64(n))
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
