// Package metrics exposes Prometheus collectors for the chaptermill service.
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
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	sourceFetchesTotal         *prometheus.CounterVec
	sourceBytesTotal           *prometheus.CounterVec
	stageFailuresTotal         *prometheus.CounterVec
	chapterDelaySeconds        prometheus.Histogram
	workerActive               prometheus.Gauge
	chaptersStored             prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
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

		sourceFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chaptermill_source_fetches_total",
				Help: "Total source page fetches, labeled by host and status code.",
			},
			[]string{"host", "code"},
		)

		sourceBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chaptermill_source_bytes_total",
				Help: "Total bytes downloaded from source hosts.",
			},
			[]string{"host"},
		)

		stageFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chaptermill_stage_failures_total",
				Help: "Pipeline failures labeled by the stage that aborted the run.",
			},
			[]string{"stage"},
		)

		chapterDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chaptermill_chapter_delay_seconds",
				Help:    "Histogram of politeness waits between chapters.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		workerActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "chaptermill_worker_active",
				Help: "Whether a pipeline worker is currently running (0 or 1).",
			},
		)

		chaptersStored = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "chaptermill_chapters_stored",
				Help: "Number of chapters currently persisted for the configured book.",
			},
		)
	})
}

// SanitizeHost sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
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
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveSourceFetch counts a source page fetch. A zero status code means the
// request never produced a response (DNS, dial, or timeout failure).
func ObserveSourceFetch(pageURL string, code int, bytesFetched int) {
	host := SanitizeHost(pageURL)
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	sourceFetchesTotal.WithLabelValues(host, label).Inc()
	if bytesFetched > 0 {
		sourceBytesTotal.WithLabelValues(host).Add(float64(bytesFetched))
	}
}

// ObserveStageFailure increments the failure counter for the given stage.
func ObserveStageFailure(stage string) {
	stageFailuresTotal.WithLabelValues(stage).Inc()
}

// ObserveChapterDelay records the duration of a politeness wait.
func ObserveChapterDelay(duration time.Duration) {
	chapterDelaySeconds.Observe(duration.Seconds())
}

// IncWorkerActive increments the active worker gauge.
func IncWorkerActive() {
	workerActive.Inc()
}

// DecWorkerActive decrements the active worker gauge.
func DecWorkerActive() {
	workerActive.Dec()
}

// SetChaptersStored records the current persisted chapter count.
func SetChaptersStored(n int) {
	chaptersStored.Set(float64(n))
}
