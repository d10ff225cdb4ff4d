// Package metrics exposes Prometheus collectors for the harvester components.
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
	rateLimitDelaySeconds      *prometheus.HistogramVec
	cacheLookupsTotal          *prometheus.CounterVec
	fetchesTotal               *prometheus.CounterVec
	renderTotal                *prometheus.CounterVec
	pagesTotal                 *prometheus.CounterVec
	imagesTotal                *prometheus.CounterVec
	activeSites                prometheus.Gauge
	dedupRegistrySize          prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delay_seconds",
				Help:    "Time spent waiting for a per-domain rate limit grant.",
				Buckets: []float64{0.01, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_cache_lookups_total",
				Help: "Response cache lookups partitioned by result.",
			},
			[]string{"result"},
		)

		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetches_total",
				Help: "Network fetches partitioned by domain and outcome.",
			},
			[]string{"domain", "outcome"},
		)

		renderTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_render_total",
				Help: "Headless render attempts partitioned by result.",
			},
			[]string{"result"},
		)

		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_pages_total",
				Help: "Visited pages partitioned by site and verdict.",
			},
			[]string{"site", "verdict"},
		)

		imagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_images_total",
				Help: "Image downloads partitioned by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		activeSites = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_sites",
				Help: "Number of site workers currently running.",
			},
		)

		dedupRegistrySize = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_dedup_registry_size",
				Help: "Number of content digests registered for the run.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of status API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of status API latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL or bare host.
// It returns "unknown" if the input is invalid.
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
	return promhttp.Handler()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	if rateLimitDelaySeconds == nil {
		return
	}
	rateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveCacheLookup counts a response cache hit or miss.
func ObserveCacheLookup(hit bool) {
	if cacheLookupsTotal == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveFetch counts a completed network fetch for rawURL.
func ObserveFetch(rawURL, outcome string) {
	if fetchesTotal == nil {
		return
	}
	fetchesTotal.WithLabelValues(SanitizeSite(rawURL), outcome).Inc()
}

// ObserveRender counts a headless render attempt.
func ObserveRender(ok bool) {
	if renderTotal == nil {
		return
	}
	result := "error"
	if ok {
		result = "success"
	}
	renderTotal.WithLabelValues(result).Inc()
}

// ObservePage counts a visited page.
func ObservePage(site, verdict string) {
	if pagesTotal == nil {
		return
	}
	pagesTotal.WithLabelValues(site, verdict).Inc()
}

// ObserveImage counts a finished image download.
func ObserveImage(site, outcome string) {
	if imagesTotal == nil {
		return
	}
	imagesTotal.WithLabelValues(site, outcome).Inc()
}

// IncActiveSites increments the active site gauge.
func IncActiveSites() {
	if activeSites != nil {
		activeSites.Inc()
	}
}

// DecActiveSites decrements the active site gauge.
func DecActiveSites() {
	if activeSites != nil {
		activeSites.Dec()
	}
}

// SetDedupRegistrySize reports the number of registered digests.
func SetDedupRegistrySize(n int) {
	if dedupRegistrySize != nil {
		dedupRegistrySize.Set(float64(n))
	}
}

// ObserveHTTPRequest increments the status API request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
