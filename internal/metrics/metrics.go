// Package metrics exposes Prometheus collectors for the snapshot pipeline.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal          *prometheus.CounterVec
	fetchDurationSeconds  *prometheus.HistogramVec
	cacheOpsTotal         *prometheus.CounterVec
	rateLimitDelaySeconds prometheus.Histogram
	inFlightFetches       prometheus.Gauge
	reviewItemsTotal      prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "specwatch_fetches_total",
				Help: "Total fetches, labeled by retrieval method and outcome.",
			},
			[]string{"method", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "specwatch_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by retrieval method.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method"},
		)

		cacheOpsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "specwatch_cache_ops_total",
				Help: "Total cache operations, labeled by op and result.",
			},
			[]string{"op", "result"},
		)

		rateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "specwatch_rate_limit_delay_seconds",
				Help:    "Time callers spent waiting on the global rate limiter.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60},
			},
		)

		inFlightFetches = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "specwatch_in_flight_fetches",
				Help: "Number of fetches currently holding a concurrency slot.",
			},
		)

		reviewItemsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "specwatch_review_items_total",
				Help: "Total review items published to the verification queue.",
			},
		)
	})
}

// ObserveFetch records a completed fetch attempt.
func ObserveFetch(method string, success bool, d time.Duration) {
	if fetchesTotal == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	fetchesTotal.WithLabelValues(method, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(method).Observe(d.Seconds())
}

// ObserveCacheOp records one cache operation result.
func ObserveCacheOp(op, result string) {
	if cacheOpsTotal == nil {
		return
	}
	cacheOpsTotal.WithLabelValues(op, result).Inc()
}

// ObserveRateLimitDelay records time spent queued behind the limiter.
func ObserveRateLimitDelay(d time.Duration) {
	if rateLimitDelaySeconds == nil {
		return
	}
	rateLimitDelaySeconds.Observe(d.Seconds())
}

// FetchStarted marks a concurrency slot as taken.
func FetchStarted() {
	if inFlightFetches != nil {
		inFlightFetches.Inc()
	}
}

// FetchFinished releases the in-flight gauge.
func FetchFinished() {
	if inFlightFetches != nil {
		inFlightFetches.Dec()
	}
}

// ReviewItemPublished counts one published review item.
func ReviewItemPublished() {
	if reviewItemsTotal != nil {
		reviewItemsTotal.Inc()
	}
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
