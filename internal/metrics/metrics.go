// Package metrics exposes Prometheus collectors for collection runs and API traffic.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/lawdata-collector/internal/apiclient"
)

// Recorder owns every collector the collector process exports.
type Recorder struct {
	collected    *prometheus.CounterVec
	duplicates   *prometheus.CounterVec
	failures     *prometheus.CounterVec
	lastStarted  *prometheus.GaugeVec
	lastFinished *prometheus.GaugeVec

	apiRequests   *prometheus.CounterVec
	apiDuration   *prometheus.HistogramVec
	apiRetries    *prometheus.CounterVec
	rateLimitWait prometheus.Histogram

	now func() time.Time
}

// NewRecorder registers the collectors against the provided registry.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		collected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_records_collected_total",
			Help: "Records inserted for the first time, by job.",
		}, []string{"job"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_records_duplicate_total",
			Help: "Records that already existed and were updated in place, by job.",
		}, []string{"job"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_failures_total",
			Help: "Page and item failures, by job.",
		}, []string{"job"}),
		lastStarted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "collector_last_run_started_timestamp_seconds",
			Help: "Unix time the last run of a job started.",
		}, []string{"job"}),
		lastFinished: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "collector_last_run_finished_timestamp_seconds",
			Help: "Unix time the last run of a job finished.",
		}, []string{"job"}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_api_requests_total",
			Help: "Physical API requests, by endpoint and status code (0 when no response).",
		}, []string{"endpoint", "code"}),
		apiDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "collector_api_request_duration_seconds",
			Help:    "API request latency, by endpoint.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
		}, []string{"endpoint"}),
		apiRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_api_retries_total",
			Help: "API retries, by endpoint and error kind.",
		}, []string{"endpoint", "kind"}),
		rateLimitWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "collector_rate_limit_wait_seconds",
			Help:    "Time spent waiting for a rate limit token.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		now: time.Now,
	}
	for _, c := range []prometheus.Collector{
		r.collected,
		r.duplicates,
		r.failures,
		r.lastStarted,
		r.lastFinished,
		r.apiRequests,
		r.apiDuration,
		r.apiRetries,
		r.rateLimitWait,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector metric: %w", err)
		}
	}
	return r, nil
}

// RecordRunStart stamps the start time of a job run.
func (r *Recorder) RecordRunStart(job string) {
	r.lastStarted.WithLabelValues(job).Set(float64(r.now().Unix()))
}

// RecordRunEnd adds a finished run's counters and stamps its end time.
func (r *Recorder) RecordRunEnd(job string, collected, duplicates, failures int) {
	r.collected.WithLabelValues(job).Add(float64(collected))
	r.duplicates.WithLabelValues(job).Add(float64(duplicates))
	r.failures.WithLabelValues(job).Add(float64(failures))
	r.lastFinished.WithLabelValues(job).Set(float64(r.now().Unix()))
}

// ObserveRequest implements apiclient.Observer.
func (r *Recorder) ObserveRequest(endpoint string, code int, d time.Duration) {
	r.apiRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
	r.apiDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// ObserveRetry implements apiclient.Observer.
func (r *Recorder) ObserveRetry(endpoint string, kind apiclient.Kind) {
	r.apiRetries.WithLabelValues(endpoint, string(kind)).Inc()
}

// ObserveRateLimitWait implements apiclient.Observer.
func (r *Recorder) ObserveRateLimitWait(d time.Duration) {
	r.rateLimitWait.Observe(d.Seconds())
}

// Handler returns an http.Handler exposing the given registry.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
