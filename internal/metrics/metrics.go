// Package metrics exports pipeline and HTTP metrics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/pricesync/internal/core"
)

// Config labels every series.
type Config struct {
	Namespace   string
	ServiceName string
	Environment string
}

// Metrics implements core.Observer.
type Metrics struct {
	registry prometheus.Gatherer

	queueDepth    prometheus.Gauge
	activeWorkers prometheus.Gauge
	jobsFinished  *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	rows          *prometheus.CounterVec
	priceChanges  prometheus.Counter
	diagnostics   *prometheus.CounterVec
	adjustments   *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

var _ core.Observer = (*Metrics)(nil)

// New registers every collector on a fresh registry, along with the Go and
// process collectors.
func New(cfg Config) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return newMetrics(registry, registry, cfg)
}

func newMetrics(registerer prometheus.Registerer, gatherer prometheus.Gatherer, cfg Config) *Metrics {
	namespace := strings.TrimSpace(cfg.Namespace)
	if namespace == "" {
		namespace = "pricesync"
	}
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "pricesync"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &Metrics{
		registry: gatherer,
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "queue_depth",
			Help:        "Ingestion jobs waiting for a worker.",
			ConstLabels: constLabels,
		}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "active_workers",
			Help:        "Ingestion jobs currently running.",
			ConstLabels: constLabels,
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "jobs_finished_total",
			Help:        "Ingestion jobs reaching a terminal state.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "job_duration_seconds",
			Help:        "Wall-clock time from job start to terminal state.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
			ConstLabels: constLabels,
		}, []string{"status"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "rows_total",
			Help:        "Pricelist rows by reconciliation outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		priceChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "price_changes_total",
			Help:        "Price history entries opened by ingestion.",
			ConstLabels: constLabels,
		}),
		diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "diagnostics_total",
			Help:        "Retained row diagnostics by reason code.",
			ConstLabels: constLabels,
		}, []string{"code"}),
		adjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "stock_adjustments_total",
			Help:        "Manual stock adjustments by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "http_requests_total",
			Help:        "HTTP requests by route and status.",
			ConstLabels: constLabels,
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request latency by route.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}, []string{"method", "route"}),
	}

	registerer.MustRegister(
		m.queueDepth,
		m.activeWorkers,
		m.jobsFinished,
		m.jobDuration,
		m.rows,
		m.priceChanges,
		m.diagnostics,
		m.adjustments,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) QueueDepth(n int)    { m.queueDepth.Set(float64(n)) }
func (m *Metrics) ActiveWorkers(n int) { m.activeWorkers.Set(float64(n)) }

func (m *Metrics) JobFinished(status core.JobStatus, elapsed time.Duration) {
	m.jobsFinished.WithLabelValues(string(status)).Inc()
	m.jobDuration.WithLabelValues(string(status)).Observe(elapsed.Seconds())
}

func (m *Metrics) RowOutcomes(res *core.JobResult) {
	if res == nil {
		return
	}
	m.add("created", res.Created)
	m.add("updated", res.Updated)
	m.add("unchanged", res.Unchanged)
	m.add("skipped", res.Skipped)
	m.add("errored", res.Errored)
	m.priceChanges.Add(float64(res.PriceChanges))
	for _, d := range res.Diagnostics {
		m.diagnostics.WithLabelValues(string(d.Code)).Inc()
	}
}

func (m *Metrics) add(outcome string, n int) {
	if n > 0 {
		m.rows.WithLabelValues(outcome).Add(float64(n))
	}
}

// StockAdjusted counts an adjustment; an empty code is a success.
func (m *Metrics) StockAdjusted(code core.ReasonCode) {
	result := "applied"
	if code != "" {
		result = strings.ToLower(string(code))
	}
	m.adjustments.WithLabelValues(result).Inc()
}

// ObserveHTTP records one request. route should be the matched pattern, not
// the raw path, to keep cardinality low.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
