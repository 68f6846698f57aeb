// Package metrics constructs the metrics the application will track.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ardanlabs/coopledger/foundation/blockchain/database"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coopledger"

// Metrics holds the set of collectors the service updates. Each value owns
// its own registry so more than one can exist in a process.
type Metrics struct {
	registry *prometheus.Registry

	requests   *prometheus.CounterVec
	errors     prometheus.Counter
	panics     prometheus.Counter
	duration   *prometheus.HistogramVec
	submitted  prometheus.Counter
	sealed     prometheus.Counter
	sealedTxs  prometheus.Counter
	sealTime   prometheus.Histogram
	retries    prometheus.Counter
	height     prometheus.Gauge
	validation *prometheus.CounterVec
	healthy    prometheus.Gauge
}

// New constructs and registers the set of collectors.
func New() *Metrics {
	m := Metrics{
		registry: prometheus.NewRegistry(),

		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of API requests",
		}, []string{"method", "status"}),

		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "errors_total",
			Help:      "Total number of API requests that failed",
		}),

		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "panics_total",
			Help:      "Total number of recovered handler panics",
		}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "API request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"method"}),

		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "transactions_submitted_total",
			Help:      "Total number of transactions recorded as pending",
		}),

		sealed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "blocks_sealed_total",
			Help:      "Total number of blocks appended to the ledger",
		}),

		sealedTxs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "transactions_confirmed_total",
			Help:      "Total number of transactions confirmed in a block",
		}),

		sealTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "seal_duration_seconds",
			Help:      "Duration of the proof of work search for a block",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),

		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "seal_retries_total",
			Help:      "Total number of seals repeated because the head moved",
		}),

		height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "height",
			Help:      "Number of blocks in the ledger",
		}),

		validation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "validations_total",
			Help:      "Total number of ledger validations by result",
		}, []string{"result"}),

		healthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "healthy",
			Help:      "Whether the last ledger validation passed (1=yes, 0=no)",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.errors,
		m.panics,
		m.duration,
		m.submitted,
		m.sealed,
		m.sealedTxs,
		m.sealTime,
		m.retries,
		m.height,
		m.validation,
		m.healthy,
	)

	return &m
}

// Handler returns the http handler that exposes the collectors.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// =============================================================================
// These methods are used by the web middleware.

// Request records a completed request.
func (m *Metrics) Request(method string, status int, took time.Duration) {
	m.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method).Observe(took.Seconds())
}

// Error records a request that failed.
func (m *Metrics) Error() {
	m.errors.Inc()
}

// Panic records a recovered panic.
func (m *Metrics) Panic() {
	m.panics.Inc()
}

// =============================================================================
// These methods implement the state.Metrics interface.

// LedgerLoaded records the height of the ledger found in storage at startup.
func (m *Metrics) LedgerLoaded(height uint64) {
	m.height.Set(float64(height))
}

// TxSubmitted records a newly pending transaction.
func (m *Metrics) TxSubmitted() {
	m.submitted.Inc()
}

// BlockSealed records a block appended to the ledger.
func (m *Metrics) BlockSealed(block database.Block, took time.Duration) {
	m.sealed.Inc()
	m.sealedTxs.Add(float64(len(block.TxIDs)))
	m.sealTime.Observe(took.Seconds())
	m.height.Set(float64(block.Header.Number + 1))
}

// SealRetried records a seal repeated against a new head.
func (m *Metrics) SealRetried() {
	m.retries.Inc()
}

// ChainValidated records the outcome of a ledger validation.
func (m *Metrics) ChainValidated(report database.Report) {
	if report.Valid {
		m.validation.WithLabelValues("valid").Inc()
		m.healthy.Set(1)
		return
	}

	m.validation.WithLabelValues("violation").Inc()
	m.healthy.Set(0)
}
