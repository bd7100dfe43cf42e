// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Transition metrics
	TransitionsApplied  *prometheus.CounterVec
	TransitionsRejected *prometheus.CounterVec
	SubmitLatency       *prometheus.HistogramVec

	// Registry metrics
	DomainsCreated   prometheus.Counter
	KeychainsCreated prometheus.Counter
	KeychainsClosed  prometheus.Counter
	KeyOperations    *prometheus.CounterVec

	// Market metrics
	ListingsCreated  prometheus.Counter
	ListingsDelisted prometheus.Counter
	SalesRecorded    prometheus.Counter
	SaleVolume       *prometheus.CounterVec
	SaleFees         *prometheus.CounterVec

	// Gateway metrics
	HTTPRequestLatency *prometheus.HistogramVec
	WSClients          prometheus.Gauge
	EventsPublished    *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulSale prometheus.Gauge
	UptimeSeconds      prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "keychain"
	}

	return &Metrics{
		// Transition metrics
		TransitionsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "transitions_applied_total",
			Help:      "Total number of transitions applied by operation",
		}, []string{"operation"}),
		TransitionsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "transitions_rejected_total",
			Help:      "Total number of transitions rejected by operation and reason",
		}, []string{"operation", "reason"}),
		SubmitLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "submit_latency_seconds",
			Help:      "Transaction submit latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		// Registry metrics
		DomainsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "domains_created_total",
			Help:      "Total number of domains created",
		}),
		KeychainsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "keychains_created_total",
			Help:      "Total number of keychains created",
		}),
		KeychainsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "keychains_closed_total",
			Help:      "Total number of keychains dissolved after last key removal",
		}),
		KeyOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "key_operations_total",
			Help:      "Total number of keychain key operations by kind",
		}, []string{"kind"}),

		// Market metrics
		ListingsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "listings_created_total",
			Help:      "Total number of listings created",
		}),
		ListingsDelisted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "listings_delisted_total",
			Help:      "Total number of listings cancelled by their seller",
		}),
		SalesRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "sales_recorded_total",
			Help:      "Total number of settled sales",
		}),
		SaleVolume: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "sale_volume_total",
			Help:      "Total sale volume by currency, in base units",
		}, []string{"currency"}),
		SaleFees: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "sale_fees_total",
			Help:      "Total protocol fees collected by currency, in base units",
		}, []string{"currency"}),

		// Gateway metrics
		HTTPRequestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "http_request_latency_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		WSClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "ws_clients",
			Help:      "Current number of connected WebSocket subscribers",
		}),
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "events_published_total",
			Help:      "Total number of events published by type",
		}, []string{"type"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulSale: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_sale_timestamp",
			Help:      "Unix timestamp of the last settled sale",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordTransition records an applied transition and its latency.
func RecordTransition(operation string, seconds float64) {
	DefaultMetrics.TransitionsApplied.WithLabelValues(operation).Inc()
	DefaultMetrics.SubmitLatency.WithLabelValues(operation).Observe(seconds)
}

// RecordRejection records a rejected transition.
func RecordRejection(operation, reason string) {
	DefaultMetrics.TransitionsRejected.WithLabelValues(operation, reason).Inc()
}

// RecordSale records a settled sale.
func RecordSale(currency string, price, fee uint64, occurredAt int64) {
	DefaultMetrics.SalesRecorded.Inc()
	DefaultMetrics.SaleVolume.WithLabelValues(currency).Add(float64(price))
	DefaultMetrics.SaleFees.WithLabelValues(currency).Add(float64(fee))
	DefaultMetrics.LastSuccessfulSale.Set(float64(occurredAt))
}

// RecordKeyOperation records a keychain key operation: add, confirm, remove.
func RecordKeyOperation(kind string) {
	DefaultMetrics.KeyOperations.WithLabelValues(kind).Inc()
}

// RecordEventPublished records a published gateway event.
func RecordEventPublished(eventType string) {
	DefaultMetrics.EventsPublished.WithLabelValues(eventType).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
