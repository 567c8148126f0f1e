package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector implements ledger.MetricsCollector on a dedicated
// registry so the metrics endpoint exposes only what this service owns.
type PrometheusCollector struct {
	registry *prometheus.Registry

	admissions   *prometheus.CounterVec
	transactions *prometheus.CounterVec
	amounts      *prometheus.CounterVec
	errors       *prometheus.CounterVec
	opLatency    *prometheus.HistogramVec
}

// NewPrometheusCollector creates the collector and registers its metrics,
// along with the standard Go runtime collectors.
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	pc := &PrometheusCollector{
		registry: prometheus.NewRegistry(),
		admissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "withdrawal_admissions_total",
				Help:      "Withdrawal admission decisions by result",
			},
			[]string{"result"},
		),
		transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_total",
				Help:      "Transactions recorded by type",
			},
			[]string{"type"},
		),
		amounts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transaction_amount_minor_units_total",
				Help:      "Cumulative transaction amount in minor units by type",
			},
			[]string{"type"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operation_errors_total",
				Help:      "Operation errors by operation and error type",
			},
			[]string{"operation", "error"},
		),
		opLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Latency of ledger operations",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
			},
			[]string{"operation"},
		),
	}

	pc.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		pc.admissions,
		pc.transactions,
		pc.amounts,
		pc.errors,
		pc.opLatency,
	)
	return pc
}

func (pc *PrometheusCollector) RecordAdmission(result string) {
	pc.admissions.WithLabelValues(result).Inc()
}

func (pc *PrometheusCollector) RecordTransaction(txType string, amount int64) {
	pc.transactions.WithLabelValues(txType).Inc()
	pc.amounts.WithLabelValues(txType).Add(float64(amount))
}

func (pc *PrometheusCollector) RecordOperationDuration(operation string, d time.Duration) {
	pc.opLatency.WithLabelValues(operation).Observe(d.Seconds())
}

func (pc *PrometheusCollector) RecordError(operation, errType string) {
	pc.errors.WithLabelValues(operation, errType).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (pc *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(pc.registry, promhttp.HandlerOpts{})
}
