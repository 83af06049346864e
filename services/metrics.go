package services

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService owns the Prometheus registry and the instruments the
// processing services report into. All methods are nil-receiver safe so
// metrics stay optional in tests.
type MetricsService struct {
	registry *prometheus.Registry

	tickTotal      prometheus.Counter
	tickDuration   prometheus.Histogram
	intentsScanned prometheus.Counter
	intentsExpired prometheus.Counter

	scanOutcomes         *prometheus.CounterVec
	detectionsCommitted  *prometheus.CounterVec
	transactionsFinal    prometheus.Counter
	withdrawalExecutions *prometheus.CounterVec
	statsReconciled      prometheus.Counter
}

// NewMetricsService creates the registry and registers every instrument
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	m := &MetricsService{
		registry: registry,
		tickTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "escrow_watch_ticks_total",
			Help: "Total number of intent watch ticks",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "escrow_watch_tick_duration_seconds",
			Help:    "Duration of intent watch ticks",
			Buckets: prometheus.DefBuckets,
		}),
		intentsScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "escrow_intents_scanned_total",
			Help: "Total number of intents scanned across all ticks",
		}),
		intentsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "escrow_intents_expired_total",
			Help: "Total number of intents expired by the watcher",
		}),
		scanOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_scan_outcomes_total",
			Help: "Scan outcomes per network",
		}, []string{"network", "outcome"}),
		detectionsCommitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_detections_committed_total",
			Help: "Detections committed per network",
		}, []string{"network"}),
		transactionsFinal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "escrow_transactions_confirmed_total",
			Help: "Chain transactions that reached their confirmation threshold",
		}),
		withdrawalExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_withdrawal_executions_total",
			Help: "Withdrawal execution attempts by result",
		}, []string{"result"}),
		statsReconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "escrow_stats_reconcile_runs_total",
			Help: "Total number of stats reconciler runs",
		}),
	}

	registry.MustRegister(
		m.tickTotal,
		m.tickDuration,
		m.intentsScanned,
		m.intentsExpired,
		m.scanOutcomes,
		m.detectionsCommitted,
		m.transactionsFinal,
		m.withdrawalExecutions,
		m.statsReconciled,
	)

	return m
}

// ObserveTick records one completed watch tick
func (m *MetricsService) ObserveTick(duration time.Duration) {
	if m == nil {
		return
	}
	m.tickTotal.Inc()
	m.tickDuration.Observe(duration.Seconds())
}

// AddIntentsScanned records how many intents a tick picked up
func (m *MetricsService) AddIntentsScanned(count int) {
	if m == nil {
		return
	}
	m.intentsScanned.Add(float64(count))
}

// IncIntentExpired records one expired intent
func (m *MetricsService) IncIntentExpired() {
	if m == nil {
		return
	}
	m.intentsExpired.Inc()
}

// IncScanOutcome records one scan pass outcome for a network
func (m *MetricsService) IncScanOutcome(network, outcome string) {
	if m == nil {
		return
	}
	m.scanOutcomes.WithLabelValues(network, outcome).Inc()
}

// IncDetectionCommitted records one committed detection
func (m *MetricsService) IncDetectionCommitted(network string) {
	if m == nil {
		return
	}
	m.detectionsCommitted.WithLabelValues(network).Inc()
}

// IncTransactionConfirmed records one finalized chain transaction
func (m *MetricsService) IncTransactionConfirmed() {
	if m == nil {
		return
	}
	m.transactionsFinal.Inc()
}

// IncWithdrawalExecution records one execution attempt by result
// ("executed", "failed", "cap_exceeded")
func (m *MetricsService) IncWithdrawalExecution(result string) {
	if m == nil {
		return
	}
	m.withdrawalExecutions.WithLabelValues(result).Inc()
}

// IncStatsReconcileRun records one reconciler run
func (m *MetricsService) IncStatsReconcileRun() {
	if m == nil {
		return
	}
	m.statsReconciled.Inc()
}

// Handler returns the Prometheus exposition handler for the registry
func (m *MetricsService) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
