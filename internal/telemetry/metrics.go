// Package telemetry exposes Prometheus metrics for financial operations and
// the sync queue.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kasirinaja/terminal/internal/domain"
)

// Outcomes recorded on kasirinaja_operations_total.
const (
	OutcomeApplied  = "applied"
	OutcomeQueued   = "queued"
	OutcomeRejected = "rejected"
)

// Outcomes recorded on kasirinaja_reconcile_items_total.
const (
	ReconcileSynced    = "synced"
	ReconcileDuplicate = "duplicate"
	ReconcileRetry     = "retry"
	ReconcileFailed    = "failed"
)

// Metrics methods are safe to call on a nil receiver, which records nothing.
type Metrics struct {
	registry          *prometheus.Registry
	operations        *prometheus.CounterVec
	reconcileItems    *prometheus.CounterVec
	reconcileDuration prometheus.Histogram
	queueDepth        *prometheus.GaugeVec
	online            prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kasirinaja_operations_total",
			Help: "Void and refund requests by kind and outcome.",
		}, []string{"kind", "outcome"}),
		reconcileItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kasirinaja_reconcile_items_total",
			Help: "Queued items processed by the reconciler, by outcome.",
		}, []string{"outcome"}),
		reconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kasirinaja_reconcile_duration_seconds",
			Help:    "Duration of a full reconciliation pass.",
			Buckets: prometheus.DefBuckets,
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kasirinaja_sync_queue_depth",
			Help: "Items in the local sync queue by status.",
		}, []string{"status"}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kasirinaja_datastore_online",
			Help: "1 when the remote datastore answered the last probe.",
		}),
	}
	reg.MustRegister(
		m.operations,
		m.reconcileItems,
		m.reconcileDuration,
		m.queueDepth,
		m.online,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveOperation(kind domain.OperationKind, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(string(kind), outcome).Inc()
}

func (m *Metrics) ObserveReconcileItem(outcome string) {
	if m == nil {
		return
	}
	m.reconcileItems.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveReconcilePass(d time.Duration) {
	if m == nil {
		return
	}
	m.reconcileDuration.Observe(d.Seconds())
}

// SetQueueDepth reports every status, including those with no items.
func (m *Metrics) SetQueueDepth(depth map[domain.SyncStatus]int) {
	if m == nil {
		return
	}
	for _, status := range []domain.SyncStatus{domain.SyncPending, domain.SyncSyncing, domain.SyncFailed} {
		m.queueDepth.WithLabelValues(string(status)).Set(float64(depth[status]))
	}
}

func (m *Metrics) SetOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.online.Set(1)
		return
	}
	m.online.Set(0)
}
