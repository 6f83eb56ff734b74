// Package metrics provides Prometheus metrics for the drive lifecycle service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "drive_lifecycle"

// Metrics holds every collector exported by the service. A nil *Metrics is valid
// and records nothing, so components can treat metrics as optional.
type Metrics struct {
	registry *prometheus.Registry

	// Lifecycle
	Transitions    *prometheus.CounterVec // labels: entity, target
	CascadeFolders prometheus.Counter
	CascadeFiles   prometheus.Counter

	// Reclamation outbox
	ReclamationIntents   *prometheus.CounterVec // labels: kind, outcome
	ReclamationDrained   *prometheus.CounterVec // labels: kind
	ReclamationReclaimed *prometheus.CounterVec // labels: kind
	ReclamationFailures  *prometheus.CounterVec // labels: kind
	ReclamationRecords   *prometheus.GaugeVec   // labels: kind, state

	// Usage ledger
	RollupRows *prometheus.CounterVec // labels: type

	// Batch jobs
	BatchRows    *prometheus.CounterVec // labels: job
	BatchRetries *prometheus.CounterVec // labels: job
	BatchAborts  *prometheus.CounterVec // labels: job
}

// New registers all collectors on the provided registry. When registry is nil a
// fresh one is created with the standard Go and process collectors.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Applied lifecycle status transitions",
		}, []string{"entity", "target"}),
		CascadeFolders: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cascade_folders_total",
			Help:      "Descendant folders removed by cascades",
		}),
		CascadeFiles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cascade_files_total",
			Help:      "Files deleted by cascades",
		}),
		ReclamationIntents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reclamation_intents_total",
			Help:      "Reclamation intents written, by outcome (inserted or duplicate)",
		}, []string{"kind", "outcome"}),
		ReclamationDrained: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reclamation_drained_total",
			Help:      "Reclamation records handed to workers",
		}, []string{"kind"}),
		ReclamationReclaimed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reclamation_reclaimed_total",
			Help:      "Reclamation records marked processed",
		}, []string{"kind"}),
		ReclamationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reclamation_failures_total",
			Help:      "Blob deletions that failed and were left enqueued",
		}, []string{"kind"}),
		ReclamationRecords: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reclamation_records",
			Help:      "Reclamation records by state (pending, enqueued, processed)",
		}, []string{"kind", "state"}),
		RollupRows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollup_rows_total",
			Help:      "Ledger rows written by rollups",
		}, []string{"type"}),
		BatchRows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_rows_total",
			Help:      "Rows affected by batch jobs",
		}, []string{"job"}),
		BatchRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_retries_total",
			Help:      "Batch attempts retried after a transient failure",
		}, []string{"job"}),
		BatchAborts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_aborts_total",
			Help:      "Batch jobs aborted after exhausting retries",
		}, []string{"job"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTransition(entity, target string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(entity, target).Inc()
}

func (m *Metrics) ObserveCascade(folders, files int) {
	if m == nil {
		return
	}
	m.CascadeFolders.Add(float64(folders))
	m.CascadeFiles.Add(float64(files))
}

func (m *Metrics) ObserveIntent(kind string, duplicate bool) {
	if m == nil {
		return
	}
	outcome := "inserted"
	if duplicate {
		outcome = "duplicate"
	}
	m.ReclamationIntents.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveDrained(kind string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.ReclamationDrained.WithLabelValues(kind).Add(float64(count))
}

func (m *Metrics) ObserveReclaimed(kind string) {
	if m == nil {
		return
	}
	m.ReclamationReclaimed.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveReclaimFailure(kind string) {
	if m == nil {
		return
	}
	m.ReclamationFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetReclamationRecords(kind, state string, value int64) {
	if m == nil {
		return
	}
	m.ReclamationRecords.WithLabelValues(kind, state).Set(float64(value))
}

func (m *Metrics) ObserveRollup(ledgerType string, rows int64) {
	if m == nil || rows <= 0 {
		return
	}
	m.RollupRows.WithLabelValues(ledgerType).Add(float64(rows))
}

func (m *Metrics) ObserveBatch(job string, rows int64) {
	if m == nil || rows <= 0 {
		return
	}
	m.BatchRows.WithLabelValues(job).Add(float64(rows))
}

func (m *Metrics) ObserveBatchRetry(job string) {
	if m == nil {
		return
	}
	m.BatchRetries.WithLabelValues(job).Inc()
}

func (m *Metrics) ObserveBatchAbort(job string) {
	if m == nil {
		return
	}
	m.BatchAborts.WithLabelValues(job).Inc()
}
