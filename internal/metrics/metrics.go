package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mescon/desup/internal/domain"
	"github.com/mescon/desup/internal/eventbus"
	"github.com/mescon/desup/internal/logger"
)

// MetricsService exposes Prometheus metrics for the scan lifecycle. All
// metrics are fed from the event bus, so they stay consistent with the
// persisted event log.
type MetricsService struct {
	eventBus eventbus.Publisher

	scansTotal         *prometheus.CounterVec
	startFailures      *prometheus.CounterVec
	duplicatesResolved prometheus.Counter
	deletionFailures   prometheus.Counter
	recordsPruned      *prometheus.CounterVec
}

// NewMetricsService creates and registers Prometheus metrics on the default
// registry.
func NewMetricsService(eb eventbus.Publisher) *MetricsService {
	return newMetricsService(eb, prometheus.DefaultRegisterer)
}

func newMetricsService(eb eventbus.Publisher, reg prometheus.Registerer) *MetricsService {
	m := &MetricsService{
		eventBus: eb,

		scansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "desup_scans_total",
				Help: "Total number of scan requests by outcome",
			},
			[]string{"outcome"}, // requested, start_failed
		),

		startFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "desup_scan_start_failures_total",
				Help: "Total number of failed scan starts by failure stage",
			},
			[]string{"reason"}, // delegation, publish
		),

		duplicatesResolved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "desup_duplicates_resolved_total",
				Help: "Total number of duplicate groups fully resolved",
			},
		),

		deletionFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "desup_deletion_failures_total",
				Help: "Total number of resolutions with at least one failed delete",
			},
		),

		recordsPruned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "desup_records_pruned_total",
				Help: "Total number of records removed by retention maintenance",
			},
			[]string{"kind"}, // scans, events
		),
	}

	reg.MustRegister(
		m.scansTotal,
		m.startFailures,
		m.duplicatesResolved,
		m.deletionFailures,
		m.recordsPruned,
	)

	return m
}

// Start subscribes to lifecycle events and updates metrics.
func (m *MetricsService) Start() {
	m.eventBus.Subscribe(domain.ScanRequested, m.handleScanRequested)
	m.eventBus.Subscribe(domain.ScanStartFailed, m.handleScanStartFailed)
	m.eventBus.Subscribe(domain.DuplicateResolved, m.handleDuplicateResolved)
	m.eventBus.Subscribe(domain.DeletionFailed, m.handleDeletionFailed)
	m.eventBus.Subscribe(domain.ScansPruned, m.handleScansPruned)

	logger.Infof("Metrics service started")
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func (m *MetricsService) Handler() http.Handler {
	return promhttp.Handler()
}

func (m *MetricsService) handleScanRequested(event domain.Event) {
	m.scansTotal.WithLabelValues("requested").Inc()
}

func (m *MetricsService) handleScanStartFailed(event domain.Event) {
	m.scansTotal.WithLabelValues("start_failed").Inc()
	m.startFailures.WithLabelValues(event.GetStringOr("reason", "unknown")).Inc()
}

func (m *MetricsService) handleDuplicateResolved(event domain.Event) {
	m.duplicatesResolved.Inc()
}

func (m *MetricsService) handleDeletionFailed(event domain.Event) {
	m.deletionFailures.Inc()
}

func (m *MetricsService) handleScansPruned(event domain.Event) {
	m.recordsPruned.WithLabelValues("scans").Add(float64(event.GetInt64Or("scans_pruned", 0)))
	m.recordsPruned.WithLabelValues("events").Add(float64(event.GetInt64Or("events_pruned", 0)))
}
