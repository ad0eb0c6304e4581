package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evidentry/evidentry/pkg/contracts"
)

// Metrics exposes the ledger core's Prometheus instruments. It satisfies the
// metrics hooks of the ledger, verifier and workflow engine.
type Metrics struct {
	eventsAppended     *prometheus.CounterVec
	appendsRejected    *prometheus.CounterVec
	chainsVerified     *prometheus.CounterVec
	invalidChainEvents *prometheus.CounterVec
	workflowsExecuted  *prometheus.CounterVec
}

// NewMetrics registers the instruments on the given registry
// (prometheus.DefaultRegisterer when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		eventsAppended: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "evidentry_events_appended_total",
			Help: "Events appended to the ledger.",
		}, []string{"tenant_id", "event_type"}),
		appendsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "evidentry_appends_rejected_total",
			Help: "Appends rejected by validation, keyed by rejection kind.",
		}, []string{"tenant_id", "kind"}),
		chainsVerified: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "evidentry_chain_events_verified_total",
			Help: "Events checked during chain verification.",
		}, []string{"tenant_id"}),
		invalidChainEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "evidentry_chain_events_invalid_total",
			Help: "Events found invalid during chain verification.",
		}, []string{"tenant_id"}),
		workflowsExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "evidentry_workflow_executions_total",
			Help: "Workflow executions by terminal status.",
		}, []string{"tenant_id", "status"}),
	}
}

func (m *Metrics) EventAppended(tenantID, eventType string) {
	m.eventsAppended.WithLabelValues(tenantID, eventType).Inc()
}

func (m *Metrics) AppendRejected(tenantID, kind string) {
	m.appendsRejected.WithLabelValues(tenantID, kind).Inc()
}

func (m *Metrics) ChainVerified(tenantID string, total, invalid int) {
	m.chainsVerified.WithLabelValues(tenantID).Add(float64(total))
	m.invalidChainEvents.WithLabelValues(tenantID).Add(float64(invalid))
}

func (m *Metrics) WorkflowExecuted(tenantID string, status contracts.ExecutionStatus) {
	m.workflowsExecuted.WithLabelValues(tenantID, string(status)).Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
