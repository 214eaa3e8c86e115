package vault

import (
	"github.com/prometheus/client_golang/prometheus"

	verrors "github.com/adalundhe/vaultd/core/errors"
)

// Metrics counts vault operations by outcome. All methods are nil-safe so
// components constructed without a registry skip instrumentation entirely.
type Metrics struct {
	operations *prometheus.CounterVec
	broadcasts prometheus.Counter
}

// NewMetrics registers the vault collectors on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultd_vault_operations_total",
			Help: "Vault operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vaultd_notify_refreshes_total",
			Help: "Listing refreshes driven by the change notifier.",
		}),
	}

	reg.MustRegister(m.operations, m.broadcasts)
	return m
}

// observe records one operation outcome. The outcome label is "ok" or the
// error kind, so dashboards can split conflicts from real failures.
func (m *Metrics) observe(operation string, err error) {
	if m == nil {
		return
	}

	outcome := "ok"
	if err != nil {
		outcome = verrors.KindOf(err).String()
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// observeRefresh records one notifier-driven refresh.
func (m *Metrics) observeRefresh() {
	if m == nil {
		return
	}
	m.broadcasts.Inc()
}
