package gate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts admission decisions and refresh outcomes.
type Metrics struct {
	decisions *prometheus.CounterVec
	refreshes *prometheus.CounterVec
	joined    prometheus.Counter
}

// NewMetrics registers the gate collectors on reg. A nil reg keeps the
// collectors unregistered, which is convenient in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "volunteerhub_gate_decisions_total",
				Help: "Admission decisions by outcome and reason",
			},
			[]string{"outcome", "reason"},
		),
		refreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "volunteerhub_gate_refresh_total",
				Help: "Token refresh calls by result",
			},
			[]string{"result"},
		),
		joined: factory.NewCounter(prometheus.CounterOpts{
			Name: "volunteerhub_gate_refresh_joined_total",
			Help: "Admission checks that awaited a refresh already in flight",
		}),
	}
}

func (m *Metrics) decision(d Decision) {
	if m == nil {
		return
	}
	outcome := "redirect"
	if d.Allowed {
		outcome = "allow"
	}
	m.decisions.WithLabelValues(outcome, string(d.Reason)).Inc()
}

func (m *Metrics) refresh(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) join() {
	if m == nil {
		return
	}
	m.joined.Inc()
}
