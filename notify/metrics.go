package notify

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics turns notifications into Prometheus series.
type Metrics struct {
	Transitions *prometheus.CounterVec
	ChecksTotal *prometheus.CounterVec
	BreakerOpen *prometheus.GaugeVec
	Quarantined *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_sentinel_transitions_total",
			Help: "State transitions by notification kind",
		}, []string{"kind"}),
		ChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_sentinel_health_checks_total",
			Help: "Health checks by outcome status",
		}, []string{"status"}),
		BreakerOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bridge_sentinel_circuit_open",
			Help: "1 when the circuit breaker of a bridge is open",
		}, []string{"bridge"}),
		Quarantined: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bridge_sentinel_quarantined",
			Help: "1 when a bridge is quarantined",
		}, []string{"bridge"}),
	}
	reg.MustRegister(m.Transitions, m.ChecksTotal, m.BreakerOpen, m.Quarantined)
	return m
}

func (m *Metrics) Notify(n Notification) {
	m.Transitions.WithLabelValues(string(n.Kind)).Inc()

	bridge := n.BridgeID.Hex()
	switch n.Kind {
	case HealthChecked:
		m.ChecksTotal.WithLabelValues(n.Fields["status"]).Inc()
	case HealthCheckFailed:
		m.ChecksTotal.WithLabelValues("failed").Inc()
	case CircuitBreakerTripped:
		m.BreakerOpen.WithLabelValues(bridge).Set(1)
	case CircuitBreakerReset:
		m.BreakerOpen.WithLabelValues(bridge).Set(0)
	case BridgeQuarantined:
		m.Quarantined.WithLabelValues(bridge).Set(1)
	case BridgeReleased:
		m.Quarantined.WithLabelValues(bridge).Set(0)
	}
}
