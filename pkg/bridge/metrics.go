package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports transfer progress as prometheus counters
type Metrics struct {
	transitions *prometheus.CounterVec
	failures    *prometheus.CounterVec
	retries     *prometheus.CounterVec
	completed   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cctp_bridge",
			Name:      "stage_transitions_total",
			Help:      "Transfer stages entered, by route and stage.",
		}, []string{"route", "stage"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cctp_bridge",
			Name:      "transfer_failures_total",
			Help:      "Terminal transfer failures, by failed stage and error kind.",
		}, []string{"stage", "kind"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cctp_bridge",
			Name:      "retries_total",
			Help:      "Polling and submission retries, by stage.",
		}, []string{"stage"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cctp_bridge",
			Name:      "transfers_completed_total",
			Help:      "Transfers that reached mint confirmation, by route.",
		}, []string{"route"}),
	}
	if reg != nil {
		reg.MustRegister(m.transitions, m.failures, m.retries, m.completed)
	}
	return m
}

// OnEvent implements Listener
func (m *Metrics) OnEvent(e Event) {
	switch e.Type {
	case EventStageEntered:
		m.transitions.WithLabelValues(e.Route(), string(e.Stage)).Inc()
	case EventRetry:
		m.retries.WithLabelValues(string(e.Stage)).Inc()
	case EventFailed:
		m.failures.WithLabelValues(string(e.Stage), string(e.Kind)).Inc()
	case EventCompleted:
		m.completed.WithLabelValues(e.Route()).Inc()
	}
}
