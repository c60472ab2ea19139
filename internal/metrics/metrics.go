// Package metrics holds the Prometheus collectors for generation, chat
// and batch activity. A nil *Metrics is valid and records nothing.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "metisctl"

type Metrics struct {
	submissions *prometheus.CounterVec
	polls       prometheus.Counter
	outcomes    *prometheus.CounterVec
	chat        *prometheus.CounterVec
	batches     *prometheus.CounterVec
}

// New registers the collectors on reg. Use a fresh registry per process
// (or per test) to avoid duplicate registration.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "submissions_total",
			Help:      "Generation tasks submitted to the gateway.",
		}, []string{"provider", "model", "operation"}),
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "polls_total",
			Help:      "Status fetches issued while waiting for generation tasks.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "outcomes_total",
			Help:      "How generation runs ended: submitted, terminal or timed_out.",
		}, []string{"state"}),
		chat: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "messages_total",
			Help:      "Chat messages sent, by message type and whether a session was created.",
		}, []string{"type", "session"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "runs_total",
			Help:      "Batch runs by result.",
		}, []string{"result"}),
	}
	for _, c := range []prometheus.Collector{m.submissions, m.polls, m.outcomes, m.chat, m.batches} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) Submission(provider, model, operation string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(provider, model, operation).Inc()
}

func (m *Metrics) Poll() {
	if m == nil {
		return
	}
	m.polls.Inc()
}

func (m *Metrics) Outcome(state string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(state).Inc()
}

func (m *Metrics) ChatMessage(msgType string, newSession bool) {
	if m == nil {
		return
	}
	session := "reused"
	if newSession {
		session = "new"
	}
	m.chat.WithLabelValues(msgType, session).Inc()
}

func (m *Metrics) BatchRun(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.batches.WithLabelValues(result).Inc()
}

// WriteTextfile dumps everything g gathers to path in the text exposition
// format, for node_exporter's textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
