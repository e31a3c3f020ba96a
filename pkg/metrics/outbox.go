package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics tracks publisher outcomes per event type.
type OutboxMetrics struct {
	published *prometheus.CounterVec
	failed    *prometheus.CounterVec
	terminal  *prometheus.CounterVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_published_total",
		Help: "Outbox events delivered to Pub/Sub.",
	}, []string{"event_type"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_publish_failures_total",
		Help: "Transient publish failures that will be retried.",
	}, []string{"event_type"})
	terminal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_dead_lettered_total",
		Help: "Outbox events moved to the DLQ.",
	}, []string{"event_type", "reason"})
	reg.MustRegister(published, failed, terminal)
	return &OutboxMetrics{published: published, failed: failed, terminal: terminal}
}

func (m *OutboxMetrics) IncPublished(eventType string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *OutboxMetrics) IncFailed(eventType string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *OutboxMetrics) IncTerminal(eventType, reason string) {
	if m == nil || m.terminal == nil {
		return
	}
	m.terminal.WithLabelValues(normalizeLabel(eventType), normalizeLabel(reason)).Inc()
}

// DeadLetterGauge exposes the current dead-letter backlog per reason.
type DeadLetterGauge struct {
	pending *prometheus.GaugeVec
}

func NewDeadLetterGauge(reg prometheus.Registerer) *DeadLetterGauge {
	if reg == nil {
		return &DeadLetterGauge{}
	}
	pending := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "outbox_dead_letters",
		Help: "Rows currently held in the outbox dead-letter table.",
	}, []string{"reason"})
	reg.MustRegister(pending)
	return &DeadLetterGauge{pending: pending}
}

func (g *DeadLetterGauge) SetDeadLetters(reason string, count float64) {
	if g == nil || g.pending == nil {
		return
	}
	g.pending.WithLabelValues(normalizeLabel(reason)).Set(count)
}
