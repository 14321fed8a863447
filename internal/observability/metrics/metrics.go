package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics exposes counters/histograms for the telephony webhooks.
type WebhookMetrics struct {
	inboundTotal   *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	m := &WebhookMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradecall",
			Subsystem: "webhooks",
			Name:      "inbound_total",
			Help:      "Total inbound telephony webhooks",
		}, []string{"event_type", "status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tradecall",
			Subsystem: "webhooks",
			Name:      "latency_seconds",
			Help:      "Latency of webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.webhookLatency)
	return m
}

func (m *WebhookMetrics) ObserveInbound(eventType, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(eventType, status).Inc()
}

func (m *WebhookMetrics) ObserveLatency(eventType string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(eventType).Observe(seconds)
}

// ConversationMetrics tracks intake/chat flow outcomes.
type ConversationMetrics struct {
	startedTotal   *prometheus.CounterVec
	completedTotal *prometheus.CounterVec
	adviceTotal    *prometheus.CounterVec
	outboundTotal  *prometheus.CounterVec
}

func NewConversationMetrics(reg prometheus.Registerer) *ConversationMetrics {
	m := &ConversationMetrics{
		startedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradecall",
			Subsystem: "conversation",
			Name:      "started_total",
			Help:      "Conversations started per tenant",
		}, []string{"tenant"}),
		completedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradecall",
			Subsystem: "conversation",
			Name:      "ended_total",
			Help:      "Conversations ended per tenant and outcome",
		}, []string{"tenant", "outcome"}),
		adviceTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradecall",
			Subsystem: "conversation",
			Name:      "advice_total",
			Help:      "Advice generation attempts",
		}, []string{"tenant", "status"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradecall",
			Subsystem: "conversation",
			Name:      "outbound_total",
			Help:      "Outbound deliveries by kind",
		}, []string{"kind", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.startedTotal, m.completedTotal, m.adviceTotal, m.outboundTotal)
	return m
}

func (m *ConversationMetrics) ObserveStarted(tenant string) {
	if m == nil {
		return
	}
	m.startedTotal.WithLabelValues(tenant).Inc()
}

func (m *ConversationMetrics) ObserveEnded(tenant, outcome string) {
	if m == nil {
		return
	}
	m.completedTotal.WithLabelValues(tenant, outcome).Inc()
}

func (m *ConversationMetrics) ObserveAdvice(tenant string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.adviceTotal.WithLabelValues(tenant, status).Inc()
}

func (m *ConversationMetrics) ObserveOutbound(kind, status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(kind, status).Inc()
}
