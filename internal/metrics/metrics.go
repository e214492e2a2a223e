// Package metrics exposes Prometheus instruments for the hub.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wpphub"

// Metrics holds the hub's instruments. A nil *Metrics records nothing.
type Metrics struct {
	sends             *prometheus.CounterVec
	sendDuration      *prometheus.HistogramVec
	webhookDeliveries *prometheus.CounterVec
	webhookDuration   prometheus.Histogram
	cacheEvictions    prometheus.Counter
	reconnects        *prometheus.CounterVec
	pairings          *prometheus.CounterVec
}

// New creates the instruments and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "sends_total",
				Help:      "Outbound sends by payload kind and result.",
			},
			[]string{"kind", "result"},
		),
		sendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "send_duration_seconds",
				Help:      "Time until the protocol acknowledged a send.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		webhookDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "webhook",
				Name:      "deliveries_total",
				Help:      "Webhook POSTs by outcome.",
			},
			[]string{"success"},
		),
		webhookDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "webhook",
				Name:      "delivery_duration_seconds",
				Help:      "Webhook POST duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		cacheEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "evicted_messages_total",
				Help:      "Messages dropped from per-conversation history.",
			},
		),
		reconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "reconnects_total",
				Help:      "Reconnect attempts by outcome.",
			},
			[]string{"result"},
		),
		pairings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "pairings_total",
				Help:      "Pairing requests by outcome.",
			},
			[]string{"result"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.sends, m.sendDuration, m.webhookDeliveries, m.webhookDuration,
			m.cacheEvictions, m.reconnects, m.pairings)
	}
	return m
}

// RecordSend counts one dispatch attempt.
func (m *Metrics) RecordSend(kind, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(kind, result).Inc()
	if result == "ok" {
		m.sendDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

func (m *Metrics) RecordWebhook(success bool, d time.Duration) {
	if m == nil {
		return
	}
	label := "false"
	if success {
		label = "true"
	}
	m.webhookDeliveries.WithLabelValues(label).Inc()
	m.webhookDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordEvictions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cacheEvictions.Add(float64(n))
}

// RecordReconnect counts reconnect outcomes: scheduled, exhausted, failed.
func (m *Metrics) RecordReconnect(result string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(result).Inc()
}

// RecordPairing counts pairing outcomes: issued, timeout, failed.
func (m *Metrics) RecordPairing(result string) {
	if m == nil {
		return
	}
	m.pairings.WithLabelValues(result).Inc()
}
