// Package metrics exposes the bridge's prometheus collectors. They are
// registered on the default registry and served by the loopback listener.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tgbridge"

var (
	InboundEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_events_total",
			Help:      "Inbound chat events by kind.",
		},
		[]string{"kind"},
	)

	Denied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorization_denied_total",
			Help:      "Messages dropped by authorization, by scope (dm, group, sender, flood).",
		},
		[]string{"scope"},
	)

	AgentForwards = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_forwards_total",
			Help:      "Agent bridge invocations by outcome (delivered, rejected, failed).",
		},
		[]string{"outcome"},
	)

	ChunksSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_chunks_total",
			Help:      "Text chunks delivered to Telegram.",
		},
	)

	SendRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_retries_total",
			Help:      "Outbound retries by reason (rate_limit, reply_missing).",
		},
		[]string{"reason"},
	)

	TypingSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "typing_sessions_active",
			Help:      "Typing indicator sessions waiting for a reply.",
		},
	)

	RecordedOutgoing = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recorded_outgoing_total",
			Help:      "Bot replies recorded into history through the loopback listener.",
		},
	)
)

func init() {
	prometheus.MustRegister(InboundEvents)
	prometheus.MustRegister(Denied)
	prometheus.MustRegister(AgentForwards)
	prometheus.MustRegister(ChunksSent)
	prometheus.MustRegister(SendRetries)
	prometheus.MustRegister(TypingSessions)
	prometheus.MustRegister(RecordedOutgoing)
}

// Handler serves the default registry in the prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
