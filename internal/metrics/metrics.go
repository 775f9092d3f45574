// Package metrics declares the Prometheus collectors of the chat service.
// They register on the default registry, which /metrics serves.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "messages_sent_total",
		Help:      "Messages persisted, by message type.",
	}, []string{"type"})

	SignalsRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "signals_relayed_total",
		Help:      "Call-signaling frames relayed, by kind.",
	}, []string{"kind"})

	// Fanout results: delivered, offline, failed.
	Fanout = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "fanout_total",
		Help:      "Pushes to live peers, by result.",
	}, []string{"result"})

	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chat",
		Name:      "active_connections",
		Help:      "Live connections registered in this process.",
	})

	Frames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "frames_total",
		Help:      "Inbound stream frames, by decoded event.",
	}, []string{"event"})
)
