package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	registry *prometheus.Registry

	connections prometheus.Counter
	joins       prometheus.Counter
	messages    *prometheus.CounterVec
	signals     *prometheus.CounterVec
	malformed   prometheus.Counter
}

func newMetrics(peers *Registry) *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &metrics{
		registry: reg,
		connections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "nearsend",
			Subsystem: "relay",
			Name:      "connections_total",
			Help:      "Websocket connections accepted.",
		}),
		joins: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "nearsend",
			Subsystem: "relay",
			Name:      "joins_total",
			Help:      "Accepted join requests, including renames.",
		}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nearsend",
			Subsystem: "relay",
			Name:      "messages_received_total",
			Help:      "Decoded client messages by type.",
		}, []string{"type"}),
		signals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nearsend",
			Subsystem: "relay",
			Name:      "signals_total",
			Help:      "Signals by outcome.",
		}, []string{"outcome"}),
		malformed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "nearsend",
			Subsystem: "relay",
			Name:      "malformed_messages_total",
			Help:      "Client frames that could not be decoded.",
		}),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "nearsend",
		Subsystem: "relay",
		Name:      "peers_connected",
		Help:      "Currently connected websocket peers.",
	}, func() float64 {
		connected, _ := peers.Counts()
		return float64(connected)
	})
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "nearsend",
		Subsystem: "relay",
		Name:      "peers_joined",
		Help:      "Connected peers that have joined with a name.",
	}, func() float64 {
		_, joined := peers.Counts()
		return float64(joined)
	})

	return m
}
