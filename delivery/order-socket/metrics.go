package ordersocket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "order_notifier",
		Subsystem: "socket",
		Name:      "connections",
		Help:      "Open order socket connections.",
	})

	joinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "order_notifier",
		Subsystem: "socket",
		Name:      "joins_total",
		Help:      "user-join attempts by result.",
	}, []string{"result"})

	emitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "order_notifier",
		Subsystem: "socket",
		Name:      "emits_total",
		Help:      "Frames queued to connections, by event.",
	}, []string{"event"})

	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "order_notifier",
		Subsystem: "socket",
		Name:      "dropped_connections_total",
		Help:      "Connections closed because their outbound queue was full or a write failed.",
	})
)
