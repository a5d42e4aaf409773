package impl

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	subscribersGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "order_notifier",
			Name:      "stream_subscribers",
			Help:      "Push-stream clients currently registered in the hub.",
		},
	)

	broadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "order_notifier",
			Name:      "broadcasts_total",
			Help:      "Broadcast calls by subscriber type.",
		},
		[]string{"type"},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "order_notifier",
			Name:      "deliveries_total",
			Help:      "Notifications handed to a subscriber.",
		},
		[]string{"type"},
	)

	deliveryFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "order_notifier",
			Name:      "delivery_failures_total",
			Help:      "Deliveries that failed and caused the subscriber to be dropped.",
		},
		[]string{"type"},
	)

	sweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "order_notifier",
			Name:      "swept_subscriptions_total",
			Help:      "Subscriptions removed by the stale sweeper.",
		},
	)
)
