package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	appliedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrowd",
		Name:      "trade_events_applied_total",
		Help:      "Number of trade events appended to a trade log.",
	}, []string{"type"})

	rejectedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrowd",
		Name:      "trade_events_rejected_total",
		Help:      "Number of trade events dropped as illegal transitions.",
	}, []string{"type"})

	broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrowd",
		Name:      "broadcasts_total",
		Help:      "Number of broadcasted transactions by result.",
	}, []string{"result"})

	relayPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrowd",
		Name:      "relay_polls_total",
		Help:      "Number of relay polls by result.",
	}, []string{"result"})
)
