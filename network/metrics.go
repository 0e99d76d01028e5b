package network

import "github.com/prometheus/client_golang/prometheus"

var (
	connectionsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "actormesh",
			Subsystem: "network",
			Name:      "connections",
			Help:      "Number of live peer connections",
		}, []string{"transport"})

	dialCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "actormesh",
			Subsystem: "network",
			Name:      "dials_total",
			Help:      "Total number of outbound dials",
		}, []string{"transport", "result"})

	streamCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "actormesh",
			Subsystem: "network",
			Name:      "streams_total",
			Help:      "Total number of streams opened or accepted",
		}, []string{"protocol", "direction"})
)

// InitMetrics registers all metrics in this file
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(connectionsGauge)
	registry.MustRegister(dialCounter)
	registry.MustRegister(streamCounter)
}
