package dht

import "github.com/prometheus/client_golang/prometheus"

var (
	rpcCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "actormesh",
			Subsystem: "dht",
			Name:      "rpc_total",
			Help:      "Total number of outbound DHT requests",
		}, []string{"type", "result"})

	routingTableSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "actormesh",
			Subsystem: "dht",
			Name:      "routing_table_peers",
			Help:      "Number of peers in the routing table",
		})

	recordsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "actormesh",
			Subsystem: "dht",
			Name:      "records",
			Help:      "Number of records in the local store",
		})
)

// InitMetrics registers all metrics in this file
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(rpcCounter)
	registry.MustRegister(routingTableSize)
	registry.MustRegister(recordsGauge)
}
