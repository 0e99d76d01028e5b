package cluster

import "github.com/prometheus/client_golang/prometheus"

var (
	nodeStateGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "actormesh",
			Subsystem: "cluster",
			Name:      "node_state",
			Help:      "Participation state of the node (0 bootstrapping, 1 connected, 2 partitioned, 3 shutdown)",
		})

	registerCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "actormesh",
			Subsystem: "cluster",
			Name:      "register_total",
			Help:      "Total number of name registrations",
		}, []string{"result"})

	resolveCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "actormesh",
			Subsystem: "cluster",
			Name:      "resolve_total",
			Help:      "Total number of name resolutions by source",
		}, []string{"source"})

	remoteCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "actormesh",
			Subsystem: "cluster",
			Name:      "remote_requests_total",
			Help:      "Total number of remote requests by kind and error class",
		}, []string{"kind", "class"})

	remoteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "actormesh",
			Subsystem: "cluster",
			Name:      "remote_request_duration_seconds",
			Help:      "Bucketed histogram of remote request round trip time",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"kind"})
)

// InitMetrics registers all metrics in this file
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(nodeStateGauge)
	registry.MustRegister(registerCounter)
	registry.MustRegister(resolveCounter)
	registry.MustRegister(remoteCounter)
	registry.MustRegister(remoteDuration)
}
