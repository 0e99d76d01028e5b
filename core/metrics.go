package core

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	actorsAlive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "actormesh",
			Subsystem: "actor",
			Name:      "alive",
			Help:      "The number of actors that have not stopped yet.",
		}, []string{"name"})
	poolWorkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "actormesh",
			Subsystem: "actor",
			Name:      "pool_workers",
			Help:      "The number of workers of running pools.",
		}, []string{"name"})
	messagesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "actormesh",
			Subsystem: "actor",
			Name:      "messages_processed_total",
			Help:      "Total number of handled messages.",
		}, []string{"name"})
	messagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "actormesh",
			Subsystem: "actor",
			Name:      "messages_dropped_total",
			Help:      "Total number of queued messages cancelled by a stop.",
		}, []string{"name"})
	handlerPanics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "actormesh",
			Subsystem: "actor",
			Name:      "handler_panics_total",
			Help:      "Total number of handler panics.",
		}, []string{"name"})
	handlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "actormesh",
			Subsystem: "actor",
			Name:      "handler_duration_seconds",
			Help:      "Bucketed histogram of handler execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 18),
		}, []string{"name"})
)

// InitMetrics registers all metrics in this file
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(actorsAlive)
	registry.MustRegister(poolWorkers)
	registry.MustRegister(messagesProcessed)
	registry.MustRegister(messagesDropped)
	registry.MustRegister(handlerPanics)
	registry.MustRegister(handlerDuration)
}
