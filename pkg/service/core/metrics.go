package core

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "bqrf"

// Metrics are the collectors updated by the remote function service.
type Metrics struct {
	Batches       *prometheus.CounterVec
	Rows          *prometheus.CounterVec
	CacheHits     *prometheus.CounterVec
	BatchDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		Batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "batches_total",
			Help:      "Remote function batches answered, by function and status code.",
		}, []string{"function", "status"}),
		Rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rows_total",
			Help:      "Rows received in remote function batches.",
		}, []string{"function"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cache_hits_total",
			Help:      "Batches answered from the reply cache.",
		}, []string{"function"}),
		BatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "batch_duration_seconds",
			Help:      "Time spent answering a batch.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"function"}),
	}
}

func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Batches,
		m.Rows,
		m.CacheHits,
		m.BatchDuration,
	}
}
