package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	hits      *prometheus.CounterVec
	misses    *prometheus.CounterVec
	evictions prometheus.Counter
	bytes     prometheus.Gauge
	entries   prometheus.Gauge
	computes  *prometheus.CounterVec
}

// newMetrics builds the cache's prometheus instruments. A nil registerer
// leaves them unregistered, which tests rely on.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		hits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parklens",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Result cache hits by kind.",
		}, []string{"kind"}),
		misses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parklens",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Result cache misses by kind.",
		}, []string{"kind"}),
		evictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "parklens",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Entries evicted under byte pressure.",
		}),
		bytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "parklens",
			Subsystem: "cache",
			Name:      "bytes",
			Help:      "Bytes of cached artifacts tracked by this instance.",
		}),
		entries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "parklens",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Cached entries tracked by this instance.",
		}),
		computes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parklens",
			Subsystem: "cache",
			Name:      "computations_total",
			Help:      "Cache-miss computations by kind.",
		}, []string{"kind"}),
	}
}
