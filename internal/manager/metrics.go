package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	loadedModels = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lemond",
			Subsystem: "pool",
			Name:      "loaded_models",
			Help:      "Slots currently occupying each pool, including loading ones",
		},
		[]string{"category"},
	)

	loadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lemond",
			Subsystem: "pool",
			Name:      "loads_total",
			Help:      "Model load attempts by recipe and result (ok, error, refused)",
		},
		[]string{"recipe", "result"},
	)

	evictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lemond",
			Subsystem: "pool",
			Name:      "evictions_total",
			Help:      "Slots evicted to make room, by category and reason",
		},
		[]string{"category", "reason"},
	)

	loadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lemond",
			Subsystem: "pool",
			Name:      "load_duration_seconds",
			Help:      "Time from spawn to a healthy backend",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 120, 240},
		},
		[]string{"recipe"},
	)
)

func init() {
	prometheus.MustRegister(loadedModels, loadsTotal, evictionsTotal, loadDuration)
}
