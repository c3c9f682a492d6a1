package streaming

import "github.com/prometheus/client_golang/prometheus"

var (
	ttftSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "lemond",
			Subsystem: "stream",
			Name:      "time_to_first_token_seconds",
			Help:      "Time from stream start to the first relayed token",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	disconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lemond",
			Subsystem: "stream",
			Name:      "disconnects_total",
			Help:      "Streams abandoned because the client connection failed",
		},
	)
)

func init() {
	prometheus.MustRegister(ttftSeconds, disconnectsTotal)
}
