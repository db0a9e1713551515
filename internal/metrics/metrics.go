package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	FetchOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "medgrab",
			Name:      "fetch_outcomes_total",
			Help:      "Count of per-item fetch outcomes by kind.",
		},
		[]string{"kind"},
	)

	RateLimitPauses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "medgrab",
			Name:      "rate_limit_pauses_total",
			Help:      "Times a worker paused on a rate-limit signal from the media source.",
		},
	)

	FetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "medgrab",
			Name:      "fetch_duration_seconds",
			Help:      "Wall time of individual fetch attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	InFlightFetches = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "medgrab",
			Name:      "in_flight_fetches",
			Help:      "Number of fetches currently holding an admission slot.",
		},
	)
)

// Register registers the medgrab metrics into the default registry.
func Register() {
	prometheus.MustRegister(FetchOutcomes, RateLimitPauses, FetchDuration, InFlightFetches)
}
