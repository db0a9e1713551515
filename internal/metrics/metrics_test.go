package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAndGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(FetchOutcomes, RateLimitPauses, FetchDuration, InFlightFetches)

	FetchOutcomes.WithLabelValues("success").Inc()
	FetchOutcomes.WithLabelValues("timeout").Add(2)
	RateLimitPauses.Inc()
	InFlightFetches.Set(5)
	FetchDuration.Observe(1.2)

	expectedOutcomes := `# HELP medgrab_fetch_outcomes_total Count of per-item fetch outcomes by kind.
# TYPE medgrab_fetch_outcomes_total counter
medgrab_fetch_outcomes_total{kind="success"} 1
medgrab_fetch_outcomes_total{kind="timeout"} 2
`
	if err := testutil.CollectAndCompare(FetchOutcomes, strings.NewReader(expectedOutcomes)); err != nil {
		t.Fatalf("unexpected outcomes metric: %v", err)
	}

	expectedGauge := `# HELP medgrab_in_flight_fetches Number of fetches currently holding an admission slot.
# TYPE medgrab_in_flight_fetches gauge
medgrab_in_flight_fetches 5
`
	if err := testutil.CollectAndCompare(InFlightFetches, strings.NewReader(expectedGauge)); err != nil {
		t.Fatalf("unexpected in-flight gauge: %v", err)
	}

	if got := testutil.ToFloat64(RateLimitPauses); got != 1 {
		t.Fatalf("unexpected rate limit pauses: %v", got)
	}
}
