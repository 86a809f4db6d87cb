package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProviderAPICalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airhist_provider_api_calls_total",
			Help: "Total OpenWeatherMap air pollution API calls",
		},
		[]string{"city", "status"},
	)

	ProviderAPILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "airhist_provider_api_latency_seconds",
			Help:    "Air pollution API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"city"},
	)

	RecordsCommitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airhist_records_committed_total",
			Help: "Measurement rows written to the warehouse",
		},
		[]string{"city", "policy"},
	)

	RecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airhist_records_skipped_total",
			Help: "Batch rows skipped because their key already existed",
		},
		[]string{"city"},
	)

	CityRunFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airhist_city_run_failures_total",
			Help: "Per-city ingestion failures by kind",
		},
		[]string{"city", "kind"},
	)

	QualityFlags = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airhist_quality_flags_total",
			Help: "Suspect measurement values by flag",
		},
		[]string{"city", "flag"},
	)
)
