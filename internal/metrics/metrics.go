// Package metrics holds the Prometheus collectors of the recommender.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Build pipeline
	BuildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recommender_build_phase_duration_seconds",
			Help:    "Duration of each offline build phase in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"phase"},
	)

	BuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommender_builds_total",
			Help: "Total number of index builds by outcome",
		},
		[]string{"outcome"},
	)

	CorpusItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recommender_corpus_items",
			Help: "Number of items in the serving index",
		},
	)

	VocabularySize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recommender_vocabulary_terms",
			Help: "Number of vocabulary terms of the serving index",
		},
	)

	// Queries
	Recommendations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommender_recommendations_total",
			Help: "Total number of recommendation queries by outcome",
		},
		[]string{"outcome"},
	)

	PaddedResults = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recommender_padded_results_total",
			Help: "Total number of result slots filled by padding",
		},
	)

	// Poster lookups
	PosterLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommender_poster_lookups_total",
			Help: "Total number of poster lookups by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	PosterBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "recommender_poster_breaker_state",
			Help: "Poster circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"provider"},
	)

	// HTTP
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommender_http_requests_total",
			Help: "Total number of API requests by route and status code",
		},
		[]string{"route", "code"},
	)
)
