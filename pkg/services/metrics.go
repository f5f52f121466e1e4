package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Model cache metrics, labelled by cache name ("forecast", "cooccurrence").

	modelCacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_cache_hits_total",
			Help: "Total number of model cache hits",
		},
		[]string{"cache"},
	)

	modelCacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_cache_misses_total",
			Help: "Total number of model cache misses",
		},
		[]string{"cache"},
	)

	modelCacheFitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_cache_fits_total",
			Help: "Total number of model fits by outcome",
		},
		[]string{"cache", "outcome"}, // "stored", "detached", "error", "timeout"
	)

	modelCacheEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_cache_evictions_total",
			Help: "Total number of model cache evictions",
		},
		[]string{"cache", "reason"}, // "ttl", "invalidation", "corruption"
	)

	modelCacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "model_cache_entries",
			Help: "Current number of entries in the model cache",
		},
		[]string{"cache"},
	)

	modelFitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "model_fit_duration_seconds",
			Help:    "Duration of model fits in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"cache"},
	)

	// Engine metrics

	forecastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecasts_total",
			Help: "Total number of forecasts by method",
		},
		[]string{"method"},
	)

	recommendationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommendations_total",
			Help: "Total number of recommendation requests by outcome",
		},
		[]string{"outcome"}, // "ranked", "empty_basket", "no_signal"
	)
)
