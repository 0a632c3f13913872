package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the generation pipeline
var (
	// GateWaitSeconds measures how long callers wait for admission through the provider gate.
	GateWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "versewell_gate_wait_seconds",
		Help:    "Time spent waiting for a provider gate slot and stagger interval",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 3.5, 7, 15, 30, 60, 120},
	})

	// GateInFlight is the number of admitted, unreleased gate holders.
	GateInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "versewell_gate_in_flight",
		Help: "Provider calls currently holding a gate slot",
	})

	// GenerationsTotal counts finished generations by outcome code ("ok" on success).
	GenerationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "versewell_generations_total",
		Help: "Finished track generations by result code",
	}, []string{"code"})

	// GenerationDuration measures end-to-end track generation time.
	GenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "versewell_generation_duration_seconds",
		Help:    "End-to-end track generation time in seconds",
		Buckets: []float64{5, 15, 30, 60, 120, 180, 300, 600},
	})

	// ProviderAttemptsTotal counts music provider calls by provider and result.
	ProviderAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "versewell_provider_attempts_total",
		Help: "Music provider attempts by provider and result",
	}, []string{"provider", "result"})

	// ProviderBreakerState is the circuit breaker state per provider (0 closed, 1 half-open, 2 open).
	ProviderBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "versewell_provider_breaker_state",
		Help: "Music provider circuit breaker state (0 closed, 1 half-open, 2 open)",
	}, []string{"provider"})

	// LyricsCacheTotal counts entry-based lyrics lookups by result (hit, stale, miss).
	LyricsCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "versewell_lyrics_cache_total",
		Help: "Entry lyrics cache lookups by result",
	}, []string{"result"})

	// ArtworkRetriesTotal counts artwork attempts beyond the first.
	ArtworkRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "versewell_artwork_retries_total",
		Help: "Artwork generation retries",
	})

	// LyricsSyncTotal counts finished timing alignment jobs by method and result.
	LyricsSyncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "versewell_lyrics_sync_total",
		Help: "Lyrics timing alignment jobs by method and result",
	}, []string{"method", "result"})

	// CompensationsTotal counts undo actions by result.
	CompensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "versewell_compensations_total",
		Help: "Saga undo actions executed by result",
	}, []string{"result"})
)

// Result labels.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

// ObserveGateWait records a gate admission.
func ObserveGateWait(d time.Duration) {
	GateWaitSeconds.Observe(d.Seconds())
}

// RecordGeneration records a finished generation. code is empty on success.
func RecordGeneration(code string, d time.Duration) {
	if code == "" {
		code = ResultOK
	}
	GenerationsTotal.WithLabelValues(code).Inc()
	GenerationDuration.Observe(d.Seconds())
}

// RecordProviderAttempt records one provider call.
func RecordProviderAttempt(provider string, err error) {
	ProviderAttemptsTotal.WithLabelValues(provider, resultOf(err)).Inc()
}

// RecordCompensation records one undo action.
func RecordCompensation(err error) {
	CompensationsTotal.WithLabelValues(resultOf(err)).Inc()
}

func resultOf(err error) string {
	if err != nil {
		return ResultFailed
	}
	return ResultOK
}
