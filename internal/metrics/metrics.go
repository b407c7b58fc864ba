// Package metrics exposes scheduler and generation state as Prometheus
// collectors registered on the default registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "inferctl"

var (
	performanceMode = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "performance_mode",
			Help:      "Effective performance mode (0=power_save .. 3=maximum)",
		},
	)

	thermalState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "thermal",
			Name:      "state",
			Help:      "Thermal state (0=normal .. 3=critical)",
		},
	)

	temperature = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "thermal",
			Name:      "temperature_celsius",
			Help:      "Latest thermal sensor reading",
		},
	)

	poolThreads = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "pool_threads",
			Help:      "Configured worker pool size",
		},
		[]string{"pool"},
	)

	boostsGranted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "boosts_granted_total",
			Help:      "Total performance boosts granted",
		},
	)

	rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "rejections_total",
			Help:      "Total scheduler requests rejected by policy",
		},
		[]string{"reason"},
	)

	tokensGenerated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "tokens_generated_total",
			Help:      "Total tokens streamed to callers",
		},
	)

	generationsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "generations_total",
			Help:      "Finished generations by outcome",
		},
		[]string{"outcome"},
	)

	generationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "generation_duration_seconds",
			Help:      "Wall time of generations",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)
)

func init() {
	prometheus.MustRegister(
		performanceMode,
		thermalState,
		temperature,
		poolThreads,
		boostsGranted,
		rejections,
		tokensGenerated,
		generationsFinished,
		generationDuration,
	)
}

func SetPerformanceMode(ordinal int) { performanceMode.Set(float64(ordinal)) }

func SetThermalState(ordinal int) { thermalState.Set(float64(ordinal)) }

func SetTemperature(celsius float64) { temperature.Set(celsius) }

func SetPoolThreads(pool string, n int) { poolThreads.WithLabelValues(pool).Set(float64(n)) }

func IncBoostsGranted() { boostsGranted.Inc() }

// IncRejection counts a policy rejection
func IncRejection(reason string) {
	if reason == "" {
		reason = "unspecified"
	}
	rejections.WithLabelValues(reason).Inc()
}

func AddTokens(n int) { tokensGenerated.Add(float64(n)) }

// ObserveGeneration records a finished generation. Outcome is one of
// completed, safety_violation, error, cancelled.
func ObserveGeneration(outcome string, d time.Duration) {
	generationsFinished.WithLabelValues(outcome).Inc()
	generationDuration.Observe(d.Seconds())
}
