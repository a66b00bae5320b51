// Package metrics holds the Prometheus collectors of the valuation service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Refinement outcome labels
const (
	OutcomeRefined  = "refined"
	OutcomeNoSignal = "no_signal"
	OutcomeNoData   = "missing_context"
	OutcomeRejected = "rejected"
	OutcomeConflict = "conflict"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

const namespace = "vehicle_valuation"

var (
	valuationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "computed_total",
			Help:      "Total number of valuations computed, partitioned by tier.",
		},
		[]string{"tier"},
	)

	marketValue = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "market_value_eur",
			Help:      "Distribution of computed market values.",
			Buckets:   []float64{1000, 2500, 5000, 7500, 10000, 15000, 20000, 30000, 50000, 80000},
		},
		[]string{"tier"},
	)

	refinementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refinements_total",
			Help:      "Refinement attempts, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	batchDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refinement_batch_seconds",
			Help:      "Refinement batch duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	signalGuardState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "signal_guard_state",
			Help:      "Market signal guard state (0=closed, 1=open, 2=half-open).",
		},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests handled, partitioned by route and status class.",
		},
		[]string{"route", "status"},
	)

	httpRequestSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

// Register attaches the collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		valuationsTotal,
		marketValue,
		refinementsTotal,
		batchDurationSeconds,
		signalGuardState,
		httpRequestsTotal,
		httpRequestSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveValuation records a computed valuation
func ObserveValuation(tier string, value int64) {
	valuationsTotal.WithLabelValues(tier).Inc()
	marketValue.WithLabelValues(tier).Observe(float64(value))
}

// ObserveRefinement records one refinement attempt
func ObserveRefinement(outcome string) {
	refinementsTotal.WithLabelValues(outcome).Inc()
}

// ObserveBatch records the duration of a refinement batch
func ObserveBatch(mode string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	batchDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
}

// SetGuardState publishes the signal guard state
func SetGuardState(state int) {
	signalGuardState.Set(float64(state))
}

// ObserveRequest records an HTTP request
func ObserveRequest(route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(route, statusClass(status)).Inc()
	httpRequestSeconds.WithLabelValues(route).Observe(duration.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
