package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type PointsMetrics struct {
	systemsCreated   prometheus.Counter
	mutationsApplied *prometheus.CounterVec
	mutationsFailed  *prometheus.CounterVec
	observerFailures prometheus.Counter
	webhookFailures  *prometheus.CounterVec
}

var (
	pointsOnce     sync.Once
	pointsRegistry *PointsMetrics
)

func Points() *PointsMetrics {
	pointsOnce.Do(func() {
		pointsRegistry = &PointsMetrics{
			systemsCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "points_systems_created_total",
				Help: "Count of point systems allocated.",
			}),
			mutationsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "points_mutations_applied_total",
				Help: "Count of successful balance mutations by operation.",
			}, []string{"op"}),
			mutationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "points_mutations_failed_total",
				Help: "Count of rejected ledger operations by reason.",
			}, []string{"reason"}),
			observerFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "points_observer_failures_total",
				Help: "Count of mutations aborted by a failing observer callback.",
			}),
			webhookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "points_webhook_failures_total",
				Help: "Number of failed webhook delivery attempts by destination.",
			}, []string{"destination"}),
		}
		prometheus.MustRegister(
			pointsRegistry.systemsCreated,
			pointsRegistry.mutationsApplied,
			pointsRegistry.mutationsFailed,
			pointsRegistry.observerFailures,
			pointsRegistry.webhookFailures,
		)
	})
	return pointsRegistry
}

func (m *PointsMetrics) ObserveSystemCreated() {
	if m == nil {
		return
	}
	m.systemsCreated.Inc()
}

func (m *PointsMetrics) ObserveMutationApplied(op string) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	m.mutationsApplied.WithLabelValues(op).Inc()
}

func (m *PointsMetrics) ObserveMutationFailed(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.mutationsFailed.WithLabelValues(reason).Inc()
}

func (m *PointsMetrics) ObserveObserverFailure() {
	if m == nil {
		return
	}
	m.observerFailures.Inc()
}

func (m *PointsMetrics) ObserveWebhookFailure(destination string) {
	if m == nil {
		return
	}
	if destination == "" {
		destination = "unknown"
	}
	m.webhookFailures.WithLabelValues(destination).Inc()
}
