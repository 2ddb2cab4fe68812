package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OperationMetrics records per-operation outcomes for the billing
// engine: createPlan, subscribe, processPayment and the rest.
type OperationMetrics struct {
	duration *prometheus.HistogramVec
	outcomes *prometheus.CounterVec
	payments *prometheus.CounterVec
}

// NewOperationMetrics registers the engine metrics on the provided registerer.
func NewOperationMetrics(reg prometheus.Registerer) *OperationMetrics {
	if reg == nil {
		return &OperationMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "billing_operation_duration_seconds",
		Help:    "Duration of billing engine operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_operation_total",
		Help: "Billing engine operations by outcome code.",
	}, []string{"operation", "code"})
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_payment_units_total",
		Help: "Total units moved by successful payment collections, by mint.",
	}, []string{"mint"})
	reg.MustRegister(duration, outcomes, payments)
	return &OperationMetrics{
		duration: duration,
		outcomes: outcomes,
		payments: payments,
	}
}

// ObserveDuration records the duration for the named operation.
func (m *OperationMetrics) ObserveDuration(operation string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}

// IncOutcome increments the outcome counter; code is "ok" for success
// or the stable error code string.
func (m *OperationMetrics) IncOutcome(operation, code string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(operation), normalizeLabel(code)).Inc()
}

// AddPaymentUnits accumulates the collected amount for a mint.
func (m *OperationMetrics) AddPaymentUnits(mint string, units uint64) {
	if m == nil || m.payments == nil {
		return
	}
	m.payments.WithLabelValues(normalizeLabel(mint)).Add(float64(units))
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
