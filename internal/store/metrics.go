package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	auditLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "transferval_audit_duration_seconds",
		Help:    "Latency of audit store calls",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
	}, []string{"operation"})

	auditErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transferval_audit_errors_total",
		Help: "Failed audit store calls, by operation and cause",
	}, []string{"operation", "cause"})

	auditBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "transferval_audit_breaker_state",
		Help: "Audit circuit breaker state (0=closed, 1=half-open, 2=open)",
	})
)
