package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	validationsRequested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transferval_validations_requested_total",
		Help: "Transfer validations requested by cashiers",
	})

	validationsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transferval_validations_finished_total",
		Help: "Transfer validations that reached a terminal status",
	}, []string{"status"})

	validationsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "transferval_validations_pending",
		Help: "Transfer validations waiting for an admin",
	})

	decisionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "transferval_validation_decision_seconds",
		Help:    "Time from request to terminal status",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 180, 300},
	})

	sessionsConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "transferval_sessions",
		Help: "Connected sessions by role",
	}, []string{"rol"})

	messagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transferval_messages_dropped_total",
		Help: "Inbound messages the hub ignored, by event and reason",
	}, []string{"event", "reason"})
)
