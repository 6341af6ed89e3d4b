package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Call metrics for monitoring call lifecycle and outcomes
var (
	CallStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_started_total",
		Help: "Total number of outbound calls placed",
	}, []string{"call_type"})

	CallIncomingTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_incoming_total",
		Help: "Total number of incoming call requests surfaced",
	}, []string{"call_type"})

	CallOutcomeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_outcome_total",
		Help: "Total number of finished calls by outcome",
	}, []string{"outcome"}) // "answered", "declined", "missed"

	CallDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "call_duration_seconds",
		Help:    "Duration of answered calls",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1800, 3600},
	})

	CallLogAppendTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_log_append_total",
		Help: "Total number of call-log system messages appended",
	}, []string{"status"})
)
