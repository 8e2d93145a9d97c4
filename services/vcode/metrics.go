package vcode

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSessionsScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vcode_sessions_scheduled_total",
		Help: "Sessions scheduled since process start.",
	})

	metricChainEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vcode_chain_entries_total",
		Help: "Chain entries appended, by action kind.",
	}, []string{"action"})

	metricVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vcode_verifications_total",
		Help: "Chain verifications performed, by result.",
	}, []string{"result"})

	metricProofsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vcode_proofs_issued_total",
		Help: "Proof certificates issued.",
	})

	metricActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vcode_active_sessions",
		Help: "Sessions currently in progress.",
	})
)
