package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// transactionsScoredTotal counts scored transactions by action.
	transactionsScoredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "merlin",
			Name:      "transactions_scored_total",
			Help:      "Total transactions scored by decision action.",
		},
		[]string{"action"},
	)

	// scoringDuration observes end-to-end scoring latency.
	scoringDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "merlin",
			Name:      "scoring_duration_seconds",
			Help:      "End-to-end transaction scoring duration in seconds.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	// fraudScores observes the distribution of ensembled fraud scores.
	fraudScores = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "merlin",
			Name:      "fraud_score",
			Help:      "Distribution of ensembled fraud scores.",
			Buckets:   prometheus.LinearBuckets(0.05, 0.05, 19),
		},
	)

	// alertsCreatedTotal counts alerts by priority.
	alertsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "merlin",
			Name:      "alerts_created_total",
			Help:      "Total alerts created by priority.",
		},
		[]string{"priority"},
	)

	// policyEscalationsTotal counts decisions escalated by policies.
	policyEscalationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "merlin",
			Name:      "policy_escalations_total",
			Help:      "Total decisions escalated by policy overrides.",
		},
	)

	// heuristicMode is 1 when scoring runs without real model artifacts.
	heuristicMode = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "merlin",
			Name:      "heuristic_mode",
			Help:      "1 when scoring is degraded to heuristics, 0 when model artifacts are active.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		transactionsScoredTotal,
		scoringDuration,
		fraudScores,
		alertsCreatedTotal,
		policyEscalationsTotal,
		heuristicMode,
	)
}
