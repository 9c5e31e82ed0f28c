package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	translationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerlens_translations_total",
			Help: "Natural-language translations by action and outcome.",
		},
		[]string{"action", "outcome"},
	)
	translationConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ledgerlens_translation_confidence",
			Help:    "Confidence attached to generated SQL artifacts.",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)
	safetyRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerlens_safety_rejections_total",
			Help: "SQL statements rejected by the safety validator, by rule.",
		},
		[]string{"rule"},
	)
	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerlens_executions_total",
			Help: "Statements sent through the execution gateway, by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	executionDurationMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ledgerlens_execution_duration_ms",
			Help:    "Execution gateway latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
	)
	judgeOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerlens_judge_outcomes_total",
			Help: "Quality judge calls by outcome.",
		},
		[]string{"outcome"},
	)
	feedbackRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerlens_feedback_records_total",
			Help: "Feedback records appended, by outcome.",
		},
		[]string{"outcome"},
	)
	catalogReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerlens_catalog_reloads_total",
			Help: "Schema catalog reload attempts by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		translationsTotal,
		translationConfidence,
		safetyRejectionsTotal,
		executionsTotal,
		executionDurationMs,
		judgeOutcomesTotal,
		feedbackRecordsTotal,
		catalogReloadsTotal,
	)
}

func ObserveTranslation(action, outcome string, confidence float64) {
	translationsTotal.WithLabelValues(action, outcome).Inc()
	translationConfidence.Observe(confidence)
}

func IncrementSafetyRejection(rule string) {
	safetyRejectionsTotal.WithLabelValues(rule).Inc()
}

func ObserveExecution(kind, outcome string, elapsed time.Duration) {
	executionsTotal.WithLabelValues(kind, outcome).Inc()
	executionDurationMs.Observe(float64(elapsed.Milliseconds()))
}

func IncrementJudgeOutcome(outcome string) {
	judgeOutcomesTotal.WithLabelValues(outcome).Inc()
}

func IncrementFeedbackRecord(outcome string) {
	feedbackRecordsTotal.WithLabelValues(outcome).Inc()
}

func IncrementCatalogReload(result string) {
	catalogReloadsTotal.WithLabelValues(result).Inc()
}
