package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentra_requests_total",
		Help: "Assessment requests by outcome",
	}, []string{"outcome"})

	requestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sentra_request_duration_seconds",
		Help:    "End-to-end assessment latency",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})

	threatLevelTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentra_threat_level_total",
		Help: "Verdicts by threat level",
	}, []string{"level"})

	ruleMatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentra_rule_match_total",
		Help: "Rule-engine overrides by rule name",
	}, []string{"rule"})

	modelFallbackTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentra_model_fallback_total",
		Help: "Predictions served from the uniform-prior fallback",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, threatLevelTotal, ruleMatchTotal, modelFallbackTotal)
}
