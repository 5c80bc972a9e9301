// Package metrics holds the Prometheus collectors shared by the gateway, the
// job runner and the HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datalens_gateway_requests_total",
			Help: "Total number of calls to the analysis service by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	GatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datalens_gateway_request_duration_seconds",
			Help:    "Duration of calls to the analysis service in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"op"},
	)

	AnalysesFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datalens_analyses_finished_total",
			Help: "Total number of analysis runs that reached a terminal status",
		},
		[]string{"status", "kind"},
	)

	AnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datalens_analysis_duration_seconds",
			Help:    "Time from submission to terminal status in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"status"},
	)

	AnalysesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "datalens_analyses_active",
			Help: "Number of analysis runs currently in flight",
		},
	)

	QuestionsAsked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datalens_questions_total",
			Help: "Total number of chat questions by outcome",
		},
		[]string{"outcome"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datalens_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"method", "route", "status"},
	)
)

// Outcome labels.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)
