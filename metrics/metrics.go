// Package metrics declares the Prometheus collectors exported by sqlbox.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlbox_executions_total",
			Help: "Total number of submitted queries by outcome",
		},
		[]string{"status"}, // success or an execution error kind
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlbox_execution_duration_ms",
			Help:    "Query execution duration in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"status"},
	)

	ProvisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlbox_provisions_total",
			Help: "Total number of sandbox provisioning requests",
		},
		[]string{"result"}, // created, existing, failed
	)

	ProvisionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlbox_provision_duration_ms",
			Help:    "Time to create a sandbox namespace with its tables and rows",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500},
		},
	)

	GradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlbox_grades_total",
			Help: "Total number of graded submissions",
		},
		[]string{"kind", "passed"},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlbox_rate_limit_hits_total",
			Help: "Total number of submissions rejected by the rate limiter",
		},
	)

	AttemptLogFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlbox_attempt_log_failures_total",
			Help: "Total number of execution attempts that could not be recorded",
		},
	)
)
