// Package metrics defines the Prometheus instrumentation for the
// filtering engine. All collectors are registered on the default
// registry via promauto and exposed by the metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Script compilation and execution metrics
var (
	ScriptCompilations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filterd_script_compilations_total",
			Help: "Total number of Sieve script compilations",
		},
		[]string{"status"},
	)

	ScriptExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filterd_script_executions_total",
			Help: "Total number of Sieve script executions",
		},
		[]string{"result"},
	)

	ScriptExecutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "filterd_script_execution_duration_seconds",
			Help:    "Duration of Sieve script executions in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
	)

	ScriptCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filterd_script_cache_hits_total",
			Help: "Compiled script cache lookups by outcome",
		},
		[]string{"outcome"},
	)
)

// Generated mail metrics
var (
	VacationResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filterd_vacation_responses_total",
			Help: "Vacation responses by outcome (sent, suppressed, failed)",
		},
		[]string{"outcome"},
	)

	RelaySubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filterd_relay_submissions_total",
			Help: "Outbound relay submissions by status",
		},
		[]string{"status"},
	)

	RedirectsBlocked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filterd_redirects_blocked_total",
			Help: "Redirect actions refused by the execution policy limits",
		},
	)
)

// Directory backend metrics
var (
	DirectoryLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filterd_directory_lookups_total",
			Help: "Directory lookups by backend and status",
		},
		[]string{"backend", "status"},
	)
)
