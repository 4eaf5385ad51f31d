package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication operations (request_link|verify_link|refresh|bearer)
	// by result (success|failure|error).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"operation", "result"},
	)

	// RateLimitDecisions counts limiter outcomes (allow|reject|fail_open) per class.
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_ratelimit_decisions_total",
			Help: "Total number of rate limit decisions",
		},
		[]string{"class", "result"},
	)

	// TenantChecks counts tenant isolation evaluations (allow|not_found|forbidden|error).
	TenantChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_tenant_checks_total",
			Help: "Total number of tenant isolation checks",
		},
		[]string{"kind", "result"},
	)

	// IdentitiesProvisioned counts identities created on first sign-in.
	IdentitiesProvisioned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "insight_identities_provisioned_total",
			Help: "Number of identities created on first sign-in",
		},
	)

	// WorkflowRuns counts supervised workflow runs by terminal status.
	WorkflowRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_workflow_runs_total",
			Help: "Workflow runs by terminal status",
		},
		[]string{"status"},
	)

	// WorkflowQueueDepth tracks jobs waiting for a worker.
	WorkflowQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "insight_workflow_queue_depth",
			Help: "Number of workflow jobs waiting for a worker",
		},
	)

	// MaintenanceDeleted counts rows removed by retention sweeps.
	MaintenanceDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_maintenance_deleted_total",
			Help: "Rows removed by maintenance sweeps",
		},
		[]string{"job"},
	)

	// MaintenanceRuns counts maintenance job executions by result (success|failure).
	MaintenanceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_maintenance_runs_total",
			Help: "Maintenance job executions by result",
		},
		[]string{"job", "result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "insight_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
