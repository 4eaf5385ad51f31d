package monitoring

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/insightconsole/backend/pkg/metrics"
)

// JobSummary describes the recent history of one background job.
type JobSummary struct {
	Job                 string        `json:"job"`
	LastStatus          string        `json:"last_status"`
	LastRunAt           time.Time     `json:"last_run_at"`
	LastDuration        time.Duration `json:"last_duration"`
	LastError           string        `json:"last_error,omitempty"`
	LastSuccessAt       time.Time     `json:"last_success_at"`
	ConsecutiveFailures uint64        `json:"consecutive_failures"`
	TotalRuns           uint64        `json:"total_runs"`
}

// JobTracker keeps per-job run history for health reporting.
type JobTracker struct {
	mu   sync.Mutex
	jobs map[string]*JobSummary
	now  func() time.Time
}

// NewJobTracker constructs an empty tracker.
func NewJobTracker() *JobTracker {
	return &JobTracker{jobs: make(map[string]*JobSummary), now: time.Now}
}

// Record stores the outcome of one run. result is "success" or "failure".
func (t *JobTracker) Record(job, result, message string, duration time.Duration) {
	job = strings.TrimSpace(job)
	if job == "" {
		job = "unknown"
	}
	if duration < 0 {
		duration = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.jobs[job]
	if !ok {
		entry = &JobSummary{Job: job}
		t.jobs[job] = entry
	}
	now := t.now()
	entry.LastStatus = result
	entry.LastRunAt = now
	entry.LastDuration = duration
	entry.LastError = strings.TrimSpace(message)
	entry.TotalRuns++
	if result == "success" {
		entry.ConsecutiveFailures = 0
		entry.LastSuccessAt = now
	} else {
		entry.ConsecutiveFailures++
	}
	metrics.MaintenanceRuns.WithLabelValues(job, result).Inc()
}

// Snapshot returns a copy of every job's summary, sorted by name.
func (t *JobTracker) Snapshot() []JobSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]JobSummary, 0, len(t.jobs))
	for _, entry := range t.jobs {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}

var defaultTracker = NewJobTracker()

// Jobs returns the process-wide job tracker.
func Jobs() *JobTracker {
	return defaultTracker
}

// RecordMaintenanceRun records a maintenance job run on the process-wide tracker.
func RecordMaintenanceRun(job, result, message string, duration time.Duration) {
	defaultTracker.Record(job, result, message, duration)
}
