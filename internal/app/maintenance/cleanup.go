package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/insightconsole/backend/internal/monitoring"
	"github.com/insightconsole/backend/pkg/logger"
)

// Job names as reported to the job tracker and metrics.
const (
	JobLinkTokenSweep = "link_token_sweep"
	JobAuditRetention = "audit_retention"
	JobRateWindows    = "rate_window_purge"
)

const (
	defaultAuditRetentionDays = 90
	defaultLinkRetention      = 720 * time.Hour
	defaultLinkSpec           = "@hourly"
	defaultAuditSpec          = "@daily"
	defaultWindowSpec         = "@every 10m"
	jobTimeout                = 5 * time.Minute
)

// LinkSweeper deletes link tokens that expired before cutoff.
type LinkSweeper interface {
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditPruner deletes audit entries older than the retention window.
type AuditPruner interface {
	CleanupOlderThan(ctx context.Context, days int) (int64, error)
}

// WindowPurger deletes rate-limit windows that ended before now.
type WindowPurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Cleaner coordinates background maintenance: sweeping spent sign-in links, pruning
// stale audit logs and dropping finished rate-limit windows.
type Cleaner struct {
	links   LinkSweeper
	audit   AuditPruner
	windows WindowPurger
	cron    *cron.Cron
	tracker *monitoring.JobTracker
	now     func() time.Time
	log     *zap.Logger

	retention     int
	linkRetention time.Duration

	linkSchedule   string
	auditSchedule  string
	windowSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for cleanup comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithTracker records runs on tracker instead of the process-wide one.
func WithTracker(tracker *monitoring.JobTracker) Option {
	return func(cleaner *Cleaner) {
		if tracker != nil {
			cleaner.tracker = tracker
		}
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained before cleanup.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithLinkRetention sets how long expired link tokens are kept for audit.
func WithLinkRetention(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.linkRetention = d
		}
	}
}

// WithLinkSchedule overrides the cron specification for the link token sweep.
func WithLinkSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.linkSchedule = spec
		}
	}
}

// WithAuditSchedule overrides the cron specification for audit retention enforcement.
func WithAuditSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.auditSchedule = spec
		}
	}
}

// WithWindowSchedule overrides the cron specification for rate window purging.
func WithWindowSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.windowSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency results in
// the corresponding cleanup job being skipped.
func NewCleaner(links LinkSweeper, audit AuditPruner, windows WindowPurger, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		links:          links,
		audit:          audit,
		windows:        windows,
		tracker:        monitoring.Jobs(),
		now:            time.Now,
		retention:      defaultAuditRetentionDays,
		linkRetention:  defaultLinkRetention,
		linkSchedule:   defaultLinkSpec,
		auditSchedule:  defaultAuditSpec,
		windowSchedule: defaultWindowSpec,
		log:            logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return cleaner
}

type job struct {
	name     string
	schedule string
	run      func(ctx context.Context) (int64, error)
}

func (c *Cleaner) jobs() []job {
	var jobs []job
	if c.links != nil {
		jobs = append(jobs, job{name: JobLinkTokenSweep, schedule: c.linkSchedule, run: func(ctx context.Context) (int64, error) {
			return c.links.DeleteExpiredBefore(ctx, c.now().Add(-c.linkRetention))
		}})
	}
	if c.audit != nil && c.retention > 0 {
		jobs = append(jobs, job{name: JobAuditRetention, schedule: c.auditSchedule, run: func(ctx context.Context) (int64, error) {
			return c.audit.CleanupOlderThan(ctx, c.retention)
		}})
	}
	if c.windows != nil {
		jobs = append(jobs, job{name: JobRateWindows, schedule: c.windowSchedule, run: func(ctx context.Context) (int64, error) {
			return c.windows.PurgeExpired(ctx, c.now())
		}})
	}
	return jobs
}

// Jobs lists the names of the jobs this cleaner runs.
func (c *Cleaner) Jobs() []string {
	var names []string
	for _, j := range c.jobs() {
		names = append(names, j.name)
	}
	return names
}

// Start registers cleanup jobs with the cron scheduler and launches it if at least one cleanup is enabled.
func (c *Cleaner) Start() error {
	jobs := c.jobs()
	if len(jobs) == 0 {
		return nil
	}

	for _, j := range jobs {
		j := j
		if _, err := c.cron.AddFunc(j.schedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			_ = c.execute(ctx, j)
		}); err != nil {
			return fmt.Errorf("maintenance: schedule %s: %w", j.name, err)
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	for _, j := range c.jobs() {
		errs = multierr.Append(errs, c.execute(ctx, j))
	}
	return errs
}

func (c *Cleaner) execute(ctx context.Context, j job) error {
	start := time.Now()
	removed, err := j.run(ctx)
	elapsed := time.Since(start)

	if err != nil {
		c.log.Warn("maintenance job failed", zap.String("job", j.name), zap.Error(err))
		c.tracker.Record(j.name, "failure", err.Error(), elapsed)
		return fmt.Errorf("%s: %w", j.name, err)
	}

	c.log.Debug("maintenance job finished",
		zap.String("job", j.name),
		zap.Int64("removed", removed),
		zap.Duration("duration", elapsed),
	)
	c.tracker.Record(j.name, "success", "", elapsed)
	return nil
}
