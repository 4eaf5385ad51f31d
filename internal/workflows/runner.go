// Package workflows runs deal analyses on a bounded worker pool and records each run's
// status transitions.
package workflows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/insightconsole/backend/internal/ids"
	"github.com/insightconsole/backend/internal/models"
	"github.com/insightconsole/backend/pkg/logger"
	"github.com/insightconsole/backend/pkg/metrics"
)

const (
	defaultWorkers    = 2
	defaultQueueSize  = 64
	defaultJobTimeout = 15 * time.Minute
)

var (
	// ErrQueueFull is returned when every queue slot is taken.
	ErrQueueFull = errors.New("workflows: queue full")
	// ErrRunnerStopped is returned when enqueueing after Stop.
	ErrRunnerStopped = errors.New("workflows: runner stopped")
)

// Config sizes the worker pool.
type Config struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

// Option customises a Runner.
type Option func(*Runner)

// WithAnalyzer sets the analysis backend.
func WithAnalyzer(analyzer Analyzer) Option {
	return func(r *Runner) {
		if analyzer != nil {
			r.analyzer = analyzer
		}
	}
}

// WithClock overrides the time source used for transition timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

type job struct {
	id         string
	workflowID string
}

// Runner owns a bounded queue and a fixed set of workers.
type Runner struct {
	db       *gorm.DB
	analyzer Analyzer
	cfg      Config
	now      func() time.Time
	log      *zap.Logger

	mu      sync.RWMutex
	jobs    chan job
	started bool
	closed  bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewRunner constructs a Runner. Workers start with Start.
func NewRunner(db *gorm.DB, cfg Config, opts ...Option) (*Runner, error) {
	if db == nil {
		return nil, errors.New("workflows: db is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}

	r := &Runner{
		db:       db,
		analyzer: unconfiguredAnalyzer{},
		cfg:      cfg,
		now:      time.Now,
		log:      logger.WithModule("workflows"),
		jobs:     make(chan job, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Start launches the workers. Runs are bound to ctx; cancelling it aborts in-flight
// analyses.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.closed {
		return
	}
	r.started = true

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(runCtx)
	}
	r.log.Info("workflow runner started",
		zap.Int("workers", r.cfg.Workers),
		zap.Int("queue_size", r.cfg.QueueSize),
	)
}

// Enqueue schedules a run for the workflow and returns its job id.
func (r *Runner) Enqueue(workflowID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return "", ErrRunnerStopped
	}

	j := job{id: ids.New(), workflowID: workflowID}
	select {
	case r.jobs <- j:
		metrics.WorkflowQueueDepth.Set(float64(len(r.jobs)))
		return j.id, nil
	default:
		return "", ErrQueueFull
	}
}

// Stop refuses new jobs, drains the queue and waits for workers. When ctx ends first,
// in-flight runs are cancelled and ctx's error is returned.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.jobs)
	started := r.started
	r.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}

func (r *Runner) worker(ctx context.Context) {
	defer r.wg.Done()
	for j := range r.jobs {
		metrics.WorkflowQueueDepth.Set(float64(len(r.jobs)))
		if ctx.Err() != nil {
			r.finish(j, nil, ctx.Err())
			continue
		}
		r.run(ctx, j)
	}
}

func (r *Runner) run(ctx context.Context, j job) {
	log := r.log.With(zap.String("job_id", j.id), zap.String("workflow_id", j.workflowID))

	workflow, err := r.markRunning(ctx, j.workflowID)
	if err != nil {
		log.Warn("workflow could not be started", zap.Error(err))
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, r.cfg.JobTimeout)
	defer cancel()

	findings, runErr := r.analyze(jobCtx, *workflow)
	r.finish(j, findings, runErr)
	if runErr != nil {
		log.Warn("workflow failed", zap.Error(runErr))
		return
	}
	log.Info("workflow completed")
}

func (r *Runner) analyze(ctx context.Context, workflow models.Workflow) (findings map[string]any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			findings = nil
			err = fmt.Errorf("workflows: analyzer panic: %v", recovered)
		}
	}()
	return r.analyzer.Analyze(ctx, workflow, r.progress(ctx, workflow.ID))
}

func (r *Runner) markRunning(ctx context.Context, workflowID string) (*models.Workflow, error) {
	now := r.now().UTC()
	result := r.db.WithContext(ctx).
		Model(&models.Workflow{}).
		Where("id = ? AND status = ?", workflowID, models.WorkflowStatusPending).
		Updates(map[string]any{
			"status":           models.WorkflowStatusRunning,
			"started_at":       now,
			"progress_percent": 0,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("workflows: mark running: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("workflows: workflow %s is not pending", workflowID)
	}

	var workflow models.Workflow
	if err := r.db.WithContext(ctx).First(&workflow, "id = ?", workflowID).Error; err != nil {
		return nil, fmt.Errorf("workflows: load workflow: %w", err)
	}
	return &workflow, nil
}

func (r *Runner) progress(ctx context.Context, workflowID string) ProgressFunc {
	return func(percent int, step string) {
		if percent < 0 {
			percent = 0
		}
		if percent > 99 {
			percent = 99
		}
		err := r.db.WithContext(ctx).
			Model(&models.Workflow{}).
			Where("id = ? AND status = ?", workflowID, models.WorkflowStatusRunning).
			Updates(map[string]any{"progress_percent": percent, "current_step": step}).Error
		if err != nil {
			r.log.Debug("progress update dropped", zap.String("workflow_id", workflowID), zap.Error(err))
		}
	}
}

// finish records the terminal transition. The write uses its own context so cancelled
// runs are still recorded.
func (r *Runner) finish(j job, findings map[string]any, runErr error) {
	updates := map[string]any{"completed_at": r.now().UTC()}
	status := models.WorkflowStatusCompleted
	if runErr != nil {
		status = models.WorkflowStatusFailed
		updates["error_message"] = runErr.Error()
	} else {
		updates["progress_percent"] = 100
		updates["current_step"] = ""
		if len(findings) > 0 {
			encoded, err := json.Marshal(findings)
			if err != nil {
				status = models.WorkflowStatusFailed
				updates["error_message"] = fmt.Sprintf("encode findings: %v", err)
			} else {
				updates["findings"] = datatypes.JSON(encoded)
			}
		}
	}
	updates["status"] = status

	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := r.db.WithContext(writeCtx).
		Model(&models.Workflow{}).
		Where("id = ? AND status IN ?", j.workflowID, []string{models.WorkflowStatusPending, models.WorkflowStatusRunning}).
		Updates(updates).Error
	if err != nil {
		r.log.Error("failed to record workflow outcome",
			zap.String("job_id", j.id),
			zap.String("workflow_id", j.workflowID),
			zap.Error(err),
		)
	}
	metrics.WorkflowRuns.WithLabelValues(status).Inc()
}
