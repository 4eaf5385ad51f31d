package workflows

import (
	"context"
	"errors"

	"github.com/insightconsole/backend/internal/models"
)

// ErrAnalyzerNotConfigured is recorded on runs when no analysis backend is wired in.
var ErrAnalyzerNotConfigured = errors.New("workflows: analyzer not configured")

// ProgressFunc reports intermediate progress of a run.
type ProgressFunc func(percent int, step string)

// Analyzer performs the analysis behind a workflow and returns its findings.
type Analyzer interface {
	Analyze(ctx context.Context, workflow models.Workflow, progress ProgressFunc) (map[string]any, error)
}

// AnalyzerFunc adapts a function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, workflow models.Workflow, progress ProgressFunc) (map[string]any, error)

// Analyze implements Analyzer.
func (f AnalyzerFunc) Analyze(ctx context.Context, workflow models.Workflow, progress ProgressFunc) (map[string]any, error) {
	return f(ctx, workflow, progress)
}

type unconfiguredAnalyzer struct{}

func (unconfiguredAnalyzer) Analyze(context.Context, models.Workflow, ProgressFunc) (map[string]any, error) {
	return nil, ErrAnalyzerNotConfigured
}
