package models

import (
	"time"

	"gorm.io/datatypes"
)

// Workflow statuses.
const (
	WorkflowStatusPending   = "pending"
	WorkflowStatusRunning   = "running"
	WorkflowStatusPaused    = "paused"
	WorkflowStatusCompleted = "completed"
	WorkflowStatusFailed    = "failed"
)

// Workflow types.
const (
	WorkflowCompetitiveAnalysis   = "competitive_analysis"
	WorkflowMarketSizing          = "market_sizing"
	WorkflowUnitEconomics         = "unit_economics"
	WorkflowManagementAssessment  = "management_assessment"
	WorkflowFinancialBenchmarking = "financial_benchmarking"
)

// Workflow is one analysis run on a deal. Its owner is the deal's firm.
type Workflow struct {
	BaseModel

	DealID          string         `gorm:"type:uuid;not null;index" json:"dealId"`
	WorkflowType    string         `gorm:"not null" json:"workflowType"`
	Status          string         `gorm:"not null;default:pending;index" json:"status"`
	ProgressPercent int            `gorm:"not null;default:0" json:"progressPercent"`
	CurrentStep     string         `json:"currentStep,omitempty"`
	Findings        datatypes.JSON `json:"findings,omitempty"`
	ErrorMessage    string         `json:"errorMessage,omitempty"`
	JobID           string         `gorm:"size:26;index" json:"jobId,omitempty"`
	StartedAt       *time.Time     `json:"startedAt,omitempty"`
	CompletedAt     *time.Time     `json:"completedAt,omitempty"`
}

// Terminal reports whether the workflow has finished, successfully or not.
func (w *Workflow) Terminal() bool {
	return w.Status == WorkflowStatusCompleted || w.Status == WorkflowStatusFailed
}

// ValidWorkflowType reports whether t names a supported analysis.
func ValidWorkflowType(t string) bool {
	switch t {
	case WorkflowCompetitiveAnalysis, WorkflowMarketSizing, WorkflowUnitEconomics,
		WorkflowManagementAssessment, WorkflowFinancialBenchmarking:
		return true
	default:
		return false
	}
}
