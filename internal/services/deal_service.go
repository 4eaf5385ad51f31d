package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/insightconsole/backend/internal/models"
)

// CreateDealInput carries the fields accepted when opening a deal.
type CreateDealInput struct {
	Name          string
	TargetCompany string
	Sector        string
	DealType      string
	KeyQuestions  []string
	Hypotheses    []string
}

// DocumentInput carries metadata of an uploaded document.
type DocumentInput struct {
	Filename string
	FilePath string
	FileSize int64
	MimeType string
}

// DealService manages deals and the documents and workflows attached to them. Callers
// are expected to have passed tenant isolation for any id they supply.
type DealService struct {
	db    *gorm.DB
	audit *AuditService
}

// NewDealService constructs a DealService.
func NewDealService(db *gorm.DB, audit *AuditService) (*DealService, error) {
	if db == nil {
		return nil, errors.New("deal service: db is required")
	}
	return &DealService{db: db, audit: audit}, nil
}

// List returns the firm's deals, newest first.
func (s *DealService) List(ctx context.Context, firmID string) ([]models.Deal, error) {
	var deals []models.Deal
	err := s.db.WithContext(ctx).
		Where("firm_id = ?", firmID).
		Order("created_at DESC").
		Find(&deals).Error
	if err != nil {
		return nil, fmt.Errorf("deal service: list deals: %w", err)
	}
	return deals, nil
}

// Create opens a deal in the caller's firm.
func (s *DealService) Create(ctx context.Context, firmID, userID string, input CreateDealInput) (*models.Deal, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.New("deal service: name is required")
	}

	questions, err := jsonList(input.KeyQuestions)
	if err != nil {
		return nil, err
	}
	hypotheses, err := jsonList(input.Hypotheses)
	if err != nil {
		return nil, err
	}

	deal := &models.Deal{
		Name:          name,
		TargetCompany: strings.TrimSpace(input.TargetCompany),
		Sector:        strings.TrimSpace(input.Sector),
		DealType:      strings.TrimSpace(input.DealType),
		Status:        models.DealStatusDraft,
		KeyQuestions:  questions,
		Hypotheses:    hypotheses,
		CreatedByID:   userID,
		FirmID:        firmID,
	}
	if err := s.db.WithContext(ctx).Create(deal).Error; err != nil {
		return nil, fmt.Errorf("deal service: create deal: %w", err)
	}

	s.audit.Record(ctx, AuditEntry{
		UserID:       userID,
		FirmID:       firmID,
		Action:       "deal.create",
		ResourceType: "deal",
		ResourceID:   deal.ID,
		Result:       AuditResultSuccess,
	})
	return deal, nil
}

// Get loads a deal by id.
func (s *DealService) Get(ctx context.Context, id string) (*models.Deal, error) {
	var deal models.Deal
	if err := s.first(ctx, &deal, id); err != nil {
		return nil, err
	}
	return &deal, nil
}

// AddDocument records document metadata on a deal.
func (s *DealService) AddDocument(ctx context.Context, dealID, userID string, input DocumentInput) (*models.Document, error) {
	filename := strings.TrimSpace(input.Filename)
	if filename == "" {
		return nil, errors.New("deal service: filename is required")
	}
	path := strings.TrimSpace(input.FilePath)
	if path == "" {
		path = dealID + "/" + filename
	}

	doc := &models.Document{
		DealID:       dealID,
		Filename:     filename,
		FilePath:     path,
		FileSize:     input.FileSize,
		MimeType:     strings.TrimSpace(input.MimeType),
		UploadedByID: userID,
	}
	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		return nil, fmt.Errorf("deal service: create document: %w", err)
	}
	return doc, nil
}

// GetDocument loads a document by id.
func (s *DealService) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	if err := s.first(ctx, &doc, id); err != nil {
		return nil, err
	}
	return &doc, nil
}

// CreateWorkflow registers a pending workflow on a deal.
func (s *DealService) CreateWorkflow(ctx context.Context, dealID, workflowType string) (*models.Workflow, error) {
	workflowType = strings.TrimSpace(workflowType)
	if !models.ValidWorkflowType(workflowType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidWorkflowType, workflowType)
	}

	workflow := &models.Workflow{
		DealID:       dealID,
		WorkflowType: workflowType,
		Status:       models.WorkflowStatusPending,
	}
	if err := s.db.WithContext(ctx).Create(workflow).Error; err != nil {
		return nil, fmt.Errorf("deal service: create workflow: %w", err)
	}
	return workflow, nil
}

// AttachJob stores the runner job id on a workflow.
func (s *DealService) AttachJob(ctx context.Context, workflowID, jobID string) error {
	err := s.db.WithContext(ctx).
		Model(&models.Workflow{}).
		Where("id = ?", workflowID).
		Update("job_id", jobID).Error
	if err != nil {
		return fmt.Errorf("deal service: attach job: %w", err)
	}
	return nil
}

// FailWorkflow marks a workflow failed before it ever ran, e.g. when the queue is full.
func (s *DealService) FailWorkflow(ctx context.Context, workflowID, reason string) error {
	err := s.db.WithContext(ctx).
		Model(&models.Workflow{}).
		Where("id = ? AND status = ?", workflowID, models.WorkflowStatusPending).
		Updates(map[string]any{
			"status":        models.WorkflowStatusFailed,
			"error_message": reason,
		}).Error
	if err != nil {
		return fmt.Errorf("deal service: fail workflow: %w", err)
	}
	return nil
}

// GetWorkflow loads a workflow by id.
func (s *DealService) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	var workflow models.Workflow
	if err := s.first(ctx, &workflow, id); err != nil {
		return nil, err
	}
	return &workflow, nil
}

func (s *DealService) first(ctx context.Context, dest any, id string) error {
	err := s.db.WithContext(ctx).First(dest, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRecordNotFound
	}
	if err != nil {
		return fmt.Errorf("deal service: load record: %w", err)
	}
	return nil
}

func jsonList(values []string) (datatypes.JSON, error) {
	cleaned := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			cleaned = append(cleaned, value)
		}
	}
	if len(cleaned) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(cleaned)
	if err != nil {
		return nil, fmt.Errorf("deal service: encode list: %w", err)
	}
	return datatypes.JSON(encoded), nil
}
