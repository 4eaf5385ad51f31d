package handlers

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/insightconsole/backend/internal/middleware"
	"github.com/insightconsole/backend/internal/services"
	"github.com/insightconsole/backend/internal/workflows"
	"github.com/insightconsole/backend/pkg/errors"
	"github.com/insightconsole/backend/pkg/logger"
	"github.com/insightconsole/backend/pkg/response"
)

// WorkflowQueue schedules workflow runs.
type WorkflowQueue interface {
	Enqueue(workflowID string) (string, error)
}

// DealHandler serves deals and their documents and workflows. Routes taking an id are
// guarded by RequireTenantResource, so handlers only see resources of the caller's firm.
type DealHandler struct {
	deals *services.DealService
	queue WorkflowQueue
	audit *services.AuditService
}

// NewDealHandler constructs a DealHandler.
func NewDealHandler(deals *services.DealService, queue WorkflowQueue, audit *services.AuditService) *DealHandler {
	return &DealHandler{deals: deals, queue: queue, audit: audit}
}

type createDealRequest struct {
	Name          string   `json:"name" validate:"required,max=200"`
	TargetCompany string   `json:"targetCompany" validate:"max=200"`
	Sector        string   `json:"sector" validate:"max=100"`
	DealType      string   `json:"dealType" validate:"max=100"`
	KeyQuestions  []string `json:"keyQuestions" validate:"max=50,dive,max=500"`
	Hypotheses    []string `json:"hypotheses" validate:"max=50,dive,max=500"`
}

type createDocumentRequest struct {
	Filename string `json:"filename" validate:"required,max=255"`
	FilePath string `json:"filePath" validate:"max=1024"`
	FileSize int64  `json:"fileSize" validate:"gte=0"`
	MimeType string `json:"mimeType" validate:"max=255"`
}

type createWorkflowRequest struct {
	WorkflowType string `json:"workflowType" validate:"required,oneof=competitive_analysis market_sizing unit_economics management_assessment financial_benchmarking"`
}

// GET /api/deals
func (h *DealHandler) List(c *gin.Context) {
	deals, err := h.deals.List(requestContext(c), c.GetString(middleware.CtxFirmIDKey))
	if err != nil {
		h.internalError(c, "list deals", err)
		return
	}
	response.Success(c, http.StatusOK, deals)
}

// POST /api/deals
func (h *DealHandler) Create(c *gin.Context) {
	var req createDealRequest
	if !bindAndValidate(c, &req) {
		return
	}

	deal, err := h.deals.Create(requestContext(c), c.GetString(middleware.CtxFirmIDKey), c.GetString(middleware.CtxUserIDKey), services.CreateDealInput{
		Name:          req.Name,
		TargetCompany: req.TargetCompany,
		Sector:        req.Sector,
		DealType:      req.DealType,
		KeyQuestions:  req.KeyQuestions,
		Hypotheses:    req.Hypotheses,
	})
	if err != nil {
		h.internalError(c, "create deal", err)
		return
	}
	response.Success(c, http.StatusCreated, deal)
}

// GET /api/deals/:id
func (h *DealHandler) Get(c *gin.Context) {
	deal, err := h.deals.Get(requestContext(c), c.Param("id"))
	if err != nil {
		h.lookupError(c, "get deal", err)
		return
	}
	response.Success(c, http.StatusOK, deal)
}

// POST /api/deals/:id/documents
func (h *DealHandler) AddDocument(c *gin.Context) {
	var req createDocumentRequest
	if !bindAndValidate(c, &req) {
		return
	}

	doc, err := h.deals.AddDocument(requestContext(c), c.Param("id"), c.GetString(middleware.CtxUserIDKey), services.DocumentInput{
		Filename: req.Filename,
		FilePath: req.FilePath,
		FileSize: req.FileSize,
		MimeType: req.MimeType,
	})
	if err != nil {
		h.internalError(c, "add document", err)
		return
	}
	response.Success(c, http.StatusCreated, doc)
}

// GET /api/documents/:id
func (h *DealHandler) GetDocument(c *gin.Context) {
	doc, err := h.deals.GetDocument(requestContext(c), c.Param("id"))
	if err != nil {
		h.lookupError(c, "get document", err)
		return
	}
	response.Success(c, http.StatusOK, doc)
}

// POST /api/deals/:id/workflows
func (h *DealHandler) StartWorkflow(c *gin.Context) {
	var req createWorkflowRequest
	if !bindAndValidate(c, &req) {
		return
	}
	ctx := requestContext(c)

	workflow, err := h.deals.CreateWorkflow(ctx, c.Param("id"), req.WorkflowType)
	if err != nil {
		if stderrors.Is(err, services.ErrInvalidWorkflowType) {
			response.Error(c, errors.NewBadRequest("workflowType is not supported"))
			return
		}
		h.internalError(c, "create workflow", err)
		return
	}

	jobID, err := h.queue.Enqueue(workflow.ID)
	if err != nil {
		if failErr := h.deals.FailWorkflow(ctx, workflow.ID, err.Error()); failErr != nil {
			logger.WithModule("workflows").Warn("failed to record rejected workflow", zap.Error(failErr))
		}
		if stderrors.Is(err, workflows.ErrQueueFull) || stderrors.Is(err, workflows.ErrRunnerStopped) {
			response.Error(c, errors.ErrServiceUnavailable)
			return
		}
		h.internalError(c, "enqueue workflow", err)
		return
	}

	if err := h.deals.AttachJob(ctx, workflow.ID, jobID); err != nil {
		logger.WithModule("workflows").Warn("failed to store job id", zap.String("job_id", jobID), zap.Error(err))
	}
	workflow.JobID = jobID

	h.audit.Record(ctx, services.AuditEntry{
		Action:       services.AuditWorkflowQueued,
		ResourceType: "workflow",
		ResourceID:   workflow.ID,
		Result:       services.AuditResultSuccess,
		Metadata:     map[string]any{"job_id": jobID, "workflow_type": workflow.WorkflowType},
	})
	response.Success(c, http.StatusAccepted, workflow)
}

// GET /api/workflows/:id
func (h *DealHandler) GetWorkflow(c *gin.Context) {
	workflow, err := h.deals.GetWorkflow(requestContext(c), c.Param("id"))
	if err != nil {
		h.lookupError(c, "get workflow", err)
		return
	}
	response.Success(c, http.StatusOK, workflow)
}

func (h *DealHandler) lookupError(c *gin.Context, op string, err error) {
	if stderrors.Is(err, services.ErrRecordNotFound) {
		response.Error(c, errors.ErrNotFound)
		return
	}
	h.internalError(c, op, err)
}

func (h *DealHandler) internalError(c *gin.Context, op string, err error) {
	logger.WithModule("http").Error(op+" failed", zap.Error(err))
	response.Error(c, errors.ErrInternalServer)
}
