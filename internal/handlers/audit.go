package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/insightconsole/backend/internal/middleware"
	"github.com/insightconsole/backend/internal/services"
	"github.com/insightconsole/backend/pkg/errors"
	"github.com/insightconsole/backend/pkg/logger"
	"github.com/insightconsole/backend/pkg/response"
)

// AuditHandler exposes a firm's own audit trail.
type AuditHandler struct {
	svc *services.AuditService
}

func NewAuditHandler(svc *services.AuditService) *AuditHandler {
	return &AuditHandler{svc: svc}
}

// GET /api/audit?action=&since=&page=&per_page=
func (h *AuditHandler) List(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}
	principal := claims.Principal()

	page, err := queryInt(c, "page", 1)
	if err != nil {
		response.Error(c, errors.NewBadRequest("page must be a positive integer"))
		return
	}
	per, err := queryInt(c, "per_page", 50)
	if err != nil {
		response.Error(c, errors.NewBadRequest("per_page must be a positive integer"))
		return
	}

	filters := services.AuditFilters{
		FirmID: principal.TenantID,
		Action: strings.TrimSpace(c.Query("action")),
	}
	if raw := strings.TrimSpace(c.Query("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, errors.NewBadRequest("since must be an RFC3339 timestamp"))
			return
		}
		filters.Since = &since
	}

	logs, total, err := h.svc.List(requestContext(c), services.AuditListOptions{Page: page, PageSize: per, Filters: filters})
	if err != nil {
		logger.WithModule("http").Error("list audit logs failed", zap.Error(err))
		response.Error(c, errors.ErrInternalServer)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, logs, &response.Meta{Page: page, PerPage: per, Total: int(total)})
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return 0, errors.ErrBadRequest
	}
	return value, nil
}
