package reconciliation

import (
	"github.com/gin-gonic/gin"

	"github.com/hamsafar/dispatch/pkg/common"
	"github.com/hamsafar/dispatch/pkg/pagination"
)

// Handler handles reconciliation HTTP requests (admin only)
type Handler struct {
	service *Service
}

// NewHandler creates a new reconciliation handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// ListLogs handles GET /admin/reconciliation
func (h *Handler) ListLogs(c *gin.Context) {
	page, perPage := pagination.FromQuery(c)

	logs, err := h.service.History(c.Request.Context(), page, perPage)
	if common.HandleServiceError(c, err, "failed to list reconciliation logs") {
		return
	}

	common.SuccessResponse(c, logs)
}

// RunNow handles POST /admin/reconciliation/run, an on-demand audit of the
// previous day.
func (h *Handler) RunNow(c *gin.Context) {
	log, err := h.service.Run(c.Request.Context())
	if common.HandleServiceError(c, err, "failed to run reconciliation") {
		return
	}

	common.CreatedResponse(c, log)
}
