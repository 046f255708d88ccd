package admin

import (
	"github.com/gin-gonic/gin"

	"github.com/hamsafar/dispatch/internal/location"
	"github.com/hamsafar/dispatch/pkg/common"
	"github.com/hamsafar/dispatch/pkg/pagination"
)

// SurgeSource exposes the live demand heatmap.
type SurgeSource interface {
	SurgeSnapshot() []location.ZoneDemand
}

// Handler handles admin HTTP requests
type Handler struct {
	service *Service
	surge   SurgeSource
}

// NewHandler creates a new admin handler. surge may be nil when the demand
// tracker is not wired (worker binary).
func NewHandler(service *Service, surge SurgeSource) *Handler {
	return &Handler{service: service, surge: surge}
}

// ListAlerts handles GET /admin/alerts. ?open=true filters to
// unacknowledged alerts.
func (h *Handler) ListAlerts(c *gin.Context) {
	openOnly := c.Query("open") == "true"
	page, perPage := pagination.FromQuery(c)

	alerts, err := h.service.ListAlerts(c.Request.Context(), openOnly, page, perPage)
	if common.HandleServiceError(c, err, "failed to list alerts") {
		return
	}

	common.SuccessResponse(c, alerts)
}

// AcknowledgeAlert handles POST /admin/alerts/:id/ack
func (h *Handler) AcknowledgeAlert(c *gin.Context) {
	alertID, ok := common.ParseUUIDParam(c, "id", "alert id")
	if !ok {
		return
	}

	alert, err := h.service.Acknowledge(c.Request.Context(), alertID)
	if common.HandleServiceError(c, err, "failed to acknowledge alert") {
		return
	}

	common.SuccessResponse(c, alert)
}

// GetSurge handles GET /admin/surge, the demand heatmap for operators.
func (h *Handler) GetSurge(c *gin.Context) {
	if h.surge == nil {
		common.SuccessResponse(c, []location.ZoneDemand{})
		return
	}
	common.SuccessResponse(c, h.surge.SurgeSnapshot())
}
