package dispatch

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/hamsafar/dispatch/pkg/common"
	"github.com/hamsafar/dispatch/pkg/models"
)

// Handler handles dispatch admin HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates a new dispatch handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// GetConfig handles GET /dispatch/config (admin)
func (h *Handler) GetConfig(c *gin.Context) {
	settings, err := h.service.GetSettings(c.Request.Context())
	if common.HandleServiceError(c, err, "failed to load dispatch settings") {
		return
	}

	common.SuccessResponse(c, settings)
}

// UpdateConfig handles PUT /dispatch/config (admin)
func (h *Handler) UpdateConfig(c *gin.Context) {
	var settings models.DispatchSettings
	if !common.BindJSON(c, &settings) {
		return
	}

	updated, err := h.service.UpdateSettings(c.Request.Context(), &settings)
	if common.HandleServiceError(c, err, "failed to update dispatch settings") {
		return
	}

	common.SuccessResponse(c, updated)
}

// ListOffers handles GET /dispatch/offers (admin). With ?trip_id= it returns
// one trip's offer history, otherwise the newest offers across all trips.
func (h *Handler) ListOffers(c *gin.Context) {
	if tripParam := c.Query("trip_id"); tripParam != "" {
		tripID, ok := common.ParseUUIDQuery(c, "trip_id", "trip id", true)
		if !ok {
			return
		}

		offers, err := h.service.TripOffers(c.Request.Context(), tripID)
		if common.HandleServiceError(c, err, "failed to list offers") {
			return
		}

		common.SuccessResponse(c, offers)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offers, err := h.service.RecentOffers(c.Request.Context(), limit)
	if common.HandleServiceError(c, err, "failed to list offers") {
		return
	}

	common.SuccessResponse(c, offers)
}
