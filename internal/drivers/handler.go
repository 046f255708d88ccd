package drivers

import (
	"github.com/gin-gonic/gin"

	"github.com/hamsafar/dispatch/pkg/common"
	"github.com/hamsafar/dispatch/pkg/middleware"
	"github.com/hamsafar/dispatch/pkg/models"
)

// Handler handles driver HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates a new drivers handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// SetAvailabilityRequest is the availability toggle payload.
type SetAvailabilityRequest struct {
	Status models.DriverStatus `json:"status" binding:"required"`
}

// Register handles POST /drivers (admin)
func (h *Handler) Register(c *gin.Context) {
	var req RegisterDriverRequest
	if !common.BindJSON(c, &req) {
		return
	}

	driver, err := h.service.Register(c.Request.Context(), &req)
	if common.HandleServiceError(c, err, "failed to register driver") {
		return
	}

	common.CreatedResponse(c, driver)
}

// GetMe handles GET /drivers/me (driver)
func (h *Handler) GetMe(c *gin.Context) {
	driverID, err := middleware.GetDriverID(c)
	if err != nil {
		common.AppErrorResponse(c, common.NewForbiddenError("driver access required"))
		return
	}

	driver, err := h.service.GetDriver(c.Request.Context(), driverID)
	if common.HandleServiceError(c, err, "failed to load driver") {
		return
	}

	common.SuccessResponse(c, driver)
}

// SetAvailability handles PATCH /drivers/me/status (driver)
func (h *Handler) SetAvailability(c *gin.Context) {
	driverID, err := middleware.GetDriverID(c)
	if err != nil {
		common.AppErrorResponse(c, common.NewForbiddenError("driver access required"))
		return
	}

	var req SetAvailabilityRequest
	if !common.BindJSON(c, &req) {
		return
	}

	driver, err := h.service.SetAvailability(c.Request.Context(), driverID, req.Status)
	if common.HandleServiceError(c, err, "failed to update availability") {
		return
	}

	common.SuccessResponse(c, driver)
}

// UpdateProfile handles PATCH /drivers/me (driver)
func (h *Handler) UpdateProfile(c *gin.Context) {
	driverID, err := middleware.GetDriverID(c)
	if err != nil {
		common.AppErrorResponse(c, common.NewForbiddenError("driver access required"))
		return
	}

	var req UpdateProfileRequest
	if !common.BindJSON(c, &req) {
		return
	}

	driver, err := h.service.UpdateProfile(c.Request.Context(), driverID, &req)
	if common.HandleServiceError(c, err, "failed to update profile") {
		return
	}

	common.SuccessResponse(c, driver)
}

// Suspend handles POST /drivers/:id/suspend (admin)
func (h *Handler) Suspend(c *gin.Context) {
	driverID, ok := common.ParseUUIDParam(c, "id", "driver id")
	if !ok {
		return
	}

	if err := h.service.Suspend(c.Request.Context(), driverID); err != nil {
		common.HandleServiceError(c, err, "failed to suspend driver")
		return
	}

	common.SuccessResponse(c, gin.H{"suspended": true})
}

// Unsuspend handles POST /drivers/:id/unsuspend (admin)
func (h *Handler) Unsuspend(c *gin.Context) {
	driverID, ok := common.ParseUUIDParam(c, "id", "driver id")
	if !ok {
		return
	}

	if err := h.service.Unsuspend(c.Request.Context(), driverID); err != nil {
		common.HandleServiceError(c, err, "failed to unsuspend driver")
		return
	}

	common.SuccessResponse(c, gin.H{"suspended": false})
}

// Unflag handles POST /drivers/:id/unflag (admin)
func (h *Handler) Unflag(c *gin.Context) {
	driverID, ok := common.ParseUUIDParam(c, "id", "driver id")
	if !ok {
		return
	}

	if err := h.service.Unflag(c.Request.Context(), driverID); err != nil {
		common.HandleServiceError(c, err, "failed to clear flag")
		return
	}

	common.SuccessResponse(c, gin.H{"flagged": false})
}

// ListFlagged handles GET /drivers/flagged (admin)
func (h *Handler) ListFlagged(c *gin.Context) {
	drivers, err := h.service.ListFlagged(c.Request.Context())
	if common.HandleServiceError(c, err, "failed to list flagged drivers") {
		return
	}

	common.SuccessResponse(c, drivers)
}
