package messaging

import (
	"github.com/gin-gonic/gin"

	"github.com/hamsafar/dispatch/pkg/common"
	"github.com/hamsafar/dispatch/pkg/middleware"
)

// Handler exposes the device token registry.
type Handler struct {
	push *PushService
}

// NewHandler creates a new messaging handler
func NewHandler(push *PushService) *Handler {
	return &Handler{push: push}
}

type registerDeviceRequest struct {
	Token    string `json:"token" binding:"required"`
	Platform string `json:"platform" binding:"required,oneof=ios android web"`
}

// RegisterDevice stores a push token for the authenticated user.
// POST /devices
func (h *Handler) RegisterDevice(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}

	var req registerDeviceRequest
	if !common.BindJSON(c, &req) {
		return
	}

	if err := h.push.RegisterDevice(c.Request.Context(), userID, req.Token, req.Platform); err != nil {
		common.HandleServiceError(c, err)
		return
	}

	common.SuccessResponse(c, gin.H{"registered": true})
}

type unregisterDeviceRequest struct {
	Token string `json:"token" binding:"required"`
}

// UnregisterDevice removes a push token, typically on logout.
// DELETE /devices
func (h *Handler) UnregisterDevice(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}

	var req unregisterDeviceRequest
	if !common.BindJSON(c, &req) {
		return
	}

	if err := h.push.UnregisterDevice(c.Request.Context(), userID, req.Token); err != nil {
		common.HandleServiceError(c, err)
		return
	}

	common.SuccessResponse(c, gin.H{"removed": true})
}
