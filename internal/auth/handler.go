package auth

import (
	"github.com/gin-gonic/gin"

	"github.com/hamsafar/dispatch/pkg/common"
	"github.com/hamsafar/dispatch/pkg/middleware"
)

// Handler handles authentication HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates a new auth handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RequestOTPRequest is the request-otp payload.
type RequestOTPRequest struct {
	Phone string `json:"phone" binding:"required,phone"`
}

// VerifyOTPRequest is the verify-otp payload. TOTPCode is required only for
// admins with activated enrollment.
type VerifyOTPRequest struct {
	Phone    string `json:"phone" binding:"required,phone"`
	Code     string `json:"code" binding:"required"`
	TOTPCode string `json:"totp_code"`
}

// ActivateTOTPRequest carries the first authenticator code.
type ActivateTOTPRequest struct {
	Code string `json:"code" binding:"required"`
}

// RequestOTP handles POST /auth/request-otp
func (h *Handler) RequestOTP(c *gin.Context) {
	var req RequestOTPRequest
	if !common.BindJSON(c, &req) {
		return
	}

	ttlSec, err := h.service.RequestOTP(c.Request.Context(), req.Phone)
	if common.HandleServiceError(c, err, "failed to request code") {
		return
	}

	common.SuccessResponse(c, gin.H{"ttl_sec": ttlSec})
}

// VerifyOTP handles POST /auth/verify-otp
func (h *Handler) VerifyOTP(c *gin.Context) {
	var req VerifyOTPRequest
	if !common.BindJSON(c, &req) {
		return
	}

	resp, err := h.service.VerifyOTP(c.Request.Context(), req.Phone, req.Code, req.TOTPCode)
	if common.HandleServiceError(c, err, "failed to verify code") {
		return
	}

	common.SuccessResponse(c, resp)
}

// GetProfile handles GET /auth/me
func (h *Handler) GetProfile(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}

	user, driver, err := h.service.GetProfile(c.Request.Context(), userID)
	if common.HandleServiceError(c, err, "failed to load profile") {
		return
	}

	common.SuccessResponse(c, gin.H{"user": user, "driver": driver})
}

// EnrollTOTP handles POST /auth/totp/enroll (admin)
func (h *Handler) EnrollTOTP(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}

	enrollment, err := h.service.EnrollTOTP(c.Request.Context(), userID)
	if common.HandleServiceError(c, err, "failed to enroll totp") {
		return
	}

	common.SuccessResponse(c, enrollment)
}

// ActivateTOTP handles POST /auth/totp/activate (admin)
func (h *Handler) ActivateTOTP(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}

	var req ActivateTOTPRequest
	if !common.BindJSON(c, &req) {
		return
	}

	if err := h.service.ActivateTOTP(c.Request.Context(), userID, req.Code); err != nil {
		common.HandleServiceError(c, err, "failed to activate totp")
		return
	}

	common.SuccessResponse(c, gin.H{"activated": true})
}
