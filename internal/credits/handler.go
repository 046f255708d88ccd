package credits

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hamsafar/dispatch/pkg/common"
	"github.com/hamsafar/dispatch/pkg/middleware"
	"github.com/hamsafar/dispatch/pkg/models"
	"github.com/hamsafar/dispatch/pkg/pagination"
)

// Handler handles credit HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates a new credits handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// PurchaseRequest is the body for POST /credits/requests
type PurchaseRequest struct {
	Credits int `json:"credits" binding:"required,min=1"`
	Months  int `json:"months" binding:"required,min=1"`
}

// AdjustRequest is the body for POST /credits/adjust (admin)
type AdjustRequest struct {
	DriverID string `json:"driver_id" binding:"required,uuid"`
	Delta    int    `json:"delta" binding:"required"`
}

// ReviewRequest is the optional body for request rejection
type ReviewRequest struct {
	Note string `json:"note"`
}

// RequestPurchase handles POST /credits/requests (driver)
func (h *Handler) RequestPurchase(c *gin.Context) {
	driverID, err := middleware.GetDriverID(c)
	if err != nil {
		common.AppErrorResponse(c, common.NewForbiddenError("driver profile required"))
		return
	}

	var req PurchaseRequest
	if !common.BindJSON(c, &req) {
		return
	}

	created, svcErr := h.service.RequestPurchase(c.Request.Context(), driverID, req.Credits, req.Months)
	if common.HandleServiceError(c, svcErr, "failed to create purchase request") {
		return
	}

	common.CreatedResponse(c, created)
}

// ListPending handles GET /credits/requests (admin)
func (h *Handler) ListPending(c *gin.Context) {
	reqs, err := h.service.PendingRequests(c.Request.Context())
	if common.HandleServiceError(c, err, "failed to list purchase requests") {
		return
	}

	common.SuccessResponse(c, reqs)
}

// Approve handles POST /credits/requests/:id/approve (admin)
func (h *Handler) Approve(c *gin.Context) {
	adminID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}

	requestID, ok := common.ParseUUIDParam(c, "id", "request id")
	if !ok {
		return
	}

	req, err := h.service.Approve(c.Request.Context(), adminID, requestID)
	if common.HandleServiceError(c, err, "failed to approve purchase request") {
		return
	}

	common.SuccessResponse(c, req)
}

// Reject handles POST /credits/requests/:id/reject (admin)
func (h *Handler) Reject(c *gin.Context) {
	adminID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}

	requestID, ok := common.ParseUUIDParam(c, "id", "request id")
	if !ok {
		return
	}

	var body ReviewRequest
	_ = c.ShouldBindJSON(&body)

	req, err := h.service.Reject(c.Request.Context(), adminID, requestID, body.Note)
	if common.HandleServiceError(c, err, "failed to reject purchase request") {
		return
	}

	common.SuccessResponse(c, req)
}

// Adjust handles POST /credits/adjust (admin)
func (h *Handler) Adjust(c *gin.Context) {
	adminID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}

	var req AdjustRequest
	if !common.BindJSON(c, &req) {
		return
	}

	driverID, err := uuid.Parse(req.DriverID)
	if err != nil {
		common.AppErrorResponse(c, common.NewValidationError("invalid driver id"))
		return
	}

	entry, svcErr := h.service.Adjust(c.Request.Context(), adminID, driverID, req.Delta)
	if common.HandleServiceError(c, svcErr, "failed to adjust credits") {
		return
	}

	common.CreatedResponse(c, entry)
}

// GetBalance handles GET /credits/balance. Drivers see their own balance;
// admins may pass ?driver_id=.
func (h *Handler) GetBalance(c *gin.Context) {
	driverID, ok := h.resolveDriver(c)
	if !ok {
		return
	}

	bal, err := h.service.GetBalance(c.Request.Context(), driverID)
	if common.HandleServiceError(c, err, "failed to load credit balance") {
		return
	}

	common.SuccessResponse(c, bal)
}

// History handles GET /credits/ledger
func (h *Handler) History(c *gin.Context) {
	driverID, ok := h.resolveDriver(c)
	if !ok {
		return
	}

	page, perPage := pagination.FromQuery(c)

	entries, err := h.service.History(c.Request.Context(), driverID, page, perPage)
	if common.HandleServiceError(c, err, "failed to list ledger entries") {
		return
	}

	common.SuccessResponse(c, entries)
}

func (h *Handler) resolveDriver(c *gin.Context) (uuid.UUID, bool) {
	role, _ := middleware.GetUserRole(c)
	if role == models.RoleAdmin && c.Query("driver_id") != "" {
		return common.ParseUUIDQuery(c, "driver_id", "driver id", true)
	}

	driverID, err := middleware.GetDriverID(c)
	if err != nil {
		common.AppErrorResponse(c, common.NewForbiddenError("driver profile required"))
		return uuid.Nil, false
	}
	return driverID, true
}
