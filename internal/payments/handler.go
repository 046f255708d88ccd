package payments

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v83/webhook"
	"go.uber.org/zap"

	"github.com/hamsafar/dispatch/pkg/common"
	"github.com/hamsafar/dispatch/pkg/logger"
	"github.com/hamsafar/dispatch/pkg/middleware"
	"github.com/hamsafar/dispatch/pkg/models"
	"github.com/hamsafar/dispatch/pkg/pagination"
)

// Handler handles wallet and payout HTTP requests
type Handler struct {
	service       *Service
	webhookSecret string
}

// NewHandler creates a new payments handler
func NewHandler(service *Service, webhookSecret string) *Handler {
	return &Handler{service: service, webhookSecret: webhookSecret}
}

// TopUpRequest is the body for POST /wallet/topup
type TopUpRequest struct {
	Amount float64 `json:"amount" binding:"required,gt=0"`
}

// TripPaymentRequest is the body for POST /wallet/process-trip-payment
type TripPaymentRequest struct {
	TripID string `json:"trip_id" binding:"required,uuid"`
}

// PayoutRequest is the body for POST /payouts
type PayoutRequest struct {
	Amount         float64 `json:"amount" binding:"required,gt=0"`
	IdempotencyKey string  `json:"idempotency_key" binding:"required"`
}

// GetBalance handles GET /wallet/balance
func (h *Handler) GetBalance(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}

	balance, err := h.service.Balance(c.Request.Context(), userID)
	if common.HandleServiceError(c, err, "failed to load wallet balance") {
		return
	}

	common.SuccessResponse(c, gin.H{"balance": balance})
}

// TopUp handles POST /wallet/topup
func (h *Handler) TopUp(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}

	var req TopUpRequest
	if !common.BindJSON(c, &req) {
		return
	}

	intent, err := h.service.TopUp(c.Request.Context(), userID, req.Amount)
	if common.HandleServiceError(c, err, "failed to start top-up") {
		return
	}

	common.CreatedResponse(c, intent)
}

// ProcessTripPayment handles POST /wallet/process-trip-payment
func (h *Handler) ProcessTripPayment(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}

	var req TripPaymentRequest
	if !common.BindJSON(c, &req) {
		return
	}

	tripID, err := uuid.Parse(req.TripID)
	if err != nil {
		common.AppErrorResponse(c, common.NewValidationError("invalid trip id"))
		return
	}

	trip, svcErr := h.service.ProcessTripPayment(c.Request.Context(), userID, tripID)
	if common.HandleServiceError(c, svcErr, "failed to process trip payment") {
		return
	}

	common.SuccessResponse(c, trip)
}

// ListTransactions handles GET /wallet/transactions
func (h *Handler) ListTransactions(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}

	page, perPage := pagination.FromQuery(c)

	txns, err := h.service.Transactions(c.Request.Context(), userID, page, perPage)
	if common.HandleServiceError(c, err, "failed to list transactions") {
		return
	}

	common.SuccessResponse(c, txns)
}

// RequestPayout handles POST /payouts (driver)
func (h *Handler) RequestPayout(c *gin.Context) {
	driverID, err := middleware.GetDriverID(c)
	if err != nil {
		common.AppErrorResponse(c, common.NewForbiddenError("driver profile required"))
		return
	}

	var req PayoutRequest
	if !common.BindJSON(c, &req) {
		return
	}

	payout, svcErr := h.service.RequestPayout(c.Request.Context(), driverID, req.Amount, req.IdempotencyKey)
	if common.HandleServiceError(c, svcErr, "failed to request payout") {
		return
	}

	common.CreatedResponse(c, payout)
}

// GetPayout handles GET /payouts/:id. Drivers can only read their own.
func (h *Handler) GetPayout(c *gin.Context) {
	payoutID, ok := common.ParseUUIDParam(c, "id", "payout id")
	if !ok {
		return
	}

	payout, err := h.service.GetPayout(c.Request.Context(), payoutID)
	if common.HandleServiceError(c, err, "failed to load payout") {
		return
	}

	role, _ := middleware.GetUserRole(c)
	if role != models.RoleAdmin {
		driverID, err := middleware.GetDriverID(c)
		if err != nil || payout.DriverID != driverID {
			common.AppErrorResponse(c, common.NewForbiddenError("access denied"))
			return
		}
	}

	common.SuccessResponse(c, payout)
}

// StripeWebhook handles POST /webhooks/stripe. The signature header is
// verified against the configured endpoint secret.
func (h *Handler) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<16))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "failed to read webhook payload")
		return
	}

	event, err := webhook.ConstructEvent(payload, c.GetHeader("Stripe-Signature"), h.webhookSecret)
	if err != nil {
		logger.Warn("rejected webhook with bad signature", zap.Error(err))
		common.ErrorResponse(c, http.StatusBadRequest, "invalid webhook signature")
		return
	}

	var object struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(event.Data.Raw, &object); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	if err := h.service.HandleProviderEvent(c.Request.Context(), string(event.Type), object.ID); err != nil {
		// non-2xx makes Stripe redeliver
		common.ErrorResponse(c, http.StatusInternalServerError, "failed to handle webhook")
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
