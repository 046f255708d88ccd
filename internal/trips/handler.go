package trips

import (
	"github.com/gin-gonic/gin"

	"github.com/hamsafar/dispatch/pkg/common"
	"github.com/hamsafar/dispatch/pkg/middleware"
	"github.com/hamsafar/dispatch/pkg/models"
	"github.com/hamsafar/dispatch/pkg/pagination"
)

// Handler handles trip HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates a new trips handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// ChangeStatusRequest is the transition payload for PATCH /trips/:id/status.
type ChangeStatusRequest struct {
	Status models.TripStatus `json:"status" binding:"required"`
	Reason string            `json:"reason,omitempty"`
}

func actorFrom(c *gin.Context) (Actor, bool) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return Actor{}, false
	}

	role, err := middleware.GetUserRole(c)
	if err != nil {
		common.AppErrorResponse(c, common.NewUnauthorizedError("role missing from token"))
		return Actor{}, false
	}

	actor := Actor{UserID: userID, Role: role}
	if driverID, err := middleware.GetDriverID(c); err == nil {
		actor.DriverID = &driverID
	}

	return actor, true
}

// Create handles POST /trips
func (h *Handler) Create(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	var req CreateTripRequest
	if !common.BindJSON(c, &req) {
		return
	}

	trip, err := h.service.Create(c.Request.Context(), actor, &req)
	if common.HandleServiceError(c, err, "failed to create trip") {
		return
	}

	common.CreatedResponse(c, trip)
}

// Get handles GET /trips/:id
func (h *Handler) Get(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	tripID, ok := common.ParseUUIDParam(c, "id", "trip id")
	if !ok {
		return
	}

	trip, err := h.service.GetTrip(c.Request.Context(), actor, tripID)
	if common.HandleServiceError(c, err, "failed to load trip") {
		return
	}

	common.SuccessResponse(c, trip)
}

// ChangeStatus handles PATCH /trips/:id/status
func (h *Handler) ChangeStatus(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	tripID, ok := common.ParseUUIDParam(c, "id", "trip id")
	if !ok {
		return
	}

	var req ChangeStatusRequest
	if !common.BindJSON(c, &req) {
		return
	}

	trip, err := h.service.ChangeStatus(c.Request.Context(), actor, tripID, req.Status, req.Reason)
	if common.HandleServiceError(c, err, "failed to update trip") {
		return
	}

	common.SuccessResponse(c, trip)
}

// Accept handles POST /trips/:id/accept (driver)
func (h *Handler) Accept(c *gin.Context) {
	driverID, err := middleware.GetDriverID(c)
	if err != nil {
		common.AppErrorResponse(c, common.NewForbiddenError("driver access required"))
		return
	}

	tripID, ok := common.ParseUUIDParam(c, "id", "trip id")
	if !ok {
		return
	}

	trip, err := h.service.AcceptOffer(c.Request.Context(), tripID, driverID)
	if common.HandleServiceError(c, err, "failed to accept trip") {
		return
	}

	common.SuccessResponse(c, trip)
}

// Reject handles POST /trips/:id/reject (driver)
func (h *Handler) Reject(c *gin.Context) {
	driverID, err := middleware.GetDriverID(c)
	if err != nil {
		common.AppErrorResponse(c, common.NewForbiddenError("driver access required"))
		return
	}

	tripID, ok := common.ParseUUIDParam(c, "id", "trip id")
	if !ok {
		return
	}

	if err := h.service.RejectOffer(c.Request.Context(), tripID, driverID); err != nil {
		common.HandleServiceError(c, err, "failed to reject trip")
		return
	}

	common.SuccessResponse(c, gin.H{"rejected": true})
}

// SOS handles POST /trips/:id/sos
func (h *Handler) SOS(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	tripID, ok := common.ParseUUIDParam(c, "id", "trip id")
	if !ok {
		return
	}

	var req SOSRequest
	if !common.BindJSON(c, &req) {
		return
	}

	event, err := h.service.SOS(c.Request.Context(), actor, tripID, &req)
	if common.HandleServiceError(c, err, "failed to record sos") {
		return
	}

	common.CreatedResponse(c, event)
}

// PaymentCollected handles POST /trips/:id/payment-collected (driver)
func (h *Handler) PaymentCollected(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	tripID, ok := common.ParseUUIDParam(c, "id", "trip id")
	if !ok {
		return
	}

	trip, err := h.service.PaymentCollected(c.Request.Context(), actor, tripID)
	if common.HandleServiceError(c, err, "failed to update payment status") {
		return
	}

	common.SuccessResponse(c, trip)
}

// Settle handles POST /trips/:id/settle
func (h *Handler) Settle(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	tripID, ok := common.ParseUUIDParam(c, "id", "trip id")
	if !ok {
		return
	}

	trip, err := h.service.Settle(c.Request.Context(), actor, tripID)
	if common.HandleServiceError(c, err, "failed to settle trip") {
		return
	}

	common.SuccessResponse(c, trip)
}

// ListMine handles GET /trips — the caller's trip history, rider or driver
// view depending on the token.
func (h *Handler) ListMine(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	page, perPage := pagination.FromQuery(c)

	var (
		trips []*models.Trip
		err   error
	)
	if actor.DriverID != nil && c.Query("as") != "rider" {
		trips, err = h.service.ListDriverTrips(c.Request.Context(), *actor.DriverID, page, perPage)
	} else {
		trips, err = h.service.ListRiderTrips(c.Request.Context(), actor.UserID, page, perPage)
	}
	if common.HandleServiceError(c, err, "failed to list trips") {
		return
	}

	common.SuccessResponse(c, trips)
}
