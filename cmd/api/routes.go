package main

import (
	"github.com/gin-gonic/gin"

	"github.com/hamsafar/dispatch/pkg/config"
	"github.com/hamsafar/dispatch/pkg/middleware"
	redisclient "github.com/hamsafar/dispatch/pkg/redis"
	"github.com/hamsafar/dispatch/pkg/rooms"
)

func registerRoutes(router *gin.Engine, hub *rooms.Hub, deps *services, redisClient *redisclient.Client, cfg *config.Config) {
	// money-moving endpoints honor Idempotency-Key when redis is available
	var idempotency gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if redisClient != nil {
		idempotency = middleware.Idempotency(redisClient)
	}

	v1 := router.Group("/api/v1")

	// public
	v1.POST("/auth/otp/request", deps.authHandler.RequestOTP)
	v1.POST("/auth/otp/verify", deps.authHandler.VerifyOTP)
	v1.GET("/webhooks/whatsapp", deps.whatsappWebhook.Verify)
	v1.POST("/webhooks/whatsapp", deps.whatsappWebhook.Receive)
	v1.POST("/webhooks/stripe", deps.paymentsHandler.StripeWebhook)

	// websocket upgrade authenticates via token query param / header
	router.GET("/ws", func(c *gin.Context) {
		rooms.HandleWebSocket(c, hub, cfg.JWT.Secret, deps.gateway.OnConnect)
	})

	authed := v1.Group("")
	authed.Use(middleware.AuthMiddleware(cfg.JWT.Secret))
	{
		authed.GET("/auth/me", deps.authHandler.GetProfile)

		authed.POST("/drivers/register", deps.driversHandler.Register)
		authed.GET("/drivers/me", deps.driversHandler.GetMe)
		authed.PUT("/drivers/me", deps.driversHandler.UpdateProfile)
		authed.POST("/drivers/availability", deps.driversHandler.SetAvailability)

		authed.POST("/trips", deps.tripsHandler.Create)
		authed.GET("/trips", deps.tripsHandler.ListMine)
		authed.GET("/trips/:id", deps.tripsHandler.Get)
		authed.PATCH("/trips/:id/status", deps.tripsHandler.ChangeStatus)
		authed.POST("/trips/:id/accept", deps.tripsHandler.Accept)
		authed.POST("/trips/:id/reject", deps.tripsHandler.Reject)
		authed.POST("/trips/:id/sos", deps.tripsHandler.SOS)
		authed.POST("/trips/:id/payment-collected", deps.tripsHandler.PaymentCollected)
		authed.POST("/trips/:id/settle", deps.tripsHandler.Settle)

		authed.GET("/wallet/balance", deps.paymentsHandler.GetBalance)
		authed.POST("/wallet/topup", idempotency, deps.paymentsHandler.TopUp)
		authed.POST("/wallet/process-trip-payment", deps.paymentsHandler.ProcessTripPayment)
		authed.GET("/wallet/transactions", deps.paymentsHandler.ListTransactions)

		authed.POST("/payouts", idempotency, deps.paymentsHandler.RequestPayout)
		authed.GET("/payouts/:id", deps.paymentsHandler.GetPayout)

		authed.POST("/devices", deps.messagingHandler.RegisterDevice)
		authed.DELETE("/devices", deps.messagingHandler.UnregisterDevice)

		authed.POST("/credits/requests", deps.creditsHandler.RequestPurchase)
		authed.GET("/credits/balance", deps.creditsHandler.GetBalance)
		authed.GET("/credits/ledger", deps.creditsHandler.History)
	}

	adminGroup := v1.Group("/admin")
	adminGroup.Use(middleware.AuthMiddleware(cfg.JWT.Secret), middleware.RequireAdmin())
	{
		adminGroup.POST("/totp/enroll", deps.authHandler.EnrollTOTP)
		adminGroup.POST("/totp/activate", deps.authHandler.ActivateTOTP)

		adminGroup.GET("/alerts", deps.adminHandler.ListAlerts)
		adminGroup.POST("/alerts/:id/ack", deps.adminHandler.AcknowledgeAlert)
		adminGroup.GET("/surge", deps.adminHandler.GetSurge)

		adminGroup.GET("/reconciliation", deps.reconHandler.ListLogs)
		adminGroup.POST("/reconciliation/run", deps.reconHandler.RunNow)

		adminGroup.GET("/dispatch/config", deps.dispatchHandler.GetConfig)
		adminGroup.PUT("/dispatch/config", deps.dispatchHandler.UpdateConfig)
		adminGroup.GET("/dispatch/offers", deps.dispatchHandler.ListOffers)

		adminGroup.POST("/drivers/:id/suspend", deps.driversHandler.Suspend)
		adminGroup.POST("/drivers/:id/unsuspend", deps.driversHandler.Unsuspend)
		adminGroup.POST("/drivers/:id/unflag", deps.driversHandler.Unflag)
		adminGroup.GET("/drivers/flagged", deps.driversHandler.ListFlagged)

		adminGroup.GET("/credits/requests", deps.creditsHandler.ListPending)
		adminGroup.POST("/credits/requests/:id/approve", deps.creditsHandler.Approve)
		adminGroup.POST("/credits/requests/:id/reject", deps.creditsHandler.Reject)
		adminGroup.POST("/credits/adjust", deps.creditsHandler.Adjust)
	}
}
