package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hamsafar/dispatch/internal/admin"
	"github.com/hamsafar/dispatch/internal/auth"
	"github.com/hamsafar/dispatch/internal/credits"
	"github.com/hamsafar/dispatch/internal/dispatch"
	"github.com/hamsafar/dispatch/internal/drivers"
	"github.com/hamsafar/dispatch/internal/location"
	"github.com/hamsafar/dispatch/internal/messaging"
	"github.com/hamsafar/dispatch/internal/otp"
	"github.com/hamsafar/dispatch/internal/payments"
	"github.com/hamsafar/dispatch/internal/realtime"
	"github.com/hamsafar/dispatch/internal/reconciliation"
	"github.com/hamsafar/dispatch/internal/routing"
	"github.com/hamsafar/dispatch/internal/trips"
	"github.com/hamsafar/dispatch/pkg/cache"
	"github.com/hamsafar/dispatch/pkg/common"
	"github.com/hamsafar/dispatch/pkg/config"
	"github.com/hamsafar/dispatch/pkg/database"
	"github.com/hamsafar/dispatch/pkg/errors"
	"github.com/hamsafar/dispatch/pkg/eventbus"
	"github.com/hamsafar/dispatch/pkg/logger"
	"github.com/hamsafar/dispatch/pkg/middleware"
	"github.com/hamsafar/dispatch/pkg/ratelimit"
	redisclient "github.com/hamsafar/dispatch/pkg/redis"
	"github.com/hamsafar/dispatch/pkg/rooms"
	"github.com/hamsafar/dispatch/pkg/tracing"
	"github.com/hamsafar/dispatch/pkg/validation"
)

const (
	serviceName = "dispatch-api"
	version     = "1.0.0"
)

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if err := logger.Init(cfg.Server.Environment); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting dispatch API",
		zap.String("service", serviceName),
		zap.String("version", version),
		zap.String("environment", cfg.Server.Environment),
	)

	if cfg.Sentry.Enabled {
		sentryConfig := errors.DefaultSentryConfig()
		sentryConfig.ServerName = serviceName
		sentryConfig.Release = version
		if err := errors.InitSentry(sentryConfig); err != nil {
			logger.Warn("Failed to initialize Sentry, continuing without error tracking", zap.Error(err))
		} else {
			defer errors.Flush(2 * time.Second)
		}
	}

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer(tracing.Config{
			ServiceName:    serviceName,
			ServiceVersion: version,
			Environment:    cfg.Server.Environment,
			OTLPEndpoint:   cfg.Tracing.Endpoint,
			Enabled:        true,
		}, logger.Get())
		if err != nil {
			logger.Warn("Failed to initialize tracer, continuing without tracing", zap.Error(err))
		} else if tp != nil {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(shutdownCtx); err != nil {
					logger.Warn("Failed to shutdown tracer", zap.Error(err))
				}
			}()
		}
	}

	db, err := database.NewPostgresPool(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)
	logger.Info("Connected to database")

	if cfg.Database.MigrationsDir != "" {
		if err := database.Migrate(cfg.Database.DSN(), cfg.Database.MigrationsDir); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
	}

	var redisClient *redisclient.Client
	if cfg.Redis.Enabled {
		redisClient, err = redisclient.NewRedisClient(&cfg.Redis)
		if err != nil {
			logger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer redisClient.Close()
		logger.Info("Connected to redis")
	} else if cfg.Server.Clustered {
		// rooms cannot span the cluster without the pub/sub bridge
		logger.Warn("running clustered without redis: room events will not cross instances")
	}

	var natsBus *eventbus.Bus
	if cfg.NATS.Enabled {
		natsBus, err = eventbus.New(eventbus.Config{
			URL:        cfg.NATS.URL,
			Name:       serviceName,
			StreamName: "DISPATCH",
		})
		if err != nil {
			logger.Warn("Failed to connect to NATS, continuing without event bus", zap.Error(err))
			natsBus = nil
		} else {
			defer natsBus.Close()
		}
	}

	var bridge rooms.Bridge
	if redisClient != nil {
		bridge = rooms.NewRedisBridge(redisClient.Client)
	}
	hub := rooms.NewHub(bridge)
	go hub.Run()
	defer hub.Close()

	deps := buildServices(db, redisClient, hub, natsBus, cfg)

	if err := deps.dispatchRepo.SeedSettings(context.Background(), cfg.Dispatch); err != nil {
		logger.Warn("Failed to seed dispatch settings", zap.Error(err))
	}

	deps.gateway.Register()

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled && redisClient != nil {
		limiter = ratelimit.NewLimiter(redisClient.Client, cfg.RateLimit)
		logger.Info("Rate limiting enabled",
			zap.Int("default_limit", cfg.RateLimit.DefaultLimit),
			zap.Duration("window", cfg.RateLimit.Window()),
		)
	}

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	validation.RegisterBindings()

	router := gin.New()
	router.Use(middleware.RecoveryWithSentry())
	router.Use(middleware.SentryMiddleware())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestTimeout(time.Duration(cfg.Server.WriteTimeout) * time.Second))
	router.Use(middleware.RequestLogger(serviceName))
	router.Use(middleware.CORS())
	router.Use(middleware.SanitizeRequest())
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware(serviceName))
	}
	if limiter != nil {
		router.Use(middleware.RateLimit(limiter, cfg.RateLimit))
	}
	router.Use(middleware.ErrorHandler())

	router.GET("/healthz", common.HealthCheck(serviceName, version))
	router.GET("/health/live", common.LivenessProbe(serviceName, version))

	healthChecks := map[string]func() error{
		"database": func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return db.Ping(ctx)
		},
	}
	if redisClient != nil {
		healthChecks["redis"] = func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redisClient.Client.Ping(ctx).Err()
		}
	}
	router.GET("/health/ready", common.ReadinessProbe(serviceName, version, healthChecks))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	registerRoutes(router, hub, deps, redisClient, cfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("Server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}

// services bundles everything the route table needs.
type services struct {
	authHandler      *auth.Handler
	driversHandler   *drivers.Handler
	tripsHandler     *trips.Handler
	dispatchHandler  *dispatch.Handler
	paymentsHandler  *payments.Handler
	creditsHandler   *credits.Handler
	adminHandler     *admin.Handler
	reconHandler     *reconciliation.Handler
	messagingHandler *messaging.Handler
	whatsappWebhook  *messaging.WebhookHandler

	dispatchRepo *dispatch.Repository
	gateway      *realtime.Gateway
}

// buildServices wires the domain graph. Construction order follows the
// dependency arrows; the trip service's dispatcher, settler and demand
// recorder are set late because they form cycles.
func buildServices(db *pgxpool.Pool, redisClient *redisclient.Client, hub *rooms.Hub, natsBus *eventbus.Bus, cfg *config.Config) *services {
	// messaging first: the alert service and OTP delivery sit on it
	messagingRepo := messaging.NewRepository(db)
	whatsapp := messaging.NewWhatsAppClient(
		cfg.Messaging.WhatsAppBaseURL,
		cfg.Messaging.WhatsAppToken,
		cfg.Messaging.WhatsAppPhoneID,
		10*time.Second,
	)
	var sms messaging.SMSFallback
	if cfg.Messaging.TwilioEnabled {
		sms = messaging.NewTwilioClient(
			cfg.Messaging.TwilioAccountSID,
			cfg.Messaging.TwilioAuthToken,
			cfg.Messaging.TwilioFromNumber,
		)
	}
	messagingSvc := messaging.NewService(messagingRepo, whatsapp, sms)

	var pushSender messaging.PushSender
	if cfg.Firebase.Enabled {
		sender, err := messaging.NewFirebasePush(context.Background(), cfg.Firebase.ProjectID, cfg.Firebase.CredentialsPath)
		if err != nil {
			logger.Warn("Failed to initialize push channel, continuing without it", zap.Error(err))
		} else {
			pushSender = sender
		}
	}
	pushSvc := messaging.NewPushService(messagingRepo, pushSender)

	adminRepo := admin.NewRepository(db)
	adminSvc := admin.NewService(adminRepo, hub, messagingSvc, cfg.Messaging.OpsAlertPhone)

	var shared *cache.Manager
	if redisClient != nil {
		shared = cache.NewManager(redisClient)
	}
	routingClient, err := routing.NewClient(
		&cfg.Routing,
		cfg.Resilience.CircuitBreaker.SettingsFor("routing"),
		shared,
		adminSvc,
	)
	if err != nil {
		logger.Fatal("Failed to build routing client", zap.Error(err))
	}

	otpSvc := otp.NewService(otp.NewRepository(db), messagingSvc, cfg.OTP)
	authSvc := auth.NewService(auth.NewRepository(db), otpSvc, cfg.JWT)
	driversSvc := drivers.NewService(drivers.NewRepository(db))

	var tripsBus trips.Bus
	if natsBus != nil {
		tripsBus = natsBus
	}
	tripsSvc := trips.NewService(trips.NewRepository(db), routingClient, driversSvc, hub, tripsBus, adminSvc)

	var locationBus location.Bus
	if natsBus != nil {
		locationBus = natsBus
	}
	var geoIndex location.GeoIndexer = location.NewMemoryGeoIndex()
	if redisClient != nil {
		geoIndex = redisClient
	}
	locationSvc := location.NewService(
		location.NewRepository(db),
		routingClient,
		geoIndex,
		tripsSvc,
		tripsSvc,
		driversSvc,
		hub,
		locationBus,
		cfg.Anomaly,
		cfg.Dispatch.GeohashPrecision,
	)

	var dispatchBus dispatch.Bus
	if natsBus != nil {
		dispatchBus = natsBus
	}
	dispatchRepo := dispatch.NewRepository(db)
	dispatchSvc := dispatch.NewService(
		dispatchRepo,
		locationSvc,
		routingClient,
		driversSvc,
		tripsSvc,
		hub,
		dispatchBus,
		cfg.Dispatch,
	)
	tripsSvc.SetDispatcher(dispatchSvc)

	demand := location.NewDemandTracker()
	tripsSvc.SetDemandRecorder(demand)
	tripsSvc.SetPusher(pushSvc)

	creditsRepo := credits.NewRepository(db)
	creditsSvc := credits.NewService(creditsRepo, hub)

	var stripeProvider payments.Provider
	if cfg.Stripe.Enabled {
		stripeProvider = payments.NewResilientStripeClient(cfg.Stripe.SecretKey)
	}
	var paymentsBus payments.Bus
	if natsBus != nil {
		paymentsBus = natsBus
	}
	paymentsRepo := payments.NewRepository(db, creditsRepo)
	paymentsSvc := payments.NewService(paymentsRepo, stripeProvider, paymentsBus, adminSvc, cfg.Stripe, cfg.Dispatch.CommissionRate)
	tripsSvc.SetSettler(paymentsSvc)

	var reconBus reconciliation.Bus
	if natsBus != nil {
		reconBus = natsBus
	}
	var reconProvider reconciliation.Provider
	if stripeProvider != nil {
		reconProvider = stripeProvider
	}
	reconSvc := reconciliation.NewService(
		reconciliation.NewRepository(db),
		paymentsRepo,
		reconProvider,
		creditsSvc,
		adminSvc,
		reconBus,
	)

	gateway := realtime.NewGateway(hub, locationSvc, dispatchSvc, tripsSvc, cfg.Dispatch.GeohashPrecision)

	return &services{
		authHandler:      auth.NewHandler(authSvc),
		driversHandler:   drivers.NewHandler(driversSvc),
		tripsHandler:     trips.NewHandler(tripsSvc),
		dispatchHandler:  dispatch.NewHandler(dispatchSvc),
		paymentsHandler:  payments.NewHandler(paymentsSvc, cfg.Stripe.WebhookSecret),
		creditsHandler:   credits.NewHandler(creditsSvc),
		adminHandler:     admin.NewHandler(adminSvc, demand),
		reconHandler:     reconciliation.NewHandler(reconSvc),
		messagingHandler: messaging.NewHandler(pushSvc),
		whatsappWebhook:  messaging.NewWebhookHandler(messagingRepo, cfg.Messaging.WhatsAppAppSecret, cfg.Messaging.WebhookVerifyToken),

		dispatchRepo: dispatchRepo,
		gateway:      gateway,
	}
}
