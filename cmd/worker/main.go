package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamsafar/dispatch/internal/admin"
	"github.com/hamsafar/dispatch/internal/credits"
	"github.com/hamsafar/dispatch/internal/dispatch"
	"github.com/hamsafar/dispatch/internal/drivers"
	"github.com/hamsafar/dispatch/internal/location"
	"github.com/hamsafar/dispatch/internal/messaging"
	"github.com/hamsafar/dispatch/internal/otp"
	"github.com/hamsafar/dispatch/internal/payments"
	"github.com/hamsafar/dispatch/internal/reconciliation"
	"github.com/hamsafar/dispatch/internal/routing"
	"github.com/hamsafar/dispatch/internal/scheduler"
	"github.com/hamsafar/dispatch/internal/trips"
	"github.com/hamsafar/dispatch/pkg/cache"
	"github.com/hamsafar/dispatch/pkg/config"
	"github.com/hamsafar/dispatch/pkg/database"
	"github.com/hamsafar/dispatch/pkg/errors"
	"github.com/hamsafar/dispatch/pkg/eventbus"
	"github.com/hamsafar/dispatch/pkg/logger"
	redisclient "github.com/hamsafar/dispatch/pkg/redis"
	"github.com/hamsafar/dispatch/pkg/rooms"
)

const (
	serviceName = "dispatch-worker"
	version     = "1.0.0"
)

// The worker shares the API's service graph but drives it from timers
// instead of HTTP: releasing scheduled trips, sweeping expired OTPs and
// credit balances, and the daily reconciliation run.
func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if err := logger.Init(cfg.Server.Environment); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting dispatch worker",
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

	db, err := database.NewPostgresPool(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)
	logger.Info("Connected to database")

	var redisClient *redisclient.Client
	if cfg.Redis.Enabled {
		redisClient, err = redisclient.NewRedisClient(&cfg.Redis)
		if err != nil {
			logger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer redisClient.Close()
		logger.Info("Connected to redis")
	} else if cfg.Server.Clustered {
		// without the bridge, room events raised here never reach the
		// API instances holding the sockets
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

	worker := buildWorker(db, redisClient, hub, natsBus, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	worker.Start(ctx)

	logger.Info("Worker stopped")
}

// buildWorker wires the slice of the service graph the periodic jobs
// touch. No handlers and no websocket gateway; room emits still flow
// through the hub so connected clients hear about trips the worker moves.
func buildWorker(db *pgxpool.Pool, redisClient *redisclient.Client, hub *rooms.Hub, natsBus *eventbus.Bus, cfg *config.Config) *scheduler.Worker {
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

	adminSvc := admin.NewService(admin.NewRepository(db), hub, messagingSvc, cfg.Messaging.OpsAlertPhone)

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
	dispatchSvc := dispatch.NewService(
		dispatch.NewRepository(db),
		locationSvc,
		routingClient,
		driversSvc,
		tripsSvc,
		hub,
		dispatchBus,
		cfg.Dispatch,
	)
	tripsSvc.SetDispatcher(dispatchSvc)
	tripsSvc.SetDemandRecorder(location.NewDemandTracker())
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

	return scheduler.NewWorker(tripsSvc, otpSvc, creditsSvc, reconSvc)
}
