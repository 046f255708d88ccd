package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	NATS       NATSConfig
	JWT        JWTConfig
	Dispatch   DispatchConfig
	OTP        OTPConfig
	Routing    RoutingConfig
	Anomaly    AnomalyConfig
	Messaging  MessagingConfig
	Stripe     StripeConfig
	Firebase   FirebaseConfig
	Sentry     SentryConfig
	Tracing    TracingConfig
	RateLimit  RateLimitConfig
	Resilience ResilienceConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port         string
	Environment  string
	ServiceName  string
	InstanceID   string
	Clustered    bool // more than one instance behind the balancer
	ReadTimeout  int
	WriteTimeout int
	CORSOrigins  string // Comma-separated list of allowed origins
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host          string
	Port          string
	User          string
	Password      string
	DBName        string
	SSLMode       string
	MaxConns      int
	MinConns      int
	MigrationsDir string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// NATSConfig holds NATS/JetStream configuration
type NATSConfig struct {
	URL     string
	Enabled bool
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret     string
	Expiration int // in hours
}

// DispatchConfig holds matching-engine defaults. The live values come from
// the dispatch_configs row; these seed the row and back it up when absent.
type DispatchConfig struct {
	OfferTimeoutSec  int
	MaxOffers        int
	SearchRadiusKm   float64
	GeohashPrecision int
	CommissionRate   float64
	CancellationFee  float64 // 0 disables the fee
	WeightETA        float64
	WeightRating     float64
	WeightAcceptance float64
	WeightBonus      float64
}

// OTPConfig holds login-code issuance limits
type OTPConfig struct {
	MaxPerHour    int
	LockThreshold int
	LockMinutes   int
	ExpiryMinutes int
	CodeLength    int
}

// RoutingConfig holds external routing provider settings
type RoutingConfig struct {
	BaseURL         string
	TimeoutMs       int
	CacheTTLSeconds int
	CacheSize       int
	SnapToRoad      bool
}

// AnomalyConfig holds GPS anomaly-detection thresholds
type AnomalyConfig struct {
	MaxJumpKm        float64
	MaxJumpWindowSec int
	MaxSpeedKmh      float64
	MaxDeviationM    float64
	DeviationStrikes int
}

// MessagingConfig holds WhatsApp / SMS delivery settings
type MessagingConfig struct {
	WhatsAppBaseURL    string
	WhatsAppToken      string
	WhatsAppPhoneID    string
	WhatsAppAppSecret  string // HMAC key for webhook signatures
	WebhookVerifyToken string
	TwilioAccountSID   string
	TwilioAuthToken    string
	TwilioFromNumber   string
	TwilioEnabled      bool
	MaxAttempts        int
	OpsAlertPhone      string // receives out-of-band operator alerts; empty disables
}

// StripeConfig holds Stripe API configuration
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Enabled       bool
}

// FirebaseConfig holds Firebase configuration
type FirebaseConfig struct {
	ProjectID       string
	CredentialsPath string
	Enabled         bool
}

// SentryConfig holds error-tracking configuration
type SentryConfig struct {
	DSN     string
	Enabled bool
}

// TracingConfig holds OpenTelemetry exporter configuration
type TracingConfig struct {
	Endpoint string
	Enabled  bool
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool
	WindowSeconds     int
	DefaultLimit      int
	DefaultBurst      int
	AnonymousLimit    int
	AnonymousBurst    int
	RedisPrefix       string
	EndpointOverrides map[string]EndpointRateLimitConfig
}

// EndpointRateLimitConfig allows customizing limits per endpoint
type EndpointRateLimitConfig struct {
	AuthenticatedLimit int `json:"authenticated_limit"`
	AuthenticatedBurst int `json:"authenticated_burst"`
	AnonymousLimit     int `json:"anonymous_limit"`
	AnonymousBurst     int `json:"anonymous_burst"`
	WindowSeconds      int `json:"window_seconds"`
}

// ResilienceConfig groups runtime resilience controls
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// CircuitBreakerConfig captures default and per-service breaker tuning
type CircuitBreakerConfig struct {
	Enabled          bool
	FailureThreshold int
	SuccessThreshold int
	TimeoutSeconds   int
	IntervalSeconds  int
	ServiceOverrides map[string]CircuitBreakerSettings
}

// CircuitBreakerSettings overrides defaults for a specific upstream service
type CircuitBreakerSettings struct {
	FailureThreshold int `json:"failure_threshold"`
	SuccessThreshold int `json:"success_threshold"`
	TimeoutSeconds   int `json:"timeout_seconds"`
	IntervalSeconds  int `json:"interval_seconds"`
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			ServiceName:  serviceName,
			InstanceID:   getEnv("INSTANCE_ID", ""),
			Clustered:    getEnvAsBool("CLUSTERED", false),
			ReadTimeout:  getEnvAsInt("READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("WRITE_TIMEOUT", 10),
			CORSOrigins:  getEnv("CORS_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			Host:          getEnv("DB_HOST", "localhost"),
			Port:          getEnv("DB_PORT", "5432"),
			User:          getEnv("DB_USER", "postgres"),
			Password:      getEnv("DB_PASSWORD", "postgres"),
			DBName:        getEnv("DB_NAME", "dispatch"),
			SSLMode:       getEnv("DB_SSLMODE", "disable"),
			MaxConns:      getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns:      getEnvAsInt("DB_MIN_CONNS", 5),
			MigrationsDir: getEnv("DB_MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
		},
		NATS: NATSConfig{
			URL:     getEnv("NATS_URL", "nats://localhost:4222"),
			Enabled: getEnvAsBool("NATS_ENABLED", false),
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
			Expiration: getEnvAsInt("JWT_EXPIRATION", 24),
		},
		Dispatch: DispatchConfig{
			OfferTimeoutSec:  getEnvAsInt("OFFER_TIMEOUT_SEC", 30),
			MaxOffers:        getEnvAsInt("MAX_OFFERS", 3),
			SearchRadiusKm:   getEnvAsFloat("SEARCH_RADIUS_KM", 10),
			GeohashPrecision: getEnvAsInt("GEOHASH_PRECISION", 6),
			CommissionRate:   getEnvAsFloat("COMMISSION_RATE", 0.20),
			CancellationFee:  getEnvAsFloat("CANCELLATION_FEE", 0),
			WeightETA:        getEnvAsFloat("DISPATCH_WEIGHT_ETA", 0.5),
			WeightRating:     getEnvAsFloat("DISPATCH_WEIGHT_RATING", 0.2),
			WeightAcceptance: getEnvAsFloat("DISPATCH_WEIGHT_ACCEPTANCE", 0.2),
			WeightBonus:      getEnvAsFloat("DISPATCH_WEIGHT_BONUS", 0.1),
		},
		OTP: OTPConfig{
			MaxPerHour:    getEnvAsInt("OTP_MAX_PER_HOUR", 3),
			LockThreshold: getEnvAsInt("OTP_LOCK_THRESHOLD", 5),
			LockMinutes:   getEnvAsInt("OTP_LOCK_MINUTES", 60),
			ExpiryMinutes: getEnvAsInt("OTP_EXPIRY_MINUTES", 5),
			CodeLength:    getEnvAsInt("OTP_CODE_LENGTH", 6),
		},
		Routing: RoutingConfig{
			BaseURL:         getEnv("ROUTING_BASE_URL", "http://localhost:5000"),
			TimeoutMs:       getEnvAsInt("ROUTING_TIMEOUT_MS", 5000),
			CacheTTLSeconds: getEnvAsInt("ROUTING_CACHE_TTL_SECONDS", 30),
			CacheSize:       getEnvAsInt("ROUTING_CACHE_SIZE", 1000),
			SnapToRoad:      getEnvAsBool("ROUTING_SNAP_TO_ROAD", false),
		},
		Anomaly: AnomalyConfig{
			MaxJumpKm:        getEnvAsFloat("ANOMALY_MAX_JUMP_KM", 2),
			MaxJumpWindowSec: getEnvAsInt("ANOMALY_MAX_JUMP_WINDOW_SEC", 30),
			MaxSpeedKmh:      getEnvAsFloat("ANOMALY_MAX_SPEED_KMH", 180),
			MaxDeviationM:    getEnvAsFloat("ANOMALY_MAX_DEVIATION_M", 500),
			DeviationStrikes: getEnvAsInt("ANOMALY_DEVIATION_STRIKES", 3),
		},
		Messaging: MessagingConfig{
			WhatsAppBaseURL:    getEnv("WHATSAPP_BASE_URL", "https://graph.facebook.com/v19.0"),
			WhatsAppToken:      getEnv("WHATSAPP_TOKEN", ""),
			WhatsAppPhoneID:    getEnv("WHATSAPP_PHONE_ID", ""),
			WhatsAppAppSecret:  getEnv("WHATSAPP_APP_SECRET", ""),
			WebhookVerifyToken: getEnv("WHATSAPP_VERIFY_TOKEN", ""),
			TwilioAccountSID:   getEnv("TWILIO_ACCOUNT_SID", ""),
			TwilioAuthToken:    getEnv("TWILIO_AUTH_TOKEN", ""),
			TwilioFromNumber:   getEnv("TWILIO_FROM_NUMBER", ""),
			TwilioEnabled:      getEnvAsBool("TWILIO_ENABLED", false),
			MaxAttempts:        getEnvAsInt("MESSAGING_MAX_ATTEMPTS", 3),
			OpsAlertPhone:      getEnv("OPS_ALERT_PHONE", ""),
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			Enabled:       getEnvAsBool("STRIPE_ENABLED", false),
		},
		Firebase: FirebaseConfig{
			ProjectID:       getEnv("FIREBASE_PROJECT_ID", ""),
			CredentialsPath: getEnv("FIREBASE_CREDENTIALS_PATH", ""),
			Enabled:         getEnvAsBool("FIREBASE_ENABLED", false),
		},
		Sentry: SentryConfig{
			DSN:     getEnv("SENTRY_DSN", ""),
			Enabled: getEnvAsBool("SENTRY_ENABLED", false),
		},
		Tracing: TracingConfig{
			Endpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Enabled:  getEnvAsBool("TRACING_ENABLED", false),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getEnvAsBool("RATE_LIMIT_ENABLED", false),
			WindowSeconds:  getEnvAsInt("RATE_LIMIT_WINDOW_SECONDS", 60),
			DefaultLimit:   getEnvAsInt("RATE_LIMIT_DEFAULT_LIMIT", 120),
			DefaultBurst:   getEnvAsInt("RATE_LIMIT_DEFAULT_BURST", 40),
			AnonymousLimit: getEnvAsInt("RATE_LIMIT_ANON_LIMIT", 60),
			AnonymousBurst: getEnvAsInt("RATE_LIMIT_ANON_BURST", 20),
			RedisPrefix:    getEnv("RATE_LIMIT_REDIS_PREFIX", "rate-limit"),
		},
		Resilience: ResilienceConfig{
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          getEnvAsBool("CB_ENABLED", true),
				FailureThreshold: getEnvAsInt("CB_FAILURE_THRESHOLD", 5),
				SuccessThreshold: getEnvAsInt("CB_SUCCESS_THRESHOLD", 1),
				TimeoutSeconds:   getEnvAsInt("CB_TIMEOUT_SECONDS", 60),
				IntervalSeconds:  getEnvAsInt("CB_INTERVAL_SECONDS", 60),
			},
		},
	}

	if overrides := getEnv("RATE_LIMIT_ENDPOINTS", ""); overrides != "" {
		var endpointConfig map[string]EndpointRateLimitConfig
		if err := json.Unmarshal([]byte(overrides), &endpointConfig); err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_ENDPOINTS value: %w", err)
		}
		cfg.RateLimit.EndpointOverrides = endpointConfig
	}

	if breakerOverrides := getEnv("CB_SERVICE_OVERRIDES", ""); breakerOverrides != "" {
		var serviceConfig map[string]CircuitBreakerSettings
		if err := json.Unmarshal([]byte(breakerOverrides), &serviceConfig); err != nil {
			return nil, fmt.Errorf("invalid CB_SERVICE_OVERRIDES value: %w", err)
		}
		cfg.Resilience.CircuitBreaker.ServiceOverrides = serviceConfig
	}

	if cfg.RateLimit.WindowSeconds <= 0 {
		cfg.RateLimit.WindowSeconds = int((time.Minute).Seconds())
	}

	if cfg.Resilience.CircuitBreaker.TimeoutSeconds <= 0 {
		cfg.Resilience.CircuitBreaker.TimeoutSeconds = 60
	}

	if cfg.Resilience.CircuitBreaker.IntervalSeconds <= 0 {
		cfg.Resilience.CircuitBreaker.IntervalSeconds = 60
	}

	if cfg.Resilience.CircuitBreaker.FailureThreshold <= 0 {
		cfg.Resilience.CircuitBreaker.FailureThreshold = 5
	}

	if cfg.Resilience.CircuitBreaker.SuccessThreshold <= 0 {
		cfg.Resilience.CircuitBreaker.SuccessThreshold = 1
	}

	if cfg.Dispatch.GeohashPrecision < 1 || cfg.Dispatch.GeohashPrecision > 12 {
		cfg.Dispatch.GeohashPrecision = 6
	}

	return cfg, nil
}

// SettingsFor returns effective breaker settings for a specific upstream service name
func (c CircuitBreakerConfig) SettingsFor(service string) CircuitBreakerSettings {
	settings := CircuitBreakerSettings{
		FailureThreshold: c.FailureThreshold,
		SuccessThreshold: c.SuccessThreshold,
		TimeoutSeconds:   c.TimeoutSeconds,
		IntervalSeconds:  c.IntervalSeconds,
	}

	if c.ServiceOverrides != nil {
		if override, ok := c.ServiceOverrides[service]; ok {
			if override.FailureThreshold > 0 {
				settings.FailureThreshold = override.FailureThreshold
			}
			if override.SuccessThreshold > 0 {
				settings.SuccessThreshold = override.SuccessThreshold
			}
			if override.TimeoutSeconds > 0 {
				settings.TimeoutSeconds = override.TimeoutSeconds
			}
			if override.IntervalSeconds > 0 {
				settings.IntervalSeconds = override.IntervalSeconds
			}
		}
	}

	if settings.SuccessThreshold <= 0 {
		settings.SuccessThreshold = 1
	}
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = 5
	}
	if settings.TimeoutSeconds <= 0 {
		settings.TimeoutSeconds = 60
	}
	if settings.IntervalSeconds <= 0 {
		settings.IntervalSeconds = 60
	}

	return settings
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// Timeout returns the routing request timeout as a duration
func (c *RoutingConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// CacheTTL returns the routing cache entry lifetime
func (c *RoutingConfig) CacheTTL() time.Duration {
	if c.CacheTTLSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Window returns the configured rate limit window duration
func (c RateLimitConfig) Window() time.Duration {
	if c.WindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.WindowSeconds) * time.Second
}
