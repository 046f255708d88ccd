package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load("test-service")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "test-service", cfg.Server.ServiceName)
	assert.False(t, cfg.Server.Clustered)

	assert.Equal(t, 30, cfg.Dispatch.OfferTimeoutSec)
	assert.Equal(t, 3, cfg.Dispatch.MaxOffers)
	assert.Equal(t, 10.0, cfg.Dispatch.SearchRadiusKm)
	assert.Equal(t, 6, cfg.Dispatch.GeohashPrecision)
	assert.Equal(t, 0.20, cfg.Dispatch.CommissionRate)
	assert.Zero(t, cfg.Dispatch.CancellationFee)

	assert.Equal(t, 3, cfg.OTP.MaxPerHour)
	assert.Equal(t, 5, cfg.OTP.LockThreshold)
	assert.Equal(t, 60, cfg.OTP.LockMinutes)
	assert.Equal(t, 5, cfg.OTP.ExpiryMinutes)

	assert.Equal(t, 5*time.Second, cfg.Routing.Timeout())
	assert.Equal(t, 30*time.Second, cfg.Routing.CacheTTL())
	assert.Equal(t, 1000, cfg.Routing.CacheSize)

	assert.Equal(t, 2.0, cfg.Anomaly.MaxJumpKm)
	assert.Equal(t, 30, cfg.Anomaly.MaxJumpWindowSec)
	assert.Equal(t, 180.0, cfg.Anomaly.MaxSpeedKmh)
	assert.Equal(t, 500.0, cfg.Anomaly.MaxDeviationM)
	assert.Equal(t, 3, cfg.Anomaly.DeviationStrikes)

	assert.Equal(t, 5, cfg.Resilience.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 60, cfg.Resilience.CircuitBreaker.TimeoutSeconds)
}

func TestLoadOverrides(t *testing.T) {
	os.Clearenv()
	os.Setenv("OFFER_TIMEOUT_SEC", "15")
	os.Setenv("MAX_OFFERS", "5")
	os.Setenv("SEARCH_RADIUS_KM", "7.5")
	os.Setenv("COMMISSION_RATE", "0.25")
	os.Setenv("ROUTING_TIMEOUT_MS", "2500")
	os.Setenv("CLUSTERED", "true")

	cfg, err := Load("test-service")
	require.NoError(t, err)

	assert.Equal(t, 15, cfg.Dispatch.OfferTimeoutSec)
	assert.Equal(t, 5, cfg.Dispatch.MaxOffers)
	assert.Equal(t, 7.5, cfg.Dispatch.SearchRadiusKm)
	assert.Equal(t, 0.25, cfg.Dispatch.CommissionRate)
	assert.Equal(t, 2500*time.Millisecond, cfg.Routing.Timeout())
	assert.True(t, cfg.Server.Clustered)
}

func TestGeohashPrecisionClamped(t *testing.T) {
	os.Clearenv()
	os.Setenv("GEOHASH_PRECISION", "99")

	cfg, err := Load("test-service")
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Dispatch.GeohashPrecision)
}

func TestDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host: "db", Port: "5432", User: "u", Password: "p",
		DBName: "dispatch", SSLMode: "disable",
	}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=dispatch sslmode=disable", cfg.DSN())
}

func TestBreakerSettingsFor(t *testing.T) {
	cfg := CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		TimeoutSeconds:   60,
		IntervalSeconds:  60,
		ServiceOverrides: map[string]CircuitBreakerSettings{
			"routing": {FailureThreshold: 3, TimeoutSeconds: 30},
		},
	}

	routing := cfg.SettingsFor("routing")
	assert.Equal(t, 3, routing.FailureThreshold)
	assert.Equal(t, 30, routing.TimeoutSeconds)
	assert.Equal(t, 1, routing.SuccessThreshold)

	stripe := cfg.SettingsFor("stripe")
	assert.Equal(t, 5, stripe.FailureThreshold)
	assert.Equal(t, 60, stripe.TimeoutSeconds)
}
