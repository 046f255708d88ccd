package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamsafar/dispatch/pkg/config"
)

func testConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:        true,
		WindowSeconds:  60,
		DefaultLimit:   100,
		DefaultBurst:   20,
		AnonymousLimit: 30,
		AnonymousBurst: 5,
		RedisPrefix:    "ratelimit",
		EndpointOverrides: map[string]config.EndpointRateLimitConfig{
			"POST:/api/v1/auth/otp/request": {
				AnonymousLimit: 5,
				AnonymousBurst: 0,
				WindowSeconds:  300,
			},
		},
	}
}

// scriptArgs mirrors the argument construction in Allow so the mock can
// match the exact EVALSHA call.
func scriptArgs(now time.Time, rule Rule) []interface{} {
	windowMillis := rule.Window.Milliseconds()
	refillRate := float64(rule.Limit) / float64(windowMillis)
	capacity := float64(rule.Limit + rule.Burst)
	return []interface{}{now.UnixMilli(), formatFloat(refillRate), formatFloat(capacity), windowMillis * 2}
}

func newMockedLimiter(t *testing.T) (*Limiter, redismock.ClientMock, time.Time) {
	t.Helper()
	client, mock := redismock.NewClientMock()
	limiter := NewLimiter(client, testConfig())
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	limiter.WithNow(func() time.Time { return now })
	return limiter, mock, now
}

func TestAllowConsumesToken(t *testing.T) {
	limiter, mock, now := newMockedLimiter(t)
	rule := limiter.RuleFor("GET:/api/v1/trips", IdentityAuthenticated)

	key := "ratelimit:GET:/api/v1/trips:user-1"
	mock.ExpectEvalSha(redis.NewScript(tokenBucketScript).Hash(), []string{key}, scriptArgs(now, rule)...).
		SetVal([]interface{}{int64(1), "119", int64(0)})

	res, err := limiter.Allow(context.Background(), "GET:/api/v1/trips", "user-1", rule, IdentityAuthenticated)
	require.NoError(t, err)

	assert.True(t, res.Allowed)
	assert.Equal(t, 119, res.Remaining)
	assert.Equal(t, time.Duration(0), res.RetryAfter)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAllowDeniesWhenBucketEmpty(t *testing.T) {
	limiter, mock, now := newMockedLimiter(t)
	rule := limiter.RuleFor("GET:/api/v1/trips", IdentityAuthenticated)

	key := "ratelimit:GET:/api/v1/trips:user-1"
	mock.ExpectEvalSha(redis.NewScript(tokenBucketScript).Hash(), []string{key}, scriptArgs(now, rule)...).
		SetVal([]interface{}{int64(0), "0", int64(1500)})

	res, err := limiter.Allow(context.Background(), "GET:/api/v1/trips", "user-1", rule, IdentityAuthenticated)
	require.NoError(t, err)

	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 1500*time.Millisecond, res.RetryAfter)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAllowSkipsRedisWhenDisabled(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cfg := testConfig()
	cfg.Enabled = false
	limiter := NewLimiter(client, cfg)
	rule := limiter.RuleFor("GET:/api/v1/trips", IdentityAuthenticated)

	res, err := limiter.Allow(context.Background(), "GET:/api/v1/trips", "user-1", rule, IdentityAuthenticated)
	require.NoError(t, err)

	assert.True(t, res.Allowed)
	require.NoError(t, mock.ExpectationsWereMet(), "disabled limiter must not touch redis")
}

func TestRuleForAppliesEndpointOverride(t *testing.T) {
	limiter, _, _ := newMockedLimiter(t)

	rule := limiter.RuleFor("POST:/api/v1/auth/otp/request", IdentityAnonymous)
	assert.Equal(t, 5, rule.Limit)
	assert.Equal(t, 0, rule.Burst)
	assert.Equal(t, 5*time.Minute, rule.Window)

	fallback := limiter.RuleFor("GET:/api/v1/trips", IdentityAnonymous)
	assert.Equal(t, 30, fallback.Limit)
	assert.Equal(t, 5, fallback.Burst)
	assert.Equal(t, time.Minute, fallback.Window)
}
