package payments

import (
	"context"
	"time"

	"github.com/stripe/stripe-go/v83"
	"go.uber.org/zap"

	"github.com/hamsafar/dispatch/pkg/logger"
	"github.com/hamsafar/dispatch/pkg/resilience"
)

// Provider is the Stripe surface the service depends on. Satisfied by
// StripeClient, ResilientStripeClient and test fakes.
type Provider interface {
	CreatePaymentIntent(amount int64, currency, description string, metadata map[string]string) (*stripe.PaymentIntent, error)
	GetPaymentIntent(paymentIntentID string) (*stripe.PaymentIntent, error)
	CreateTransfer(amount int64, currency, destination, description, idempotencyKey string, metadata map[string]string) (*stripe.Transfer, error)
	CreateRefund(paymentIntentID string, amount *int64, reason string) (*stripe.Refund, error)
	SumBalanceTransactions(createdGTE, createdLT int64) (float64, error)
}

// ResilientStripeClient wraps a Provider with circuit breaker and retry
// logic. Card and invalid-request errors are never retried.
type ResilientStripeClient struct {
	client  Provider
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
}

// NewResilientStripeClient creates a resilient Stripe client
func NewResilientStripeClient(apiKey string) *ResilientStripeClient {
	breaker := resilience.NewCircuitBreaker(resilience.Settings{
		Name:             "stripe-api",
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	}, resilience.NoopFallback)

	retryConfig := resilience.DefaultRetryConfig()
	retryConfig.MaxAttempts = 3
	retryConfig.InitialBackoff = 1 * time.Second
	retryConfig.MaxBackoff = 10 * time.Second
	retryConfig.RetryableChecker = isStripeRetryable

	return &ResilientStripeClient{
		client:  NewStripeClient(apiKey),
		breaker: breaker,
		retry:   retryConfig,
	}
}

// NewResilientStripeClientWithProvider wraps an existing provider (for testing)
func NewResilientStripeClientWithProvider(client Provider, breaker *resilience.CircuitBreaker) *ResilientStripeClient {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.Settings{
			Name:             "stripe-api-test",
			Interval:         60 * time.Second,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			SuccessThreshold: 2,
		}, resilience.NoopFallback)
	}
	retryConfig := resilience.DefaultRetryConfig()
	retryConfig.RetryableChecker = isStripeRetryable

	return &ResilientStripeClient{
		client:  client,
		breaker: breaker,
		retry:   retryConfig,
	}
}

// CreatePaymentIntent creates a payment intent with resilience
func (r *ResilientStripeClient) CreatePaymentIntent(amount int64, currency, description string, metadata map[string]string) (*stripe.PaymentIntent, error) {
	ctx := context.Background()

	result, err := resilience.RetryWithBreaker(ctx, r.retry, r.breaker, func(ctx context.Context) (interface{}, error) {
		return r.client.CreatePaymentIntent(amount, currency, description, metadata)
	})
	if err != nil {
		logger.Error("failed to create payment intent after retries",
			zap.Error(err),
			zap.Int64("amount", amount),
		)
		return nil, err
	}

	return result.(*stripe.PaymentIntent), nil
}

// GetPaymentIntent retrieves a payment intent with resilience
func (r *ResilientStripeClient) GetPaymentIntent(paymentIntentID string) (*stripe.PaymentIntent, error) {
	ctx := context.Background()

	result, err := resilience.RetryWithBreaker(ctx, r.retry, r.breaker, func(ctx context.Context) (interface{}, error) {
		return r.client.GetPaymentIntent(paymentIntentID)
	})
	if err != nil {
		logger.Error("failed to get payment intent after retries",
			zap.Error(err),
			zap.String("payment_intent_id", paymentIntentID),
		)
		return nil, err
	}

	return result.(*stripe.PaymentIntent), nil
}

// CreateTransfer creates a transfer with resilience
func (r *ResilientStripeClient) CreateTransfer(amount int64, currency, destination, description, idempotencyKey string, metadata map[string]string) (*stripe.Transfer, error) {
	ctx := context.Background()

	result, err := resilience.RetryWithBreaker(ctx, r.retry, r.breaker, func(ctx context.Context) (interface{}, error) {
		return r.client.CreateTransfer(amount, currency, destination, description, idempotencyKey, metadata)
	})
	if err != nil {
		logger.Error("failed to create transfer after retries",
			zap.Error(err),
			zap.Int64("amount", amount),
			zap.String("destination", destination),
		)
		return nil, err
	}

	return result.(*stripe.Transfer), nil
}

// CreateRefund creates a refund with resilience
func (r *ResilientStripeClient) CreateRefund(paymentIntentID string, amount *int64, reason string) (*stripe.Refund, error) {
	ctx := context.Background()

	result, err := resilience.RetryWithBreaker(ctx, r.retry, r.breaker, func(ctx context.Context) (interface{}, error) {
		return r.client.CreateRefund(paymentIntentID, amount, reason)
	})
	if err != nil {
		logger.Error("failed to create refund after retries",
			zap.Error(err),
			zap.String("payment_intent_id", paymentIntentID),
		)
		return nil, err
	}

	return result.(*stripe.Refund), nil
}

// SumBalanceTransactions totals provider-side balance transactions with
// resilience.
func (r *ResilientStripeClient) SumBalanceTransactions(createdGTE, createdLT int64) (float64, error) {
	ctx := context.Background()

	result, err := resilience.RetryWithBreaker(ctx, r.retry, r.breaker, func(ctx context.Context) (interface{}, error) {
		return r.client.SumBalanceTransactions(createdGTE, createdLT)
	})
	if err != nil {
		logger.Error("failed to sum balance transactions after retries", zap.Error(err))
		return 0, err
	}

	return result.(float64), nil
}

// isStripeRetryable determines if a Stripe error should be retried
func isStripeRetryable(err error) bool {
	if err == nil {
		return false
	}

	if stripeErr, ok := err.(*stripe.Error); ok {
		if stripeErr.Type == stripe.ErrorTypeAPI {
			return true
		}

		if stripeErr.HTTPStatusCode >= 500 && stripeErr.HTTPStatusCode < 600 {
			return true
		}

		if stripeErr.HTTPStatusCode == 429 || stripeErr.HTTPStatusCode == 408 {
			return true
		}

		// card errors and invalid requests won't succeed on retry
		return false
	}

	// network errors and the like
	return true
}
