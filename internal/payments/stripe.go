package payments

import (
	"fmt"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/balancetransaction"
	"github.com/stripe/stripe-go/v83/paymentintent"
	"github.com/stripe/stripe-go/v83/refund"
	"github.com/stripe/stripe-go/v83/transfer"
)

// StripeClient wraps the Stripe API operations used for wallet top-ups,
// driver payouts and reconciliation.
type StripeClient struct {
	apiKey string
}

// NewStripeClient creates a new Stripe client
func NewStripeClient(apiKey string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{apiKey: apiKey}
}

// CreatePaymentIntent creates a payment intent for a wallet top-up
func (s *StripeClient) CreatePaymentIntent(amount int64, currency, description string, metadata map[string]string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(amount), // cents
		Currency:    stripe.String(currency),
		Description: stripe.String(description),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}

	for key, value := range metadata {
		params.AddMetadata(key, value)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	return pi, nil
}

// GetPaymentIntent retrieves a payment intent
func (s *StripeClient) GetPaymentIntent(paymentIntentID string) (*stripe.PaymentIntent, error) {
	pi, err := paymentintent.Get(paymentIntentID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment intent: %w", err)
	}

	return pi, nil
}

// CreateTransfer sends a payout to a driver's connected account. The
// idempotency key makes provider-side retries safe.
func (s *StripeClient) CreateTransfer(amount int64, currency, destination, description, idempotencyKey string, metadata map[string]string) (*stripe.Transfer, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(amount),
		Currency:    stripe.String(currency),
		Destination: stripe.String(destination),
		Description: stripe.String(description),
	}
	if idempotencyKey != "" {
		params.IdempotencyKey = stripe.String(idempotencyKey)
	}

	for key, value := range metadata {
		params.AddMetadata(key, value)
	}

	t, err := transfer.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer: %w", err)
	}

	return t, nil
}

// CreateRefund refunds a payment intent
func (s *StripeClient) CreateRefund(paymentIntentID string, amount *int64, reason string) (*stripe.Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
	}

	if amount != nil {
		params.Amount = stripe.Int64(*amount)
	}

	if reason != "" {
		params.Reason = stripe.String(reason)
	}

	r, err := refund.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create refund: %w", err)
	}

	return r, nil
}

// SumBalanceTransactions totals balance transactions created inside the
// window, in dollars. Reconciliation compares this against DB aggregates.
func (s *StripeClient) SumBalanceTransactions(createdGTE, createdLT int64) (float64, error) {
	params := &stripe.BalanceTransactionListParams{
		CreatedRange: &stripe.RangeQueryParams{
			GreaterThanOrEqual: createdGTE,
			LesserThan:         createdLT,
		},
	}

	var totalCents int64
	iter := balancetransaction.List(params)
	for iter.Next() {
		totalCents += iter.BalanceTransaction().Amount
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to list balance transactions: %w", err)
	}

	return float64(totalCents) / 100, nil
}
