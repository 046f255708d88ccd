package payments

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v83"
	"go.uber.org/zap"

	"github.com/hamsafar/dispatch/pkg/common"
	"github.com/hamsafar/dispatch/pkg/config"
	"github.com/hamsafar/dispatch/pkg/eventbus"
	"github.com/hamsafar/dispatch/pkg/logger"
	"github.com/hamsafar/dispatch/pkg/models"
	"github.com/hamsafar/dispatch/pkg/tracing"
)

const (
	minTopUp = 1.0
	maxTopUp = 1000.0

	// payouts above this go to manual review instead of straight to Stripe
	payoutReviewThreshold = 500.0
)

// RepositoryInterface defines the payments data access contract
type RepositoryInterface interface {
	Settle(ctx context.Context, tripID uuid.UUID, commissionRate float64) (*models.Trip, error)
	WalletBalance(ctx context.Context, userID uuid.UUID) (float64, error)
	CreateTransaction(ctx context.Context, t *models.Transaction) error
	TransactionByStripeID(ctx context.Context, paymentIntentID string) (*models.Transaction, error)
	ResolveTransaction(ctx context.Context, id uuid.UUID, status models.TransactionStatus) (bool, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Transaction, error)
	PayCompletedTrip(ctx context.Context, tripID, riderID uuid.UUID) (*models.Trip, error)
	CreatePayout(ctx context.Context, p *models.Payout) (*models.Payout, bool, error)
	GetPayout(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	UpdatePayoutStatus(ctx context.Context, id uuid.UUID, status models.PayoutStatus, transferID, failureReason *string) error
	DriverStripeAccount(ctx context.Context, driverID uuid.UUID) (*string, error)
	AvailableEarnings(ctx context.Context, driverID uuid.UUID) (float64, error)
}

// Bus publishes domain events to NATS
type Bus interface {
	Publish(ctx context.Context, subject string, event *eventbus.Event) error
}

// Alerter records operator-facing alerts
type Alerter interface {
	RecordAlert(ctx context.Context, kind, message string)
}

// TopUpIntent is the response to a wallet top-up request: the pending
// transaction plus the client secret the app needs to confirm the payment.
type TopUpIntent struct {
	Transaction  *models.Transaction `json:"transaction"`
	ClientSecret string              `json:"client_secret"`
}

// Service handles settlement, wallet and payouts
type Service struct {
	repo           RepositoryInterface
	stripe         Provider
	bus            Bus
	alerts         Alerter
	commissionRate float64
	stripeEnabled  bool
}

// NewService creates a new payments service
func NewService(repo RepositoryInterface, stripeClient Provider, bus Bus, alerts Alerter, cfg config.StripeConfig, commissionRate float64) *Service {
	if commissionRate <= 0 || commissionRate >= 1 {
		commissionRate = 0.20
	}
	return &Service{
		repo:           repo,
		stripe:         stripeClient,
		bus:            bus,
		alerts:         alerts,
		commissionRate: commissionRate,
		stripeEnabled:  cfg.Enabled,
	}
}

// Settle completes the trip and moves the money atomically. Wallet trips
// debit the rider; cash trips complete UNPAID and wait for the driver's
// collection confirmation.
func (s *Service) Settle(ctx context.Context, tripID uuid.UUID) (*models.Trip, error) {
	var trip *models.Trip
	err := tracing.TraceBusinessLogic(ctx, "payments", "settle_trip",
		tracing.TripAttributes(tripID.String(), "", ""),
		func(ctx context.Context) error {
			var settleErr error
			trip, settleErr = s.repo.Settle(ctx, tripID, s.commissionRate)
			return settleErr
		})
	switch {
	case errors.Is(err, ErrTripNotSettleable):
		return nil, common.NewInvalidStateTransitionError("trip is not in progress")
	case errors.Is(err, ErrNoDriverAssigned):
		return nil, common.NewValidationError("trip has no assigned driver")
	case errors.Is(err, ErrInsufficientBalance):
		return nil, common.NewInsufficientBalanceError("wallet balance does not cover the fare")
	case err != nil:
		logger.ErrorContext(ctx, "settlement failed",
			zap.String("trip_id", tripID.String()),
			zap.Error(err),
		)
		return nil, common.NewInternalServerError("failed to settle trip")
	}

	logger.InfoContext(ctx, "trip settled",
		zap.String("trip_id", trip.ID.String()),
		zap.Float64("fare", trip.Fare),
		zap.Float64("commission", *trip.Commission),
		zap.String("payment_method", string(trip.PaymentMethod)),
	)

	s.publish(ctx, eventbus.SubjectPaymentSettled, map[string]interface{}{
		"trip_id":         trip.ID.String(),
		"rider_id":        trip.RiderID.String(),
		"driver_id":       trip.DriverID.String(),
		"fare":            trip.Fare,
		"commission":      *trip.Commission,
		"driver_earnings": *trip.DriverEarnings,
		"payment_method":  string(trip.PaymentMethod),
		"payment_status":  string(trip.PaymentStatus),
	})

	return trip, nil
}

// Balance returns the user's wallet balance by aggregation.
func (s *Service) Balance(ctx context.Context, userID uuid.UUID) (float64, error) {
	balance, err := s.repo.WalletBalance(ctx, userID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to load wallet balance", zap.Error(err))
		return 0, common.NewInternalServerError("failed to load wallet balance")
	}
	return balance, nil
}

// TopUp opens a Stripe payment intent and records the matching PENDING
// credit. The credit completes when the provider confirms the payment.
func (s *Service) TopUp(ctx context.Context, userID uuid.UUID, amount float64) (*TopUpIntent, error) {
	if amount < minTopUp || amount > maxTopUp {
		return nil, common.NewValidationError("top-up amount must be between 1 and 1000")
	}
	if !s.stripeEnabled {
		return nil, common.NewPaymentProviderError("card payments are not enabled", nil)
	}

	amount = math.Round(amount*100) / 100
	pi, err := s.stripe.CreatePaymentIntent(
		int64(math.Round(amount*100)),
		"usd",
		"wallet top-up",
		map[string]string{"user_id": userID.String()},
	)
	if err != nil {
		logger.ErrorContext(ctx, "failed to open top-up intent", zap.Error(err))
		return nil, common.NewPaymentProviderError("failed to start top-up", err)
	}

	txn := &models.Transaction{
		ID:              uuid.New(),
		UserID:          userID,
		Amount:          amount,
		Type:            models.TransactionCredit,
		Status:          models.TransactionPending,
		Source:          "stripe",
		StripePaymentID: &pi.ID,
	}
	if err := s.repo.CreateTransaction(ctx, txn); err != nil {
		logger.ErrorContext(ctx, "failed to record top-up transaction", zap.Error(err))
		return nil, common.NewInternalServerError("failed to record top-up")
	}

	logger.InfoContext(ctx, "wallet top-up opened",
		zap.String("user_id", userID.String()),
		zap.Float64("amount", amount),
		zap.String("payment_intent", pi.ID),
	)

	return &TopUpIntent{Transaction: txn, ClientSecret: pi.ClientSecret}, nil
}

// ConfirmTopUp completes the pending credit once the provider reports the
// payment succeeded. Safe to call more than once.
func (s *Service) ConfirmTopUp(ctx context.Context, paymentIntentID string) (*models.Transaction, error) {
	txn, err := s.repo.TransactionByStripeID(ctx, paymentIntentID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to load top-up transaction", zap.Error(err))
		return nil, common.NewInternalServerError("failed to load top-up")
	}
	if txn == nil {
		return nil, common.NewNotFoundError("top-up not found", nil)
	}
	if txn.Status != models.TransactionPending {
		return txn, nil
	}

	pi, err := s.stripe.GetPaymentIntent(paymentIntentID)
	if err != nil {
		return nil, common.NewPaymentProviderError("failed to verify payment", err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return nil, common.NewConflictError(fmt.Sprintf("payment is %s, not succeeded", pi.Status))
	}

	ok, err := s.repo.ResolveTransaction(ctx, txn.ID, models.TransactionCompleted)
	if err != nil {
		logger.ErrorContext(ctx, "failed to complete top-up", zap.Error(err))
		return nil, common.NewInternalServerError("failed to complete top-up")
	}
	if ok {
		txn.Status = models.TransactionCompleted
		logger.InfoContext(ctx, "wallet top-up completed",
			zap.String("user_id", txn.UserID.String()),
			zap.Float64("amount", txn.Amount),
		)
	}

	return txn, nil
}

// HandleProviderEvent reacts to Stripe webhook events.
func (s *Service) HandleProviderEvent(ctx context.Context, eventType, paymentIntentID string) error {
	switch eventType {
	case "payment_intent.succeeded":
		_, err := s.ConfirmTopUp(ctx, paymentIntentID)
		if err != nil {
			var appErr *common.AppError
			if errors.As(err, &appErr) && appErr.ErrorCode == common.CodeNotFound {
				// not one of ours (e.g. a dashboard test payment)
				return nil
			}
		}
		return err

	case "payment_intent.payment_failed":
		txn, err := s.repo.TransactionByStripeID(ctx, paymentIntentID)
		if err != nil || txn == nil {
			return err
		}
		if _, err := s.repo.ResolveTransaction(ctx, txn.ID, models.TransactionFailed); err != nil {
			return err
		}
		logger.WarnContext(ctx, "wallet top-up failed",
			zap.String("user_id", txn.UserID.String()),
			zap.String("payment_intent", paymentIntentID),
		)
		return nil

	default:
		logger.Debug("unhandled provider event", zap.String("event_type", eventType))
		return nil
	}
}

// ProcessTripPayment debits the rider's wallet for a completed, unpaid trip.
func (s *Service) ProcessTripPayment(ctx context.Context, riderID, tripID uuid.UUID) (*models.Trip, error) {
	trip, err := s.repo.PayCompletedTrip(ctx, tripID, riderID)
	switch {
	case errors.Is(err, ErrTripNotPayable):
		return nil, common.NewConflictError("trip is not awaiting payment")
	case errors.Is(err, ErrInsufficientBalance):
		return nil, common.NewInsufficientBalanceError("wallet balance does not cover the fare")
	case err != nil:
		logger.ErrorContext(ctx, "failed to process trip payment", zap.Error(err))
		return nil, common.NewInternalServerError("failed to process trip payment")
	}

	logger.InfoContext(ctx, "trip paid from wallet",
		zap.String("trip_id", trip.ID.String()),
		zap.Float64("fare", trip.Fare),
	)

	return trip, nil
}

// Transactions returns the user's wallet history.
func (s *Service) Transactions(ctx context.Context, userID uuid.UUID, page, perPage int) ([]*models.Transaction, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	txns, err := s.repo.ListTransactions(ctx, userID, perPage, (page-1)*perPage)
	if err != nil {
		logger.ErrorContext(ctx, "failed to list transactions", zap.Error(err))
		return nil, common.NewInternalServerError("failed to list transactions")
	}
	return txns, nil
}

// RequestPayout withdraws driver earnings. Retries with the same
// idempotency key return the original payout. Payouts above the review
// threshold, or for drivers without a linked account, park in
// PENDING_MANUAL_REVIEW.
func (s *Service) RequestPayout(ctx context.Context, driverID uuid.UUID, amount float64, idempotencyKey string) (*models.Payout, error) {
	if amount <= 0 {
		return nil, common.NewValidationError("payout amount must be positive")
	}
	if idempotencyKey == "" {
		return nil, common.NewValidationError("idempotency key is required")
	}

	available, err := s.repo.AvailableEarnings(ctx, driverID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to compute available earnings", zap.Error(err))
		return nil, common.NewInternalServerError("failed to compute available earnings")
	}
	if amount > available {
		return nil, common.NewInsufficientBalanceError("payout exceeds available earnings")
	}

	destination, err := s.repo.DriverStripeAccount(ctx, driverID)
	if err != nil {
		return nil, common.NewInternalServerError("failed to load payout account")
	}

	status := models.PayoutProcessing
	if destination == nil || amount > payoutReviewThreshold || !s.stripeEnabled {
		status = models.PayoutPendingReview
	}

	payout := &models.Payout{
		ID:             uuid.New(),
		DriverID:       driverID,
		Amount:         amount,
		Status:         status,
		IdempotencyKey: idempotencyKey,
	}
	payout, created, err := s.repo.CreatePayout(ctx, payout)
	if err != nil {
		logger.ErrorContext(ctx, "failed to create payout", zap.Error(err))
		return nil, common.NewInternalServerError("failed to create payout")
	}
	if !created {
		return payout, nil
	}

	if payout.Status == models.PayoutProcessing {
		return s.executeTransfer(ctx, payout, *destination)
	}

	logger.InfoContext(ctx, "payout parked for manual review",
		zap.String("payout_id", payout.ID.String()),
		zap.Float64("amount", payout.Amount),
	)
	return payout, nil
}

func (s *Service) executeTransfer(ctx context.Context, payout *models.Payout, destination string) (*models.Payout, error) {
	var tr *stripe.Transfer
	err := tracing.TraceBusinessLogic(ctx, "payments", "payout_transfer",
		tracing.PaymentAttributes(payout.ID.String(), payout.Amount),
		func(ctx context.Context) error {
			var transferErr error
			tr, transferErr = s.stripe.CreateTransfer(
				int64(math.Round(payout.Amount*100)),
				"usd",
				destination,
				fmt.Sprintf("driver payout %s", payout.ID),
				payout.IdempotencyKey,
				map[string]string{"driver_id": payout.DriverID.String()},
			)
			return transferErr
		})
	if err != nil {
		reason := err.Error()
		if updErr := s.repo.UpdatePayoutStatus(ctx, payout.ID, models.PayoutFailed, nil, &reason); updErr != nil {
			logger.ErrorContext(ctx, "failed to mark payout failed", zap.Error(updErr))
		}
		payout.Status = models.PayoutFailed
		payout.FailureReason = &reason

		logger.ErrorContext(ctx, "payout transfer failed",
			zap.String("payout_id", payout.ID.String()),
			zap.Error(err),
		)
		s.publish(ctx, eventbus.SubjectPayoutFailed, map[string]interface{}{
			"payout_id": payout.ID.String(),
			"driver_id": payout.DriverID.String(),
			"amount":    payout.Amount,
			"reason":    reason,
		})
		if s.alerts != nil {
			s.alerts.RecordAlert(ctx, "PAYOUT_FAILED",
				fmt.Sprintf("payout %s for driver %s failed: %s", payout.ID, payout.DriverID, reason))
		}

		return payout, nil
	}

	if err := s.repo.UpdatePayoutStatus(ctx, payout.ID, models.PayoutCompleted, &tr.ID, nil); err != nil {
		logger.ErrorContext(ctx, "failed to mark payout completed", zap.Error(err))
		return nil, common.NewInternalServerError("failed to record payout")
	}
	payout.Status = models.PayoutCompleted
	payout.StripeTransferID = &tr.ID

	logger.InfoContext(ctx, "payout completed",
		zap.String("payout_id", payout.ID.String()),
		zap.Float64("amount", payout.Amount),
	)

	return payout, nil
}

// GetPayout returns the payout by id.
func (s *Service) GetPayout(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	payout, err := s.repo.GetPayout(ctx, id)
	if err != nil {
		logger.ErrorContext(ctx, "failed to load payout", zap.Error(err))
		return nil, common.NewInternalServerError("failed to load payout")
	}
	if payout == nil {
		return nil, common.NewNotFoundError("payout not found", nil)
	}
	return payout, nil
}

func (s *Service) publish(ctx context.Context, subject string, data map[string]interface{}) {
	if s.bus == nil {
		return
	}
	event, err := eventbus.NewEvent(subject, "payments", data)
	if err != nil {
		logger.Error("failed to build payment event", zap.Error(err))
		return
	}
	if err := s.bus.Publish(ctx, subject, event); err != nil {
		logger.Error("failed to publish payment event",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}
