package payments

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83"

	"github.com/hamsafar/dispatch/internal/credits"
	"github.com/hamsafar/dispatch/pkg/common"
	"github.com/hamsafar/dispatch/pkg/config"
	"github.com/hamsafar/dispatch/pkg/eventbus"
	"github.com/hamsafar/dispatch/pkg/models"
)

type fakeRepo struct {
	trips        map[uuid.UUID]*models.Trip
	transactions []*models.Transaction
	payouts      map[uuid.UUID]*models.Payout
	accounts     map[uuid.UUID]string

	deductions []uuid.UUID
	deductErr  error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		trips:    make(map[uuid.UUID]*models.Trip),
		payouts:  make(map[uuid.UUID]*models.Payout),
		accounts: make(map[uuid.UUID]string),
	}
}

func (f *fakeRepo) balance(userID uuid.UUID) float64 {
	var total float64
	for _, t := range f.transactions {
		if t.UserID != userID || t.Status != models.TransactionCompleted {
			continue
		}
		if t.Type == models.TransactionCredit {
			total += t.Amount
		} else {
			total -= t.Amount
		}
	}
	return total
}

func (f *fakeRepo) debitCount(userID uuid.UUID) int {
	n := 0
	for _, t := range f.transactions {
		if t.UserID == userID && t.Type == models.TransactionDebit {
			n++
		}
	}
	return n
}

func (f *fakeRepo) Settle(_ context.Context, tripID uuid.UUID, commissionRate float64) (*models.Trip, error) {
	trip, ok := f.trips[tripID]
	if !ok || trip.Status != models.TripInProgress {
		return nil, ErrTripNotSettleable
	}
	if trip.DriverID == nil {
		return nil, ErrNoDriverAssigned
	}

	paymentStatus := models.PaymentUnpaid
	if trip.PaymentMethod == models.PaymentWallet {
		if f.balance(trip.RiderID) < trip.Fare {
			return nil, ErrInsufficientBalance
		}
		f.transactions = append(f.transactions, &models.Transaction{
			ID:     uuid.New(),
			UserID: trip.RiderID,
			TripID: &trip.ID,
			Amount: trip.Fare,
			Type:   models.TransactionDebit,
			Status: models.TransactionCompleted,
			Source: "wallet",
		})
		paymentStatus = models.PaymentPaid
	}

	if f.deductErr != nil && !errors.Is(f.deductErr, credits.ErrInsufficientCredits) {
		return nil, f.deductErr
	}
	if f.deductErr == nil {
		f.deductions = append(f.deductions, tripID)
	}

	commission := trip.Fare * commissionRate
	earnings := trip.Fare - commission
	trip.Status = models.TripCompleted
	trip.Commission = &commission
	trip.DriverEarnings = &earnings
	trip.PaymentStatus = paymentStatus
	return trip, nil
}

func (f *fakeRepo) WalletBalance(_ context.Context, userID uuid.UUID) (float64, error) {
	return f.balance(userID), nil
}

func (f *fakeRepo) CreateTransaction(_ context.Context, t *models.Transaction) error {
	f.transactions = append(f.transactions, t)
	return nil
}

func (f *fakeRepo) TransactionByStripeID(_ context.Context, paymentIntentID string) (*models.Transaction, error) {
	for _, t := range f.transactions {
		if t.StripePaymentID != nil && *t.StripePaymentID == paymentIntentID {
			return t, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) ResolveTransaction(_ context.Context, id uuid.UUID, status models.TransactionStatus) (bool, error) {
	for _, t := range f.transactions {
		if t.ID == id && t.Status == models.TransactionPending {
			t.Status = status
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) ListTransactions(_ context.Context, userID uuid.UUID, limit, offset int) ([]*models.Transaction, error) {
	var out []*models.Transaction
	for i := len(f.transactions) - 1; i >= 0; i-- {
		if f.transactions[i].UserID == userID {
			out = append(out, f.transactions[i])
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepo) PayCompletedTrip(_ context.Context, tripID, riderID uuid.UUID) (*models.Trip, error) {
	trip, ok := f.trips[tripID]
	if !ok || trip.RiderID != riderID {
		return nil, ErrTripNotPayable
	}
	if trip.Status != models.TripCompleted || trip.PaymentStatus != models.PaymentUnpaid {
		return nil, ErrTripNotPayable
	}
	if f.balance(riderID) < trip.Fare {
		return nil, ErrInsufficientBalance
	}
	f.transactions = append(f.transactions, &models.Transaction{
		ID:     uuid.New(),
		UserID: riderID,
		TripID: &trip.ID,
		Amount: trip.Fare,
		Type:   models.TransactionDebit,
		Status: models.TransactionCompleted,
		Source: "wallet",
	})
	trip.PaymentStatus = models.PaymentPaid
	return trip, nil
}

func (f *fakeRepo) CreatePayout(_ context.Context, p *models.Payout) (*models.Payout, bool, error) {
	for _, existing := range f.payouts {
		if existing.IdempotencyKey == p.IdempotencyKey {
			return existing, false, nil
		}
	}
	f.payouts[p.ID] = p
	return p, true, nil
}

func (f *fakeRepo) GetPayout(_ context.Context, id uuid.UUID) (*models.Payout, error) {
	return f.payouts[id], nil
}

func (f *fakeRepo) UpdatePayoutStatus(_ context.Context, id uuid.UUID, status models.PayoutStatus, transferID, failureReason *string) error {
	p, ok := f.payouts[id]
	if !ok {
		return errors.New("payout missing")
	}
	p.Status = status
	if transferID != nil {
		p.StripeTransferID = transferID
	}
	p.FailureReason = failureReason
	return nil
}

func (f *fakeRepo) DriverStripeAccount(_ context.Context, driverID uuid.UUID) (*string, error) {
	acct, ok := f.accounts[driverID]
	if !ok {
		return nil, nil
	}
	return &acct, nil
}

func (f *fakeRepo) AvailableEarnings(_ context.Context, driverID uuid.UUID) (float64, error) {
	var earned float64
	for _, trip := range f.trips {
		if trip.DriverID != nil && *trip.DriverID == driverID &&
			trip.Status == models.TripCompleted && trip.DriverEarnings != nil {
			earned += *trip.DriverEarnings
		}
	}
	for _, p := range f.payouts {
		if p.DriverID == driverID && p.Status != models.PayoutFailed {
			earned -= p.Amount
		}
	}
	return earned, nil
}

type transferCall struct {
	amount      int64
	destination string
	key         string
}

type fakeProvider struct {
	intents   map[string]*stripe.PaymentIntent
	transfers []transferCall

	intentErr   error
	transferErr error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{intents: make(map[string]*stripe.PaymentIntent)}
}

func (f *fakeProvider) CreatePaymentIntent(amount int64, currency, description string, metadata map[string]string) (*stripe.PaymentIntent, error) {
	if f.intentErr != nil {
		return nil, f.intentErr
	}
	pi := &stripe.PaymentIntent{
		ID:           fmt.Sprintf("pi_%d", len(f.intents)+1),
		ClientSecret: "secret",
		Status:       stripe.PaymentIntentStatusRequiresPaymentMethod,
		Amount:       amount,
	}
	f.intents[pi.ID] = pi
	return pi, nil
}

func (f *fakeProvider) GetPaymentIntent(paymentIntentID string) (*stripe.PaymentIntent, error) {
	pi, ok := f.intents[paymentIntentID]
	if !ok {
		return nil, errors.New("no such payment intent")
	}
	return pi, nil
}

func (f *fakeProvider) CreateTransfer(amount int64, currency, destination, description, idempotencyKey string, metadata map[string]string) (*stripe.Transfer, error) {
	if f.transferErr != nil {
		return nil, f.transferErr
	}
	f.transfers = append(f.transfers, transferCall{amount: amount, destination: destination, key: idempotencyKey})
	return &stripe.Transfer{ID: fmt.Sprintf("tr_%d", len(f.transfers))}, nil
}

func (f *fakeProvider) CreateRefund(paymentIntentID string, amount *int64, reason string) (*stripe.Refund, error) {
	return &stripe.Refund{ID: "re_1"}, nil
}

func (f *fakeProvider) SumBalanceTransactions(createdGTE, createdLT int64) (float64, error) {
	return 0, nil
}

type fakeBus struct {
	subjects []string
}

func (f *fakeBus) Publish(_ context.Context, subject string, _ *eventbus.Event) error {
	f.subjects = append(f.subjects, subject)
	return nil
}

type fakeAlerter struct {
	kinds []string
}

func (f *fakeAlerter) RecordAlert(_ context.Context, kind, _ string) {
	f.kinds = append(f.kinds, kind)
}

type harness struct {
	svc      *Service
	repo     *fakeRepo
	provider *fakeProvider
	bus      *fakeBus
	alerts   *fakeAlerter
}

func newHarness() *harness {
	repo := newFakeRepo()
	provider := newFakeProvider()
	bus := &fakeBus{}
	alerts := &fakeAlerter{}
	svc := NewService(repo, provider, bus, alerts, config.StripeConfig{Enabled: true}, 0.20)
	return &harness{svc: svc, repo: repo, provider: provider, bus: bus, alerts: alerts}
}

func (h *harness) seedTrip(status models.TripStatus, method models.PaymentMethod, fare float64) *models.Trip {
	driverID := uuid.New()
	trip := &models.Trip{
		ID:            uuid.New(),
		RiderID:       uuid.New(),
		DriverID:      &driverID,
		Status:        status,
		Fare:          fare,
		PaymentMethod: method,
		PaymentStatus: models.PaymentUnpaid,
	}
	h.repo.trips[trip.ID] = trip
	return trip
}

func (h *harness) fund(userID uuid.UUID, amount float64) {
	h.repo.transactions = append(h.repo.transactions, &models.Transaction{
		ID:     uuid.New(),
		UserID: userID,
		Amount: amount,
		Type:   models.TransactionCredit,
		Status: models.TransactionCompleted,
		Source: "stripe",
	})
}

func assertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, code, appErr.ErrorCode)
}

func TestSettleWalletTrip(t *testing.T) {
	h := newHarness()
	trip := h.seedTrip(models.TripInProgress, models.PaymentWallet, 20)
	h.fund(trip.RiderID, 50)

	settled, err := h.svc.Settle(context.Background(), trip.ID)
	require.NoError(t, err)

	assert.Equal(t, models.TripCompleted, settled.Status)
	assert.Equal(t, models.PaymentPaid, settled.PaymentStatus)
	require.NotNil(t, settled.Commission)
	assert.InDelta(t, 4.0, *settled.Commission, 1e-9)
	require.NotNil(t, settled.DriverEarnings)
	assert.InDelta(t, 16.0, *settled.DriverEarnings, 1e-9)

	assert.InDelta(t, 30.0, h.repo.balance(trip.RiderID), 1e-9)
	assert.Equal(t, 1, h.repo.debitCount(trip.RiderID))
	assert.Equal(t, []uuid.UUID{trip.ID}, h.repo.deductions)
	assert.Contains(t, h.bus.subjects, eventbus.SubjectPaymentSettled)
}

func TestSettleInsufficientBalance(t *testing.T) {
	h := newHarness()
	trip := h.seedTrip(models.TripInProgress, models.PaymentWallet, 20)
	h.fund(trip.RiderID, 10)

	_, err := h.svc.Settle(context.Background(), trip.ID)
	assertErrorCode(t, err, common.CodeInsufficientBalance)

	assert.Equal(t, models.TripInProgress, trip.Status)
	assert.Equal(t, 0, h.repo.debitCount(trip.RiderID))
	assert.Empty(t, h.bus.subjects)
}

func TestSettleCashTripStaysUnpaid(t *testing.T) {
	h := newHarness()
	trip := h.seedTrip(models.TripInProgress, models.PaymentCash, 12)

	settled, err := h.svc.Settle(context.Background(), trip.ID)
	require.NoError(t, err)

	assert.Equal(t, models.TripCompleted, settled.Status)
	assert.Equal(t, models.PaymentUnpaid, settled.PaymentStatus)
	assert.Equal(t, 0, h.repo.debitCount(trip.RiderID))
}

func TestSettleRequiresInProgress(t *testing.T) {
	h := newHarness()
	trip := h.seedTrip(models.TripRequested, models.PaymentCash, 12)

	_, err := h.svc.Settle(context.Background(), trip.ID)
	assertErrorCode(t, err, common.CodeInvalidStateTransition)

	_, err = h.svc.Settle(context.Background(), uuid.New())
	assertErrorCode(t, err, common.CodeInvalidStateTransition)

	assert.Equal(t, models.TripRequested, trip.Status)
}

func TestSettleSurvivesExhaustedCredits(t *testing.T) {
	h := newHarness()
	h.repo.deductErr = credits.ErrInsufficientCredits
	trip := h.seedTrip(models.TripInProgress, models.PaymentCash, 12)

	settled, err := h.svc.Settle(context.Background(), trip.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TripCompleted, settled.Status)
	assert.Empty(t, h.repo.deductions)
}

func TestTopUpCreatesPendingCredit(t *testing.T) {
	h := newHarness()
	userID := uuid.New()

	intent, err := h.svc.TopUp(context.Background(), userID, 25)
	require.NoError(t, err)

	assert.Equal(t, "secret", intent.ClientSecret)
	assert.Equal(t, models.TransactionPending, intent.Transaction.Status)
	assert.Equal(t, models.TransactionCredit, intent.Transaction.Type)
	require.NotNil(t, intent.Transaction.StripePaymentID)

	// pending credits don't count toward the balance
	assert.InDelta(t, 0.0, h.repo.balance(userID), 1e-9)
}

func TestTopUpValidation(t *testing.T) {
	h := newHarness()
	userID := uuid.New()

	_, err := h.svc.TopUp(context.Background(), userID, 0.5)
	assertErrorCode(t, err, common.CodeValidationFailed)

	_, err = h.svc.TopUp(context.Background(), userID, 5000)
	assertErrorCode(t, err, common.CodeValidationFailed)
}

func TestTopUpDisabledProvider(t *testing.T) {
	h := newHarness()
	h.svc.stripeEnabled = false

	_, err := h.svc.TopUp(context.Background(), uuid.New(), 25)
	assertErrorCode(t, err, common.CodePaymentProviderError)
}

func TestConfirmTopUpIsIdempotent(t *testing.T) {
	h := newHarness()
	userID := uuid.New()

	intent, err := h.svc.TopUp(context.Background(), userID, 25)
	require.NoError(t, err)
	piID := *intent.Transaction.StripePaymentID

	// provider hasn't confirmed yet
	_, err = h.svc.ConfirmTopUp(context.Background(), piID)
	assertErrorCode(t, err, common.CodeConflict)

	h.provider.intents[piID].Status = stripe.PaymentIntentStatusSucceeded

	txn, err := h.svc.ConfirmTopUp(context.Background(), piID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionCompleted, txn.Status)
	assert.InDelta(t, 25.0, h.repo.balance(userID), 1e-9)

	// replayed webhook
	txn, err = h.svc.ConfirmTopUp(context.Background(), piID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionCompleted, txn.Status)
	assert.InDelta(t, 25.0, h.repo.balance(userID), 1e-9)
}

func TestProviderEventFailsTopUp(t *testing.T) {
	h := newHarness()
	userID := uuid.New()

	intent, err := h.svc.TopUp(context.Background(), userID, 25)
	require.NoError(t, err)
	piID := *intent.Transaction.StripePaymentID

	err = h.svc.HandleProviderEvent(context.Background(), "payment_intent.payment_failed", piID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionFailed, intent.Transaction.Status)

	// unknown payment intents are ignored
	err = h.svc.HandleProviderEvent(context.Background(), "payment_intent.succeeded", "pi_unknown")
	require.NoError(t, err)
}

func TestProcessTripPayment(t *testing.T) {
	h := newHarness()
	trip := h.seedTrip(models.TripCompleted, models.PaymentCash, 15)
	h.fund(trip.RiderID, 40)

	paid, err := h.svc.ProcessTripPayment(context.Background(), trip.RiderID, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, paid.PaymentStatus)
	assert.InDelta(t, 25.0, h.repo.balance(trip.RiderID), 1e-9)

	// already paid
	_, err = h.svc.ProcessTripPayment(context.Background(), trip.RiderID, trip.ID)
	assertErrorCode(t, err, common.CodeConflict)
}

func TestProcessTripPaymentInsufficientBalance(t *testing.T) {
	h := newHarness()
	trip := h.seedTrip(models.TripCompleted, models.PaymentCash, 15)
	h.fund(trip.RiderID, 5)

	_, err := h.svc.ProcessTripPayment(context.Background(), trip.RiderID, trip.ID)
	assertErrorCode(t, err, common.CodeInsufficientBalance)
}

func seedEarnings(h *harness, driverID uuid.UUID, amount float64) {
	trip := h.seedTrip(models.TripCompleted, models.PaymentCash, amount)
	trip.DriverID = &driverID
	trip.DriverEarnings = &amount
}

func TestRequestPayoutHappyPath(t *testing.T) {
	h := newHarness()
	driverID := uuid.New()
	seedEarnings(h, driverID, 200)
	h.repo.accounts[driverID] = "acct_1"

	payout, err := h.svc.RequestPayout(context.Background(), driverID, 150, "key-1")
	require.NoError(t, err)

	assert.Equal(t, models.PayoutCompleted, payout.Status)
	require.NotNil(t, payout.StripeTransferID)
	require.Len(t, h.provider.transfers, 1)
	assert.Equal(t, int64(15000), h.provider.transfers[0].amount)
	assert.Equal(t, "acct_1", h.provider.transfers[0].destination)
	assert.Equal(t, "key-1", h.provider.transfers[0].key)
}

func TestRequestPayoutIdempotent(t *testing.T) {
	h := newHarness()
	driverID := uuid.New()
	seedEarnings(h, driverID, 200)
	h.repo.accounts[driverID] = "acct_1"

	first, err := h.svc.RequestPayout(context.Background(), driverID, 100, "key-1")
	require.NoError(t, err)

	second, err := h.svc.RequestPayout(context.Background(), driverID, 100, "key-1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, h.provider.transfers, 1)
}

func TestRequestPayoutExceedsEarnings(t *testing.T) {
	h := newHarness()
	driverID := uuid.New()
	seedEarnings(h, driverID, 50)

	_, err := h.svc.RequestPayout(context.Background(), driverID, 80, "key-1")
	assertErrorCode(t, err, common.CodeInsufficientBalance)
}

func TestRequestPayoutManualReview(t *testing.T) {
	h := newHarness()
	driverID := uuid.New()
	seedEarnings(h, driverID, 1000)

	// no linked account
	payout, err := h.svc.RequestPayout(context.Background(), driverID, 100, "key-1")
	require.NoError(t, err)
	assert.Equal(t, models.PayoutPendingReview, payout.Status)
	assert.Empty(t, h.provider.transfers)

	// above the review threshold even with an account
	h.repo.accounts[driverID] = "acct_1"
	payout, err = h.svc.RequestPayout(context.Background(), driverID, 800, "key-2")
	require.NoError(t, err)
	assert.Equal(t, models.PayoutPendingReview, payout.Status)
	assert.Empty(t, h.provider.transfers)
}

func TestRequestPayoutTransferFailure(t *testing.T) {
	h := newHarness()
	driverID := uuid.New()
	seedEarnings(h, driverID, 200)
	h.repo.accounts[driverID] = "acct_1"
	h.provider.transferErr = errors.New("destination account frozen")

	payout, err := h.svc.RequestPayout(context.Background(), driverID, 100, "key-1")
	require.NoError(t, err)

	assert.Equal(t, models.PayoutFailed, payout.Status)
	require.NotNil(t, payout.FailureReason)
	assert.Contains(t, *payout.FailureReason, "frozen")
	assert.Contains(t, h.bus.subjects, eventbus.SubjectPayoutFailed)
	assert.Equal(t, []string{"PAYOUT_FAILED"}, h.alerts.kinds)

	// failed payouts release the held amount
	available, err := h.repo.AvailableEarnings(context.Background(), driverID)
	require.NoError(t, err)
	assert.InDelta(t, 200.0, available, 1e-9)
}

func TestGetPayout(t *testing.T) {
	h := newHarness()
	driverID := uuid.New()
	seedEarnings(h, driverID, 200)
	h.repo.accounts[driverID] = "acct_1"

	created, err := h.svc.RequestPayout(context.Background(), driverID, 50, "key-1")
	require.NoError(t, err)

	got, err := h.svc.GetPayout(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = h.svc.GetPayout(context.Background(), uuid.New())
	assertErrorCode(t, err, common.CodeNotFound)
}
