package credits

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hamsafar/dispatch/pkg/common"
	"github.com/hamsafar/dispatch/pkg/logger"
	"github.com/hamsafar/dispatch/pkg/models"
	"github.com/hamsafar/dispatch/pkg/rooms"
	"github.com/hamsafar/dispatch/pkg/security"
)

const (
	maxPackageCredits = 10000
	maxPackageMonths  = 12

	// a "month" of credit validity
	monthDuration = 30 * 24 * time.Hour
)

// RepositoryInterface defines the credits data access contract
type RepositoryInterface interface {
	AppendEntry(ctx context.Context, q Querier, entry *models.CreditLedgerEntry) error
	LedgerSum(ctx context.Context, driverID uuid.UUID) (int, error)
	ListEntries(ctx context.Context, driverID uuid.UUID, limit, offset int) ([]*models.CreditLedgerEntry, error)
	CreatePurchaseRequest(ctx context.Context, req *models.CreditPurchaseRequest) error
	GetPurchaseRequest(ctx context.Context, id uuid.UUID) (*models.CreditPurchaseRequest, error)
	ListPendingRequests(ctx context.Context) ([]*models.CreditPurchaseRequest, error)
	Approve(ctx context.Context, requestID, adminID uuid.UUID, expiresAt time.Time) (*models.CreditPurchaseRequest, error)
	Reject(ctx context.Context, requestID, adminID uuid.UUID, note string) (*models.CreditPurchaseRequest, error)
	ExpireBalances(ctx context.Context, now time.Time) (int, error)
	ListDrift(ctx context.Context) ([]*Drift, error)
	GetBalance(ctx context.Context, driverID uuid.UUID) (*Balance, error)
	Querier() Querier
}

// Emitter pushes room messages to connected clients
type Emitter interface {
	EmitToRoom(room string, msg *rooms.Message) error
}

// Balance is a driver's current standing.
type Balance struct {
	DriverID      uuid.UUID  `json:"driver_id"`
	CreditBalance int        `json:"credit_balance"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// Service handles driver credit packages and the ledger
type Service struct {
	repo    RepositoryInterface
	emitter Emitter
	now     func() time.Time
}

// NewService creates a new credits service
func NewService(repo RepositoryInterface, emitter Emitter) *Service {
	return &Service{repo: repo, emitter: emitter, now: time.Now}
}

// RequestPurchase files a PENDING package request for admin review.
func (s *Service) RequestPurchase(ctx context.Context, driverID uuid.UUID, credits, months int) (*models.CreditPurchaseRequest, error) {
	if credits <= 0 || credits > maxPackageCredits {
		return nil, common.NewValidationError("credits must be between 1 and 10000")
	}
	if months <= 0 || months > maxPackageMonths {
		return nil, common.NewValidationError("months must be between 1 and 12")
	}

	req := &models.CreditPurchaseRequest{
		ID:       uuid.New(),
		DriverID: driverID,
		Credits:  credits,
		Months:   months,
		Status:   models.PurchasePending,
	}
	if err := s.repo.CreatePurchaseRequest(ctx, req); err != nil {
		logger.ErrorContext(ctx, "failed to create purchase request", zap.Error(err))
		return nil, common.NewInternalServerError("failed to create purchase request")
	}

	s.emit(rooms.AdminRoom, &rooms.Message{
		Type:      "credits:purchase_requested",
		Timestamp: s.now(),
		Data: map[string]interface{}{
			"request_id": req.ID.String(),
			"driver_id":  driverID.String(),
			"credits":    credits,
			"months":     months,
		},
	})

	return req, nil
}

// PendingRequests returns requests awaiting review, oldest first.
func (s *Service) PendingRequests(ctx context.Context) ([]*models.CreditPurchaseRequest, error) {
	reqs, err := s.repo.ListPendingRequests(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "failed to list purchase requests", zap.Error(err))
		return nil, common.NewInternalServerError("failed to list purchase requests")
	}
	return reqs, nil
}

// Approve grants the requested package: balance, ledger row and expiry move
// in one transaction.
func (s *Service) Approve(ctx context.Context, adminID, requestID uuid.UUID) (*models.CreditPurchaseRequest, error) {
	existing, err := s.repo.GetPurchaseRequest(ctx, requestID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to load purchase request", zap.Error(err))
		return nil, common.NewInternalServerError("failed to load purchase request")
	}
	if existing == nil {
		return nil, common.NewNotFoundError("purchase request not found", nil)
	}

	expiresAt := s.now().Add(time.Duration(existing.Months) * monthDuration)
	req, err := s.repo.Approve(ctx, requestID, adminID, expiresAt)
	if errors.Is(err, ErrRequestNotPending) {
		return nil, common.NewConflictError("purchase request already reviewed")
	}
	if err != nil {
		logger.ErrorContext(ctx, "failed to approve purchase request",
			zap.String("request_id", requestID.String()),
			zap.Error(err),
		)
		return nil, common.NewInternalServerError("failed to approve purchase request")
	}

	logger.InfoContext(ctx, "credit purchase approved",
		zap.String("request_id", req.ID.String()),
		zap.String("driver_id", req.DriverID.String()),
		zap.Int("credits", req.Credits),
	)

	s.emit(rooms.DriverRoom(req.DriverID.String()), &rooms.Message{
		Type:      "credits:approved",
		Timestamp: s.now(),
		Data: map[string]interface{}{
			"request_id": req.ID.String(),
			"credits":    req.Credits,
			"expires_at": expiresAt,
		},
	})

	return req, nil
}

// Reject resolves the request without granting credits.
func (s *Service) Reject(ctx context.Context, adminID, requestID uuid.UUID, note string) (*models.CreditPurchaseRequest, error) {
	req, err := s.repo.Reject(ctx, requestID, adminID, security.SanitizeMessageParam(note))
	if errors.Is(err, ErrRequestNotPending) {
		existing, getErr := s.repo.GetPurchaseRequest(ctx, requestID)
		if getErr == nil && existing == nil {
			return nil, common.NewNotFoundError("purchase request not found", nil)
		}
		return nil, common.NewConflictError("purchase request already reviewed")
	}
	if err != nil {
		logger.ErrorContext(ctx, "failed to reject purchase request", zap.Error(err))
		return nil, common.NewInternalServerError("failed to reject purchase request")
	}

	s.emit(rooms.DriverRoom(req.DriverID.String()), &rooms.Message{
		Type:      "credits:rejected",
		Timestamp: s.now(),
		Data: map[string]interface{}{
			"request_id": req.ID.String(),
			"note":       note,
		},
	})

	return req, nil
}

// Adjust applies a manual admin delta with an audit trail entry.
func (s *Service) Adjust(ctx context.Context, adminID, driverID uuid.UUID, delta int) (*models.CreditLedgerEntry, error) {
	if delta == 0 {
		return nil, common.NewValidationError("adjustment delta must be non-zero")
	}

	entry := &models.CreditLedgerEntry{
		ID:           uuid.New(),
		DriverID:     driverID,
		CreditsDelta: delta,
		Reason:       models.CreditAdminAdjust,
		ActorID:      &adminID,
	}
	err := s.repo.AppendEntry(ctx, s.repo.Querier(), entry)
	if errors.Is(err, ErrInsufficientCredits) {
		return nil, common.NewInsufficientBalanceError("adjustment would overdraw credit balance")
	}
	if err != nil {
		logger.ErrorContext(ctx, "failed to adjust credits", zap.Error(err))
		return nil, common.NewInternalServerError("failed to adjust credits")
	}

	logger.InfoContext(ctx, "credits adjusted",
		zap.String("driver_id", driverID.String()),
		zap.String("admin_id", adminID.String()),
		zap.Int("delta", delta),
	)

	return entry, nil
}

// GetBalance returns the driver's current balance and expiry.
func (s *Service) GetBalance(ctx context.Context, driverID uuid.UUID) (*Balance, error) {
	bal, err := s.repo.GetBalance(ctx, driverID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to load credit balance", zap.Error(err))
		return nil, common.NewInternalServerError("failed to load credit balance")
	}
	if bal == nil {
		return nil, common.NewNotFoundError("driver not found", nil)
	}
	return bal, nil
}

// History returns the driver's ledger, newest first.
func (s *Service) History(ctx context.Context, driverID uuid.UUID, page, perPage int) ([]*models.CreditLedgerEntry, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	entries, err := s.repo.ListEntries(ctx, driverID, perPage, (page-1)*perPage)
	if err != nil {
		logger.ErrorContext(ctx, "failed to list ledger entries", zap.Error(err))
		return nil, common.NewInternalServerError("failed to list ledger entries")
	}
	return entries, nil
}

// SweepExpired zeroes overdue balances. Run from the worker.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	swept, err := s.repo.ExpireBalances(ctx, s.now())
	if err != nil {
		logger.ErrorContext(ctx, "credit expiry sweep failed", zap.Error(err))
		return swept, err
	}
	if swept > 0 {
		logger.InfoContext(ctx, "expired credit balances swept", zap.Int("drivers", swept))
	}
	return swept, nil
}

// CheckDrift reports drivers whose balance column has diverged from the
// ledger sum. Used by reconciliation.
func (s *Service) CheckDrift(ctx context.Context) ([]*Drift, error) {
	drift, err := s.repo.ListDrift(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range drift {
		logger.Warn("credit ledger drift detected",
			zap.String("driver_id", d.DriverID.String()),
			zap.Int("credit_balance", d.CreditBalance),
			zap.Int("ledger_sum", d.LedgerSum),
		)
	}
	return drift, nil
}

func (s *Service) emit(room string, msg *rooms.Message) {
	if s.emitter == nil {
		return
	}
	if err := s.emitter.EmitToRoom(room, msg); err != nil {
		logger.Error("failed to emit credits event",
			zap.String("room", room),
			zap.String("type", msg.Type),
			zap.Error(err),
		)
	}
}
