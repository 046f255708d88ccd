package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/hamsafar/dispatch/pkg/common"
	"github.com/hamsafar/dispatch/pkg/config"
	"github.com/hamsafar/dispatch/pkg/logger"
	"github.com/hamsafar/dispatch/pkg/models"
	"github.com/hamsafar/dispatch/pkg/security"
)

// RepositoryInterface defines the storage operations the service needs.
type RepositoryInterface interface {
	CreateExclusive(ctx context.Context, o *models.OTP) error
	GetActive(ctx context.Context, phone string) (*models.OTP, error)
	MarkVerified(ctx context.Context, id uuid.UUID) (bool, error)
	CountRecentRequests(ctx context.Context, phone string, since time.Time) (int, error)
	IncrementRequests(ctx context.Context, phone string, windowStart time.Time) error
	GetLock(ctx context.Context, phone string) (*models.OTPLock, error)
	RecordFailure(ctx context.Context, phone string, threshold int, lockedUntil time.Time) (*models.OTPLock, error)
	ResetLock(ctx context.Context, phone string) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sender delivers codes out of band. Delivery never blocks issuance.
type Sender interface {
	SendOTP(ctx context.Context, otpID uuid.UUID, phone, code string)
}

// Service issues and verifies login codes. Issuance is rate limited per
// phone; repeated wrong codes lock the phone out.
type Service struct {
	repo   RepositoryInterface
	sender Sender
	cfg    config.OTPConfig

	// now is swapped out in tests.
	now func() time.Time
}

// NewService creates a new otp service
func NewService(repo RepositoryInterface, sender Sender, cfg config.OTPConfig) *Service {
	return &Service{
		repo:   repo,
		sender: sender,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Request issues a fresh code for the phone and hands it to the sender. Any
// previous unverified code for the phone is invalidated. The plaintext code
// never leaves this method except through the sender.
func (s *Service) Request(ctx context.Context, phone string) (*models.OTP, error) {
	phone = security.SanitizePhone(phone)
	if phone == "" {
		return nil, common.NewValidationError("phone is required")
	}

	now := s.now()

	lock, err := s.repo.GetLock(ctx, phone)
	if err != nil {
		return nil, common.NewInternalServerError("failed to check lockout state")
	}
	if lock.Locked(now) {
		return nil, common.NewLockedError("too many failed attempts, try again later")
	}

	count, err := s.repo.CountRecentRequests(ctx, phone, now.Add(-time.Hour))
	if err != nil {
		return nil, common.NewInternalServerError("failed to check request rate")
	}
	if count >= s.cfg.MaxPerHour {
		return nil, common.NewRateLimitedError("too many codes requested, try again later")
	}

	code, err := generateCode(s.cfg.CodeLength)
	if err != nil {
		return nil, common.NewInternalServerError("failed to generate code")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return nil, common.NewInternalServerError("failed to hash code")
	}

	otp := &models.OTP{
		ID:             uuid.New(),
		Phone:          phone,
		CodeHash:       string(hash),
		ExpiresAt:      now.Add(time.Duration(s.cfg.ExpiryMinutes) * time.Minute),
		DeliveryStatus: models.DeliveryPending,
	}

	if err := s.repo.CreateExclusive(ctx, otp); err != nil {
		// A concurrent request won the unique index race; its delete freed
		// the slot, so one retry suffices.
		if errors.Is(err, ErrDuplicateActiveCode) {
			otp.ID = uuid.New()
			err = s.repo.CreateExclusive(ctx, otp)
		}
		if err != nil {
			return nil, common.NewInternalServerError("failed to store code")
		}
	}

	if err := s.repo.IncrementRequests(ctx, phone, now.Truncate(time.Hour)); err != nil {
		logger.ErrorContext(ctx, "failed to count otp issuance",
			zap.String("phone", phone),
			zap.Error(err),
		)
	}

	s.sender.SendOTP(ctx, otp.ID, phone, code)

	return otp, nil
}

// Verify checks the submitted code against the phone's single live code.
// Wrong, missing and expired codes all count as failed attempts; reaching
// the threshold locks the phone out.
func (s *Service) Verify(ctx context.Context, phone, code string) (*models.OTP, error) {
	phone = security.SanitizePhone(phone)
	if phone == "" || code == "" {
		return nil, common.NewValidationError("phone and code are required")
	}

	now := s.now()

	lock, err := s.repo.GetLock(ctx, phone)
	if err != nil {
		return nil, common.NewInternalServerError("failed to check lockout state")
	}
	if lock.Locked(now) {
		return nil, common.NewLockedError("too many failed attempts, try again later")
	}

	otp, err := s.repo.GetActive(ctx, phone)
	if err != nil {
		return nil, common.NewInternalServerError("failed to load code")
	}
	if otp == nil || otp.ExpiresAt.Before(now) {
		return nil, s.failAttempt(ctx, phone, now)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(otp.CodeHash), []byte(code)); err != nil {
		return nil, s.failAttempt(ctx, phone, now)
	}

	verified, err := s.repo.MarkVerified(ctx, otp.ID)
	if err != nil {
		return nil, common.NewInternalServerError("failed to consume code")
	}
	if !verified {
		// Lost the race with a concurrent verification of the same code.
		return nil, common.NewUnauthorizedError("invalid or expired code")
	}
	otp.Verified = true

	if err := s.repo.ResetLock(ctx, phone); err != nil {
		logger.ErrorContext(ctx, "failed to reset otp lock",
			zap.String("phone", phone),
			zap.Error(err),
		)
	}

	return otp, nil
}

// SweepExpired removes codes and issuance counters older than 24 hours.
// Verified rows age out too; they have no use after the token is minted.
func (s *Service) SweepExpired(ctx context.Context) error {
	cutoff := s.now().Add(-24 * time.Hour)

	removed, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}

	if removed > 0 {
		logger.InfoContext(ctx, "swept expired otps", zap.Int64("removed", removed))
	}

	return nil
}

func (s *Service) failAttempt(ctx context.Context, phone string, now time.Time) error {
	lockedUntil := now.Add(time.Duration(s.cfg.LockMinutes) * time.Minute)

	lock, err := s.repo.RecordFailure(ctx, phone, s.cfg.LockThreshold, lockedUntil)
	if err != nil {
		logger.ErrorContext(ctx, "failed to record otp failure",
			zap.String("phone", phone),
			zap.Error(err),
		)
		return common.NewUnauthorizedError("invalid or expired code")
	}

	if lock.Locked(now) {
		return common.NewLockedError("too many failed attempts, try again later")
	}

	return common.NewUnauthorizedError("invalid or expired code")
}

// generateCode draws a zero-padded numeric code of the given length from
// crypto/rand.
func generateCode(length int) (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)

	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%0*d", length, n), nil
}
