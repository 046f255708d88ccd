package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"

	"github.com/hamsafar/dispatch/pkg/common"
	"github.com/hamsafar/dispatch/pkg/config"
	"github.com/hamsafar/dispatch/pkg/middleware"
	"github.com/hamsafar/dispatch/pkg/models"
)

// totpIssuer appears in authenticator apps next to the account.
const totpIssuer = "Hamsafar Dispatch"

// RepositoryInterface defines the storage operations the service needs.
type RepositoryInterface interface {
	GetUserByPhone(ctx context.Context, phone string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	CreateUser(ctx context.Context, u *models.User) error
	GetDriverByUserID(ctx context.Context, userID uuid.UUID) (*models.Driver, error)
	GetTOTPSecret(ctx context.Context, userID uuid.UUID) (string, bool, error)
	SaveTOTPSecret(ctx context.Context, userID uuid.UUID, secret string) error
	ActivateTOTP(ctx context.Context, userID uuid.UUID) error
}

// OTPService issues and verifies login codes.
type OTPService interface {
	Request(ctx context.Context, phone string) (*models.OTP, error)
	Verify(ctx context.Context, phone, code string) (*models.OTP, error)
}

// LoginResponse is returned after a successful verification.
type LoginResponse struct {
	Token  string         `json:"token"`
	User   *models.User   `json:"user"`
	Driver *models.Driver `json:"driver,omitempty"`
}

// TOTPEnrollment carries a fresh secret back to the enrolling admin.
type TOTPEnrollment struct {
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

// Service handles phone-based authentication. A first login creates a rider
// account; drivers and admins are provisioned out of band.
type Service struct {
	repo RepositoryInterface
	otp  OTPService
	cfg  config.JWTConfig
}

// NewService creates a new auth service
func NewService(repo RepositoryInterface, otpSvc OTPService, cfg config.JWTConfig) *Service {
	return &Service{repo: repo, otp: otpSvc, cfg: cfg}
}

// RequestOTP issues a login code for the phone. Returns the code's TTL in
// seconds for client countdown display.
func (s *Service) RequestOTP(ctx context.Context, phone string) (int, error) {
	issued, err := s.otp.Request(ctx, phone)
	if err != nil {
		return 0, err
	}

	return int(time.Until(issued.ExpiresAt).Seconds()), nil
}

// VerifyOTP checks the code, resolves (or creates) the account and mints an
// access token. Admin accounts with activated TOTP must also present a valid
// authenticator code.
func (s *Service) VerifyOTP(ctx context.Context, phone, code, totpCode string) (*LoginResponse, error) {
	verified, err := s.otp.Verify(ctx, phone, code)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.GetUserByPhone(ctx, verified.Phone)
	if err != nil {
		return nil, common.NewInternalServerError("failed to load account")
	}

	if user == nil {
		user = &models.User{
			ID:       uuid.New(),
			Phone:    verified.Phone,
			Role:     models.RoleRider,
			IsActive: true,
		}
		if err := s.repo.CreateUser(ctx, user); err != nil {
			return nil, common.NewInternalServerError("failed to create account")
		}
	}

	if !user.IsActive {
		return nil, common.NewUnauthorizedError("account is inactive")
	}

	if user.Role == models.RoleAdmin {
		if err := s.checkTOTP(ctx, user.ID, totpCode); err != nil {
			return nil, err
		}
	}

	var driver *models.Driver
	if user.Role == models.RoleDriver {
		driver, err = s.repo.GetDriverByUserID(ctx, user.ID)
		if err != nil {
			return nil, common.NewInternalServerError("failed to load driver profile")
		}
	}

	token, err := s.mintToken(user, driver)
	if err != nil {
		return nil, common.NewInternalServerError("failed to generate token")
	}

	return &LoginResponse{Token: token, User: user, Driver: driver}, nil
}

// GetProfile returns the account plus driver profile when present.
func (s *Service) GetProfile(ctx context.Context, userID uuid.UUID) (*models.User, *models.Driver, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, nil, common.NewInternalServerError("failed to load account")
	}
	if user == nil {
		return nil, nil, common.NewNotFoundError("user not found", nil)
	}

	var driver *models.Driver
	if user.Role == models.RoleDriver {
		driver, err = s.repo.GetDriverByUserID(ctx, userID)
		if err != nil {
			return nil, nil, common.NewInternalServerError("failed to load driver profile")
		}
	}

	return user, driver, nil
}

// EnrollTOTP generates a fresh authenticator secret for an admin. The secret
// is inert until activated with a valid code.
func (s *Service) EnrollTOTP(ctx context.Context, userID uuid.UUID) (*TOTPEnrollment, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, common.NewInternalServerError("failed to load account")
	}
	if user == nil || user.Role != models.RoleAdmin {
		return nil, common.NewForbiddenError("totp enrollment is admin only")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: user.Phone,
	})
	if err != nil {
		return nil, common.NewInternalServerError("failed to generate totp secret")
	}

	if err := s.repo.SaveTOTPSecret(ctx, userID, key.Secret()); err != nil {
		return nil, common.NewInternalServerError("failed to store totp secret")
	}

	return &TOTPEnrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

// ActivateTOTP confirms enrollment with the first valid authenticator code.
// From then on every admin login requires a code.
func (s *Service) ActivateTOTP(ctx context.Context, userID uuid.UUID, code string) error {
	secret, _, err := s.repo.GetTOTPSecret(ctx, userID)
	if err != nil {
		return common.NewInternalServerError("failed to load totp secret")
	}
	if secret == "" {
		return common.NewValidationError("totp is not enrolled")
	}

	if !totp.Validate(code, secret) {
		return common.NewUnauthorizedError("invalid totp code")
	}

	if err := s.repo.ActivateTOTP(ctx, userID); err != nil {
		return common.NewInternalServerError("failed to activate totp")
	}

	return nil
}

func (s *Service) checkTOTP(ctx context.Context, userID uuid.UUID, code string) error {
	secret, activated, err := s.repo.GetTOTPSecret(ctx, userID)
	if err != nil {
		return common.NewInternalServerError("failed to load totp secret")
	}
	if secret == "" || !activated {
		return nil
	}

	if code == "" {
		return common.NewUnauthorizedError("totp code required")
	}
	if !totp.Validate(code, secret) {
		return common.NewUnauthorizedError("invalid totp code")
	}

	return nil
}

func (s *Service) mintToken(user *models.User, driver *models.Driver) (string, error) {
	claims := &middleware.Claims{
		UserID: user.ID,
		Phone:  user.Phone,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour * time.Duration(s.cfg.Expiration))),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	if driver != nil {
		claims.DriverID = &driver.ID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.Secret))
}
