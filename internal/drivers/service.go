package drivers

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hamsafar/dispatch/pkg/common"
	"github.com/hamsafar/dispatch/pkg/logger"
	"github.com/hamsafar/dispatch/pkg/models"
	"github.com/hamsafar/dispatch/pkg/security"
)

// RepositoryInterface defines the storage operations the service needs.
type RepositoryInterface interface {
	CreateWithUser(ctx context.Context, user *models.User, driver *models.Driver) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Driver, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Driver, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.DriverStatus) (bool, error)
	ForceStatus(ctx context.Context, id uuid.UUID, to models.DriverStatus) error
	UpdateProfile(ctx context.Context, d *models.Driver) error
	SetFlagged(ctx context.Context, id uuid.UUID, flagged bool) error
	RecomputeAcceptanceRate(ctx context.Context, id uuid.UUID) (float64, error)
	TouchLastAccepted(ctx context.Context, id uuid.UUID) error
	ListFlagged(ctx context.Context) ([]*models.Driver, error)
}

// selfTransitions are the availability moves a driver may make themselves.
// Busy drivers leave busy only through trip completion or cancellation, and
// suspended drivers only through an admin unsuspend.
var selfTransitions = map[models.DriverStatus][]models.DriverStatus{
	models.DriverOffline: {models.DriverOnline},
	models.DriverOnline:  {models.DriverOffline},
}

// RegisterDriverRequest carries the admin-provisioned driver fields.
type RegisterDriverRequest struct {
	Phone       string  `json:"phone" binding:"required"`
	Name        string  `json:"name"`
	VehicleType string  `json:"vehicle_type" binding:"required"`
	PlateNumber string  `json:"plate_number" binding:"required"`
	City        string  `json:"city" binding:"required"`
	Province    string  `json:"province"`
	BaseFare    float64 `json:"base_fare"`
	PerKmRate   float64 `json:"per_km_rate"`
}

// UpdateProfileRequest carries the driver-editable profile fields.
type UpdateProfileRequest struct {
	VehicleType string  `json:"vehicle_type"`
	PlateNumber string  `json:"plate_number"`
	City        string  `json:"city"`
	Province    string  `json:"province"`
	BaseFare    float64 `json:"base_fare"`
	PerKmRate   float64 `json:"per_km_rate"`
}

// Service handles driver lifecycle and availability.
type Service struct {
	repo RepositoryInterface
}

// NewService creates a new drivers service
func NewService(repo RepositoryInterface) *Service {
	return &Service{repo: repo}
}

// Register provisions a driver account plus driver row. Admin only; riders
// never become drivers by self-service.
func (s *Service) Register(ctx context.Context, req *RegisterDriverRequest) (*models.Driver, error) {
	phone := security.SanitizePhone(req.Phone)
	if phone == "" {
		return nil, common.NewValidationError("phone is required")
	}

	user := &models.User{
		ID:       uuid.New(),
		Phone:    phone,
		Role:     models.RoleDriver,
		IsActive: true,
	}
	if req.Name != "" {
		name := security.SanitizeString(req.Name)
		user.Name = &name
	}

	driver := &models.Driver{
		ID:          uuid.New(),
		UserID:      user.ID,
		Status:      models.DriverOffline,
		VehicleType: req.VehicleType,
		PlateNumber: req.PlateNumber,
		City:        req.City,
		Province:    req.Province,
		BaseFare:    req.BaseFare,
		PerKmRate:   req.PerKmRate,
		Rating:      5.0,
	}

	if err := s.repo.CreateWithUser(ctx, user, driver); err != nil {
		if errors.Is(err, ErrPhoneTaken) {
			return nil, common.NewConflictError("phone already registered")
		}
		return nil, common.NewInternalServerError("failed to register driver")
	}

	return driver, nil
}

// GetDriver loads a driver by id.
func (s *Service) GetDriver(ctx context.Context, id uuid.UUID) (*models.Driver, error) {
	driver, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, common.NewInternalServerError("failed to load driver")
	}
	if driver == nil {
		return nil, common.NewNotFoundError("driver not found", nil)
	}

	return driver, nil
}

// SetAvailability moves the driver between ONLINE and OFFLINE. Busy and
// suspended drivers cannot change their own availability.
func (s *Service) SetAvailability(ctx context.Context, driverID uuid.UUID, to models.DriverStatus) (*models.Driver, error) {
	if to != models.DriverOnline && to != models.DriverOffline {
		return nil, common.NewValidationError("status must be online or offline")
	}

	driver, err := s.GetDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}

	if driver.Status == to {
		return driver, nil
	}

	if !allowedSelfTransition(driver.Status, to) {
		return nil, common.NewInvalidStateTransitionError(
			fmt.Sprintf("cannot move from %s to %s", driver.Status, to))
	}

	ok, err := s.repo.TransitionStatus(ctx, driverID, driver.Status, to)
	if err != nil {
		return nil, common.NewInternalServerError("failed to update availability")
	}
	if !ok {
		return nil, common.NewInvalidStateTransitionError(fmt.Sprintf("cannot move from %s to %s", driver.Status, to))
	}

	driver.Status = to
	return driver, nil
}

// MarkBusy flips an ONLINE driver to BUSY when an offer is accepted. Returns
// false when the driver was grabbed by a concurrent dispatch.
func (s *Service) MarkBusy(ctx context.Context, driverID uuid.UUID) (bool, error) {
	return s.repo.TransitionStatus(ctx, driverID, models.DriverOnline, models.DriverBusy)
}

// Release returns a BUSY driver to ONLINE after their trip terminates.
func (s *Service) Release(ctx context.Context, driverID uuid.UUID) error {
	ok, err := s.repo.TransitionStatus(ctx, driverID, models.DriverBusy, models.DriverOnline)
	if err != nil {
		return err
	}
	if !ok {
		// Already offline or suspended; nothing to restore.
		logger.DebugContext(ctx, "driver release skipped",
			zap.String("driver_id", driverID.String()))
	}

	return nil
}

// Suspend takes the driver out of circulation regardless of current state.
func (s *Service) Suspend(ctx context.Context, driverID uuid.UUID) error {
	if _, err := s.GetDriver(ctx, driverID); err != nil {
		return err
	}

	if err := s.repo.ForceStatus(ctx, driverID, models.DriverSuspended); err != nil {
		return common.NewInternalServerError("failed to suspend driver")
	}

	return nil
}

// Unsuspend returns a suspended driver to OFFLINE; they must go online
// themselves.
func (s *Service) Unsuspend(ctx context.Context, driverID uuid.UUID) error {
	driver, err := s.GetDriver(ctx, driverID)
	if err != nil {
		return err
	}
	if driver.Status != models.DriverSuspended {
		return common.NewInvalidStateTransitionError(fmt.Sprintf("cannot unsuspend driver in state %s", driver.Status))
	}

	ok, err := s.repo.TransitionStatus(ctx, driverID, models.DriverSuspended, models.DriverOffline)
	if err != nil {
		return common.NewInternalServerError("failed to unsuspend driver")
	}
	if !ok {
		return common.NewInvalidStateTransitionError("driver is no longer suspended")
	}

	return nil
}

// UpdateProfile applies driver-editable fields.
func (s *Service) UpdateProfile(ctx context.Context, driverID uuid.UUID, req *UpdateProfileRequest) (*models.Driver, error) {
	driver, err := s.GetDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}

	if req.VehicleType != "" {
		driver.VehicleType = req.VehicleType
	}
	if req.PlateNumber != "" {
		driver.PlateNumber = req.PlateNumber
	}
	if req.City != "" {
		driver.City = req.City
	}
	if req.Province != "" {
		driver.Province = req.Province
	}
	if req.BaseFare > 0 {
		driver.BaseFare = req.BaseFare
	}
	if req.PerKmRate > 0 {
		driver.PerKmRate = req.PerKmRate
	}

	if err := s.repo.UpdateProfile(ctx, driver); err != nil {
		return nil, common.NewInternalServerError("failed to update profile")
	}

	return driver, nil
}

// Flag marks the driver for anomalous movement. Flagged drivers are skipped
// by dispatch until an admin clears the flag.
func (s *Service) Flag(ctx context.Context, driverID uuid.UUID) error {
	return s.repo.SetFlagged(ctx, driverID, true)
}

// Unflag clears the anomaly flag (admin).
func (s *Service) Unflag(ctx context.Context, driverID uuid.UUID) error {
	if _, err := s.GetDriver(ctx, driverID); err != nil {
		return err
	}

	if err := s.repo.SetFlagged(ctx, driverID, false); err != nil {
		return common.NewInternalServerError("failed to clear flag")
	}

	return nil
}

// RecordOfferOutcome refreshes the rolling acceptance rate after a terminal
// offer, and stamps last_accepted_at on accepts.
func (s *Service) RecordOfferOutcome(ctx context.Context, driverID uuid.UUID, accepted bool) {
	if accepted {
		if err := s.repo.TouchLastAccepted(ctx, driverID); err != nil {
			logger.ErrorContext(ctx, "failed to stamp last accepted",
				zap.String("driver_id", driverID.String()),
				zap.Error(err),
			)
		}
	}

	if _, err := s.repo.RecomputeAcceptanceRate(ctx, driverID); err != nil {
		logger.ErrorContext(ctx, "failed to refresh acceptance rate",
			zap.String("driver_id", driverID.String()),
			zap.Error(err),
		)
	}
}

// ListFlagged returns drivers awaiting anomaly review (admin).
func (s *Service) ListFlagged(ctx context.Context) ([]*models.Driver, error) {
	drivers, err := s.repo.ListFlagged(ctx)
	if err != nil {
		return nil, common.NewInternalServerError("failed to list flagged drivers")
	}

	return drivers, nil
}

func allowedSelfTransition(from, to models.DriverStatus) bool {
	for _, next := range selfTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
