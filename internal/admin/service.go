package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hamsafar/dispatch/pkg/common"
	"github.com/hamsafar/dispatch/pkg/logger"
	"github.com/hamsafar/dispatch/pkg/models"
	"github.com/hamsafar/dispatch/pkg/rooms"
)

// RepositoryInterface defines the alert data access contract
type RepositoryInterface interface {
	InsertAlert(ctx context.Context, alert *models.AdminAlert) error
	ListAlerts(ctx context.Context, openOnly bool, limit, offset int) ([]*models.AdminAlert, error)
	AcknowledgeAlert(ctx context.Context, id uuid.UUID) (*models.AdminAlert, error)
}

// Emitter pushes room messages to connected clients
type Emitter interface {
	EmitToRoom(room string, msg *rooms.Message) error
}

// OpsNotifier nudges the on-call phone out of band. Delivery is best-effort.
type OpsNotifier interface {
	SendOpsAlert(ctx context.Context, phone, body string)
}

// Service records and serves operator alerts. It satisfies the alert sinks
// of the routing, trips and payments services.
type Service struct {
	repo     RepositoryInterface
	emitter  Emitter
	notifier OpsNotifier
	opsPhone string
	now      func() time.Time
}

// NewService creates a new admin service. notifier may be nil; opsPhone may
// be empty to disable out-of-band delivery.
func NewService(repo RepositoryInterface, emitter Emitter, notifier OpsNotifier, opsPhone string) *Service {
	return &Service{
		repo:     repo,
		emitter:  emitter,
		notifier: notifier,
		opsPhone: opsPhone,
		now:      time.Now,
	}
}

// RecordAlert persists an alert, pushes it to the admin room and nudges the
// on-call phone. Recording never fails the caller: an alert is a side
// channel, not part of the operation that raised it.
func (s *Service) RecordAlert(ctx context.Context, kind, message string) {
	s.record(ctx, kind, message, nil)
}

// RecordAlertDetails is RecordAlert with a structured details payload.
func (s *Service) RecordAlertDetails(ctx context.Context, kind, message, details string) {
	s.record(ctx, kind, message, &details)
}

func (s *Service) record(ctx context.Context, kind, message string, details *string) {
	alert := &models.AdminAlert{
		ID:      uuid.New(),
		Kind:    kind,
		Message: message,
		Details: details,
	}

	if err := s.repo.InsertAlert(ctx, alert); err != nil {
		logger.ErrorContext(ctx, "failed to persist admin alert",
			zap.String("kind", kind),
			zap.Error(err),
		)
		// fall through: still try to reach operators
	}

	logger.WarnContext(ctx, "admin alert raised",
		zap.String("kind", kind),
		zap.String("message", message),
	)

	if s.emitter != nil {
		msg := &rooms.Message{
			Type:      "admin:alert",
			Timestamp: s.now(),
			Data: map[string]interface{}{
				"id":      alert.ID.String(),
				"kind":    kind,
				"message": message,
			},
		}
		if err := s.emitter.EmitToRoom(rooms.AdminRoom, msg); err != nil {
			logger.Warn("failed to emit admin alert", zap.Error(err))
		}
	}

	if s.notifier != nil && s.opsPhone != "" {
		s.notifier.SendOpsAlert(ctx, s.opsPhone, fmt.Sprintf("[%s] %s", kind, message))
	}
}

// ListAlerts returns alerts newest first.
func (s *Service) ListAlerts(ctx context.Context, openOnly bool, page, perPage int) ([]*models.AdminAlert, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	alerts, err := s.repo.ListAlerts(ctx, openOnly, perPage, (page-1)*perPage)
	if err != nil {
		logger.ErrorContext(ctx, "failed to list alerts", zap.Error(err))
		return nil, common.NewInternalServerError("failed to list alerts")
	}
	return alerts, nil
}

// Acknowledge marks an alert as seen. Acknowledging twice is a conflict so
// two operators racing on the same alert notice each other.
func (s *Service) Acknowledge(ctx context.Context, id uuid.UUID) (*models.AdminAlert, error) {
	alert, err := s.repo.AcknowledgeAlert(ctx, id)
	if err != nil {
		logger.ErrorContext(ctx, "failed to acknowledge alert", zap.Error(err))
		return nil, common.NewInternalServerError("failed to acknowledge alert")
	}
	if alert == nil {
		return nil, common.NewNotFoundError("alert not found or already acknowledged", nil)
	}
	return alert, nil
}
