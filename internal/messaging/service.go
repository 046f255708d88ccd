package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hamsafar/dispatch/pkg/async"
	"github.com/hamsafar/dispatch/pkg/logger"
	"github.com/hamsafar/dispatch/pkg/models"
	"github.com/hamsafar/dispatch/pkg/security"
)

// retrySchedule is the backoff applied between delivery attempts. After the
// schedule is exhausted the row is terminally FAILED.
var retrySchedule = []time.Duration{5 * time.Second, 15 * time.Second, 60 * time.Second}

// Provider sends messages through the primary channel (WhatsApp).
type Provider interface {
	SendTemplate(ctx context.Context, phone, template string, params []string) (string, error)
	SendText(ctx context.Context, phone, body string) (string, error)
}

// SMSFallback is the secondary channel used after the primary channel fails
// terminally.
type SMSFallback interface {
	SendSMS(to, body string) (string, error)
}

// Store persists delivery rows.
type Store interface {
	CreateNotification(ctx context.Context, n *models.RideNotification) error
	MarkSent(ctx context.Context, id uuid.UUID, messageID string) error
	MarkRetry(ctx context.Context, id uuid.UUID, retries int, errMsg string) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	SetChannel(ctx context.Context, id uuid.UUID, channel models.NotificationChannel) error
	SetOTPDelivery(ctx context.Context, otpID uuid.UUID, messageID string, status models.DeliveryStatus) error
	AdvanceStatusByMessageID(ctx context.Context, messageID string, next models.DeliveryStatus) (bool, error)
}

// Service is the outbound messaging pipeline: persist, attempt, retry with
// backoff, fall back to SMS. Delivery is best-effort; callers never block on
// the provider and never see provider errors.
type Service struct {
	store    Store
	provider Provider
	sms      SMSFallback

	// afterFunc is swapped out in tests to avoid real sleeps.
	afterFunc func(d time.Duration, f func()) *time.Timer
}

// NewService creates a messaging service. sms may be nil when no fallback is
// configured.
func NewService(store Store, provider Provider, sms SMSFallback) *Service {
	return &Service{
		store:     store,
		provider:  provider,
		sms:       sms,
		afterFunc: time.AfterFunc,
	}
}

type jobKind int

const (
	jobNotification jobKind = iota
	jobOTP
)

// job is one message moving through the retry pipeline.
type job struct {
	kind     jobKind
	id       uuid.UUID
	phone    string
	template string
	params   []string
	body     string
	attempt  int
}

// SendTripNotification persists and asynchronously delivers a trip-related
// message. Body is sanitized before leaving the process.
func (s *Service) SendTripNotification(ctx context.Context, tripID uuid.UUID, driverID *uuid.UUID, phone, body string) (*models.RideNotification, error) {
	body = security.SanitizeMessageParam(body)

	n := &models.RideNotification{
		ID:       uuid.New(),
		TripID:   tripID,
		DriverID: driverID,
		Channel:  models.ChannelWhatsApp,
		Body:     body,
		Status:   models.DeliveryPending,
	}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		return nil, err
	}

	s.dispatch(ctx, job{kind: jobNotification, id: n.ID, phone: phone, body: body})
	return n, nil
}

// SendTemplate persists and asynchronously delivers a templated trip message.
func (s *Service) SendTemplate(ctx context.Context, tripID uuid.UUID, driverID *uuid.UUID, phone, template string, params []string) (*models.RideNotification, error) {
	clean := make([]string, len(params))
	for i, p := range params {
		clean[i] = security.SanitizeMessageParam(p)
	}

	n := &models.RideNotification{
		ID:       uuid.New(),
		TripID:   tripID,
		DriverID: driverID,
		Channel:  models.ChannelWhatsApp,
		Body:     fmt.Sprintf("template:%s", template),
		Status:   models.DeliveryPending,
	}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		return nil, err
	}

	s.dispatch(ctx, job{kind: jobNotification, id: n.ID, phone: phone, template: template, params: clean})
	return n, nil
}

// SendOTP delivers a login code through the otp_login template. The OTP row
// already exists; delivery progress is written back onto it.
func (s *Service) SendOTP(ctx context.Context, otpID uuid.UUID, phone, code string) {
	s.dispatch(ctx, job{kind: jobOTP, id: otpID, phone: phone, template: "otp_login", params: []string{code}})
}

// SendOpsAlert delivers an operator alert out of band. No delivery row and
// no retry schedule: the alert itself is already persisted by the caller,
// this is a best-effort nudge.
func (s *Service) SendOpsAlert(ctx context.Context, phone, body string) {
	body = security.SanitizeMessageParam(body)
	async.Go(ctx, "messaging-ops-alert", func(ctx context.Context) {
		if _, err := s.provider.SendText(ctx, phone, body); err == nil {
			return
		}
		if s.sms != nil {
			if _, err := s.sms.SendSMS(phone, body); err == nil {
				return
			}
		}
		logger.Warn("ops alert delivery failed")
	})
}

func (s *Service) dispatch(ctx context.Context, j job) {
	async.Go(ctx, "messaging-deliver", func(ctx context.Context) {
		s.deliver(ctx, j)
	})
}

func (s *Service) deliver(ctx context.Context, j job) {
	messageID, err := s.attempt(ctx, j)
	if err == nil {
		s.recordSent(ctx, j, messageID)
		return
	}

	logger.WarnContext(ctx, "message delivery failed",
		zap.String("id", j.id.String()),
		zap.Int("attempt", j.attempt+1),
		zap.Error(err),
	)

	if j.attempt < len(retrySchedule) {
		delay := retrySchedule[j.attempt]
		next := j
		next.attempt++

		if next.kind == jobNotification {
			if rerr := s.store.MarkRetry(ctx, j.id, next.attempt, err.Error()); rerr != nil {
				logger.ErrorContext(ctx, "failed to record retry", zap.Error(rerr))
			}
		}

		tc := async.CaptureContext(ctx, "messaging-retry")
		s.afterFunc(delay, func() {
			s.deliver(tc.NewContext(), next)
		})
		return
	}

	s.fail(ctx, j, err)
}

func (s *Service) attempt(ctx context.Context, j job) (string, error) {
	if j.template != "" {
		return s.provider.SendTemplate(ctx, j.phone, j.template, j.params)
	}
	return s.provider.SendText(ctx, j.phone, j.body)
}

func (s *Service) recordSent(ctx context.Context, j job, messageID string) {
	var err error
	switch j.kind {
	case jobOTP:
		err = s.store.SetOTPDelivery(ctx, j.id, messageID, models.DeliverySent)
	default:
		err = s.store.MarkSent(ctx, j.id, messageID)
	}
	if err != nil {
		logger.ErrorContext(ctx, "failed to record sent message",
			zap.String("id", j.id.String()),
			zap.Error(err),
		)
	}
}

// fail terminally fails the row, then tries the SMS fallback once. Fallback
// success flips the channel and records the SMS SID; fallback failure leaves
// the row FAILED.
func (s *Service) fail(ctx context.Context, j job, cause error) {
	if j.kind == jobNotification {
		if err := s.store.MarkFailed(ctx, j.id, cause.Error()); err != nil {
			logger.ErrorContext(ctx, "failed to mark notification failed", zap.Error(err))
		}
	} else {
		if err := s.store.SetOTPDelivery(ctx, j.id, "", models.DeliveryFailed); err != nil {
			logger.ErrorContext(ctx, "failed to mark otp delivery failed", zap.Error(err))
		}
	}

	if s.sms == nil {
		return
	}

	body := j.body
	if body == "" && len(j.params) > 0 {
		body = fmt.Sprintf("Your verification code is: %s", j.params[0])
	}

	sid, err := s.sms.SendSMS(j.phone, body)
	if err != nil {
		logger.WarnContext(ctx, "sms fallback failed",
			zap.String("id", j.id.String()),
			zap.Error(err),
		)
		return
	}

	switch j.kind {
	case jobOTP:
		if err := s.store.SetOTPDelivery(ctx, j.id, sid, models.DeliverySent); err != nil {
			logger.ErrorContext(ctx, "failed to record sms fallback", zap.Error(err))
		}
	default:
		if err := s.store.SetChannel(ctx, j.id, models.ChannelSMS); err != nil {
			logger.ErrorContext(ctx, "failed to record channel switch", zap.Error(err))
		}
		if err := s.store.MarkSent(ctx, j.id, sid); err != nil {
			logger.ErrorContext(ctx, "failed to record sms fallback", zap.Error(err))
		}
	}
}
