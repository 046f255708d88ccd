package messaging

import (
	"context"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	fcm "firebase.google.com/go/v4/messaging"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/hamsafar/dispatch/pkg/logger"
)

// FirebasePush delivers push notifications through Firebase Cloud Messaging.
// It is the offline complement to the websocket rooms: a rider whose app is
// backgrounded still learns that the driver accepted.
type FirebasePush struct {
	client *fcm.Client
}

// NewFirebasePush creates an FCM client. An empty credentialsPath falls back
// to application default credentials.
func NewFirebasePush(ctx context.Context, projectID, credentialsPath string) (*FirebasePush, error) {
	var opts []option.ClientOption
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create fcm client: %w", err)
	}

	return &FirebasePush{client: client}, nil
}

// SendPush sends one notification to one device token.
func (f *FirebasePush) SendPush(ctx context.Context, token, title, body string, data map[string]string) (string, error) {
	msg := &fcm.Message{
		Token: token,
		Notification: &fcm.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
		Android: &fcm.AndroidConfig{
			Priority: "high",
			Notification: &fcm.AndroidNotification{
				Sound: "default",
			},
		},
		APNS: &fcm.APNSConfig{
			Payload: &fcm.APNSPayload{
				Aps: &fcm.Aps{Sound: "default"},
			},
		},
	}

	id, err := f.client.Send(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("failed to send push: %w", err)
	}
	return id, nil
}

// PushSender is the outbound push channel.
type PushSender interface {
	SendPush(ctx context.Context, token, title, body string, data map[string]string) (string, error)
}

// DeviceRegistry persists device tokens per user.
type DeviceRegistry interface {
	SaveDeviceToken(ctx context.Context, userID uuid.UUID, token, platform string) error
	DeviceTokens(ctx context.Context, userID uuid.UUID) ([]string, error)
	RemoveDeviceToken(ctx context.Context, userID uuid.UUID, token string) error
}

// PushService maintains the device token registry and fans pushes out to a
// user's devices. Delivery is best-effort; a dead token is pruned, nothing
// else is retried.
type PushService struct {
	devices DeviceRegistry
	sender  PushSender
}

// NewPushService creates a push service. sender may be nil when push is
// disabled; registration still works so tokens are ready when it comes up.
func NewPushService(devices DeviceRegistry, sender PushSender) *PushService {
	return &PushService{devices: devices, sender: sender}
}

// RegisterDevice stores a device token for the user.
func (p *PushService) RegisterDevice(ctx context.Context, userID uuid.UUID, token, platform string) error {
	return p.devices.SaveDeviceToken(ctx, userID, token, platform)
}

// UnregisterDevice drops a device token, typically on logout.
func (p *PushService) UnregisterDevice(ctx context.Context, userID uuid.UUID, token string) error {
	return p.devices.RemoveDeviceToken(ctx, userID, token)
}

// PushToUser sends the notification to every registered device of the user.
// Tokens FCM reports as gone are removed from the registry.
func (p *PushService) PushToUser(ctx context.Context, userID uuid.UUID, title, body string, data map[string]string) {
	if p.sender == nil {
		return
	}

	tokens, err := p.devices.DeviceTokens(ctx, userID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to load device tokens",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		return
	}

	for _, token := range tokens {
		if _, err := p.sender.SendPush(ctx, token, title, body, data); err != nil {
			if isTokenGone(err) {
				if rmErr := p.devices.RemoveDeviceToken(ctx, userID, token); rmErr != nil {
					logger.ErrorContext(ctx, "failed to prune device token", zap.Error(rmErr))
				}
				continue
			}
			logger.WarnContext(ctx, "push delivery failed",
				zap.String("user_id", userID.String()),
				zap.Error(err),
			)
		}
	}
}

// isTokenGone matches the FCM errors that mean the token will never work
// again.
func isTokenGone(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "registration-token-not-registered") ||
		strings.Contains(msg, "invalid-registration-token")
}
