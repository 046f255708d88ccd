package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/hamsafar/dispatch/pkg/models"
)

// Repository persists outbound message rows and advances their delivery
// status from provider callbacks.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new messaging repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateNotification inserts a pending ride notification row.
func (r *Repository) CreateNotification(ctx context.Context, n *models.RideNotification) error {
	query := `
		INSERT INTO ride_notifications (id, trip_id, driver_id, channel, body, status, retries)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		n.ID, n.TripID, n.DriverID, n.Channel, n.Body, n.Status, n.Retries,
	).Scan(&n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	return nil
}

// MarkSent stores the provider message id and advances the row to SENT.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID, messageID string) error {
	query := `
		UPDATE ride_notifications
		SET status = $1, message_id = $2, updated_at = $3
		WHERE id = $4
	`

	_, err := r.db.Exec(ctx, query, models.DeliverySent, messageID, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}

	return nil
}

// MarkRetry bumps the retry counter after a failed provider call.
func (r *Repository) MarkRetry(ctx context.Context, id uuid.UUID, retries int, errMsg string) error {
	query := `
		UPDATE ride_notifications
		SET retries = $1, error = $2, updated_at = $3
		WHERE id = $4
	`

	_, err := r.db.Exec(ctx, query, retries, errMsg, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to record retry: %w", err)
	}

	return nil
}

// MarkFailed terminally fails the row after the retry schedule is exhausted.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	query := `
		UPDATE ride_notifications
		SET status = $1, error = $2, updated_at = $3
		WHERE id = $4
	`

	_, err := r.db.Exec(ctx, query, models.DeliveryFailed, errMsg, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark notification failed: %w", err)
	}

	return nil
}

// SetChannel records a channel switch (WhatsApp → SMS fallback).
func (r *Repository) SetChannel(ctx context.Context, id uuid.UUID, channel models.NotificationChannel) error {
	query := `UPDATE ride_notifications SET channel = $1, updated_at = $2 WHERE id = $3`

	_, err := r.db.Exec(ctx, query, channel, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set notification channel: %w", err)
	}

	return nil
}

// SetOTPDelivery stores the provider message id and status on an OTP row.
func (r *Repository) SetOTPDelivery(ctx context.Context, otpID uuid.UUID, messageID string, status models.DeliveryStatus) error {
	query := `UPDATE otps SET message_id = $1, delivery_status = $2 WHERE id = $3`

	_, err := r.db.Exec(ctx, query, messageID, status, otpID)
	if err != nil {
		return fmt.Errorf("failed to update otp delivery: %w", err)
	}

	return nil
}

// AdvanceStatusByMessageID advances the delivery status of whichever row
// (ride notification or OTP) carries the provider message id. Statuses only
// move forward, so replayed webhooks are no-ops. Returns false when no row
// matched or the update would move the status backwards.
func (r *Repository) AdvanceStatusByMessageID(ctx context.Context, messageID string, next models.DeliveryStatus) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin webhook tx: %w", err)
	}
	defer tx.Rollback(ctx)

	advanced, err := advanceInTable(ctx, tx, "ride_notifications", "status", messageID, next)
	if err != nil {
		return false, err
	}
	if !advanced {
		advanced, err = advanceInTable(ctx, tx, "otps", "delivery_status", messageID, next)
		if err != nil {
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit webhook tx: %w", err)
	}

	return advanced, nil
}

func advanceInTable(ctx context.Context, tx pgx.Tx, table, column, messageID string, next models.DeliveryStatus) (bool, error) {
	var current models.DeliveryStatus
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE message_id = $1 FOR UPDATE`, column, table)
	err := tx.QueryRow(ctx, query, messageID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load %s row: %w", table, err)
	}

	if !current.Advances(next) {
		return false, nil
	}

	update := fmt.Sprintf(`UPDATE %s SET %s = $1 WHERE message_id = $2`, table, column)
	if _, err := tx.Exec(ctx, update, next, messageID); err != nil {
		return false, fmt.Errorf("failed to advance %s status: %w", table, err)
	}

	return true, nil
}

// SaveDeviceToken upserts a device token for push delivery. Re-registering
// an existing token just refreshes its owner and platform.
func (r *Repository) SaveDeviceToken(ctx context.Context, userID uuid.UUID, token, platform string) error {
	query := `
		INSERT INTO device_tokens (id, user_id, token, platform)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token) DO UPDATE SET user_id = $2, platform = $4, updated_at = NOW()
	`

	_, err := r.db.Exec(ctx, query, uuid.New(), userID, token, platform)
	if err != nil {
		return fmt.Errorf("failed to save device token: %w", err)
	}

	return nil
}

// DeviceTokens returns the push tokens registered for a user.
func (r *Repository) DeviceTokens(ctx context.Context, userID uuid.UUID) ([]string, error) {
	query := `SELECT token FROM device_tokens WHERE user_id = $1 ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list device tokens: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("failed to scan device token: %w", err)
		}
		tokens = append(tokens, token)
	}

	return tokens, rows.Err()
}

// RemoveDeviceToken drops a token, either on logout or after FCM reports it
// dead.
func (r *Repository) RemoveDeviceToken(ctx context.Context, userID uuid.UUID, token string) error {
	query := `DELETE FROM device_tokens WHERE user_id = $1 AND token = $2`

	if _, err := r.db.Exec(ctx, query, userID, token); err != nil {
		return fmt.Errorf("failed to remove device token: %w", err)
	}

	return nil
}
