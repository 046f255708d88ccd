package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hamsafar/dispatch/pkg/models"
)

// Repository persists operator alerts
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new admin repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// InsertAlert persists one alert row.
func (r *Repository) InsertAlert(ctx context.Context, alert *models.AdminAlert) error {
	query := `
		INSERT INTO admin_alerts (id, kind, message, details)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query, alert.ID, alert.Kind, alert.Message, alert.Details).Scan(&alert.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	return nil
}

// ListAlerts returns alerts newest first, optionally only unacknowledged.
func (r *Repository) ListAlerts(ctx context.Context, openOnly bool, limit, offset int) ([]*models.AdminAlert, error) {
	query := `
		SELECT id, kind, message, details, acknowledged_at, created_at
		FROM admin_alerts
		WHERE ($1 = false OR acknowledged_at IS NULL)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, openOnly, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var out []*models.AdminAlert
	for rows.Next() {
		var a models.AdminAlert
		if err := rows.Scan(&a.ID, &a.Kind, &a.Message, &a.Details, &a.AcknowledgedAt, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		out = append(out, &a)
	}

	return out, rows.Err()
}

// AcknowledgeAlert stamps the alert. The CAS keeps the first ack timestamp.
func (r *Repository) AcknowledgeAlert(ctx context.Context, id uuid.UUID) (*models.AdminAlert, error) {
	query := `
		UPDATE admin_alerts
		SET acknowledged_at = NOW()
		WHERE id = $1 AND acknowledged_at IS NULL
		RETURNING id, kind, message, details, acknowledged_at, created_at
	`

	var a models.AdminAlert
	err := r.db.QueryRow(ctx, query, id).Scan(&a.ID, &a.Kind, &a.Message, &a.Details, &a.AcknowledgedAt, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acknowledge alert: %w", err)
	}

	return &a, nil
}
