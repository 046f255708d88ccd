package reconciliation

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hamsafar/dispatch/pkg/models"
)

// Repository persists daily reconciliation runs
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new reconciliation repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// InsertLog persists one reconciliation run.
func (r *Repository) InsertLog(ctx context.Context, log *models.ReconciliationLog) error {
	query := `
		INSERT INTO reconciliation_logs (id, period_start, period_end, db_total, provider_total, mismatch, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query,
		log.ID, log.PeriodStart, log.PeriodEnd,
		log.DBTotal, log.ProviderTotal, log.Mismatch, log.Details,
	).Scan(&log.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert reconciliation log: %w", err)
	}

	return nil
}

// ListLogs returns runs newest first.
func (r *Repository) ListLogs(ctx context.Context, limit, offset int) ([]*models.ReconciliationLog, error) {
	query := `
		SELECT id, period_start, period_end, db_total, provider_total, mismatch, details, created_at
		FROM reconciliation_logs
		ORDER BY period_start DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliation logs: %w", err)
	}
	defer rows.Close()

	var out []*models.ReconciliationLog
	for rows.Next() {
		var l models.ReconciliationLog
		if err := rows.Scan(&l.ID, &l.PeriodStart, &l.PeriodEnd, &l.DBTotal, &l.ProviderTotal, &l.Mismatch, &l.Details, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation log: %w", err)
		}
		out = append(out, &l)
	}

	return out, rows.Err()
}
