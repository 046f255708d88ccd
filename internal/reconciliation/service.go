package reconciliation

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hamsafar/dispatch/internal/credits"
	"github.com/hamsafar/dispatch/pkg/common"
	"github.com/hamsafar/dispatch/pkg/eventbus"
	"github.com/hamsafar/dispatch/pkg/logger"
	"github.com/hamsafar/dispatch/pkg/models"
)

// mismatchTolerance absorbs float rounding between cents and dollars.
// Anything above one cent is a real discrepancy.
const mismatchTolerance = 0.01

// RepositoryInterface defines the reconciliation data access contract
type RepositoryInterface interface {
	InsertLog(ctx context.Context, log *models.ReconciliationLog) error
	ListLogs(ctx context.Context, limit, offset int) ([]*models.ReconciliationLog, error)
}

// LedgerStore aggregates the local transaction ledger. Satisfied by the
// payments repository.
type LedgerStore interface {
	CompletedTotalsBySource(ctx context.Context, start, end time.Time) (map[string]float64, error)
}

// Provider reports the payment provider's side of the window.
type Provider interface {
	SumBalanceTransactions(createdGTE, createdLT int64) (float64, error)
}

// DriftChecker reports drivers whose credit balance diverged from their
// ledger. Satisfied by the credits service.
type DriftChecker interface {
	CheckDrift(ctx context.Context) ([]*credits.Drift, error)
}

// Alerter records operator-facing alerts
type Alerter interface {
	RecordAlertDetails(ctx context.Context, kind, message, details string)
}

// Bus publishes domain events to NATS
type Bus interface {
	Publish(ctx context.Context, subject string, event *eventbus.Event) error
}

// Service runs the daily audit: card transactions in the DB against the
// provider's balance transactions, and the credit ledger against the
// denormalized driver balances.
type Service struct {
	repo     RepositoryInterface
	ledger   LedgerStore
	provider Provider
	drift    DriftChecker
	alerts   Alerter
	bus      Bus
	now      func() time.Time
}

// NewService creates a new reconciliation service. provider, drift, alerts
// and bus may be nil; each disables the corresponding check or sink.
func NewService(repo RepositoryInterface, ledger LedgerStore, provider Provider, drift DriftChecker, alerts Alerter, bus Bus) *Service {
	return &Service{
		repo:     repo,
		ledger:   ledger,
		provider: provider,
		drift:    drift,
		alerts:   alerts,
		bus:      bus,
		now:      time.Now,
	}
}

// Run reconciles the previous calendar day. Scheduled at 02:00 local so the
// provider's side of the window has settled.
func (s *Service) Run(ctx context.Context) (*models.ReconciliationLog, error) {
	now := s.now()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	start := end.AddDate(0, 0, -1)

	log, err := s.ReconcileWindow(ctx, start, end)
	if err != nil {
		return nil, err
	}

	s.checkLedgerDrift(ctx)
	return log, nil
}

// ReconcileWindow compares DB aggregates against the provider for one
// window and persists the outcome.
func (s *Service) ReconcileWindow(ctx context.Context, start, end time.Time) (*models.ReconciliationLog, error) {
	totals, err := s.ledger.CompletedTotalsBySource(ctx, start, end)
	if err != nil {
		logger.ErrorContext(ctx, "failed to aggregate transactions", zap.Error(err))
		return nil, common.NewInternalError("failed to aggregate transactions", err)
	}

	// only card money moves through the provider; wallet and cash are internal
	dbTotal := totals["stripe"]

	var providerTotal float64
	if s.provider != nil {
		providerTotal, err = s.provider.SumBalanceTransactions(start.Unix(), end.Unix())
		if err != nil {
			logger.ErrorContext(ctx, "failed to fetch provider totals", zap.Error(err))
			return nil, common.NewPaymentProviderError("failed to fetch provider totals", err)
		}
	} else {
		// no provider configured: compare against ourselves so the run
		// still leaves an audit row
		providerTotal = dbTotal
	}

	mismatch := dbTotal - providerTotal

	details, _ := json.Marshal(map[string]interface{}{
		"totals_by_source": totals,
	})

	log := &models.ReconciliationLog{
		ID:            uuid.New(),
		PeriodStart:   start,
		PeriodEnd:     end,
		DBTotal:       dbTotal,
		ProviderTotal: providerTotal,
		Mismatch:      mismatch,
		Details:       string(details),
	}
	if err := s.repo.InsertLog(ctx, log); err != nil {
		logger.ErrorContext(ctx, "failed to persist reconciliation log", zap.Error(err))
		return nil, common.NewInternalError("failed to persist reconciliation log", err)
	}

	if math.Abs(mismatch) > mismatchTolerance {
		s.raiseMismatch(ctx, log)
	} else {
		logger.InfoContext(ctx, "reconciliation clean",
			zap.Time("period_start", start),
			zap.Float64("total", dbTotal),
		)
	}

	return log, nil
}

func (s *Service) raiseMismatch(ctx context.Context, log *models.ReconciliationLog) {
	msg := fmt.Sprintf("reconciliation mismatch of %.2f for %s (db %.2f, provider %.2f)",
		log.Mismatch, log.PeriodStart.Format("2006-01-02"), log.DBTotal, log.ProviderTotal)

	logger.WarnContext(ctx, "reconciliation mismatch",
		zap.Time("period_start", log.PeriodStart),
		zap.Float64("db_total", log.DBTotal),
		zap.Float64("provider_total", log.ProviderTotal),
		zap.Float64("mismatch", log.Mismatch),
	)

	if s.alerts != nil {
		s.alerts.RecordAlertDetails(ctx, "RECON_MISMATCH", msg, log.Details)
	}

	if s.bus != nil {
		event, err := eventbus.NewEvent(eventbus.SubjectReconMismatch, "reconciliation", map[string]interface{}{
			"log_id":         log.ID.String(),
			"period_start":   log.PeriodStart,
			"period_end":     log.PeriodEnd,
			"db_total":       log.DBTotal,
			"provider_total": log.ProviderTotal,
			"mismatch":       log.Mismatch,
		})
		if err != nil {
			logger.Error("failed to build reconciliation event", zap.Error(err))
			return
		}
		if err := s.bus.Publish(ctx, eventbus.SubjectReconMismatch, event); err != nil {
			logger.Error("failed to publish reconciliation event", zap.Error(err))
		}
	}
}

// checkLedgerDrift audits the credit ledger invariant. Drift is alerted,
// never auto-corrected: a diverged balance means a write bypassed the
// ledger and needs a human.
func (s *Service) checkLedgerDrift(ctx context.Context) {
	if s.drift == nil {
		return
	}

	drift, err := s.drift.CheckDrift(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "credit drift check failed", zap.Error(err))
		return
	}
	if len(drift) == 0 {
		return
	}

	details, _ := json.Marshal(drift)
	if s.alerts != nil {
		s.alerts.RecordAlertDetails(ctx, "LEDGER_DRIFT",
			fmt.Sprintf("%d driver(s) have credit balances diverged from the ledger", len(drift)),
			string(details))
	}
}

// History returns past runs newest first.
func (s *Service) History(ctx context.Context, page, perPage int) ([]*models.ReconciliationLog, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	logs, err := s.repo.ListLogs(ctx, perPage, (page-1)*perPage)
	if err != nil {
		logger.ErrorContext(ctx, "failed to list reconciliation logs", zap.Error(err))
		return nil, common.NewInternalServerError("failed to list reconciliation logs")
	}
	return logs, nil
}
