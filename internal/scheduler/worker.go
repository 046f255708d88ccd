package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hamsafar/dispatch/pkg/logger"
	"github.com/hamsafar/dispatch/pkg/models"
)

const (
	// tickInterval drives the main loop; every job decides on each tick
	// whether it is due.
	tickInterval = 30 * time.Second

	scheduledTripBatch = 50

	otpSweepInterval    = 5 * time.Minute
	creditSweepInterval = 1 * time.Hour

	// reconciliation runs once per day, after this local hour
	reconHour = 2
)

// TripDispatcher releases scheduled trips whose pickup time has come.
type TripDispatcher interface {
	DispatchDueScheduled(ctx context.Context, limit int) (int, error)
}

// OTPSweeper purges expired login codes.
type OTPSweeper interface {
	SweepExpired(ctx context.Context) error
}

// CreditSweeper zeroes driver credit balances past their validity.
type CreditSweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// Reconciler audits the previous day's money movement.
type Reconciler interface {
	Run(ctx context.Context) (*models.ReconciliationLog, error)
}

// Worker runs the periodic jobs of the dispatch platform: releasing
// scheduled trips, sweeping expired OTPs and credit balances, and the
// daily reconciliation.
type Worker struct {
	trips   TripDispatcher
	otps    OTPSweeper
	credits CreditSweeper
	recon   Reconciler

	lastOTPSweep    time.Time
	lastCreditSweep time.Time
	lastReconDate   string // YYYY-MM-DD of the last completed run

	done chan struct{}
	now  func() time.Time
}

// NewWorker creates a worker. Any dependency may be nil to disable that job.
func NewWorker(trips TripDispatcher, otps OTPSweeper, credits CreditSweeper, recon Reconciler) *Worker {
	return &Worker{
		trips:   trips,
		otps:    otps,
		credits: credits,
		recon:   recon,
		done:    make(chan struct{}),
		now:     time.Now,
	}
}

// Start runs the job loop until the context is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	logger.Info("starting background worker")

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	w.tick(ctx)

	for {
		select {
		case <-ticker.C:
			w.tick(ctx)
		case <-ctx.Done():
			logger.Info("background worker stopped")
			return
		case <-w.done:
			logger.Info("background worker shutdown requested")
			return
		}
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	close(w.done)
}

func (w *Worker) tick(ctx context.Context) {
	now := w.now()

	w.dispatchScheduledTrips(ctx)

	if w.otps != nil && now.Sub(w.lastOTPSweep) >= otpSweepInterval {
		w.lastOTPSweep = now
		if err := w.otps.SweepExpired(ctx); err != nil {
			logger.Error("otp sweep failed", zap.Error(err))
		}
	}

	if w.credits != nil && now.Sub(w.lastCreditSweep) >= creditSweepInterval {
		w.lastCreditSweep = now
		if swept, err := w.credits.SweepExpired(ctx); err != nil {
			logger.Error("credit expiry sweep failed", zap.Error(err))
		} else if swept > 0 {
			logger.Info("credit balances expired", zap.Int("drivers", swept))
		}
	}

	w.runReconciliation(ctx, now)
}

func (w *Worker) dispatchScheduledTrips(ctx context.Context) {
	if w.trips == nil {
		return
	}

	released, err := w.trips.DispatchDueScheduled(ctx, scheduledTripBatch)
	if err != nil {
		logger.Error("scheduled trip dispatch failed", zap.Error(err))
		return
	}
	if released > 0 {
		logger.Info("scheduled trips released", zap.Int("count", released))
	}
}

// runReconciliation fires once per day after the configured hour. Missing
// the 02:00 slot (deploy, crash) just delays the run to the next tick, it
// never skips a day.
func (w *Worker) runReconciliation(ctx context.Context, now time.Time) {
	if w.recon == nil || now.Hour() < reconHour {
		return
	}

	today := now.Format("2006-01-02")
	if w.lastReconDate == today {
		return
	}

	log, err := w.recon.Run(ctx)
	if err != nil {
		logger.Error("reconciliation run failed", zap.Error(err))
		return
	}

	w.lastReconDate = today
	logger.Info("reconciliation completed",
		zap.Time("period_start", log.PeriodStart),
		zap.Float64("mismatch", log.Mismatch),
	)
}
