/*
sweep.go - Cancellation sweep over all policies

PURPOSE:
  Runs the cancellation rules over every Active policy on one date,
  counts what it finds and, when AutoCancel is set, cancels the policies
  that are cancelable for nonpayment. Policies that are cancelable only
  because they are inside the underwriting window are counted but never
  canceled here.

  Each run is persisted with its counts so operators can see what the
  scheduler did.

SEE ALSO:
  - accounting.go: The per-policy rules
  - api/scheduler.go: Cron wiring
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/policy-billing/generic"
)

// NonPaymentDescription is recorded on policies the sweeper cancels.
const NonPaymentDescription = "Canceled for nonpayment"

type SweepStatus string

const (
	SweepRunning   SweepStatus = "running"
	SweepCompleted SweepStatus = "completed"
	SweepFailed    SweepStatus = "failed"
)

type SweepRun struct {
	ID            string
	AsOf          generic.TimePoint
	Status        SweepStatus
	AutoCancel    bool
	Scanned       int
	PendingNonPay int
	Cancelable    int // Cancelable for nonpayment
	Canceled      int
	Error         string
	StartedAt     time.Time
	CompletedAt   *time.Time
}

// Sweeper is safe to run from one goroutine at a time.
type Sweeper struct {
	Store      TxStore
	Runs       SweepRunStore
	AutoCancel bool
	Logger     *zap.Logger
	Options    []Option // Passed to Open for every policy
}

// Run sweeps all Active policies as of at (zero = today) and records the run.
func (s *Sweeper) Run(ctx context.Context, at generic.TimePoint) (SweepRun, error) {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if at.IsZero() {
		at = buildOptions(s.Options).clock()
	}

	run := SweepRun{
		ID:         uuid.NewString(),
		AsOf:       at,
		Status:     SweepRunning,
		AutoCancel: s.AutoCancel,
		StartedAt:  time.Now().UTC(),
	}
	if err := s.Runs.SaveSweepRun(ctx, run); err != nil {
		return run, fmt.Errorf("save sweep run: %w", err)
	}

	sweepErr := s.sweep(ctx, at, &run, logger)

	completed := time.Now().UTC()
	run.CompletedAt = &completed
	run.Status = SweepCompleted
	if sweepErr != nil {
		run.Status = SweepFailed
		run.Error = sweepErr.Error()
	}
	// The run is recorded even when ctx was canceled mid-sweep.
	if err := s.Runs.SaveSweepRun(context.WithoutCancel(ctx), run); err != nil {
		return run, fmt.Errorf("save sweep run: %w", err)
	}

	logger.Info("sweep finished",
		zap.String("run_id", run.ID),
		zap.String("as_of", at.String()),
		zap.String("status", string(run.Status)),
		zap.Int("scanned", run.Scanned),
		zap.Int("pending_nonpay", run.PendingNonPay),
		zap.Int("cancelable", run.Cancelable),
		zap.Int("canceled", run.Canceled))
	return run, sweepErr
}

func (s *Sweeper) sweep(ctx context.Context, at generic.TimePoint, run *SweepRun, logger *zap.Logger) error {
	policies, err := s.Store.ListPolicies(ctx)
	if err != nil {
		return fmt.Errorf("list policies: %w", err)
	}

	for _, p := range policies {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.IsCanceled() {
			continue
		}
		run.Scanned++

		acc, err := Open(ctx, s.Store, p.ID, s.Options...)
		if err != nil {
			return err
		}
		pending, err := acc.PendingNonPay(ctx, at)
		if err != nil {
			return err
		}
		if pending {
			run.PendingNonPay++
		}
		reason, err := acc.CancelReason(ctx, at)
		if err != nil {
			return err
		}
		if reason != CancelReasonNonPayment {
			continue
		}
		run.Cancelable++
		if !s.AutoCancel {
			logger.Debug("policy cancelable for nonpayment", zap.String("policy_id", string(p.ID)))
			continue
		}
		if _, err := acc.CancelPolicy(ctx, NonPaymentDescription, at); err != nil {
			return err
		}
		run.Canceled++
	}
	return nil
}
