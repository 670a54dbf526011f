/*
scheduler.go - Automated cancellation sweep scheduler

PURPOSE:
  Runs the cancellation sweep on a cron schedule so overdue policies are
  found (and, with AutoCancel, canceled for nonpayment) without anyone
  calling the admin endpoint.

DESIGN:
  - robfig/cron drives the schedule; runs never overlap
    (SkipIfStillRunning) and a panic in a run is logged, not fatal
  - Each run is recorded by billing.Sweeper and counted in metrics
  - Sweeps use "today" from the handler's clock

CONFIGURATION:
  - Spec: Standard 5-field cron expression (default: daily at 02:00 UTC)
  - AutoCancel: Cancel policies found cancelable for nonpayment
  - Enabled: Whether the scheduler is active (default: true)

USAGE:
  scheduler := NewCancellationScheduler(handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunSweep endpoint (manual sweep)
  - billing/sweep.go: Sweeper
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/warp/policy-billing/billing"
	"github.com/warp/policy-billing/generic"
	"github.com/warp/policy-billing/metrics"
)

// DefaultSweepSpec runs the sweep daily at 02:00 UTC.
const DefaultSweepSpec = "0 2 * * *"

// CancellationScheduler runs billing.Sweeper on a cron schedule.
type CancellationScheduler struct {
	Handler    *Handler
	Spec       string
	AutoCancel bool
	Enabled    bool
	Timeout    time.Duration // Per run; zero means no limit

	cron    *cron.Cron
	entryID cron.EntryID
	logger  *zap.Logger
	mu      sync.Mutex
}

// NewCancellationScheduler creates a new scheduler.
func NewCancellationScheduler(h *Handler) *CancellationScheduler {
	return &CancellationScheduler{
		Handler: h,
		Spec:    DefaultSweepSpec,
		Enabled: true,
		Timeout: 10 * time.Minute,
		logger:  h.Logger.Named("scheduler"),
	}
}

// Start begins the scheduler.
func (cs *CancellationScheduler) Start() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.Enabled {
		cs.logger.Info("disabled, not starting")
		return nil
	}
	if cs.cron != nil {
		return nil
	}

	adapter := cronLogger{cs.logger.Sugar()}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(adapter),
		cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
	)
	id, err := c.AddFunc(cs.Spec, func() { cs.RunNow(context.Background()) })
	if err != nil {
		return fmt.Errorf("schedule sweep %q: %w", cs.Spec, err)
	}
	c.Start()

	cs.cron = c
	cs.entryID = id
	cs.logger.Info("started",
		zap.String("spec", cs.Spec),
		zap.Bool("auto_cancel", cs.AutoCancel),
		zap.Time("next_run", c.Entry(id).Next))
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (cs *CancellationScheduler) Stop() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.cron != nil {
		<-cs.cron.Stop().Done()
		cs.cron = nil
		cs.logger.Info("stopped")
	}
}

// RunNow runs one sweep as of today.
func (cs *CancellationScheduler) RunNow(ctx context.Context) (billing.SweepRun, error) {
	if cs.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cs.Timeout)
		defer cancel()
	}

	run, err := cs.Handler.Sweeper(cs.AutoCancel).Run(ctx, generic.TimePoint{})
	metrics.RecordSweep(run)
	if err != nil {
		cs.logger.Error("sweep failed", zap.String("run_id", run.ID), zap.Error(err))
	}
	return run, err
}

// NextRun returns when the next sweep will start, or zero if not running.
func (cs *CancellationScheduler) NextRun() time.Time {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.cron == nil {
		return time.Time{}
	}
	return cs.cron.Entry(cs.entryID).Next
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
