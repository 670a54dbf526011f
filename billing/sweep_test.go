package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/policy-billing/billing"
	"github.com/warp/policy-billing/generic"
)

func TestSweeper_CountsAndCancelsNonPayment(t *testing.T) {
	// GIVEN: An unpaid monthly policy, a paid-up annual policy and a new
	//        policy still inside its underwriting window
	// WHEN: Sweeping on 2015-06-01 with auto-cancel
	// THEN: Only the unpaid policy is canceled

	ctx := context.Background()
	store := newStore(t)
	unpaid := newAccounting(t, store, billing.ScheduleMonthly, 1200, date(2015, time.January, 1))
	paid := newAccounting(t, store, billing.ScheduleAnnual, 1200, date(2015, time.January, 1))
	pay(t, paid, 1200, date(2015, time.January, 1))
	fresh := newAccounting(t, store, billing.ScheduleQuarterly, 1200, date(2015, time.May, 1))

	sweeper := &billing.Sweeper{Store: store, Runs: store, AutoCancel: true}
	run, err := sweeper.Run(ctx, date(2015, time.June, 1))
	require.NoError(t, err)

	assert.Equal(t, billing.SweepCompleted, run.Status)
	assert.Equal(t, 3, run.Scanned)
	assert.Equal(t, 1, run.Cancelable)
	assert.Equal(t, 1, run.Canceled)
	require.NotNil(t, run.CompletedAt)

	p, err := store.GetPolicy(ctx, unpaid.Policy().ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusCanceled, p.Status)
	assert.Equal(t, billing.NonPaymentDescription, p.CancellationDescription)

	for _, id := range []generic.PolicyID{paid.Policy().ID, fresh.Policy().ID} {
		p, err := store.GetPolicy(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, p.Status, "policy %s", p.Number)
	}

	// Canceled policies are skipped on the next run
	run, err = sweeper.Run(ctx, date(2015, time.June, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, run.Scanned)
	assert.Equal(t, 0, run.Canceled)

	runs, err := store.ListSweepRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, run.ID, runs[0].ID, "most recent first")
}

func TestSweeper_ReportOnly(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	unpaid := newAccounting(t, store, billing.ScheduleMonthly, 1200, date(2015, time.January, 1))
	partial := newAccounting(t, store, billing.ScheduleMonthly, 1200, date(2015, time.January, 1))
	pay(t, partial, 100, date(2015, time.February, 1))

	sweeper := &billing.Sweeper{Store: store, Runs: store}
	run, err := sweeper.Run(ctx, date(2015, time.February, 2))
	require.NoError(t, err)

	assert.Equal(t, 2, run.PendingNonPay)
	assert.Equal(t, 0, run.Cancelable)
	assert.Equal(t, 0, run.Canceled)

	run, err = sweeper.Run(ctx, date(2015, time.June, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, run.Cancelable)
	assert.Equal(t, 0, run.Canceled)

	p, err := store.GetPolicy(ctx, unpaid.Policy().ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, p.Status)
}
