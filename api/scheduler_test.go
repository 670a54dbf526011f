package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/policy-billing/billing"
	"github.com/warp/policy-billing/generic"
	"github.com/warp/policy-billing/store/memory"
)

func TestCancellationScheduler_RunNow(t *testing.T) {
	// GIVEN: The demo fixture with "today" fixed at 2015-03-20
	// WHEN: The scheduler runs a sweep with auto-cancel
	// THEN: Unpaid policies are canceled and the run is recorded

	ctx := context.Background()
	clock := generic.FixedClock(generic.NewTimePoint(2015, time.March, 20))
	h := NewHandler(memory.New(), nil, billing.WithClock(clock))
	_, err := h.Seed(ctx)
	require.NoError(t, err)

	s := NewCancellationScheduler(h)
	s.AutoCancel = true

	run, err := s.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2015-03-20", run.AsOf.String())
	assert.Equal(t, 3, run.Canceled)

	runs, err := h.Store.ListSweepRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	// Second run finds nothing left to cancel
	run, err = s.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Scanned)
	assert.Equal(t, 0, run.Canceled)
}

func TestCancellationScheduler_StartStop(t *testing.T) {
	h := NewHandler(memory.New(), nil)
	s := NewCancellationScheduler(h)
	s.Spec = "@every 1h"

	require.NoError(t, s.Start())
	next := s.NextRun()
	assert.False(t, next.IsZero())
	assert.WithinDuration(t, time.Now().Add(time.Hour), next, time.Minute)

	s.Stop()
	assert.True(t, s.NextRun().IsZero())
	s.Stop() // idempotent
}

func TestCancellationScheduler_Disabled(t *testing.T) {
	s := NewCancellationScheduler(NewHandler(memory.New(), nil))
	s.Enabled = false

	require.NoError(t, s.Start())
	assert.True(t, s.NextRun().IsZero())
}

func TestCancellationScheduler_BadSpec(t *testing.T) {
	s := NewCancellationScheduler(NewHandler(memory.New(), nil))
	s.Spec = "every day"

	assert.Error(t, s.Start())
}
