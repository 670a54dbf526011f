package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/policy-billing/billing"
	"github.com/warp/policy-billing/generic"
)

func policy(id string) billing.Policy {
	return billing.Policy{
		ID:            generic.PolicyID(id),
		Number:        "Policy " + id,
		EffectiveDate: generic.NewTimePoint(2015, time.January, 1),
		AnnualPremium: generic.NewMoneyFromInt(1200),
		Schedule:      billing.ScheduleMonthly,
		Status:        billing.StatusActive,
	}
}

func TestWithTx_RestoresRecordsAndLedger(t *testing.T) {
	// GIVEN: A store with one policy
	// WHEN: A transaction saves another policy, posts an entry, then fails
	// THEN: Neither the policy nor the entry survive

	ctx := context.Background()
	s := New()
	require.NoError(t, s.SavePolicy(ctx, policy("a")))
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx billing.Store) error {
		require.NoError(t, tx.SavePolicy(ctx, policy("b")))
		require.NoError(t, tx.Append(ctx, generic.Entry{
			ID: "e1", PolicyID: "b", Type: generic.EntryCharge,
			EffectiveAt: generic.NewTimePoint(2015, time.January, 1), Delta: generic.NewMoneyFromInt(100),
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	policies, err := s.ListPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, generic.PolicyID("a"), policies[0].ID)

	entries, err := s.Load(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWithTx_RollbackKeepsConcurrentWrites(t *testing.T) {
	// GIVEN: A transaction that blocks and then fails
	// WHEN: A contact and a payment entry are written while it is open
	// THEN: Both survive the rollback

	ctx := context.Background()
	s := New()
	entered := make(chan struct{})
	release := make(chan struct{})
	txErr := make(chan error, 1)

	go func() {
		txErr <- s.WithTx(ctx, func(tx billing.Store) error {
			if err := tx.SavePolicy(ctx, policy("b")); err != nil {
				return err
			}
			close(entered)
			<-release
			return errors.New("boom")
		})
	}()
	<-entered

	writes := make(chan error, 2)
	go func() {
		writes <- s.SaveContact(ctx, billing.Contact{ID: "c1", Name: "Joe Lee", Role: billing.RoleNamedInsured})
	}()
	go func() {
		writes <- s.Append(ctx, generic.Entry{
			ID: "pay-1", PolicyID: "a", Type: generic.EntryPayment,
			EffectiveAt: generic.NewTimePoint(2015, time.February, 1), Delta: generic.NewMoneyFromInt(-100),
		})
	}()

	close(release)
	require.Error(t, <-txErr)
	require.NoError(t, <-writes)
	require.NoError(t, <-writes)

	_, err := s.GetContact(ctx, "c1")
	assert.NoError(t, err)
	entries, err := s.Load(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	_, err = s.GetPolicy(ctx, "b")
	assert.ErrorIs(t, err, generic.ErrPolicyNotFound)
}

func TestSweepRuns_UpsertNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.SaveSweepRun(ctx, billing.SweepRun{ID: "r1", Status: billing.SweepRunning}))
	require.NoError(t, s.SaveSweepRun(ctx, billing.SweepRun{ID: "r2", Status: billing.SweepCompleted}))
	require.NoError(t, s.SaveSweepRun(ctx, billing.SweepRun{ID: "r1", Status: billing.SweepFailed}))

	runs, err := s.ListSweepRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].ID)
	assert.Equal(t, billing.SweepFailed, runs[1].Status)

	runs, err = s.ListSweepRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.SaveContact(ctx, billing.Contact{ID: "c", Name: "Anna White", Role: billing.RoleNamedInsured}))
	require.NoError(t, s.SavePolicy(ctx, policy("a")))

	require.NoError(t, s.Reset(ctx))

	_, err := s.GetContact(ctx, "c")
	assert.ErrorIs(t, err, generic.ErrContactNotFound)
	_, err = s.GetPolicy(ctx, "a")
	assert.ErrorIs(t, err, generic.ErrPolicyNotFound)
}
