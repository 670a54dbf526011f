package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/policy-billing/billing"
	"github.com/warp/policy-billing/factory"
	"github.com/warp/policy-billing/generic"
	"github.com/warp/policy-billing/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.SaveContact(ctx, billing.Contact{ID: "anna", Name: "Anna White", Role: billing.RoleNamedInsured}))
	require.NoError(t, store.SaveContact(ctx, billing.Contact{ID: "joe", Name: "Joe Lee", Role: billing.RoleAgent}))
	return store
}

func date(year int, month time.Month, day int) generic.TimePoint {
	return generic.NewTimePoint(year, month, day)
}

func createPolicy(t *testing.T, store *sqlite.Store, s billing.Schedule, premium int64) *billing.Accounting {
	t.Helper()
	acc, err := billing.CreatePolicy(context.Background(), store, billing.Policy{
		Number:        "Policy Two",
		EffectiveDate: date(2015, time.February, 1),
		AnnualPremium: generic.NewMoneyFromInt(premium),
		Schedule:      s,
		NamedInsured:  "anna",
		Agent:         "joe",
	})
	require.NoError(t, err)
	return acc
}

// =============================================================================
// ROUND TRIP TESTS
// =============================================================================

func TestStore_PolicyRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	acc := createPolicy(t, store, billing.ScheduleQuarterly, 1600)

	p, err := store.GetPolicy(ctx, acc.Policy().ID)
	require.NoError(t, err)
	assert.Equal(t, "Policy Two", p.Number)
	assert.Equal(t, "2015-02-01", p.EffectiveDate.String())
	assert.Equal(t, "1600.00", p.AnnualPremium.String())
	assert.Equal(t, billing.ScheduleQuarterly, p.Schedule)
	assert.Equal(t, billing.StatusActive, p.Status)
	assert.Equal(t, generic.ContactID("anna"), p.NamedInsured)
	assert.Equal(t, generic.ContactID("joe"), p.Agent)
	assert.True(t, p.CancellationDate.IsZero())

	_, err = store.GetPolicy(ctx, "missing")
	assert.ErrorIs(t, err, generic.ErrPolicyNotFound)

	contacts, err := store.ListContacts(ctx)
	require.NoError(t, err)
	require.Len(t, contacts, 2)
	assert.Equal(t, "Anna White", contacts[0].Name)

	_, err = store.GetContact(ctx, "nobody")
	assert.ErrorIs(t, err, generic.ErrContactNotFound)
}

func TestStore_InvoicesAndEntries(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	acc := createPolicy(t, store, billing.ScheduleQuarterly, 1600)

	invoices, err := store.LoadInvoices(ctx, acc.Policy().ID)
	require.NoError(t, err)
	require.Len(t, invoices, 4)
	assert.Equal(t, "2015-05-01", invoices[1].BillDate.String())
	assert.Equal(t, "2015-06-01", invoices[1].DueDate.String())
	assert.Equal(t, "2015-06-15", invoices[1].CancelDate.String())
	assert.Equal(t, "400.00", invoices[1].AmountDue.String())

	entries, err := store.Load(ctx, acc.Policy().ID)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	for _, e := range entries {
		assert.Equal(t, generic.EntryCharge, e.Type)
	}
	assert.Equal(t, invoices[1].BatchID, entries[1].Metadata["batch_id"])
	assert.Equal(t, "2015-06-15", entries[1].Metadata["cancel_date"])

	inRange, err := store.LoadRange(ctx, acc.Policy().ID, date(2015, time.May, 1), date(2015, time.August, 1))
	require.NoError(t, err)
	assert.Len(t, inRange, 2)
}

// =============================================================================
// ACCOUNTING OVER SQLITE
// =============================================================================

func TestStore_ChangeScheduleAndPayments(t *testing.T) {
	// GIVEN: Quarterly policy effective 2015-02-01, premium 1600, 400 paid on day one
	// WHEN: Switching to Monthly
	// THEN: Balance follows the monthly schedule and history keeps the old batch

	ctx := context.Background()
	store := newTestStore(t)
	acc := createPolicy(t, store, billing.ScheduleQuarterly, 1600)

	_, err := acc.MakePayment(ctx, billing.PaymentRequest{
		Amount: generic.NewMoneyFromInt(400), Date: date(2015, time.February, 1),
	})
	require.NoError(t, err)

	require.NoError(t, acc.ChangeSchedule(ctx, billing.ScheduleMonthly))

	invoices, err := acc.Invoices(ctx)
	require.NoError(t, err)
	assert.Len(t, invoices, 16)

	active, err := acc.ActiveInvoices(ctx)
	require.NoError(t, err)
	require.Len(t, active, 12)
	assert.Equal(t, "133.37", active[0].AmountDue.String())

	bal, err := acc.Balance(ctx, date(2015, time.April, 1))
	require.NoError(t, err)
	assert.Equal(t, "0.03", bal.String(), "three monthly installments minus 400 paid")

	p, err := store.GetPolicy(ctx, acc.Policy().ID)
	require.NoError(t, err)
	assert.Equal(t, billing.ScheduleMonthly, p.Schedule)
}

func TestStore_DuplicateIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	acc := createPolicy(t, store, billing.ScheduleAnnual, 1200)

	e := generic.Entry{
		ID: "pay-1", PolicyID: acc.Policy().ID, ContactID: "anna", Type: generic.EntryPayment,
		EffectiveAt: date(2015, time.February, 1), Delta: generic.NewMoneyFromInt(-100),
		IdempotencyKey: "retry-me",
	}
	require.NoError(t, store.Append(ctx, e))

	e.ID = "pay-2"
	err := store.Append(ctx, e)
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)

	exists, err := store.Exists(ctx, "retry-me")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestStore_CancelPersists(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	acc := createPolicy(t, store, billing.ScheduleMonthly, 1200)

	_, err := acc.CancelPolicy(ctx, "Canceled for nonpayment", date(2015, time.June, 1))
	require.NoError(t, err)

	p, err := store.GetPolicy(ctx, acc.Policy().ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusCanceled, p.Status)
	assert.Equal(t, "2015-06-01", p.CancellationDate.String())
	assert.Equal(t, "Canceled for nonpayment", p.CancellationDescription)
}

// =============================================================================
// TRANSACTION TESTS
// =============================================================================

func TestStore_WithTx_RollsBack(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(tx billing.Store) error {
		require.NoError(t, tx.SavePolicy(ctx, billing.Policy{
			ID: "p-tx", Number: "Tx", EffectiveDate: date(2015, time.January, 1),
			AnnualPremium: generic.NewMoneyFromInt(100), Schedule: billing.ScheduleAnnual,
			Status: billing.StatusActive,
		}))
		// Reads inside the transaction see its writes
		p, err := tx.GetPolicy(ctx, "p-tx")
		require.NoError(t, err)
		assert.Equal(t, "Tx", p.Number)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.GetPolicy(ctx, "p-tx")
	assert.ErrorIs(t, err, generic.ErrPolicyNotFound)
}

func TestStore_Reset(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	createPolicy(t, store, billing.ScheduleAnnual, 1200)

	require.NoError(t, store.Reset(ctx))

	policies, err := store.ListPolicies(ctx)
	require.NoError(t, err)
	assert.Empty(t, policies)

	version, dirty, err := store.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}

// =============================================================================
// SWEEP RUN TESTS
// =============================================================================

func TestStore_SweepRuns(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	createPolicy(t, store, billing.ScheduleMonthly, 1200)

	sweeper := &billing.Sweeper{Store: store, Runs: store, AutoCancel: true}
	run, err := sweeper.Run(ctx, date(2015, time.June, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, run.Canceled)

	runs, err := store.ListSweepRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1, "the completed run replaces the running one")
	assert.Equal(t, billing.SweepCompleted, runs[0].Status)
	assert.Equal(t, "2015-06-01", runs[0].AsOf.String())
	assert.True(t, runs[0].AutoCancel)
	assert.Equal(t, 1, runs[0].Cancelable)
	require.NotNil(t, runs[0].CompletedAt)
}

// cancelingStore cancels the sweep's context once the policy scan starts.
type cancelingStore struct {
	*sqlite.Store
	cancel context.CancelFunc
}

func (c cancelingStore) ListPolicies(ctx context.Context) ([]billing.Policy, error) {
	c.cancel()
	return nil, ctx.Err()
}

func TestStore_SweepRunRecordsFailureAfterCancel(t *testing.T) {
	// GIVEN: A sweep whose context is canceled while it runs
	// WHEN: The sweep fails
	// THEN: The stored run is marked failed, not left running

	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := &billing.Sweeper{Store: cancelingStore{Store: store, cancel: cancel}, Runs: store}
	run, err := sweeper.Run(ctx, date(2015, time.June, 1))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, billing.SweepFailed, run.Status)

	runs, err := store.ListSweepRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, billing.SweepFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "context canceled")
	require.NotNil(t, runs[0].CompletedAt)
}

func TestStore_SeedLoadIsAtomic(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	seed, err := factory.Default()
	require.NoError(t, err)
	seed.Payments[0].Request.Amount = generic.ZeroMoney()

	_, err = factory.Load(ctx, store, seed)
	require.ErrorIs(t, err, generic.ErrInvalidAmount)

	policies, err := store.ListPolicies(ctx)
	require.NoError(t, err)
	assert.Empty(t, policies)

	// The same fixture loads once the payment is valid
	seed.Payments[0].Request.Amount = generic.NewMoneyFromInt(400)
	result, err := factory.Load(ctx, store, seed)
	require.NoError(t, err)
	assert.Len(t, result.Policies, 4)
	assert.Equal(t, 1, result.Payments)
}
