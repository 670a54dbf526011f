package generic_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/policy-billing/generic"
	"github.com/warp/policy-billing/generic/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestLedger() *generic.DefaultLedger {
	return generic.NewLedger(store.NewMemory())
}

func date(y int, m time.Month, d int) generic.TimePoint {
	return generic.NewTimePoint(y, m, d)
}

func money(v int64) generic.Money {
	return generic.NewMoneyFromInt(v)
}

func charge(id string, at generic.TimePoint, amount int64) generic.Entry {
	return generic.Entry{
		ID:          generic.EntryID(id),
		PolicyID:    "policy-1",
		Type:        generic.EntryCharge,
		EffectiveAt: at,
		Delta:       money(amount),
		ReferenceID: "inv-" + id,
	}
}

func payment(id string, at generic.TimePoint, amount int64) generic.Entry {
	return generic.Entry{
		ID:          generic.EntryID(id),
		PolicyID:    "policy-1",
		ContactID:   "insured-1",
		Type:        generic.EntryPayment,
		EffectiveAt: at,
		Delta:       money(-amount),
	}
}

// =============================================================================
// BALANCE TESTS
// =============================================================================

func TestLedger_BalanceAt_OnlyCountsEntriesOnOrBeforeDate(t *testing.T) {
	// GIVEN: Two quarterly charges and one payment
	// WHEN: Asking for the balance on, before and after the second bill date
	// THEN: Only entries effective on or before the date count

	ctx := context.Background()
	ledger := newTestLedger()
	require.NoError(t, ledger.AppendBatch(ctx, []generic.Entry{
		charge("c1", date(2015, time.January, 1), 300),
		charge("c2", date(2015, time.April, 1), 300),
	}))
	require.NoError(t, ledger.Append(ctx, payment("p1", date(2015, time.February, 1), 300)))

	bal, err := ledger.BalanceAt(ctx, "policy-1", date(2015, time.January, 31))
	require.NoError(t, err)
	assert.True(t, bal.Equal(money(300)), "got %s", bal)

	bal, err = ledger.BalanceAt(ctx, "policy-1", date(2015, time.March, 31))
	require.NoError(t, err)
	assert.True(t, bal.IsZero(), "got %s", bal)

	bal, err = ledger.BalanceAt(ctx, "policy-1", date(2015, time.April, 1))
	require.NoError(t, err)
	assert.True(t, bal.Equal(money(300)), "got %s", bal)
}

func TestLedger_TotalsAt_SplitsChargesReversalsAndPayments(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	reversal := charge("r1", date(2015, time.January, 1), -300)
	reversal.Type = generic.EntryReversal
	reversal.ReferenceID = "inv-c1"

	require.NoError(t, ledger.AppendBatch(ctx, []generic.Entry{
		charge("c1", date(2015, time.January, 1), 300),
		reversal,
		charge("c2", date(2015, time.January, 1), 100),
		payment("p1", date(2015, time.January, 5), 150),
	}))

	totals, err := ledger.TotalsAt(ctx, "policy-1", date(2015, time.January, 31))
	require.NoError(t, err)

	assert.True(t, totals.Charged.Equal(money(400)))
	assert.True(t, totals.Reversed.Equal(money(-300)))
	assert.True(t, totals.Paid.Equal(money(150)))
	assert.True(t, totals.Due().Equal(money(100)))
	assert.True(t, totals.Balance().Equal(money(-50)), "overpayment stays negative, got %s", totals.Balance())
}

func TestLedger_EntriesInRange(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()
	for i, m := range []time.Month{time.January, time.February, time.March, time.April} {
		require.NoError(t, ledger.Append(ctx, charge(string(rune('a'+i)), date(2015, m, 1), 100)))
	}

	entries, err := ledger.EntriesInRange(ctx, "policy-1", date(2015, time.February, 1), date(2015, time.March, 1))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

// =============================================================================
// IDEMPOTENCY TESTS
// =============================================================================

func TestLedger_Append_RejectsDuplicateIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	p := payment("p1", date(2015, time.February, 1), 100)
	p.IdempotencyKey = "pay-once"
	require.NoError(t, ledger.Append(ctx, p))

	p.ID = "p2"
	err := ledger.Append(ctx, p)
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)

	entries, err := ledger.Entries(ctx, "policy-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "duplicate must not be written")
}

func TestLedger_AppendBatch_RejectsDuplicateWithinBatch(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	a := payment("p1", date(2015, time.February, 1), 100)
	a.IdempotencyKey = "same"
	b := payment("p2", date(2015, time.February, 2), 100)
	b.IdempotencyKey = "same"

	err := ledger.AppendBatch(ctx, []generic.Entry{a, b})
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)

	entries, err := ledger.Entries(ctx, "policy-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemory_SnapshotRestore(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.Append(ctx, charge("c1", date(2015, time.January, 1), 100)))

	snap := mem.Snapshot()
	p := payment("p1", date(2015, time.February, 1), 100)
	p.IdempotencyKey = "k1"
	require.NoError(t, mem.Append(ctx, p))
	mem.Restore(snap)

	entries, err := mem.Load(ctx, "policy-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	exists, err := mem.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, exists, "idempotency keys roll back with entries")
}

func TestReversedReferences(t *testing.T) {
	reversal := generic.Entry{Type: generic.EntryReversal, ReferenceID: "inv-1"}
	refs := generic.ReversedReferences([]generic.Entry{
		charge("c1", date(2015, time.January, 1), 100),
		reversal,
	})
	assert.True(t, refs["inv-1"])
	assert.False(t, refs["inv-c1"])
}
