/*
ledger.go - Append-only money ledger

PURPOSE:
  The Ledger is the immutable source of truth for what a policy owes.
  Every billed installment, payment and superseded installment is
  recorded here. Balances are always computed by replaying entries;
  there is no stored "balance" field that can drift.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. IMMUTABLE: Once written, entries cannot be modified
  3. AUDITABLE: Every balance change is traceable to an invoice or payment
  4. IDEMPOTENT: Same idempotency key = same entry (no duplicates)

CORRECTIONS:
  A schedule change does not delete the old installments. For each one a
  reversal is appended at the installment's bill date, so the old charge
  nets to zero at every date while remaining visible in history.

EXAMPLE FLOW (premium 1200, quarterly then monthly):
  1. Charges   +300 Jan 1, +300 Apr 1, +300 Jul 1, +300 Oct 1
  2. Reversals -300 Jan 1, -300 Apr 1, -300 Jul 1, -300 Oct 1
  3. Charges   +100 on the 1st of every month
  Balance at Mar 1 = 300 (three monthly charges)

SEE ALSO:
  - store.go: Low-level persistence interface
  - billing/accounting.go: Posts charges, reversals and payments
*/
package generic

import "context"

// =============================================================================
// LEDGER - Append-only entry log
// =============================================================================

// Ledger is the source of truth for all balance changes.
type Ledger interface {
	// Append adds an entry. Fails if the idempotency key exists.
	Append(ctx context.Context, e Entry) error

	// AppendBatch adds multiple entries atomically.
	AppendBatch(ctx context.Context, entries []Entry) error

	// Entries returns all entries of a policy, chronologically.
	Entries(ctx context.Context, policyID PolicyID) ([]Entry, error)

	// EntriesInRange returns entries in [from, to].
	EntriesInRange(ctx context.Context, policyID PolicyID, from, to TimePoint) ([]Entry, error)

	// TotalsAt computes charged/reversed/paid as of a date (inclusive).
	TotalsAt(ctx context.Context, policyID PolicyID, at TimePoint) (Totals, error)

	// BalanceAt is TotalsAt(...).Balance().
	BalanceAt(ctx context.Context, policyID PolicyID, at TimePoint) (Money, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, e Entry) error {
	if e.IdempotencyKey != "" {
		exists, err := l.Store.Exists(ctx, e.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.Append(ctx, e)
}

func (l *DefaultLedger) AppendBatch(ctx context.Context, entries []Entry) error {
	seen := make(map[string]bool)
	for _, e := range entries {
		if e.IdempotencyKey == "" {
			continue
		}
		if seen[e.IdempotencyKey] {
			return ErrDuplicateIdempotencyKey
		}
		seen[e.IdempotencyKey] = true
		exists, err := l.Store.Exists(ctx, e.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.AppendBatch(ctx, entries)
}

func (l *DefaultLedger) Entries(ctx context.Context, policyID PolicyID) ([]Entry, error) {
	return l.Store.Load(ctx, policyID)
}

func (l *DefaultLedger) EntriesInRange(ctx context.Context, policyID PolicyID, from, to TimePoint) ([]Entry, error) {
	return l.Store.LoadRange(ctx, policyID, from, to)
}

func (l *DefaultLedger) TotalsAt(ctx context.Context, policyID PolicyID, at TimePoint) (Totals, error) {
	entries, err := l.Store.Load(ctx, policyID)
	if err != nil {
		return Totals{}, err
	}
	return SumEntries(entries, at), nil
}

func (l *DefaultLedger) BalanceAt(ctx context.Context, policyID PolicyID, at TimePoint) (Money, error) {
	totals, err := l.TotalsAt(ctx, policyID, at)
	if err != nil {
		return Money{}, err
	}
	return totals.Balance(), nil
}

// SumEntries folds entries effective on or before at into Totals.
// Entries need not be sorted.
func SumEntries(entries []Entry, at TimePoint) Totals {
	totals := Totals{AsOf: at, Charged: ZeroMoney(), Reversed: ZeroMoney(), Paid: ZeroMoney()}
	for _, e := range entries {
		if e.EffectiveAt.After(at) {
			continue
		}
		switch e.Type {
		case EntryCharge:
			totals.Charged = totals.Charged.Add(e.Delta)
		case EntryReversal:
			totals.Reversed = totals.Reversed.Add(e.Delta)
		case EntryPayment:
			totals.Paid = totals.Paid.Sub(e.Delta)
		}
	}
	return totals
}

// ReversedReferences returns the reference IDs that have a reversal entry.
func ReversedReferences(entries []Entry) map[string]bool {
	reversed := make(map[string]bool)
	for _, e := range entries {
		if e.Type == EntryReversal && e.ReferenceID != "" {
			reversed[e.ReferenceID] = true
		}
	}
	return reversed
}
