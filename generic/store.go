/*
store.go - Persistence interface for ledger entries

PURPOSE:
  Defines the interface between the ledger and the database.
  The Store handles persistence while maintaining append-only semantics.
  Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  Store: Core entry persistence (append, load, exists)

  Atomic writes spanning entries and billing records (invoice batches,
  policy updates) go through billing.TxStore, which embeds this Store.

APPEND-ONLY CONTRACT:
  - Append(): Single entry write
  - AppendBatch(): Atomic multi-entry write
  - NO Update() or Delete() methods exist

  Superseding an invoice therefore never touches its charge. A reversal
  entry referencing the invoice is appended instead, and both remain in
  the ledger forever.

IDEMPOTENCY:
  Entries may carry an idempotency key. If the key already exists, the
  write is rejected. This keeps a retried payment from being recorded twice.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - generic/store/memory.go: In-memory ledger for tests
  - store/memory/memory.go: In-memory billing store

SEE ALSO:
  - ledger.go: Higher-level interface using Store
*/
package generic

import "context"

// =============================================================================
// STORE - Interface for entry persistence (append-only)
// =============================================================================

// Store handles persistence of ledger entries.
// IMPORTANT: Store is APPEND-ONLY. No Update, No Delete.
// Corrections are made via reversal entries.
type Store interface {
	// Append persists an entry. Returns ErrDuplicateIdempotencyKey if the key exists.
	Append(ctx context.Context, e Entry) error

	// AppendBatch persists multiple entries atomically.
	// Either all succeed or none do.
	AppendBatch(ctx context.Context, entries []Entry) error

	// Load returns all entries of a policy, ordered by EffectiveAt then insertion.
	Load(ctx context.Context, policyID PolicyID) ([]Entry, error)

	// LoadRange returns entries of a policy with EffectiveAt in [from, to].
	LoadRange(ctx context.Context, policyID PolicyID, from, to TimePoint) ([]Entry, error)

	// Exists checks if an idempotency key already exists.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}
