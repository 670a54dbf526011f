// Package memory is an in-memory billing.TxStore for tests and the
// --driver=memory mode of the server.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/policy-billing/billing"
	"github.com/warp/policy-billing/generic"
	genstore "github.com/warp/policy-billing/generic/store"
)

// Store keeps billing records next to a generic in-memory ledger.
type Store struct {
	*genstore.Memory

	mu        sync.RWMutex
	txMu      sync.Mutex // Serializes writes and WithTx
	contacts  map[generic.ContactID]billing.Contact
	policies  map[generic.PolicyID]billing.Policy
	invoices  map[generic.PolicyID][]billing.Invoice
	sweepRuns []billing.SweepRun
}

var (
	_ billing.TxStore       = (*Store)(nil)
	_ billing.SweepRunStore = (*Store)(nil)
)

func New() *Store {
	return &Store{
		Memory:   genstore.NewMemory(),
		contacts: make(map[generic.ContactID]billing.Contact),
		policies: make(map[generic.PolicyID]billing.Policy),
		invoices: make(map[generic.PolicyID][]billing.Invoice),
	}
}

// =============================================================================
// CONTACTS
// =============================================================================

func (s *Store) SaveContact(ctx context.Context, c billing.Contact) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return txView{s}.SaveContact(ctx, c)
}

func (s *Store) GetContact(_ context.Context, id generic.ContactID) (billing.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[id]
	if !ok {
		return billing.Contact{}, generic.ErrContactNotFound
	}
	return c, nil
}

func (s *Store) ListContacts(_ context.Context) ([]billing.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]billing.Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// =============================================================================
// POLICIES
// =============================================================================

func (s *Store) SavePolicy(ctx context.Context, p billing.Policy) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return txView{s}.SavePolicy(ctx, p)
}

func (s *Store) GetPolicy(_ context.Context, id generic.PolicyID) (billing.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[id]
	if !ok {
		return billing.Policy{}, generic.ErrPolicyNotFound
	}
	return p, nil
}

func (s *Store) ListPolicies(_ context.Context) ([]billing.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]billing.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Number != result[j].Number {
			return result[i].Number < result[j].Number
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// =============================================================================
// INVOICES
// =============================================================================

func (s *Store) AppendInvoices(ctx context.Context, invoices []billing.Invoice) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return txView{s}.AppendInvoices(ctx, invoices)
}

func (s *Store) LoadInvoices(_ context.Context, policyID generic.PolicyID) ([]billing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := append([]billing.Invoice{}, s.invoices[policyID]...)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].BillDate.Before(result[j].BillDate)
	})
	return result, nil
}

// =============================================================================
// SWEEP RUNS
// =============================================================================

// SaveSweepRun inserts a run or replaces the one with the same ID.
func (s *Store) SaveSweepRun(_ context.Context, run billing.SweepRun) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.sweepRuns {
		if s.sweepRuns[i].ID == run.ID {
			s.sweepRuns[i] = run
			return nil
		}
	}
	s.sweepRuns = append(s.sweepRuns, run)
	return nil
}

func (s *Store) ListSweepRuns(_ context.Context, limit int) ([]billing.SweepRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []billing.SweepRun
	for i := len(s.sweepRuns) - 1; i >= 0; i-- {
		if limit > 0 && len(result) == limit {
			break
		}
		result = append(result, s.sweepRuns[i])
	}
	return result, nil
}

// =============================================================================
// LEDGER
// =============================================================================

func (s *Store) Append(ctx context.Context, e generic.Entry) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.Memory.Append(ctx, e)
}

func (s *Store) AppendBatch(ctx context.Context, entries []generic.Entry) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.Memory.AppendBatch(ctx, entries)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// txView is the handle WithTx passes to fn. Its writes skip txMu, which
// WithTx already holds.
type txView struct{ *Store }

func (v txView) Append(ctx context.Context, e generic.Entry) error {
	return v.Memory.Append(ctx, e)
}

func (v txView) AppendBatch(ctx context.Context, entries []generic.Entry) error {
	return v.Memory.AppendBatch(ctx, entries)
}

func (v txView) SaveContact(_ context.Context, c billing.Contact) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.contacts[c.ID] = c
	return nil
}

func (v txView) SavePolicy(_ context.Context, p billing.Policy) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.policies[p.ID] = p
	return nil
}

func (v txView) AppendInvoices(_ context.Context, invoices []billing.Invoice) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, inv := range invoices {
		inv.State = ""
		v.invoices[inv.PolicyID] = append(v.invoices[inv.PolicyID], inv)
	}
	return nil
}

// WithTx snapshots both the ledger and the billing records and restores
// them if fn fails. Every write takes txMu, so nothing else can land
// between the snapshot and a restore. Reads are not serialized.
func (s *Store) WithTx(_ context.Context, fn func(tx billing.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	ledgerSnap := s.Memory.Snapshot()
	snap := s.snapshot()

	if err := fn(txView{s}); err != nil {
		s.Memory.Restore(ledgerSnap)
		s.restore(snap)
		return err
	}
	return nil
}

// Reset drops every record.
func (s *Store) Reset(_ context.Context) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.Memory.Reset()
	s.restore(recordSnapshot{
		contacts: make(map[generic.ContactID]billing.Contact),
		policies: make(map[generic.PolicyID]billing.Policy),
		invoices: make(map[generic.PolicyID][]billing.Invoice),
	})
	return nil
}

type recordSnapshot struct {
	contacts  map[generic.ContactID]billing.Contact
	policies  map[generic.PolicyID]billing.Policy
	invoices  map[generic.PolicyID][]billing.Invoice
	sweepRuns []billing.SweepRun
}

func (s *Store) snapshot() recordSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := recordSnapshot{
		contacts:  make(map[generic.ContactID]billing.Contact, len(s.contacts)),
		policies:  make(map[generic.PolicyID]billing.Policy, len(s.policies)),
		invoices:  make(map[generic.PolicyID][]billing.Invoice, len(s.invoices)),
		sweepRuns: append([]billing.SweepRun{}, s.sweepRuns...),
	}
	for k, v := range s.contacts {
		snap.contacts[k] = v
	}
	for k, v := range s.policies {
		snap.policies[k] = v
	}
	for k, v := range s.invoices {
		snap.invoices[k] = append([]billing.Invoice{}, v...)
	}
	return snap
}

func (s *Store) restore(snap recordSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts = snap.contacts
	s.policies = snap.policies
	s.invoices = snap.invoices
	s.sweepRuns = snap.sweepRuns
}
