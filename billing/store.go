package billing

import (
	"context"

	"github.com/warp/policy-billing/generic"
)

// =============================================================================
// STORE - Billing records on top of the ledger
// =============================================================================

// Store persists contacts, policies and invoices next to the ledger entries.
// Invoices are append-only like entries; their state lives in the ledger.
type Store interface {
	generic.Store

	SaveContact(ctx context.Context, c Contact) error
	// GetContact returns generic.ErrContactNotFound for unknown ids.
	GetContact(ctx context.Context, id generic.ContactID) (Contact, error)
	ListContacts(ctx context.Context) ([]Contact, error)

	// SavePolicy inserts or updates a policy.
	SavePolicy(ctx context.Context, p Policy) error
	// GetPolicy returns generic.ErrPolicyNotFound for unknown ids.
	GetPolicy(ctx context.Context, id generic.PolicyID) (Policy, error)
	// ListPolicies returns every policy ordered by number.
	ListPolicies(ctx context.Context) ([]Policy, error)

	AppendInvoices(ctx context.Context, invoices []Invoice) error
	// LoadInvoices returns every invoice of a policy ordered by bill date,
	// superseded ones included. State is left empty.
	LoadInvoices(ctx context.Context, policyID generic.PolicyID) ([]Invoice, error)
}

// TxStore runs fn against a transactional view of the store. If fn returns
// an error nothing it wrote is kept.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

// InTx wraps the tx handle of an enclosing WithTx. Operations given the
// result run inside that transaction instead of opening their own.
func InTx(tx Store) TxStore { return joinedTx{tx} }

type joinedTx struct{ Store }

func (j joinedTx) WithTx(_ context.Context, fn func(tx Store) error) error {
	return fn(j.Store)
}

// SweepRunStore records cancellation sweep runs.
type SweepRunStore interface {
	SaveSweepRun(ctx context.Context, run SweepRun) error
	// ListSweepRuns returns the most recent runs first.
	ListSweepRuns(ctx context.Context, limit int) ([]SweepRun, error)
}
