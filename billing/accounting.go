/*
accounting.go - Per-policy accounting engine

PURPOSE:
  Accounting is the only writer of billing state. It is opened for one
  policy, generates the first invoice batch if the policy has none, and
  answers every balance and cancellation question as of a date.

KEY CONCEPTS:
  Due:    Sum of Active invoices with bill date <= date
  Paid:   Sum of payments with transaction date <= date
  Balance: Due - Paid (negative = overpaid)

  Every answer is computed by replaying the policy's ledger entries.
  Nothing derived is stored, so a query for any past or future date is
  consistent with every write made so far.

CANCELLATION:
  PendingNonPay(d):  balance(d) != 0 and some Active invoice has due < d < cancel
  EvaluateCancel(d): d within 60 days of the effective date, or some Active
                     invoice with cancel <= d still had a balance on its
                     cancel date

  Only the second rule is "nonpayment". CancelReason reports which rule
  applied so the sweeper can leave underwriting decisions to people.

ATOMICITY:
  Opening a policy without invoices, changing its schedule and canceling
  it each write several records. They run in TxStore.WithTx.

SEE ALSO:
  - invoices.go: Batch generation and ledger postings
  - sweep.go: Scheduled nonpayment scan over all policies
  - generic/ledger.go: Entry replay
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/policy-billing/generic"
)

// =============================================================================
// OBSERVER - Hooks for metrics
// =============================================================================

// Observer is notified after each committed write.
type Observer interface {
	InvoicesGenerated(policyID generic.PolicyID, schedule Schedule, count int)
	PaymentRecorded(policyID generic.PolicyID, amount generic.Money)
	PolicyCanceled(policyID generic.PolicyID, reason CancelReason)
}

type NopObserver struct{}

func (NopObserver) InvoicesGenerated(generic.PolicyID, Schedule, int) {}
func (NopObserver) PaymentRecorded(generic.PolicyID, generic.Money)   {}
func (NopObserver) PolicyCanceled(generic.PolicyID, CancelReason)     {}

// =============================================================================
// OPTIONS
// =============================================================================

type options struct {
	clock    generic.Clock
	logger   *zap.Logger
	observer Observer
}

type Option func(*options)

// WithClock sets what "today" means for zero dates.
func WithClock(c generic.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

func buildOptions(opts []Option) options {
	o := options{clock: generic.SystemClock, logger: zap.NewNop(), observer: NopObserver{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.observer == nil {
		o.observer = NopObserver{}
	}
	if o.clock == nil {
		o.clock = generic.SystemClock
	}
	return o
}

// =============================================================================
// ACCOUNTING
// =============================================================================

type Accounting struct {
	store  TxStore
	ledger *generic.DefaultLedger
	policy Policy
	opts   options
	logger *zap.Logger
}

// Open loads the policy and generates its first invoice batch if it has none.
func Open(ctx context.Context, store TxStore, id generic.PolicyID, opts ...Option) (*Accounting, error) {
	a := newAccounting(store, id, buildOptions(opts))

	var generated []Invoice
	err := store.WithTx(ctx, func(tx Store) error {
		p, err := tx.GetPolicy(ctx, id)
		if err != nil {
			return err
		}
		a.policy = p

		existing, err := tx.LoadInvoices(ctx, id)
		if err != nil {
			return fmt.Errorf("load invoices: %w", err)
		}
		if len(existing) > 0 {
			return nil
		}
		generated, err = postBatch(ctx, tx, p, nil, time.Now().UTC())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("open policy %s: %w", id, err)
	}
	a.generated(generated)
	return a, nil
}

func newAccounting(store TxStore, id generic.PolicyID, o options) *Accounting {
	return &Accounting{
		store:  store,
		ledger: generic.NewLedger(store),
		opts:   o,
		logger: o.logger.With(zap.String("policy_id", string(id))),
	}
}

func (a *Accounting) generated(invoices []Invoice) {
	if len(invoices) == 0 {
		return
	}
	a.logger.Info("invoices generated",
		zap.String("schedule", a.policy.Schedule.String()),
		zap.Int("count", len(invoices)))
	a.opts.observer.InvoicesGenerated(a.policy.ID, a.policy.Schedule, len(invoices))
}

// CreatePolicy validates a new policy and saves it together with its first
// invoice batch.
// An empty ID is assigned; status is always Active.
func CreatePolicy(ctx context.Context, store TxStore, p Policy, opts ...Option) (*Accounting, error) {
	if err := ValidatePolicy(p); err != nil {
		return nil, err
	}
	for _, c := range []generic.ContactID{p.NamedInsured, p.Agent} {
		if c == "" {
			continue
		}
		if _, err := store.GetContact(ctx, c); err != nil {
			return nil, fmt.Errorf("policy %s: %w", p.Number, err)
		}
	}

	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = generic.PolicyID(uuid.NewString())
	}
	p.Status = StatusActive
	p.CancellationDate = generic.TimePoint{}
	p.CancellationDescription = ""
	p.CreatedAt = now
	p.UpdatedAt = now

	a := newAccounting(store, p.ID, buildOptions(opts))
	a.policy = p

	var generated []Invoice
	err := store.WithTx(ctx, func(tx Store) error {
		if err := tx.SavePolicy(ctx, p); err != nil {
			return fmt.Errorf("save policy %s: %w", p.Number, err)
		}
		var err error
		generated, err = postBatch(ctx, tx, p, nil, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	a.generated(generated)
	return a, nil
}

// ValidatePolicy checks the fields a policy needs before invoices can be generated.
func ValidatePolicy(p Policy) error {
	if p.Number == "" {
		return fmt.Errorf("policy number is required: %w", generic.ErrInvalidFixture)
	}
	if p.EffectiveDate.IsZero() {
		return fmt.Errorf("policy %s has no effective date: %w", p.Number, generic.ErrInvalidFixture)
	}
	if !p.Schedule.Valid() {
		return &generic.UnknownScheduleError{Name: p.Schedule.String()}
	}
	if p.AnnualPremium.IsNegative() {
		return fmt.Errorf("policy %s premium %s: %w", p.Number, p.AnnualPremium, generic.ErrInvalidAmount)
	}
	return nil
}

func (a *Accounting) Policy() Policy { return a.policy }

func (a *Accounting) resolve(at generic.TimePoint) generic.TimePoint {
	if at.IsZero() {
		return a.opts.clock()
	}
	return at
}

// Invoices returns every invoice ever generated, superseded ones included.
func (a *Accounting) Invoices(ctx context.Context) ([]Invoice, error) {
	acc, err := a.load(ctx, a.store)
	if err != nil {
		return nil, err
	}
	return acc.invoices, nil
}

func (a *Accounting) ActiveInvoices(ctx context.Context) ([]Invoice, error) {
	acc, err := a.load(ctx, a.store)
	if err != nil {
		return nil, err
	}
	return acc.active(), nil
}

func (a *Accounting) Payments(ctx context.Context) ([]Payment, error) {
	acc, err := a.load(ctx, a.store)
	if err != nil {
		return nil, err
	}
	return acc.payments(), nil
}

// =============================================================================
// BALANCES
// =============================================================================

// DueAmount is the sum of Active invoices billed on or before at. Zero at = today.
func (a *Accounting) DueAmount(ctx context.Context, at generic.TimePoint) (generic.Money, error) {
	totals, err := a.ledger.TotalsAt(ctx, a.policy.ID, a.resolve(at))
	if err != nil {
		return generic.Money{}, fmt.Errorf("due amount: %w", err)
	}
	return totals.Due(), nil
}

// PaidAmount is the sum of payments made on or before at. Zero at = today.
func (a *Accounting) PaidAmount(ctx context.Context, at generic.TimePoint) (generic.Money, error) {
	totals, err := a.ledger.TotalsAt(ctx, a.policy.ID, a.resolve(at))
	if err != nil {
		return generic.Money{}, fmt.Errorf("paid amount: %w", err)
	}
	return totals.Paid, nil
}

// Balance is due minus paid as of at. Zero at = today.
func (a *Accounting) Balance(ctx context.Context, at generic.TimePoint) (generic.Money, error) {
	bal, err := a.ledger.BalanceAt(ctx, a.policy.ID, a.resolve(at))
	if err != nil {
		return generic.Money{}, fmt.Errorf("balance: %w", err)
	}
	return bal, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

// MakePayment records a payment. It is not allocated to any invoice.
func (a *Accounting) MakePayment(ctx context.Context, req PaymentRequest) (Payment, error) {
	if !req.Amount.IsPositive() {
		return Payment{}, fmt.Errorf("payment of %s: %w", req.Amount, generic.ErrInvalidAmount)
	}

	payer := req.ContactID
	if payer == "" {
		payer = a.policy.NamedInsured
	}
	if payer == "" {
		return Payment{}, fmt.Errorf("policy %s: %w", a.policy.Number, generic.ErrMissingNamedInsured)
	}
	if _, err := a.store.GetContact(ctx, payer); err != nil {
		return Payment{}, fmt.Errorf("payer %s: %w", payer, err)
	}

	entry := generic.Entry{
		ID:             generic.EntryID(uuid.NewString()),
		PolicyID:       a.policy.ID,
		ContactID:      payer,
		Type:           generic.EntryPayment,
		EffectiveAt:    a.resolve(req.Date),
		Delta:          req.Amount.Neg(),
		Reason:         "payment",
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}
	if err := a.ledger.Append(ctx, entry); err != nil {
		return Payment{}, fmt.Errorf("record payment: %w", err)
	}

	a.logger.Info("payment recorded",
		zap.String("contact_id", string(payer)),
		zap.String("amount", req.Amount.String()),
		zap.String("date", entry.EffectiveAt.String()))
	a.opts.observer.PaymentRecorded(a.policy.ID, req.Amount)
	return PaymentFromEntry(entry), nil
}

// =============================================================================
// CANCELLATION
// =============================================================================

// PendingNonPay reports an overdue balance still inside the grace window.
func (a *Accounting) PendingNonPay(ctx context.Context, at generic.TimePoint) (bool, error) {
	acc, err := a.load(ctx, a.store)
	if err != nil {
		return false, err
	}
	return acc.pendingNonPay(a.resolve(at)), nil
}

// EvaluateCancel reports whether the policy may be canceled on at.
func (a *Accounting) EvaluateCancel(ctx context.Context, at generic.TimePoint) (bool, error) {
	reason, err := a.CancelReason(ctx, at)
	if err != nil {
		return false, err
	}
	return reason != CancelReasonNone, nil
}

// CancelReason reports which rule makes the policy cancelable on at.
// Nonpayment wins over underwriting when both apply.
func (a *Accounting) CancelReason(ctx context.Context, at generic.TimePoint) (CancelReason, error) {
	acc, err := a.load(ctx, a.store)
	if err != nil {
		return CancelReasonNone, err
	}
	return acc.cancelReason(a.resolve(at)), nil
}

// CancelPolicy cancels the policy on at if EvaluateCancel allows it.
func (a *Accounting) CancelPolicy(ctx context.Context, description string, at generic.TimePoint) (CancelReason, error) {
	at = a.resolve(at)

	var (
		reason  CancelReason
		updated Policy
	)
	err := a.store.WithTx(ctx, func(tx Store) error {
		p, err := tx.GetPolicy(ctx, a.policy.ID)
		if err != nil {
			return err
		}
		if p.IsCanceled() {
			return generic.ErrPolicyCanceled
		}

		acc, err := a.loadPolicy(ctx, tx, p)
		if err != nil {
			return err
		}
		reason = acc.cancelReason(at)
		if reason == CancelReasonNone {
			return &generic.NotCancelableError{PolicyID: p.ID, At: at, Balance: acc.balance(at)}
		}

		p.Status = StatusCanceled
		p.CancellationDate = at
		p.CancellationDescription = description
		p.UpdatedAt = time.Now().UTC()
		if err := tx.SavePolicy(ctx, p); err != nil {
			return fmt.Errorf("save policy: %w", err)
		}
		updated = p
		return nil
	})
	if err != nil {
		return CancelReasonNone, fmt.Errorf("cancel policy %s: %w", a.policy.Number, err)
	}

	a.policy = updated
	a.logger.Info("policy canceled",
		zap.String("reason", string(reason)),
		zap.String("date", at.String()),
		zap.String("description", description))
	a.opts.observer.PolicyCanceled(a.policy.ID, reason)
	return reason, nil
}

// ChangeSchedule supersedes every Active invoice and bills the policy
// again under the new schedule.
func (a *Accounting) ChangeSchedule(ctx context.Context, s Schedule) error {
	if !s.Valid() {
		return &generic.UnknownScheduleError{Name: s.String()}
	}

	var (
		updated    Policy
		generated  []Invoice
		superseded int
	)
	err := a.store.WithTx(ctx, func(tx Store) error {
		p, err := tx.GetPolicy(ctx, a.policy.ID)
		if err != nil {
			return err
		}
		if p.IsCanceled() {
			return generic.ErrPolicyCanceled
		}

		acc, err := a.loadPolicy(ctx, tx, p)
		if err != nil {
			return err
		}
		active := acc.active()
		superseded = len(active)

		previous := p.Schedule
		p.Schedule = s
		p.UpdatedAt = time.Now().UTC()
		if err := tx.SavePolicy(ctx, p); err != nil {
			return fmt.Errorf("save policy: %w", err)
		}

		reason := fmt.Sprintf("schedule changed from %s to %s", previous, s)
		generated, err = postBatch(ctx, tx, p, ReversalEntries(active, reason, p.UpdatedAt), p.UpdatedAt)
		if err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return fmt.Errorf("change schedule of %s: %w", a.policy.Number, err)
	}

	a.policy = updated
	a.logger.Info("schedule changed",
		zap.String("schedule", s.String()),
		zap.Int("superseded", superseded),
		zap.Int("generated", len(generated)))
	a.opts.observer.InvoicesGenerated(a.policy.ID, s, len(generated))
	return nil
}

// postBatch generates a batch for p and writes it with its charges and
// any reversals in the same ledger batch.
func postBatch(ctx context.Context, tx Store, p Policy, reversals []generic.Entry, now time.Time) ([]Invoice, error) {
	invoices, err := GenerateInvoices(p, now)
	if err != nil {
		return nil, err
	}
	if err := tx.AppendInvoices(ctx, invoices); err != nil {
		return nil, fmt.Errorf("append invoices: %w", err)
	}
	entries := append(reversals, ChargeEntries(invoices, now)...)
	if err := generic.NewLedger(tx).AppendBatch(ctx, entries); err != nil {
		return nil, fmt.Errorf("post charges: %w", err)
	}
	return invoices, nil
}

// =============================================================================
// SUMMARY
// =============================================================================

// Summary is the policy as seen on one date.
type Summary struct {
	Policy        Policy
	AsOf          generic.TimePoint
	Invoices      []Invoice // Active only
	Payments      []Payment
	DueAmount     generic.Money
	PaidAmount    generic.Money
	Balance       generic.Money
	PendingNonPay bool
	Cancelable    bool
	CancelReason  CancelReason
}

func (a *Accounting) Summary(ctx context.Context, at generic.TimePoint) (Summary, error) {
	at = a.resolve(at)
	acc, err := a.load(ctx, a.store)
	if err != nil {
		return Summary{}, err
	}
	totals := generic.SumEntries(acc.entries, at)
	reason := acc.cancelReason(at)
	return Summary{
		Policy:        acc.policy,
		AsOf:          at,
		Invoices:      acc.active(),
		Payments:      acc.payments(),
		DueAmount:     totals.Due(),
		PaidAmount:    totals.Paid,
		Balance:       totals.Balance(),
		PendingNonPay: acc.pendingNonPay(at),
		Cancelable:    reason != CancelReasonNone,
		CancelReason:  reason,
	}, nil
}

// =============================================================================
// ACCOUNT - Loaded state, pure evaluation
// =============================================================================

type account struct {
	policy   Policy
	invoices []Invoice
	entries  []generic.Entry
}

func (a *Accounting) load(ctx context.Context, s Store) (account, error) {
	return a.loadPolicy(ctx, s, a.policy)
}

func (a *Accounting) loadPolicy(ctx context.Context, s Store, p Policy) (account, error) {
	invoices, err := s.LoadInvoices(ctx, p.ID)
	if err != nil {
		return account{}, fmt.Errorf("load invoices: %w", err)
	}
	entries, err := s.Load(ctx, p.ID)
	if err != nil {
		return account{}, fmt.Errorf("load entries: %w", err)
	}
	ApplyInvoiceStates(invoices, entries)
	return account{policy: p, invoices: invoices, entries: entries}, nil
}

func (acc account) balance(at generic.TimePoint) generic.Money {
	return generic.SumEntries(acc.entries, at).Balance()
}

func (acc account) active() []Invoice {
	var active []Invoice
	for _, inv := range acc.invoices {
		if inv.IsActive() {
			active = append(active, inv)
		}
	}
	return active
}

func (acc account) payments() []Payment {
	var payments []Payment
	for _, e := range acc.entries {
		if e.Type == generic.EntryPayment {
			payments = append(payments, PaymentFromEntry(e))
		}
	}
	return payments
}

func (acc account) pendingNonPay(at generic.TimePoint) bool {
	if acc.balance(at).IsZero() {
		return false
	}
	for _, inv := range acc.active() {
		if inv.DueDate.Before(at) && at.Before(inv.CancelDate) {
			return true
		}
	}
	return false
}

func (acc account) cancelReason(at generic.TimePoint) CancelReason {
	for _, inv := range acc.active() {
		if inv.CancelDate.After(at) {
			continue
		}
		if !acc.balance(inv.CancelDate).IsZero() {
			return CancelReasonNonPayment
		}
	}
	if generic.DaysBetween(acc.policy.EffectiveDate, at) <= UnderwritingWindowDays {
		return CancelReasonUnderwriting
	}
	return CancelReasonNone
}
