/*
invoices.go - Installment schedule generation

PURPOSE:
  Turns a policy (effective date, annual premium, schedule) into the batch
  of invoices that bills it. Generation is pure: it neither reads nor
  writes the store. Accounting posts the batch and its ledger charges.

DATES:
  Installment i (0-based) of an N-installment schedule:
    bill   = effective + i*(12/N) months   (from the effective date, not chained)
    due    = bill + 1 month
    cancel = due + 14 days
  Month arithmetic clamps to the last day of the target month, so a
  policy effective Jan 31 bills monthly on Feb 28, Mar 31, Apr 30, ...

AMOUNTS:
  base      = premium / N, truncated to cents
  remainder = premium - base*N
  The remainder is added to the first installment. Installments always
  sum to the premium exactly.

EXAMPLE:
  Premium 1000, Monthly:
    #1  2015-01-01  83.37
    #2  2015-02-01  83.33
    ...
    #12 2015-12-01  83.33      (total 1000.00)

SEE ALSO:
  - accounting.go: Posts generated batches and supersedes old ones
  - generic/time.go: AddMonths clamping
*/
package billing

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/policy-billing/generic"
)

const (
	// DueMonths is the gap between bill date and due date.
	DueMonths = 1

	// GraceDays is the gap between due date and cancel date.
	GraceDays = 14

	// UnderwritingWindowDays is how long after the effective date a policy
	// may be canceled regardless of payments.
	UnderwritingWindowDays = 60
)

// InstallmentDates computes the bill, due and cancel dates of installment i (0-based).
func InstallmentDates(effective generic.TimePoint, s Schedule, i int) (bill, due, cancel generic.TimePoint) {
	bill = effective.AddMonths(i * s.MonthsBetweenInstallments())
	due = bill.AddMonths(DueMonths)
	cancel = due.AddDays(GraceDays)
	return bill, due, cancel
}

// InstallmentAmounts splits the premium into n installments, remainder first.
func InstallmentAmounts(premium generic.Money, n int) []generic.Money {
	if n <= 0 {
		return nil
	}
	base, remainder := premium.Split(n)
	amounts := make([]generic.Money, n)
	for i := range amounts {
		amounts[i] = base
	}
	amounts[0] = amounts[0].Add(remainder)
	return amounts
}

// GenerateInvoices builds a new Active batch for the policy's current schedule.
func GenerateInvoices(p Policy, now time.Time) ([]Invoice, error) {
	if !p.Schedule.Valid() {
		return nil, &generic.UnknownScheduleError{Name: p.Schedule.String()}
	}
	if p.AnnualPremium.IsNegative() {
		return nil, fmt.Errorf("premium %s: %w", p.AnnualPremium, generic.ErrInvalidAmount)
	}

	n := p.Schedule.Installments()
	amounts := InstallmentAmounts(p.AnnualPremium, n)
	batchID := uuid.NewString()

	invoices := make([]Invoice, 0, n)
	for i := 0; i < n; i++ {
		bill, due, cancel := InstallmentDates(p.EffectiveDate, p.Schedule, i)
		invoices = append(invoices, Invoice{
			ID:          InvoiceID(uuid.NewString()),
			PolicyID:    p.ID,
			BatchID:     batchID,
			Schedule:    p.Schedule,
			Installment: i + 1,
			BillDate:    bill,
			DueDate:     due,
			CancelDate:  cancel,
			AmountDue:   amounts[i],
			State:       InvoiceActive,
			CreatedAt:   now,
		})
	}
	return invoices, nil
}

// ChargeEntries posts one charge per invoice, effective at its bill date.
func ChargeEntries(invoices []Invoice, now time.Time) []generic.Entry {
	entries := make([]generic.Entry, 0, len(invoices))
	for _, inv := range invoices {
		entries = append(entries, generic.Entry{
			ID:          generic.EntryID(uuid.NewString()),
			PolicyID:    inv.PolicyID,
			Type:        generic.EntryCharge,
			EffectiveAt: inv.BillDate,
			Delta:       inv.AmountDue,
			ReferenceID: string(inv.ID),
			Reason:      fmt.Sprintf("%s installment %d", inv.Schedule, inv.Installment),
			Metadata:    installmentMetadata(inv),
			CreatedAt:   now,
		})
	}
	return entries
}

func installmentMetadata(inv Invoice) map[string]string {
	return map[string]string{
		"batch_id":    inv.BatchID,
		"due_date":    inv.DueDate.String(),
		"cancel_date": inv.CancelDate.String(),
	}
}

// ReversalEntries supersedes invoices: each charge is offset at the same bill date.
func ReversalEntries(invoices []Invoice, reason string, now time.Time) []generic.Entry {
	entries := make([]generic.Entry, 0, len(invoices))
	for _, inv := range invoices {
		entries = append(entries, generic.Entry{
			ID:          generic.EntryID(uuid.NewString()),
			PolicyID:    inv.PolicyID,
			Type:        generic.EntryReversal,
			EffectiveAt: inv.BillDate,
			Delta:       inv.AmountDue.Neg(),
			ReferenceID: string(inv.ID),
			Reason:      reason,
			CreatedAt:   now,
		})
	}
	return entries
}

// ApplyInvoiceStates sets State on every invoice from the reversal entries.
// Invoices come out of the store stateless; the ledger is authoritative.
func ApplyInvoiceStates(invoices []Invoice, entries []generic.Entry) {
	reversed := generic.ReversedReferences(entries)
	for i := range invoices {
		if reversed[string(invoices[i].ID)] {
			invoices[i].State = InvoiceSuperseded
		} else {
			invoices[i].State = InvoiceActive
		}
	}
}
