// Package billing implements insurance policy billing on top of the generic ledger:
// installment schedules, invoice generation, balances, payments and
// cancellation for nonpayment.
package billing

import (
	"time"

	"github.com/warp/policy-billing/generic"
)

// =============================================================================
// BILLING SCHEDULE
// =============================================================================

// Schedule is how many installments the annual premium is split into.
// The zero value is not a schedule; ParseSchedule is the only way in from text.
type Schedule int

const (
	ScheduleAnnual Schedule = iota + 1
	ScheduleTwoPay
	ScheduleQuarterly
	ScheduleMonthly
)

// Schedules lists every supported schedule in display order.
var Schedules = []Schedule{ScheduleAnnual, ScheduleTwoPay, ScheduleQuarterly, ScheduleMonthly}

// ParseSchedule maps a schedule name ("Annual", "Two-Pay", "Quarterly", "Monthly").
func ParseSchedule(name string) (Schedule, error) {
	for _, s := range Schedules {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, &generic.UnknownScheduleError{Name: name}
}

func (s Schedule) String() string {
	switch s {
	case ScheduleAnnual:
		return "Annual"
	case ScheduleTwoPay:
		return "Two-Pay"
	case ScheduleQuarterly:
		return "Quarterly"
	case ScheduleMonthly:
		return "Monthly"
	}
	return ""
}

// Installments is the number of invoices per policy year. Zero for an invalid schedule.
func (s Schedule) Installments() int {
	switch s {
	case ScheduleAnnual:
		return 1
	case ScheduleTwoPay:
		return 2
	case ScheduleQuarterly:
		return 4
	case ScheduleMonthly:
		return 12
	}
	return 0
}

// MonthsBetweenInstallments is 12 / Installments().
func (s Schedule) MonthsBetweenInstallments() int {
	if n := s.Installments(); n > 0 {
		return 12 / n
	}
	return 0
}

func (s Schedule) Valid() bool { return s.Installments() > 0 }

func (s Schedule) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, &generic.UnknownScheduleError{Name: s.String()}
	}
	return []byte(s.String()), nil
}

func (s *Schedule) UnmarshalText(text []byte) error {
	parsed, err := ParseSchedule(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// =============================================================================
// CONTACTS
// =============================================================================

type ContactRole string

const (
	RoleAgent        ContactRole = "Agent"
	RoleNamedInsured ContactRole = "Named Insured"
)

type Contact struct {
	ID        generic.ContactID
	Name      string
	Role      ContactRole
	CreatedAt time.Time
}

// =============================================================================
// POLICY
// =============================================================================

type PolicyStatus string

const (
	StatusActive   PolicyStatus = "Active"
	StatusCanceled PolicyStatus = "Canceled"
)

type Policy struct {
	ID            generic.PolicyID
	Number        string
	EffectiveDate generic.TimePoint
	AnnualPremium generic.Money
	Schedule      Schedule
	Status        PolicyStatus
	NamedInsured  generic.ContactID
	Agent         generic.ContactID

	// Set once, when Status becomes Canceled.
	CancellationDate        generic.TimePoint
	CancellationDescription string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p Policy) IsCanceled() bool { return p.Status == StatusCanceled }

// =============================================================================
// INVOICE
// =============================================================================

type InvoiceID string

// InvoiceState replaces a deleted flag: invoices are never removed, a schedule
// change supersedes them.
type InvoiceState string

const (
	InvoiceActive     InvoiceState = "active"
	InvoiceSuperseded InvoiceState = "superseded"
)

type Invoice struct {
	ID          InvoiceID
	PolicyID    generic.PolicyID
	BatchID     string
	Schedule    Schedule
	Installment int // 1-based position within the batch
	BillDate    generic.TimePoint
	DueDate     generic.TimePoint
	CancelDate  generic.TimePoint
	AmountDue   generic.Money
	State       InvoiceState // Derived from the ledger on load
	CreatedAt   time.Time
}

func (inv Invoice) IsActive() bool { return inv.State == InvoiceActive }

// =============================================================================
// PAYMENT
// =============================================================================

// Payment is a read model over a payment ledger entry.
type Payment struct {
	ID              generic.EntryID
	PolicyID        generic.PolicyID
	ContactID       generic.ContactID
	Amount          generic.Money
	TransactionDate generic.TimePoint
	CreatedAt       time.Time
}

// PaymentFromEntry converts a payment entry (negative delta) to a Payment.
func PaymentFromEntry(e generic.Entry) Payment {
	return Payment{
		ID:              e.ID,
		PolicyID:        e.PolicyID,
		ContactID:       e.ContactID,
		Amount:          e.Delta.Neg(),
		TransactionDate: e.EffectiveAt,
		CreatedAt:       e.CreatedAt,
	}
}

// PaymentRequest is the input to Accounting.MakePayment.
type PaymentRequest struct {
	ContactID      generic.ContactID // Empty = the policy's named insured
	Date           generic.TimePoint // Zero = today
	Amount         generic.Money
	IdempotencyKey string
}

// =============================================================================
// CANCELLATION
// =============================================================================

// CancelReason says which rule made a policy cancelable.
type CancelReason string

const (
	CancelReasonNone         CancelReason = ""
	CancelReasonUnderwriting CancelReason = "underwriting"
	CancelReasonNonPayment   CancelReason = "nonpayment"
)
