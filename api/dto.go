/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the billing model from the external API contract. The policy detail keeps
  the field names the billing front end already reads (payed_amount,
  necessary_amount, amount_due...).

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Wrappers around DTOs

TYPES:
  Policy:
    PolicySummaryDTO, PolicyDetailDTO, InvoiceDTO, PaymentDTO,
    CreatePolicyRequest, ChangeScheduleRequest

  Payments:
    MakePaymentRequest

  Cancellation:
    CancellationDTO, CancelPolicyRequest, CancelPolicyResponse

  Contacts:
    ContactDTO, CreateContactRequest

  Admin:
    SweepRequest, SweepRunDTO, SeedResponse

VALIDATION:
  Request types carry go-playground/validator tags. "schedule" and
  "date" are registered in validation.go.

AMOUNTS:
  Money is rendered as a JSON number rounded to cents.

SEE ALSO:
  - handlers.go: Uses these types
  - validation.go: Custom validation tags
*/
package api

import (
	"time"

	"github.com/warp/policy-billing/billing"
	"github.com/warp/policy-billing/generic"
)

// =============================================================================
// POLICY TYPES
// =============================================================================

// PolicySummaryDTO is a policy in the list view, with contact names.
type PolicySummaryDTO struct {
	ID              string  `json:"id"`
	PolicyNumber    string  `json:"policy_number"`
	EffectiveDate   string  `json:"effective_date"`
	Status          string  `json:"status"`
	BillingSchedule string  `json:"billing_schedule"`
	AnnualPremium   float64 `json:"annual_premium"`
	NamedInsured    string  `json:"named_insured"`
	Agent           string  `json:"agent"`
}

type PolicyListResponse struct {
	Policies []PolicySummaryDTO `json:"policies"`
}

// PolicyDetailDTO is one policy as seen on AsOf.
type PolicyDetailDTO struct {
	ID                      string       `json:"id"`
	PolicyNumber            string       `json:"policy_number"`
	EffectiveDate           string       `json:"effective_date"`
	Status                  string       `json:"status"`
	BillingSchedule         string       `json:"billing_schedule"`
	AnnualPremium           float64      `json:"annual_premium"`
	NamedInsured            string       `json:"named_insured"`
	Agent                   string       `json:"agent"`
	Invoices                []InvoiceDTO `json:"invoices"`
	Payments                []PaymentDTO `json:"payments"`
	DueAmount               float64      `json:"due_amount"`
	PayedAmount             float64      `json:"payed_amount"`
	NecessaryAmount         float64      `json:"necessary_amount"`
	AsOf                    string       `json:"as_of"`
	PendingNonPay           bool         `json:"pending_nonpay"`
	Cancelable              bool         `json:"cancelable"`
	CancelReason            string       `json:"cancel_reason,omitempty"`
	CancellationDate        string       `json:"cancellation_date,omitempty"`
	CancellationDescription string       `json:"cancellation_description,omitempty"`
}

type PolicyResponse struct {
	Policy PolicyDetailDTO `json:"policy"`
}

type InvoiceDTO struct {
	ID          string  `json:"id"`
	Installment int     `json:"installment"`
	BillDate    string  `json:"bill_date"`
	DueDate     string  `json:"due_date"`
	CancelDate  string  `json:"cancel_date"`
	AmountDue   float64 `json:"amount_due"`
}

type PaymentDTO struct {
	ID              string  `json:"id"`
	PolicyID        string  `json:"policy_id"`
	ContactID       string  `json:"contact_id"`
	AmountPaid      float64 `json:"amount_paid"`
	TransactionDate string  `json:"transaction_date"`
}

// CreatePolicyRequest creates a policy and bills it.
type CreatePolicyRequest struct {
	PolicyNumber    string  `json:"policy_number" validate:"required"`
	EffectiveDate   string  `json:"effective_date" validate:"required,date"`
	AnnualPremium   float64 `json:"annual_premium" validate:"gte=0"`
	BillingSchedule string  `json:"billing_schedule" validate:"required,schedule"`
	NamedInsured    string  `json:"named_insured"`
	Agent           string  `json:"agent"`
}

type ChangeScheduleRequest struct {
	BillingSchedule string `json:"billing_schedule" validate:"required,schedule"`
}

// =============================================================================
// PAYMENT TYPES
// =============================================================================

// MakePaymentRequest records a payment. ContactID defaults to the named
// insured and Date to today.
type MakePaymentRequest struct {
	ContactID string  `json:"contact_id"`
	Amount    float64 `json:"amount" validate:"gt=0"`
	Date      string  `json:"date" validate:"omitempty,date"`
}

// =============================================================================
// CANCELLATION TYPES
// =============================================================================

type CancellationDTO struct {
	PolicyID      string  `json:"policy_id"`
	Date          string  `json:"date"`
	Status        string  `json:"status"`
	Balance       float64 `json:"balance"`
	PendingNonPay bool    `json:"pending_nonpay"`
	Cancelable    bool    `json:"cancelable"`
	Reason        string  `json:"reason,omitempty"`
}

type CancelPolicyRequest struct {
	Description string `json:"description" validate:"required,max=500"`
	Date        string `json:"date" validate:"omitempty,date"`
}

type CancelPolicyResponse struct {
	Reason string          `json:"reason"`
	Policy PolicyDetailDTO `json:"policy"`
}

// =============================================================================
// CONTACT TYPES
// =============================================================================

type ContactDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at,omitempty"`
}

type ContactListResponse struct {
	Contacts []ContactDTO `json:"contacts"`
}

type CreateContactRequest struct {
	Name string `json:"name" validate:"required,max=200"`
	Role string `json:"role" validate:"required,oneof=Agent 'Named Insured'"`
}

// =============================================================================
// ADMIN TYPES
// =============================================================================

// SweepRequest triggers a cancellation sweep. All fields are optional.
type SweepRequest struct {
	Date       string `json:"date" validate:"omitempty,date"`
	AutoCancel *bool  `json:"auto_cancel"`
}

type SweepRunDTO struct {
	ID            string `json:"id"`
	AsOf          string `json:"as_of"`
	Status        string `json:"status"`
	AutoCancel    bool   `json:"auto_cancel"`
	Scanned       int    `json:"scanned"`
	PendingNonPay int    `json:"pending_nonpay"`
	Cancelable    int    `json:"cancelable"`
	Canceled      int    `json:"canceled"`
	Error         string `json:"error,omitempty"`
	StartedAt     string `json:"started_at"`
	CompletedAt   string `json:"completed_at,omitempty"`
}

type SweepRunListResponse struct {
	Runs []SweepRunDTO `json:"runs"`
}

type SeedResponse struct {
	Status   string `json:"status"`
	Contacts int    `json:"contacts"`
	Policies int    `json:"policies"`
	Payments int    `json:"payments"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// ValidationDetail describes one failed field.
type ValidationDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func amount(m generic.Money) float64 { return m.Round().Float64() }

func formatDate(tp generic.TimePoint) string {
	if tp.IsZero() {
		return ""
	}
	return tp.String()
}

func toInvoiceDTOs(invoices []billing.Invoice) []InvoiceDTO {
	dtos := make([]InvoiceDTO, len(invoices))
	for i, inv := range invoices {
		dtos[i] = InvoiceDTO{
			ID:          string(inv.ID),
			Installment: inv.Installment,
			BillDate:    inv.BillDate.String(),
			DueDate:     inv.DueDate.String(),
			CancelDate:  inv.CancelDate.String(),
			AmountDue:   amount(inv.AmountDue),
		}
	}
	return dtos
}

func toPaymentDTO(p billing.Payment) PaymentDTO {
	return PaymentDTO{
		ID:              string(p.ID),
		PolicyID:        string(p.PolicyID),
		ContactID:       string(p.ContactID),
		AmountPaid:      amount(p.Amount),
		TransactionDate: p.TransactionDate.String(),
	}
}

func toPolicyDetailDTO(s billing.Summary) PolicyDetailDTO {
	payments := make([]PaymentDTO, len(s.Payments))
	for i, p := range s.Payments {
		payments[i] = toPaymentDTO(p)
	}
	p := s.Policy
	return PolicyDetailDTO{
		ID:                      string(p.ID),
		PolicyNumber:            p.Number,
		EffectiveDate:           p.EffectiveDate.String(),
		Status:                  string(p.Status),
		BillingSchedule:         p.Schedule.String(),
		AnnualPremium:           amount(p.AnnualPremium),
		NamedInsured:            string(p.NamedInsured),
		Agent:                   string(p.Agent),
		Invoices:                toInvoiceDTOs(s.Invoices),
		Payments:                payments,
		DueAmount:               amount(s.DueAmount),
		PayedAmount:             amount(s.PaidAmount),
		NecessaryAmount:         amount(s.Balance),
		AsOf:                    s.AsOf.String(),
		PendingNonPay:           s.PendingNonPay,
		Cancelable:              s.Cancelable,
		CancelReason:            string(s.CancelReason),
		CancellationDate:        formatDate(p.CancellationDate),
		CancellationDescription: p.CancellationDescription,
	}
}

func toContactDTO(c billing.Contact) ContactDTO {
	dto := ContactDTO{ID: string(c.ID), Name: c.Name, Role: string(c.Role)}
	if !c.CreatedAt.IsZero() {
		dto.CreatedAt = c.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toSweepRunDTO(run billing.SweepRun) SweepRunDTO {
	dto := SweepRunDTO{
		ID:            run.ID,
		AsOf:          run.AsOf.String(),
		Status:        string(run.Status),
		AutoCancel:    run.AutoCancel,
		Scanned:       run.Scanned,
		PendingNonPay: run.PendingNonPay,
		Cancelable:    run.Cancelable,
		Canceled:      run.Canceled,
		Error:         run.Error,
		StartedAt:     run.StartedAt.Format(time.RFC3339),
	}
	if run.CompletedAt != nil {
		dto.CompletedAt = run.CompletedAt.Format(time.RFC3339)
	}
	return dto
}
