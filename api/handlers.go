/*
handlers.go - HTTP API handlers for policy billing

PURPOSE:
  Exposes the billing engine via REST API. Handles HTTP request/response,
  JSON serialization and validation, and delegates every computation to
  billing.Accounting.

ENDPOINTS:
  Policies:
    GET    /api/policies                     List policies with contact names
    POST   /api/policies                     Create and bill a policy
    GET    /api/policy/{id}?date=            Policy detail as of date
    PUT    /api/policy/{id}/schedule         Change billing schedule
    POST   /api/policy/{id}/payments         Record payment (Idempotency-Key)
    GET    /api/policy/{id}/cancellation     Pending/cancelable as of date
    POST   /api/policy/{id}/cancel           Cancel policy

  Contacts:
    GET    /api/contacts                     List contacts
    POST   /api/contacts                     Create contact

  Admin:
    POST   /api/admin/sweep                  Run a cancellation sweep
    GET    /api/admin/sweeps                 Recent sweep runs
    POST   /api/admin/seed                   Reset and load the demo fixture

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Persistence (SQLite or memory)
  - Options: Clock, logger and metrics observer passed to every Accounting
  - validate: Request validation

  Handlers hold no billing state. Each request opens the policy's
  Accounting, which replays its ledger.

ERROR HANDLING:
  Errors are returned as ErrorResponse JSON:
  - 400: Validation errors, unknown schedule, invalid amount or date
  - 404: Unknown policy ({"error": "Policy not found!", "code": "policy_not_found"})
  - 409: Not cancelable, already canceled, duplicate idempotency key
  - 422: Payment without payer, reference to an unknown contact
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - seed.go: Demo fixture endpoint
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/policy-billing/billing"
	"github.com/warp/policy-billing/generic"
	"github.com/warp/policy-billing/logging"
	"github.com/warp/policy-billing/metrics"
)

// IdempotencyKeyHeader carries the client's retry key for payments.
const IdempotencyKeyHeader = "Idempotency-Key"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is everything the API needs from persistence.
type Store interface {
	billing.TxStore
	billing.SweepRunStore
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      Store
	Logger     *zap.Logger
	AutoCancel bool // Default for manual sweeps

	options  []billing.Option
	validate *validator.Validate
}

// NewHandler creates a handler. opts are passed to every billing.Accounting;
// the logger and metrics observer are added here.
func NewHandler(store Store, logger *zap.Logger, opts ...billing.Option) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	options := []billing.Option{
		billing.WithLogger(logger),
		billing.WithObserver(metrics.Observer{}),
	}
	return &Handler{
		Store:    store,
		Logger:   logger,
		options:  append(options, opts...),
		validate: newValidator(),
	}
}

// Sweeper builds a sweeper over the handler's store.
func (h *Handler) Sweeper(autoCancel bool) *billing.Sweeper {
	return &billing.Sweeper{
		Store:      h.Store,
		Runs:       h.Store,
		AutoCancel: autoCancel,
		Logger:     h.Logger.Named("sweep"),
		Options:    h.options,
	}
}

func (h *Handler) open(ctx context.Context, id string) (*billing.Accounting, error) {
	return billing.Open(ctx, h.Store, generic.PolicyID(id), h.options...)
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// ListPolicies returns all policies with agent and insured names.
// GET /api/policies
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	policies, err := h.Store.ListPolicies(ctx)
	if err != nil {
		h.writeDomainError(w, r, "Failed to list policies", err)
		return
	}
	contacts, err := h.Store.ListContacts(ctx)
	if err != nil {
		h.writeDomainError(w, r, "Failed to list contacts", err)
		return
	}
	names := make(map[generic.ContactID]string, len(contacts))
	for _, c := range contacts {
		names[c.ID] = c.Name
	}

	dtos := make([]PolicySummaryDTO, len(policies))
	for i, p := range policies {
		dtos[i] = PolicySummaryDTO{
			ID:              string(p.ID),
			PolicyNumber:    p.Number,
			EffectiveDate:   p.EffectiveDate.String(),
			Status:          string(p.Status),
			BillingSchedule: p.Schedule.String(),
			AnnualPremium:   amount(p.AnnualPremium),
			NamedInsured:    names[p.NamedInsured],
			Agent:           names[p.Agent],
		}
	}

	writeJSON(w, http.StatusOK, PolicyListResponse{Policies: dtos})
}

// GetPolicy returns one policy as of ?date= (default today).
// GET /api/policy/{id}
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	at, ok := h.dateParam(w, r)
	if !ok {
		return
	}
	acc, err := h.open(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, "Failed to load policy", err)
		return
	}
	h.writePolicy(w, r, http.StatusOK, acc, at)
}

// CreatePolicy creates a policy and generates its invoices.
// POST /api/policies
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req CreatePolicyRequest
	if !h.decode(w, r, &req) {
		return
	}

	effective, _ := parseDate(req.EffectiveDate)
	schedule, _ := billing.ParseSchedule(req.BillingSchedule)
	acc, err := billing.CreatePolicy(r.Context(), h.Store, billing.Policy{
		Number:        req.PolicyNumber,
		EffectiveDate: effective,
		AnnualPremium: generic.NewMoney(req.AnnualPremium).Round(),
		Schedule:      schedule,
		NamedInsured:  generic.ContactID(req.NamedInsured),
		Agent:         generic.ContactID(req.Agent),
	}, h.options...)
	if err != nil {
		h.writeDomainError(w, r, "Failed to create policy", err)
		return
	}
	h.writePolicy(w, r, http.StatusCreated, acc, effective)
}

// ChangeSchedule supersedes the active invoices and bills the new schedule.
// PUT /api/policy/{id}/schedule
func (h *Handler) ChangeSchedule(w http.ResponseWriter, r *http.Request) {
	var req ChangeScheduleRequest
	if !h.decode(w, r, &req) {
		return
	}
	acc, err := h.open(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, "Failed to load policy", err)
		return
	}

	schedule, _ := billing.ParseSchedule(req.BillingSchedule)
	if err := acc.ChangeSchedule(r.Context(), schedule); err != nil {
		h.writeDomainError(w, r, "Failed to change billing schedule", err)
		return
	}
	h.writePolicy(w, r, http.StatusOK, acc, generic.TimePoint{})
}

// writePolicy renders the policy summary as of at.
func (h *Handler) writePolicy(w http.ResponseWriter, r *http.Request, status int, acc *billing.Accounting, at generic.TimePoint) {
	summary, err := acc.Summary(r.Context(), at)
	if err != nil {
		h.writeDomainError(w, r, "Failed to summarize policy", err)
		return
	}
	writeJSON(w, status, PolicyResponse{Policy: toPolicyDetailDTO(summary)})
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// MakePayment records a payment against a policy.
// POST /api/policy/{id}/payments
func (h *Handler) MakePayment(w http.ResponseWriter, r *http.Request) {
	var req MakePaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	acc, err := h.open(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, "Failed to load policy", err)
		return
	}

	date, _ := parseDate(req.Date)
	payment, err := acc.MakePayment(r.Context(), billing.PaymentRequest{
		ContactID:      generic.ContactID(req.ContactID),
		Date:           date,
		Amount:         generic.NewMoney(req.Amount).Round(),
		IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to record payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(payment))
}

// =============================================================================
// CANCELLATION HANDLERS
// =============================================================================

// GetCancellation evaluates the cancellation rules as of ?date=.
// GET /api/policy/{id}/cancellation
func (h *Handler) GetCancellation(w http.ResponseWriter, r *http.Request) {
	at, ok := h.dateParam(w, r)
	if !ok {
		return
	}
	acc, err := h.open(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, "Failed to load policy", err)
		return
	}
	summary, err := acc.Summary(r.Context(), at)
	if err != nil {
		h.writeDomainError(w, r, "Failed to evaluate cancellation", err)
		return
	}

	writeJSON(w, http.StatusOK, CancellationDTO{
		PolicyID:      string(summary.Policy.ID),
		Date:          summary.AsOf.String(),
		Status:        string(summary.Policy.Status),
		Balance:       amount(summary.Balance),
		PendingNonPay: summary.PendingNonPay,
		Cancelable:    summary.Cancelable,
		Reason:        string(summary.CancelReason),
	})
}

// CancelPolicy cancels a policy when the rules allow it.
// POST /api/policy/{id}/cancel
func (h *Handler) CancelPolicy(w http.ResponseWriter, r *http.Request) {
	var req CancelPolicyRequest
	if !h.decode(w, r, &req) {
		return
	}
	acc, err := h.open(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, "Failed to load policy", err)
		return
	}

	date, _ := parseDate(req.Date)
	reason, err := acc.CancelPolicy(r.Context(), req.Description, date)
	if err != nil {
		h.writeDomainError(w, r, "Failed to cancel policy", err)
		return
	}
	summary, err := acc.Summary(r.Context(), acc.Policy().CancellationDate)
	if err != nil {
		h.writeDomainError(w, r, "Failed to summarize policy", err)
		return
	}
	writeJSON(w, http.StatusOK, CancelPolicyResponse{
		Reason: string(reason),
		Policy: toPolicyDetailDTO(summary),
	})
}

// =============================================================================
// CONTACT HANDLERS
// =============================================================================

// ListContacts returns all contacts.
// GET /api/contacts
func (h *Handler) ListContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := h.Store.ListContacts(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "Failed to list contacts", err)
		return
	}
	dtos := make([]ContactDTO, len(contacts))
	for i, c := range contacts {
		dtos[i] = toContactDTO(c)
	}
	writeJSON(w, http.StatusOK, ContactListResponse{Contacts: dtos})
}

// CreateContact creates an agent or named insured.
// POST /api/contacts
func (h *Handler) CreateContact(w http.ResponseWriter, r *http.Request) {
	var req CreateContactRequest
	if !h.decode(w, r, &req) {
		return
	}
	contact := billing.Contact{
		ID:        generic.ContactID(uuid.NewString()),
		Name:      req.Name,
		Role:      billing.ContactRole(req.Role),
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.SaveContact(r.Context(), contact); err != nil {
		h.writeDomainError(w, r, "Failed to create contact", err)
		return
	}
	writeJSON(w, http.StatusCreated, toContactDTO(contact))
}

// =============================================================================
// SWEEP HANDLERS
// =============================================================================

// RunSweep runs the cancellation sweep now.
// POST /api/admin/sweep
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	var req SweepRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	autoCancel := h.AutoCancel
	if req.AutoCancel != nil {
		autoCancel = *req.AutoCancel
	}

	date, _ := parseDate(req.Date)
	run, err := h.Sweeper(autoCancel).Run(r.Context(), date)
	metrics.RecordSweep(run)
	if err != nil {
		h.writeDomainError(w, r, "Sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toSweepRunDTO(run))
}

// ListSweepRuns returns recent sweeps, newest first.
// GET /api/admin/sweeps?limit=
func (h *Handler) ListSweepRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", "invalid_limit", err)
			return
		}
		limit = n
	}

	runs, err := h.Store.ListSweepRuns(r.Context(), limit)
	if err != nil {
		h.writeDomainError(w, r, "Failed to list sweep runs", err)
		return
	}
	dtos := make([]SweepRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toSweepRunDTO(run)
	}
	writeJSON(w, http.StatusOK, SweepRunListResponse{Runs: dtos})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, code string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps billing errors to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	switch {
	case errors.Is(err, generic.ErrPolicyNotFound):
		writeError(w, http.StatusNotFound, "Policy not found!", "policy_not_found", nil)
	case errors.Is(err, generic.ErrContactNotFound):
		writeError(w, http.StatusUnprocessableEntity, "Contact not found", "contact_not_found", err)
	case errors.Is(err, generic.ErrMissingNamedInsured):
		writeError(w, http.StatusUnprocessableEntity, message, "missing_named_insured", err)
	case errors.Is(err, generic.ErrUnknownSchedule):
		writeError(w, http.StatusBadRequest, message, "unknown_schedule", err)
	case errors.Is(err, generic.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, message, "invalid_amount", err)
	case generic.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, "invalid_request", err)
	case errors.Is(err, generic.ErrNotCancelable):
		writeError(w, http.StatusConflict, message, "not_cancelable", err)
	case errors.Is(err, generic.ErrPolicyCanceled):
		writeError(w, http.StatusConflict, message, "policy_canceled", err)
	case errors.Is(err, generic.ErrDuplicateIdempotencyKey):
		writeError(w, http.StatusConflict, message, "duplicate_idempotency_key", err)
	default:
		logging.FromContext(r.Context()).Error(message, zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, "internal_error", err)
	}
}

// decode reads and validates a JSON body. It writes the error response
// and returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "invalid_body", err)
		return false
	}
	return h.check(w, dst)
}

// decodeOptional is decode for bodies that may be empty.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", "invalid_body", err)
		return false
	}
	return h.check(w, dst)
}

func (h *Handler) check(w http.ResponseWriter, dst any) bool {
	if err := h.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Request validation failed",
			Code:    "validation_failed",
			Details: validationDetails(err),
		})
		return false
	}
	return true
}

// dateParam reads ?date=. Missing means today (zero TimePoint).
func (h *Handler) dateParam(w http.ResponseWriter, r *http.Request) (generic.TimePoint, bool) {
	at, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be formatted YYYY-MM-DD", "invalid_date", err)
		return generic.TimePoint{}, false
	}
	return at, true
}
