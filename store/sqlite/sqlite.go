/*
Package sqlite provides a SQLite-backed implementation of the billing store.

PURPOSE:
  Implements billing.TxStore and billing.SweepRunStore using SQLite.
  The same SQL runs against PostgreSQL with minor dialect changes.

INTERFACES IMPLEMENTED:
  generic.Store:         Ledger entry persistence
  billing.Store:         Contacts, policies, invoices
  billing.TxStore:       Atomic multi-record writes
  billing.SweepRunStore: Cancellation sweep history

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on ledger_entries or invoices
  - Triggers abort any UPDATE or DELETE on ledger_entries
  - Superseded invoices are marked by reversal entries only

KEY TABLES:
  contacts:       Agents and named insureds
  policies:       Policy records (the only mutable billing table)
  invoices:       Every generated installment, superseded ones included
  ledger_entries: Immutable ledger of charges, reversals and payments
  sweep_runs:     Cancellation sweep history

INDEXES:
  - idx_ledger_entries_policy_date: Balance replay (hot path)
  - idx_invoices_policy_bill_date: Invoice listing
  - ledger_entries.idempotency_key UNIQUE: Payment retries

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for
  the whole transaction and hands fn a view bound to the *sql.Tx, so
  reads inside the transaction see its own writes.

MIGRATION:
  Schema is managed by golang-migrate from the embedded migrations/
  directory and applied on New().

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  acc, err := billing.Open(ctx, store, policyID)

SEE ALSO:
  - billing/store.go: Interface definitions
  - store/memory/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/policy-billing/billing"
	"github.com/warp/policy-billing/generic"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ billing.TxStore       = (*Store)(nil)
	_ billing.SweepRunStore = (*Store)(nil)
)

// New opens the database at dbPath and applies migrations.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewFromDB wraps an already migrated database.
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Reset drops and recreates the schema.
func (s *Store) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return migrateReset(s.db)
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// records runs every statement against q. It does no locking.
type records struct {
	q querier
}

func (s *Store) records() records {
	return records{q: s.db}
}

// =============================================================================
// LEDGER ENTRIES (generic.Store interface)
// =============================================================================

// Append adds an entry to the ledger.
func (s *Store) Append(ctx context.Context, e generic.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records().appendEntry(ctx, e)
}

// AppendBatch adds multiple entries atomically.
func (s *Store) AppendBatch(ctx context.Context, entries []generic.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := (records{q: sqlTx}).appendEntries(ctx, entries); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// Load returns all entries of a policy in replay order.
func (s *Store) Load(ctx context.Context, policyID generic.PolicyID) ([]generic.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records().load(ctx, policyID)
}

// LoadRange returns entries with EffectiveAt in [from, to].
func (s *Store) LoadRange(ctx context.Context, policyID generic.PolicyID, from, to generic.TimePoint) ([]generic.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records().loadRange(ctx, policyID, from, to)
}

// Exists checks if an idempotency key exists.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records().exists(ctx, idempotencyKey)
}

const entryColumns = `id, policy_id, contact_id, entry_type, effective_at, delta,
	reference_id, reason, idempotency_key, metadata_json, created_at`

func (r records) appendEntry(ctx context.Context, e generic.Entry) error {
	var metadataJSON sql.NullString
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		metadataJSON = sql.NullString{String: string(b), Valid: true}
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO ledger_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.PolicyID,
		nullString(string(e.ContactID)),
		e.Type,
		formatDate(e.EffectiveAt),
		e.Delta.Value.String(),
		nullString(e.ReferenceID),
		nullString(e.Reason),
		nullString(e.IdempotencyKey),
		metadataJSON,
		createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "idempotency_key") {
			return generic.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

func (r records) appendEntries(ctx context.Context, entries []generic.Entry) error {
	seen := make(map[string]bool)
	for _, e := range entries {
		if e.IdempotencyKey == "" {
			continue
		}
		if seen[e.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		seen[e.IdempotencyKey] = true
	}
	for _, e := range entries {
		if err := r.appendEntry(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (r records) load(ctx context.Context, policyID generic.PolicyID) ([]generic.Entry, error) {
	return r.queryEntries(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE policy_id = ?
		ORDER BY effective_at ASC, rowid ASC`, policyID)
}

func (r records) loadRange(ctx context.Context, policyID generic.PolicyID, from, to generic.TimePoint) ([]generic.Entry, error) {
	return r.queryEntries(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE policy_id = ? AND effective_at >= ? AND effective_at <= ?
		ORDER BY effective_at ASC, rowid ASC`,
		policyID, formatDate(from), formatDate(to))
}

func (r records) exists(ctx context.Context, idempotencyKey string) (bool, error) {
	var count int
	err := r.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ledger_entries WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	return count > 0, nil
}

func (r records) queryEntries(ctx context.Context, query string, args ...any) ([]generic.Entry, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []generic.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (generic.Entry, error) {
	var (
		e              generic.Entry
		contactID      sql.NullString
		effectiveAt    string
		delta          string
		referenceID    sql.NullString
		reason         sql.NullString
		idempotencyKey sql.NullString
		metadataJSON   sql.NullString
		createdAt      string
	)

	err := rows.Scan(
		&e.ID, &e.PolicyID, &contactID, &e.Type, &effectiveAt, &delta,
		&referenceID, &reason, &idempotencyKey, &metadataJSON, &createdAt,
	)
	if err != nil {
		return e, fmt.Errorf("failed to scan entry: %w", err)
	}

	e.ContactID = generic.ContactID(contactID.String)
	if e.EffectiveAt, err = parseDate(effectiveAt); err != nil {
		return e, err
	}
	if e.Delta, err = generic.ParseMoney(delta); err != nil {
		return e, fmt.Errorf("failed to parse delta of entry %s: %w", e.ID, err)
	}
	e.ReferenceID = referenceID.String
	e.Reason = reason.String
	e.IdempotencyKey = idempotencyKey.String
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &e.Metadata); err != nil {
			return e, fmt.Errorf("failed to decode metadata of entry %s: %w", e.ID, err)
		}
	}
	return e, nil
}

// =============================================================================
// TRANSACTIONAL STORE (billing.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx billing.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{records{q: sqlTx}}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore is the billing.Store view handed to WithTx callbacks.
type txStore struct {
	r records
}

func (ts *txStore) Append(ctx context.Context, e generic.Entry) error {
	return ts.r.appendEntry(ctx, e)
}

func (ts *txStore) AppendBatch(ctx context.Context, entries []generic.Entry) error {
	return ts.r.appendEntries(ctx, entries)
}

func (ts *txStore) Load(ctx context.Context, policyID generic.PolicyID) ([]generic.Entry, error) {
	return ts.r.load(ctx, policyID)
}

func (ts *txStore) LoadRange(ctx context.Context, policyID generic.PolicyID, from, to generic.TimePoint) ([]generic.Entry, error) {
	return ts.r.loadRange(ctx, policyID, from, to)
}

func (ts *txStore) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	return ts.r.exists(ctx, idempotencyKey)
}

func (ts *txStore) SaveContact(ctx context.Context, c billing.Contact) error {
	return ts.r.saveContact(ctx, c)
}

func (ts *txStore) GetContact(ctx context.Context, id generic.ContactID) (billing.Contact, error) {
	return ts.r.getContact(ctx, id)
}

func (ts *txStore) ListContacts(ctx context.Context) ([]billing.Contact, error) {
	return ts.r.listContacts(ctx)
}

func (ts *txStore) SavePolicy(ctx context.Context, p billing.Policy) error {
	return ts.r.savePolicy(ctx, p)
}

func (ts *txStore) GetPolicy(ctx context.Context, id generic.PolicyID) (billing.Policy, error) {
	return ts.r.getPolicy(ctx, id)
}

func (ts *txStore) ListPolicies(ctx context.Context) ([]billing.Policy, error) {
	return ts.r.listPolicies(ctx)
}

func (ts *txStore) AppendInvoices(ctx context.Context, invoices []billing.Invoice) error {
	return ts.r.appendInvoices(ctx, invoices)
}

func (ts *txStore) LoadInvoices(ctx context.Context, policyID generic.PolicyID) ([]billing.Invoice, error) {
	return ts.r.loadInvoices(ctx, policyID)
}

// =============================================================================
// CONTACT STORE
// =============================================================================

// SaveContact inserts or updates a contact.
func (s *Store) SaveContact(ctx context.Context, c billing.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records().saveContact(ctx, c)
}

// GetContact retrieves a contact by ID.
func (s *Store) GetContact(ctx context.Context, id generic.ContactID) (billing.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records().getContact(ctx, id)
}

// ListContacts returns all contacts ordered by name.
func (s *Store) ListContacts(ctx context.Context) ([]billing.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records().listContacts(ctx)
}

func (r records) saveContact(ctx context.Context, c billing.Contact) error {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO contacts (id, name, role, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role`,
		c.ID, c.Name, c.Role, createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save contact: %w", err)
	}
	return nil
}

func (r records) getContact(ctx context.Context, id generic.ContactID) (billing.Contact, error) {
	var (
		c         billing.Contact
		createdAt string
	)
	err := r.q.QueryRowContext(ctx,
		"SELECT id, name, role, created_at FROM contacts WHERE id = ?", id,
	).Scan(&c.ID, &c.Name, &c.Role, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Contact{}, generic.ErrContactNotFound
	}
	if err != nil {
		return billing.Contact{}, fmt.Errorf("failed to get contact: %w", err)
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return c, nil
}

func (r records) listContacts(ctx context.Context) ([]billing.Contact, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT id, name, role, created_at FROM contacts ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []billing.Contact
	for rows.Next() {
		var (
			c         billing.Contact
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Role, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// =============================================================================
// POLICY STORE
// =============================================================================

// SavePolicy inserts or updates a policy.
func (s *Store) SavePolicy(ctx context.Context, p billing.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records().savePolicy(ctx, p)
}

// GetPolicy retrieves a policy by ID.
func (s *Store) GetPolicy(ctx context.Context, id generic.PolicyID) (billing.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records().getPolicy(ctx, id)
}

// ListPolicies returns all policies ordered by number.
func (s *Store) ListPolicies(ctx context.Context) ([]billing.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records().listPolicies(ctx)
}

const policyColumns = `id, policy_number, effective_date, annual_premium, billing_schedule,
	status, named_insured, agent, cancellation_date, cancellation_description,
	created_at, updated_at`

func (r records) savePolicy(ctx context.Context, p billing.Policy) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	var cancellationDate sql.NullString
	if !p.CancellationDate.IsZero() {
		cancellationDate = sql.NullString{String: formatDate(p.CancellationDate), Valid: true}
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO policies (`+policyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			policy_number = excluded.policy_number,
			effective_date = excluded.effective_date,
			annual_premium = excluded.annual_premium,
			billing_schedule = excluded.billing_schedule,
			status = excluded.status,
			named_insured = excluded.named_insured,
			agent = excluded.agent,
			cancellation_date = excluded.cancellation_date,
			cancellation_description = excluded.cancellation_description,
			updated_at = excluded.updated_at`,
		p.ID,
		p.Number,
		formatDate(p.EffectiveDate),
		p.AnnualPremium.Value.String(),
		p.Schedule.String(),
		p.Status,
		nullString(string(p.NamedInsured)),
		nullString(string(p.Agent)),
		cancellationDate,
		nullString(p.CancellationDescription),
		p.CreatedAt.Format(time.RFC3339Nano),
		p.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

func (r records) getPolicy(ctx context.Context, id generic.PolicyID) (billing.Policy, error) {
	rows, err := r.q.QueryContext(ctx, "SELECT "+policyColumns+" FROM policies WHERE id = ?", id)
	if err != nil {
		return billing.Policy{}, fmt.Errorf("failed to get policy: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return billing.Policy{}, fmt.Errorf("failed to get policy: %w", err)
		}
		return billing.Policy{}, generic.ErrPolicyNotFound
	}
	return scanPolicy(rows)
}

func (r records) listPolicies(ctx context.Context) ([]billing.Policy, error) {
	rows, err := r.q.QueryContext(ctx, "SELECT "+policyColumns+" FROM policies ORDER BY policy_number, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer rows.Close()

	var policies []billing.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

func scanPolicy(rows *sql.Rows) (billing.Policy, error) {
	var (
		p                       billing.Policy
		effectiveDate           string
		premium                 string
		schedule                string
		namedInsured            sql.NullString
		agent                   sql.NullString
		cancellationDate        sql.NullString
		cancellationDescription sql.NullString
		createdAt, updatedAt    string
	)
	err := rows.Scan(
		&p.ID, &p.Number, &effectiveDate, &premium, &schedule,
		&p.Status, &namedInsured, &agent, &cancellationDate, &cancellationDescription,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return p, fmt.Errorf("failed to scan policy: %w", err)
	}

	if p.EffectiveDate, err = parseDate(effectiveDate); err != nil {
		return p, err
	}
	if p.AnnualPremium, err = generic.ParseMoney(premium); err != nil {
		return p, fmt.Errorf("failed to parse premium of policy %s: %w", p.ID, err)
	}
	if p.Schedule, err = billing.ParseSchedule(schedule); err != nil {
		return p, fmt.Errorf("policy %s: %w", p.ID, err)
	}
	p.NamedInsured = generic.ContactID(namedInsured.String)
	p.Agent = generic.ContactID(agent.String)
	if cancellationDate.Valid {
		if p.CancellationDate, err = parseDate(cancellationDate.String); err != nil {
			return p, err
		}
	}
	p.CancellationDescription = cancellationDescription.String
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return p, nil
}

// =============================================================================
// INVOICE STORE
// =============================================================================

// AppendInvoices inserts a batch of invoices atomically.
func (s *Store) AppendInvoices(ctx context.Context, invoices []billing.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := (records{q: sqlTx}).appendInvoices(ctx, invoices); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// LoadInvoices returns all invoices of a policy ordered by bill date.
func (s *Store) LoadInvoices(ctx context.Context, policyID generic.PolicyID) ([]billing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records().loadInvoices(ctx, policyID)
}

func (r records) appendInvoices(ctx context.Context, invoices []billing.Invoice) error {
	for _, inv := range invoices {
		createdAt := inv.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := r.q.ExecContext(ctx, `
			INSERT INTO invoices (id, policy_id, batch_id, billing_schedule, installment,
				bill_date, due_date, cancel_date, amount_due, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			inv.ID, inv.PolicyID, inv.BatchID, inv.Schedule.String(), inv.Installment,
			formatDate(inv.BillDate), formatDate(inv.DueDate), formatDate(inv.CancelDate),
			inv.AmountDue.Value.String(), createdAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("failed to append invoice: %w", err)
		}
	}
	return nil
}

func (r records) loadInvoices(ctx context.Context, policyID generic.PolicyID) ([]billing.Invoice, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, policy_id, batch_id, billing_schedule, installment,
			bill_date, due_date, cancel_date, amount_due, created_at
		FROM invoices
		WHERE policy_id = ?
		ORDER BY bill_date ASC, rowid ASC`, policyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var invoices []billing.Invoice
	for rows.Next() {
		var (
			inv                       billing.Invoice
			schedule                  string
			billDate, dueDate, cancel string
			amount, createdAt         string
		)
		if err := rows.Scan(
			&inv.ID, &inv.PolicyID, &inv.BatchID, &schedule, &inv.Installment,
			&billDate, &dueDate, &cancel, &amount, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		if inv.Schedule, err = billing.ParseSchedule(schedule); err != nil {
			return nil, fmt.Errorf("invoice %s: %w", inv.ID, err)
		}
		if inv.BillDate, err = parseDate(billDate); err != nil {
			return nil, err
		}
		if inv.DueDate, err = parseDate(dueDate); err != nil {
			return nil, err
		}
		if inv.CancelDate, err = parseDate(cancel); err != nil {
			return nil, err
		}
		if inv.AmountDue, err = generic.ParseMoney(amount); err != nil {
			return nil, fmt.Errorf("failed to parse amount of invoice %s: %w", inv.ID, err)
		}
		inv.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// =============================================================================
// SWEEP RUN STORE
// =============================================================================

// SaveSweepRun inserts a run or updates the one with the same ID.
func (s *Store) SaveSweepRun(ctx context.Context, run billing.SweepRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var completedAt sql.NullString
	if run.CompletedAt != nil {
		completedAt = sql.NullString{String: run.CompletedAt.Format(time.RFC3339Nano), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sweep_runs (id, as_of, status, auto_cancel, scanned, pending_nonpay,
			cancelable, canceled, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			scanned = excluded.scanned,
			pending_nonpay = excluded.pending_nonpay,
			cancelable = excluded.cancelable,
			canceled = excluded.canceled,
			error = excluded.error,
			completed_at = excluded.completed_at`,
		run.ID, formatDate(run.AsOf), run.Status, run.AutoCancel,
		run.Scanned, run.PendingNonPay, run.Cancelable, run.Canceled,
		nullString(run.Error), run.StartedAt.Format(time.RFC3339Nano), completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save sweep run: %w", err)
	}
	return nil
}

// ListSweepRuns returns the most recent runs first. limit <= 0 means all.
func (s *Store) ListSweepRuns(ctx context.Context, limit int) ([]billing.SweepRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, as_of, status, auto_cancel, scanned, pending_nonpay,
			cancelable, canceled, error, started_at, completed_at
		FROM sweep_runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sweep runs: %w", err)
	}
	defer rows.Close()

	var runs []billing.SweepRun
	for rows.Next() {
		var (
			run                 billing.SweepRun
			asOf, startedAt     string
			runErr, completedAt sql.NullString
		)
		if err := rows.Scan(
			&run.ID, &asOf, &run.Status, &run.AutoCancel, &run.Scanned, &run.PendingNonPay,
			&run.Cancelable, &run.Canceled, &runErr, &startedAt, &completedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sweep run: %w", err)
		}
		if run.AsOf, err = parseDate(asOf); err != nil {
			return nil, err
		}
		run.Error = runErr.String
		run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		if completedAt.Valid {
			t, _ := time.Parse(time.RFC3339Nano, completedAt.String)
			run.CompletedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatDate(tp generic.TimePoint) string {
	return tp.Time.Format(generic.DateLayout)
}

func parseDate(s string) (generic.TimePoint, error) {
	tp, err := generic.ParseDate(s)
	if err != nil {
		return generic.TimePoint{}, fmt.Errorf("failed to parse stored date: %w", err)
	}
	return tp, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
