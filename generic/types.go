/*
Package generic provides the money, date and ledger primitives of the billing engine.

PURPOSE:
  This package knows nothing about insurance. It provides the building blocks
  the billing package composes: decimal money, day-granular dates with
  calendar-month arithmetic, and an append-only ledger whose balance can be
  computed as of any date.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A decimal amount, rounded to cents at the edges
  - Entry: An immutable ledger line recording a balance change
  - Totals: Charged / reversed / paid sums of a ledger as of a date
  - Policy/Contact/Entry IDs: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Immutability: Entries are never modified, only reversed
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for IDs prevents mixing policy/contact IDs
  4. Auditability: Every entry has a reason, a reference and an optional idempotency key

SIGN CONVENTION:
  Charges are positive, payments are negative, a reversal carries the
  opposite sign of the entry it reverses. The sum of all entries up to a
  date is the amount still owed at that date.

USAGE:
  entry := generic.Entry{
      PolicyID:    "policy-1",
      Type:        generic.EntryCharge,
      EffectiveAt: generic.NewTimePoint(2015, time.January, 1),
      Delta:       generic.NewMoneyFromInt(100),
  }

SEE ALSO:
  - time.go: TimePoint and month arithmetic
  - ledger.go: Balance calculation from entries
  - store.go: Entry persistence interface
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Decimal amount (currency is implicit, single-currency system)
// =============================================================================

// CentPlaces is the number of decimal places money is rounded to.
const CentPlaces int32 = 2

type Money struct {
	Value decimal.Decimal
}

func NewMoney(value float64) Money             { return Money{Value: decimal.NewFromFloat(value)} }
func NewMoneyFromInt(value int64) Money        { return Money{Value: decimal.NewFromInt(value)} }
func MoneyFromDecimal(d decimal.Decimal) Money { return Money{Value: d} }

// ParseMoney parses a decimal string such as "1200" or "83.33".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, err
	}
	return Money{Value: d}, nil
}

// MustParseMoney panics on malformed input. Fixtures and tests only.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func ZeroMoney() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(o Money) Money  { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money  { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Neg() Money         { return Money{Value: m.Value.Neg()} }
func (m Money) IsZero() bool       { return m.Value.IsZero() }
func (m Money) IsNegative() bool   { return m.Value.IsNegative() }
func (m Money) IsPositive() bool   { return m.Value.IsPositive() }
func (m Money) Equal(o Money) bool { return m.Value.Equal(o.Value) }
func (m Money) Round() Money       { return Money{Value: m.Value.Round(CentPlaces)} }
func (m Money) String() string     { return m.Value.StringFixed(CentPlaces) }

// Float64 is used at the JSON edge only.
func (m Money) Float64() float64 {
	f, _ := m.Value.Float64()
	return f
}

// Split divides m into n parts truncated to cents. The remainder left by
// truncation is returned separately so the caller decides where it lands.
func (m Money) Split(n int) (part Money, remainder Money) {
	if n <= 0 {
		return ZeroMoney(), m
	}
	p := m.Value.Div(decimal.NewFromInt(int64(n))).Truncate(CentPlaces)
	rem := m.Value.Sub(p.Mul(decimal.NewFromInt(int64(n))))
	return Money{Value: p}, Money{Value: rem}
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PolicyID string
type ContactID string
type EntryID string

// =============================================================================
// ENTRY - Atomic change to a policy balance
// =============================================================================

type EntryType string

const (
	EntryCharge   EntryType = "charge"   // Invoice installment billed (+)
	EntryPayment  EntryType = "payment"  // Money received (-)
	EntryReversal EntryType = "reversal" // Undo a previous charge (superseded invoice)
)

type Entry struct {
	ID             EntryID
	PolicyID       PolicyID
	ContactID      ContactID // Payer for payments; empty otherwise
	Type           EntryType
	EffectiveAt    TimePoint
	Delta          Money
	ReferenceID    string // Invoice ID for charges/reversals, payment reference for payments
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
	CreatedAt      time.Time
}

// =============================================================================
// TOTALS - Computed state at a point in time
// =============================================================================

type Totals struct {
	AsOf     TimePoint
	Charged  Money // Sum of charges (positive)
	Reversed Money // Sum of reversals (negative)
	Paid     Money // Sum of payments, reported positive
}

// Due is what has been billed and not superseded.
func (t Totals) Due() Money { return t.Charged.Add(t.Reversed) }

// Balance is due minus paid. Negative means overpaid.
func (t Totals) Balance() Money { return t.Due().Sub(t.Paid) }
