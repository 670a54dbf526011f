/*
Package factory converts JSON seed fixtures into billing records.

PURPOSE:
  Demo and test data is described as JSON instead of Go code so the
  admin seed endpoint, the --seed flag and the tests all load the same
  fixture. ParseSeed resolves every reference up front; Load then writes
  contacts, opens each policy (which bills it) and records payments.

JSON SCHEMA:
  {
    "contacts": [
      {"key": "anna-white", "name": "Anna White", "role": "Named Insured"}
    ],
    "policies": [
      {
        "number": "Policy Two",
        "effective_date": "2015-02-01",
        "annual_premium": 1600,
        "billing_schedule": "Quarterly",
        "named_insured": "anna-white",
        "agent": "joe-lee"
      }
    ],
    "payments": [
      {"policy": "Policy Two", "contact": "anna-white", "amount": 400, "date": "2015-02-01"}
    ]
  }

  Contact keys become contact IDs. Payments refer to policies by number.

SEE ALSO:
  - default.json: The demo fixture
  - api/seed.go: POST /api/admin/seed
*/
package factory

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/warp/policy-billing/billing"
	"github.com/warp/policy-billing/generic"
)

//go:embed default.json
var defaultFixture []byte

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

type SeedJSON struct {
	Contacts []ContactJSON `json:"contacts" validate:"dive"`
	Policies []PolicyJSON  `json:"policies" validate:"dive"`
	Payments []PaymentJSON `json:"payments" validate:"dive"`
}

type ContactJSON struct {
	Key  string `json:"key" validate:"required"`
	Name string `json:"name" validate:"required"`
	Role string `json:"role" validate:"required,oneof=Agent 'Named Insured'"`
}

type PolicyJSON struct {
	Number          string          `json:"number" validate:"required"`
	EffectiveDate   string          `json:"effective_date" validate:"required"`
	AnnualPremium   decimal.Decimal `json:"annual_premium"`
	BillingSchedule string          `json:"billing_schedule" validate:"required"`
	NamedInsured    string          `json:"named_insured"`
	Agent           string          `json:"agent"`
}

type PaymentJSON struct {
	Policy  string          `json:"policy" validate:"required"`
	Contact string          `json:"contact"`
	Amount  decimal.Decimal `json:"amount"`
	Date    string          `json:"date" validate:"required"`
}

// =============================================================================
// PARSED SEED
// =============================================================================

// Seed is a fixture with every reference resolved.
type Seed struct {
	Contacts []billing.Contact
	Policies []billing.Policy // IDs are assigned on Load
	Payments []SeedPayment
}

type SeedPayment struct {
	PolicyNumber string
	Request      billing.PaymentRequest
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Default returns the embedded demo fixture.
func Default() (*Seed, error) {
	return ParseSeed(defaultFixture)
}

// ParseSeed decodes and validates a fixture. Every error wraps
// generic.ErrInvalidFixture, except unknown schedules which keep
// generic.ErrUnknownSchedule.
func ParseSeed(data []byte) (*Seed, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var sj SeedJSON
	if err := dec.Decode(&sj); err != nil {
		return nil, fmt.Errorf("%w: %v", generic.ErrInvalidFixture, err)
	}
	if err := validate.Struct(sj); err != nil {
		return nil, fmt.Errorf("%w: %v", generic.ErrInvalidFixture, err)
	}
	return sj.resolve()
}

func (sj SeedJSON) resolve() (*Seed, error) {
	seed := &Seed{}

	contacts := make(map[string]billing.ContactRole, len(sj.Contacts))
	for _, c := range sj.Contacts {
		if _, dup := contacts[c.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate contact key %q", generic.ErrInvalidFixture, c.Key)
		}
		role := billing.ContactRole(c.Role)
		contacts[c.Key] = role
		seed.Contacts = append(seed.Contacts, billing.Contact{
			ID:   generic.ContactID(c.Key),
			Name: c.Name,
			Role: role,
		})
	}

	contactRef := func(what, key string) (generic.ContactID, error) {
		if key == "" {
			return "", nil
		}
		if _, ok := contacts[key]; !ok {
			return "", fmt.Errorf("%w: %s refers to unknown contact %q", generic.ErrInvalidFixture, what, key)
		}
		return generic.ContactID(key), nil
	}

	numbers := make(map[string]bool, len(sj.Policies))
	for _, pj := range sj.Policies {
		if numbers[pj.Number] {
			return nil, fmt.Errorf("%w: duplicate policy number %q", generic.ErrInvalidFixture, pj.Number)
		}
		numbers[pj.Number] = true

		effective, err := generic.ParseDate(pj.EffectiveDate)
		if err != nil {
			return nil, fmt.Errorf("%w: policy %s effective date: %v", generic.ErrInvalidFixture, pj.Number, err)
		}
		schedule, err := billing.ParseSchedule(pj.BillingSchedule)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", pj.Number, err)
		}
		if pj.AnnualPremium.IsNegative() {
			return nil, fmt.Errorf("%w: policy %s has a negative premium", generic.ErrInvalidFixture, pj.Number)
		}
		insured, err := contactRef("policy "+pj.Number+" named_insured", pj.NamedInsured)
		if err != nil {
			return nil, err
		}
		agent, err := contactRef("policy "+pj.Number+" agent", pj.Agent)
		if err != nil {
			return nil, err
		}

		seed.Policies = append(seed.Policies, billing.Policy{
			Number:        pj.Number,
			EffectiveDate: effective,
			AnnualPremium: generic.MoneyFromDecimal(pj.AnnualPremium),
			Schedule:      schedule,
			NamedInsured:  insured,
			Agent:         agent,
		})
	}

	for i, pay := range sj.Payments {
		if !numbers[pay.Policy] {
			return nil, fmt.Errorf("%w: payment %d refers to unknown policy %q", generic.ErrInvalidFixture, i, pay.Policy)
		}
		date, err := generic.ParseDate(pay.Date)
		if err != nil {
			return nil, fmt.Errorf("%w: payment %d date: %v", generic.ErrInvalidFixture, i, err)
		}
		if !pay.Amount.IsPositive() {
			return nil, fmt.Errorf("%w: payment %d amount must be positive", generic.ErrInvalidFixture, i)
		}
		payer, err := contactRef(fmt.Sprintf("payment %d", i), pay.Contact)
		if err != nil {
			return nil, err
		}
		seed.Payments = append(seed.Payments, SeedPayment{
			PolicyNumber: pay.Policy,
			Request: billing.PaymentRequest{
				ContactID: payer,
				Date:      date,
				Amount:    generic.MoneyFromDecimal(pay.Amount),
			},
		})
	}

	return seed, nil
}

// =============================================================================
// LOADING
// =============================================================================

// LoadResult reports what Load wrote.
type LoadResult struct {
	Contacts int
	Policies []billing.Policy
	Payments int
}

// Load writes the seed into store in one transaction. It does not clear the
// store first.
func Load(ctx context.Context, store billing.TxStore, seed *Seed, opts ...billing.Option) (LoadResult, error) {
	var result LoadResult
	err := store.WithTx(ctx, func(tx billing.Store) error {
		var err error
		result, err = load(ctx, billing.InTx(tx), seed, opts)
		return err
	})
	if err != nil {
		return LoadResult{}, err
	}
	return result, nil
}

func load(ctx context.Context, store billing.TxStore, seed *Seed, opts []billing.Option) (LoadResult, error) {
	var result LoadResult

	for _, c := range seed.Contacts {
		if err := store.SaveContact(ctx, c); err != nil {
			return result, fmt.Errorf("save contact %s: %w", c.ID, err)
		}
		result.Contacts++
	}

	accounts := make(map[string]*billing.Accounting, len(seed.Policies))
	for _, p := range seed.Policies {
		acc, err := billing.CreatePolicy(ctx, store, p, opts...)
		if err != nil {
			return result, fmt.Errorf("create policy %s: %w", p.Number, err)
		}
		accounts[p.Number] = acc
		result.Policies = append(result.Policies, acc.Policy())
	}

	for _, pay := range seed.Payments {
		acc := accounts[pay.PolicyNumber]
		if _, err := acc.MakePayment(ctx, pay.Request); err != nil {
			return result, fmt.Errorf("payment on %s: %w", pay.PolicyNumber, err)
		}
		result.Payments++
	}

	return result, nil
}
