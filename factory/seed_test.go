package factory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/policy-billing/billing"
	"github.com/warp/policy-billing/generic"
	"github.com/warp/policy-billing/store/memory"
)

func TestDefault_Parses(t *testing.T) {
	seed, err := Default()
	require.NoError(t, err)

	assert.Len(t, seed.Contacts, 6)
	require.Len(t, seed.Policies, 4)
	require.Len(t, seed.Payments, 1)

	two := seed.Policies[1]
	assert.Equal(t, "Policy Two", two.Number)
	assert.Equal(t, billing.ScheduleQuarterly, two.Schedule)
	assert.Equal(t, "1600.00", two.AnnualPremium.String())
	assert.Equal(t, generic.ContactID("anna-white"), two.NamedInsured)
	assert.Equal(t, generic.ContactID("joe-lee"), two.Agent)

	pay := seed.Payments[0]
	assert.Equal(t, "Policy Two", pay.PolicyNumber)
	assert.Equal(t, "400.00", pay.Request.Amount.String())
	assert.Equal(t, "2015-02-01", pay.Request.Date.String())
}

func TestLoad_DefaultFixture(t *testing.T) {
	// GIVEN: The demo fixture
	// WHEN: Loading it into an empty store
	// THEN: Every policy is billed and Policy Two is paid up on its effective date

	ctx := context.Background()
	store := memory.New()
	seed, err := Default()
	require.NoError(t, err)

	result, err := Load(ctx, store, seed)
	require.NoError(t, err)
	assert.Equal(t, 6, result.Contacts)
	assert.Len(t, result.Policies, 4)
	assert.Equal(t, 1, result.Payments)

	expected := map[string]struct {
		invoices int
		at       generic.TimePoint
		balance  string
	}{
		"Policy One":   {1, generic.NewTimePoint(2015, time.January, 1), "365.00"},
		"Policy Two":   {4, generic.NewTimePoint(2015, time.February, 1), "0.00"},
		"Policy Three": {12, generic.NewTimePoint(2015, time.March, 1), "300.00"},
		"Policy Four":  {2, generic.NewTimePoint(2015, time.February, 1), "250.00"},
	}
	for _, p := range result.Policies {
		want := expected[p.Number]
		acc, err := billing.Open(ctx, store, p.ID)
		require.NoError(t, err)

		invoices, err := acc.ActiveInvoices(ctx)
		require.NoError(t, err)
		assert.Len(t, invoices, want.invoices, p.Number)

		bal, err := acc.Balance(ctx, want.at)
		require.NoError(t, err)
		assert.Equal(t, want.balance, bal.String(), p.Number)
	}
}

func TestLoad_RollsBackOnFailure(t *testing.T) {
	// GIVEN: The demo fixture with a payment the engine rejects
	// WHEN: Loading it
	// THEN: Nothing from the fixture is kept

	ctx := context.Background()
	store := memory.New()
	seed, err := Default()
	require.NoError(t, err)
	seed.Payments[0].Request.Amount = generic.ZeroMoney()

	_, err = Load(ctx, store, seed)
	require.ErrorIs(t, err, generic.ErrInvalidAmount)

	contacts, err := store.ListContacts(ctx)
	require.NoError(t, err)
	assert.Empty(t, contacts)
	policies, err := store.ListPolicies(ctx)
	require.NoError(t, err)
	assert.Empty(t, policies)
}

func TestParseSeed_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		fixture  string
		schedule bool
	}{
		{
			name:    "malformed json",
			fixture: `{"contacts": [`,
		},
		{
			name:    "unknown field",
			fixture: `{"contacts": [], "clients": []}`,
		},
		{
			name:    "bad role",
			fixture: `{"contacts": [{"key": "a", "name": "A", "role": "Broker"}]}`,
		},
		{
			name:     "unknown schedule",
			fixture:  `{"policies": [{"number": "P", "effective_date": "2015-01-01", "annual_premium": 10, "billing_schedule": "Weekly"}]}`,
			schedule: true,
		},
		{
			name:    "unknown contact",
			fixture: `{"policies": [{"number": "P", "effective_date": "2015-01-01", "annual_premium": 10, "billing_schedule": "Annual", "agent": "nobody"}]}`,
		},
		{
			name:    "bad date",
			fixture: `{"policies": [{"number": "P", "effective_date": "01/01/2015", "annual_premium": 10, "billing_schedule": "Annual"}]}`,
		},
		{
			name:    "duplicate policy",
			fixture: `{"policies": [{"number": "P", "effective_date": "2015-01-01", "billing_schedule": "Annual"}, {"number": "P", "effective_date": "2015-01-01", "billing_schedule": "Annual"}]}`,
		},
		{
			name:    "payment on unknown policy",
			fixture: `{"payments": [{"policy": "Nope", "amount": 10, "date": "2015-01-01"}]}`,
		},
		{
			name:    "non-positive payment",
			fixture: `{"policies": [{"number": "P", "effective_date": "2015-01-01", "billing_schedule": "Annual"}], "payments": [{"policy": "P", "amount": 0, "date": "2015-01-01"}]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSeed([]byte(tt.fixture))
			require.Error(t, err)
			assert.True(t, generic.IsClientError(err))
			if tt.schedule {
				assert.ErrorIs(t, err, generic.ErrUnknownSchedule)
			} else {
				assert.ErrorIs(t, err, generic.ErrInvalidFixture)
			}
		})
	}
}
