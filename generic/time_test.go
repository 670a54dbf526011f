package generic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/policy-billing/generic"
)

func TestAddMonths_ClampsToEndOfMonth(t *testing.T) {
	tests := []struct {
		name   string
		from   generic.TimePoint
		months int
		want   generic.TimePoint
	}{
		{"plain", date(2015, time.January, 1), 1, date(2015, time.February, 1)},
		{"jan 31 to feb", date(2015, time.January, 31), 1, date(2015, time.February, 28)},
		{"jan 31 to feb leap year", date(2016, time.January, 31), 1, date(2016, time.February, 29)},
		{"aug 31 to nov", date(2015, time.August, 31), 3, date(2015, time.November, 30)},
		{"year rollover", date(2015, time.November, 15), 3, date(2016, time.February, 15)},
		{"zero", date(2015, time.May, 31), 0, date(2015, time.May, 31)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.from.AddMonths(tt.months)
			assert.True(t, got.Equal(tt.want), "got %s, want %s", got, tt.want)
		})
	}
}

func TestAddDays_CrossesMonth(t *testing.T) {
	got := date(2015, time.February, 1).AddDays(14)
	assert.Equal(t, "2015-02-15", got.String())

	got = date(2015, time.February, 28).AddDays(14)
	assert.Equal(t, "2015-03-14", got.String())
}

func TestParseDate(t *testing.T) {
	tp, err := generic.ParseDate("2015-02-01")
	require.NoError(t, err)
	assert.True(t, tp.Equal(date(2015, time.February, 1)))

	_, err = generic.ParseDate("2015/02/01")
	assert.Error(t, err)
}

func TestDaysBetween(t *testing.T) {
	assert.Equal(t, 59, generic.DaysBetween(date(2015, time.January, 1), date(2015, time.March, 1)))
	assert.Equal(t, -1, generic.DaysBetween(date(2015, time.January, 2), date(2015, time.January, 1)))
}

func TestMoneySplit_TruncatesToCents(t *testing.T) {
	part, rem := generic.NewMoneyFromInt(1000).Split(12)
	assert.Equal(t, "83.33", part.String())
	assert.Equal(t, "0.04", rem.String())

	part, rem = generic.NewMoneyFromInt(1200).Split(12)
	assert.Equal(t, "100.00", part.String())
	assert.True(t, rem.IsZero())
}
