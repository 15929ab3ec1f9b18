package rotation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHistory maps tiers to their latest label.
type fakeHistory map[Tier]Label

func (h fakeHistory) Latest(t Tier) (Label, bool) {
	l, ok := h[t]
	return l, ok
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 0, 0, 0, time.UTC)
}

func TestDecide(t *testing.T) {
	// 2024-01-01 is a Monday, 2024-01-07 is a Sunday.
	full := fakeHistory{
		Monthly: "monthly-20231201",
		Weekly:  "weekly-20231224",
		Daily:   "daily-20231230",
	}

	tests := []struct {
		name string
		date time.Time
		hist History
		tier Tier
		want Label
	}{
		{
			name: "empty history forces monthly regardless of date",
			date: date(2024, time.January, 18), // plain Thursday
			hist: fakeHistory{},
			tier: Monthly,
			want: "monthly-20240118",
		},
		{
			name: "empty history forces monthly even on a Sunday",
			date: date(2024, time.January, 7),
			hist: fakeHistory{},
			tier: Monthly,
			want: "monthly-20240107",
		},
		{
			name: "first of month selects monthly with full history",
			date: date(2024, time.January, 1),
			hist: full,
			tier: Monthly,
			want: "monthly-20240101",
		},
		{
			name: "missing weekly forces weekly on a weekday",
			date: date(2024, time.January, 18),
			hist: fakeHistory{Monthly: "monthly-20240101"},
			tier: Weekly,
			want: "weekly-20240118",
		},
		{
			name: "sunday selects weekly",
			date: date(2024, time.January, 7),
			hist: full,
			tier: Weekly,
			want: "weekly-20240107",
		},
		{
			name: "ordinary weekday selects daily",
			date: date(2024, time.January, 18),
			hist: full,
			tier: Daily,
			want: "daily-20240118",
		},
		{
			name: "monthly precedence beats sunday on the first",
			date: date(2024, time.September, 1), // a Sunday
			hist: full,
			tier: Monthly,
			want: "monthly-20240901",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier, label := Decide(tt.date, tt.hist)
			assert.Equal(t, tt.tier, tier)
			assert.Equal(t, tt.want, label)
		})
	}
}

func TestParseLabel(t *testing.T) {
	tier, d, err := ParseLabel("weekly-20240107")
	require.NoError(t, err)
	assert.Equal(t, Weekly, tier)
	assert.Equal(t, time.Date(2024, time.January, 7, 0, 0, 0, 0, time.UTC), d)

	for _, bad := range []Label{"", "weekly", "hourly-20240107", "weekly-2024017", "weekly-20240107-extra"} {
		_, _, err := ParseLabel(bad)
		assert.Error(t, err, "label %q should not parse", bad)
	}
}

func TestLabelOrdering(t *testing.T) {
	// Lexicographic order of same-tier labels must match chronological order.
	older := NewLabel(Daily, date(2024, time.January, 9))
	newer := NewLabel(Daily, date(2024, time.February, 1))
	assert.True(t, older < newer)
}

func TestParseTier_RoundTrip(t *testing.T) {
	for _, tier := range Tiers {
		got, err := ParseTier(tier.String())
		require.NoError(t, err)
		assert.Equal(t, tier, got)
	}
	_, err := ParseTier("yearly")
	assert.Error(t, err)
}
