package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSpec(t *testing.T) {
	until := time.Date(2026, 6, 30, 23, 59, 59, 0, time.UTC)

	tests := []struct {
		text string
		want Spec
	}{
		{"FREQ=DAILY", DailySpec{Every: 1}},
		{"RRULE:FREQ=WEEKLY;INTERVAL=2", WeeklySpec{Every: 2}},
		{"FREQ=MONTHLY;COUNT=6", MonthlySpec{Every: 1, Limit: Limit{Count: 6}}},
		{"FREQ=YEARLY;INTERVAL=4;UNTIL=20260630T235959Z", YearlySpec{Every: 4, Limit: Limit{Until: &until}}},
	}
	for _, tc := range tests {
		t.Run(tc.text, func(t *testing.T) {
			got, err := ParseSpec(tc.text)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseSpecRejects(t *testing.T) {
	for _, text := range []string{
		"",
		"garbage",
		"INTERVAL=2",
		"FREQ=HOURLY",
		"FREQ=SECONDLY;INTERVAL=5",
		"FREQ=WEEKLY;BYDAY=MO,WE",
		"FREQ=MONTHLY;BYMONTHDAY=-1",
		"FREQ=DAILY;INTERVAL=0",
		"FREQ=DAILY;INTERVAL=-3",
		"FREQ=DAILY;COUNT=-1",
		"FREQ=DAILY;COUNT=2;UNTIL=20260101T000000Z",
		"FREQ=WEEKLY;WKST=SU",
		"DTSTART:20260101T000000Z\nRRULE:FREQ=DAILY",
	} {
		_, err := ParseSpec(text)
		assert.ErrorIs(t, err, ErrInvalidRule, "%q", text)
	}
}

func TestFormatSpecRoundTrip(t *testing.T) {
	until := time.Date(2027, 3, 1, 12, 0, 0, 0, time.UTC)
	anchor := time.Date(2026, 1, 31, 9, 0, 0, 0, time.UTC)
	from := anchor.AddDate(0, -1, 0)
	to := anchor.AddDate(3, 0, 0)

	for _, s := range []Spec{
		DailySpec{Every: 1},
		DailySpec{Every: 3, Limit: Limit{Count: 10}},
		WeeklySpec{Every: 2, Limit: Limit{Until: &until}},
		MonthlySpec{Every: 1},
		MonthlySpec{Every: 5, Limit: Limit{Count: 4}},
		YearlySpec{Every: 1, Limit: Limit{Until: &until}},
	} {
		text := FormatSpec(s)
		back, err := ParseSpec(text)
		require.NoError(t, err, text)
		assert.Equal(t, s, back, text)
		assert.Equal(t, Expand(s, anchor, from, to), Expand(back, anchor, from, to), text)
	}
}

func TestFormatSpecText(t *testing.T) {
	assert.Equal(t, "FREQ=WEEKLY;INTERVAL=1", FormatSpec(WeeklySpec{Every: 1}))
	assert.Equal(t, "FREQ=MONTHLY;INTERVAL=2;COUNT=3", FormatSpec(MonthlySpec{Every: 2, Limit: Limit{Count: 3}}))
}

func TestNewSpec(t *testing.T) {
	local := time.Date(2026, 1, 1, 9, 0, 0, 500, time.FixedZone("X", 3600))
	s, err := NewSpec(Daily, 1, Limit{Until: &local})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC), *s.Bounds().Until)

	_, err = NewSpec(Frequency(42), 1, Limit{})
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestWithUntil(t *testing.T) {
	early := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.AddDate(1, 0, 0)

	s := WithUntil(WeeklySpec{Every: 1}, late)
	assert.Equal(t, late, *s.Bounds().Until)
	assert.Equal(t, late, *WithUntil(s, late.AddDate(1, 0, 0)).Bounds().Until)
	assert.Equal(t, early, *WithUntil(s, early).Bounds().Until)

	counted := DailySpec{Every: 1, Limit: Limit{Count: 3}}
	assert.Equal(t, counted, WithUntil(counted, early))
}

func TestFrequencyString(t *testing.T) {
	assert.Equal(t, "daily", Daily.String())
	assert.Equal(t, "weekly", Weekly.String())
	assert.Equal(t, "monthly", Monthly.String())
	assert.Equal(t, "yearly", Yearly.String())
	assert.Equal(t, "unknown", Frequency(0).String())
}
