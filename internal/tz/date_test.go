package tz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDate(t *testing.T) {
	d, err := ParseDate("2026-01-22")
	require.NoError(t, err)
	assert.Equal(t, Date{Year: 2026, Month: time.January, Day: 22}, d)
	assert.Equal(t, "2026-01-22", d.String())

	assert.True(t, d.Before(d.AddDays(1)))
	assert.True(t, d.After(d.AddDays(-1)))
	assert.Equal(t, NewDate(2026, 2, 1), NewDate(2026, 1, 32))
	assert.Equal(t, 7, d.AddDays(7).DaysSince(d))
	assert.Equal(t, time.Thursday, d.Weekday())

	_, err = ParseDate("22/01/2026")
	assert.Error(t, err)
}

func TestDateText(t *testing.T) {
	var d Date
	require.NoError(t, d.UnmarshalText([]byte("2024-02-29")))
	b, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", string(b))
	assert.Error(t, d.UnmarshalText([]byte("2023-02-29")))
}

func TestDaysIn(t *testing.T) {
	assert.Equal(t, 29, DaysIn(2024, time.February))
	assert.Equal(t, 28, DaysIn(2026, time.February))
	assert.Equal(t, 30, DaysIn(2026, time.April))
	assert.Equal(t, 31, DaysIn(2026, time.December))
}

func TestWallOf(t *testing.T) {
	loc, err := Load("Asia/Seoul")
	require.NoError(t, err)
	w := WallOf(time.Date(2026, 1, 15, 5, 4, 3, 0, time.UTC).In(loc))
	assert.Equal(t, "2026-01-15T14:04:03", w.String())
}
