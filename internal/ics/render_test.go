package ics

import (
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calsched/internal/model"
	"calsched/internal/occurrence"
	"calsched/internal/recurrence"
	"calsched/internal/tz"
)

const nyZone = "America/New_York"

var stamp = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func standup(t *testing.T, zone string) *model.Event {
	t.Helper()
	loc, err := tz.Load(zone)
	require.NoError(t, err)
	start := time.Date(2026, 1, 15, 14, 0, 0, 0, loc)
	rule, err := recurrence.New("standup", "FREQ=WEEKLY", start, zone)
	require.NoError(t, err)
	ev := &model.Event{
		UID:      "standup",
		Summary:  "Standup, team A",
		Details:  "daily sync; bring notes",
		Location: "Room 4",
		Start:    &start,
		Minutes:  ptr(60),
		Zone:     zone,
		Rule:     rule,
	}
	require.NoError(t, ev.Normalize())
	return ev
}

func TestRenderSeries(t *testing.T) {
	ev := standup(t, nyZone)
	ev.Rule.AddExceptionDate(tz.NewDate(2026, time.January, 22))
	ev.Rule.AddExceptionDate(tz.NewDate(2026, time.February, 5))
	endsOn := tz.NewDate(2026, time.March, 31)
	ev.Rule.SetEndsOn(&endsOn)

	doc, err := RenderSeries(ev, RenderConfig{Name: "Team", Stamp: stamp})
	require.NoError(t, err)
	out := doc.String()

	for _, want := range []string{
		"PRODID:-//calsched//Golang ICS Library",
		"X-WR-CALNAME:Team",
		"BEGIN:VTIMEZONE",
		"TZID:America/New_York",
		"BEGIN:STANDARD",
		"BEGIN:DAYLIGHT",
		"TZOFFSETFROM:-0500",
		"TZOFFSETTO:-0400",
		"TZNAME:EDT",
		"TZNAME:EST",
		"DTSTART:20260308T020000",
		"UID:standup",
		"DTSTAMP:20260101T000000Z",
		"SUMMARY:Standup\\, team A",
		"LOCATION:Room 4",
		"DTSTART;TZID=America/New_York:20260115T140000",
		"DTEND;TZID=America/New_York:20260115T150000",
		"RRULE:FREQ=WEEKLY;INTERVAL=1;UNTIL=20260401T035959Z",
		"EXDATE;TZID=America/New_York:20260122T140000,20260205T140000",
	} {
		assert.Contains(t, out, want)
	}
	// VTIMEZONE precedes the event that references it
	assert.Less(t, strings.Index(out, "BEGIN:VTIMEZONE"), strings.Index(out, "BEGIN:VEVENT"))
}

// A document that only covers winter still describes both offsets.
func TestRenderOccurrencesCarriesBothOffsets(t *testing.T) {
	ev := standup(t, nyZone)
	occs := occurrence.Between(ev, *ev.Start, ev.Start.AddDate(0, 0, 14))
	require.Len(t, occs, 3)

	doc, err := RenderOccurrences(occs, RenderConfig{Stamp: stamp})
	require.NoError(t, err)

	vtzs := doc.Calendar().Timezones()
	require.Len(t, vtzs, 1)
	var std, dst int
	for _, c := range vtzs[0].Components {
		switch c.(type) {
		case *ical.Standard:
			std++
		case *ical.Daylight:
			dst++
		}
	}
	assert.Positive(t, std)
	assert.Positive(t, dst)

	events := doc.Calendar().Events()
	require.Len(t, events, 3)
	for i, ve := range events {
		assert.Equal(t, occs[i].UID(), ve.Id())
		rel := ve.GetProperty(ical.ComponentPropertyRelatedTo)
		require.NotNil(t, rel)
		assert.Equal(t, "standup", rel.Value)
		assert.Nil(t, ve.GetProperty(ical.ComponentPropertyRrule))
	}
}

// Occurrences on both sides of spring-forward keep their 14:00 wall clock.
func TestRenderOccurrencesAcrossDST(t *testing.T) {
	ev := standup(t, nyZone)
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	occs := occurrence.Between(ev, from, from.AddDate(0, 0, 14))
	require.Len(t, occs, 2)

	doc, err := RenderOccurrences(occs, RenderConfig{Stamp: stamp})
	require.NoError(t, err)
	out := doc.String()
	assert.Contains(t, out, "DTSTART;TZID=America/New_York:20260305T140000")
	assert.Contains(t, out, "DTSTART;TZID=America/New_York:20260312T140000")

	parsed, err := ParseICS(Source{ID: "test"}, doc.Bytes())
	require.NoError(t, err)
	require.Len(t, parsed, 2)
	for i, p := range parsed {
		assert.True(t, p.Start.Equal(occs[i].StartsAt()))
		assert.True(t, p.End.Equal(*occs[i].EndsAt()))
	}
}

func TestRenderFixedOffsetZone(t *testing.T) {
	ev := standup(t, "Asia/Tokyo")
	doc, err := RenderSeries(ev, RenderConfig{Stamp: stamp})
	require.NoError(t, err)
	out := doc.String()

	assert.Contains(t, out, "TZID:Asia/Tokyo")
	assert.Contains(t, out, "TZOFFSETFROM:+0900")
	assert.Contains(t, out, "TZOFFSETTO:+0900")
	assert.Contains(t, out, "TZNAME:JST")
	assert.NotContains(t, out, "BEGIN:DAYLIGHT")
}

func TestRenderUTC(t *testing.T) {
	ev := standup(t, "UTC")
	doc, err := RenderSeries(ev, RenderConfig{Stamp: stamp})
	require.NoError(t, err)
	out := doc.String()

	assert.NotContains(t, out, "BEGIN:VTIMEZONE")
	assert.Contains(t, out, "DTSTART:20260115T140000Z")
	assert.Contains(t, out, "DTEND:20260115T150000Z")
	assert.Contains(t, out, "RRULE:FREQ=WEEKLY;INTERVAL=1")
	assert.NotContains(t, out, "UNTIL")
}

func TestRenderSeriesOneOffAndDraft(t *testing.T) {
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	doc, err := RenderSeries(&model.Event{UID: "once", Summary: "Once", Start: &start}, RenderConfig{Stamp: stamp})
	require.NoError(t, err)
	out := doc.String()
	assert.Contains(t, out, "DTSTART:20260501T090000Z")
	assert.NotContains(t, out, "RRULE")
	assert.NotContains(t, out, "DTEND")

	_, err = RenderSeries(&model.Event{UID: "draft"}, RenderConfig{})
	assert.ErrorIs(t, err, model.ErrInvalidEvent)
}

func TestSeriesRoundTrip(t *testing.T) {
	ev := standup(t, nyZone)
	ev.Rule.AddExceptionDate(tz.NewDate(2026, time.March, 12))
	endsOn := tz.NewDate(2026, time.June, 30)
	ev.Rule.SetEndsOn(&endsOn)

	doc, err := RenderSeries(ev, RenderConfig{Stamp: stamp})
	require.NoError(t, err)
	parsed, err := ParseICS(Source{ID: "roundtrip"}, doc.Bytes())
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	got := parsed[0]

	assert.Equal(t, ev.Summary, got.Summary)
	assert.Equal(t, ev.Details, got.Details)
	assert.Equal(t, nyZone, got.Zone)
	require.NotNil(t, got.Minutes)
	assert.Equal(t, 60, *got.Minutes)
	require.NotNil(t, got.Rule)
	assert.Equal(t, []tz.Date{tz.NewDate(2026, time.March, 12)}, got.Rule.ExceptionDates())

	from, to := *ev.Start, ev.Start.AddDate(1, 0, 0)
	want := ev.Rule.OccurrencesBetween(from, to)
	have := got.Rule.OccurrencesBetween(from, to)
	require.Len(t, have, len(want))
	for i := range want {
		assert.True(t, want[i].Equal(have[i]), "occurrence %d", i)
	}
}

func TestFormatOffset(t *testing.T) {
	tests := []struct {
		sec  int
		want string
	}{
		{0, "+0000"},
		{-5 * 3600, "-0500"},
		{19800, "+0530"},
		{-12600, "-0330"},
		{13*3600 + 45*60, "+1345"},
		{-(17*60 + 30), "-001730"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, formatOffset(tc.sec))
	}
}

func TestRenderCalendar(t *testing.T) {
	ny := standup(t, nyZone)
	tokyo := standup(t, "Asia/Tokyo")
	tokyo.UID = "tokyo"
	draft := &model.Event{UID: "draft"}

	doc, err := RenderCalendar([]model.Schedulable{ny, draft, tokyo}, RenderConfig{Stamp: stamp, ProductID: "acme"})
	require.NoError(t, err)

	assert.Len(t, doc.Calendar().Timezones(), 2)
	events := doc.Calendar().Events()
	require.Len(t, events, 2)
	assert.Equal(t, "standup", events[0].Id())
	assert.Equal(t, "tokyo", events[1].Id())
	assert.Contains(t, doc.String(), "PRODID:-//acme//Golang ICS Library")

	var buf strings.Builder
	require.NoError(t, doc.Write(&buf))
	assert.Equal(t, doc.String(), buf.String())
}
