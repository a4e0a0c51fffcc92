package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calsched/internal/calendar"
	"calsched/internal/catalog"
	"calsched/internal/config"
	"calsched/internal/model"
	"calsched/internal/recurrence"
	"calsched/internal/tz"
)

// Tuesday 2026-01-20 07:00 in New York.
var fixedNow = time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	ny, err := tz.Load("America/New_York")
	require.NoError(t, err)

	rule, err := recurrence.New("standup", "FREQ=DAILY", time.Time{}, "America/New_York")
	require.NoError(t, err)
	standup := &model.Event{
		UID:     "standup",
		Summary: "Standup",
		Start:   ptr(time.Date(2026, 1, 5, 9, 0, 0, 0, ny)),
		Minutes: ptr(30),
		Zone:    "America/New_York",
		Rule:    rule,
	}
	lunch := &model.Event{
		UID:     "lunch",
		Summary: "Lunch",
		Start:   ptr(time.Date(2026, 1, 21, 17, 0, 0, 0, time.UTC)),
		Minutes: ptr(60),
	}
	idea := &model.Event{UID: "idea", Summary: "Someday"}
	for _, e := range []*model.Event{standup, lunch, idea} {
		require.NoError(t, e.Normalize())
	}

	cat := catalog.New()
	cat.Replace([]*model.Event{standup, lunch, idea}, fixedNow)
	return cat
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	return NewServer(cfg, testCatalog(t), WithClock(func() time.Time { return fixedNow }))
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(t, nil).Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestOccurrences(t *testing.T) {
	h := newTestServer(t, nil).Handler()
	rec := do(t, h, http.MethodGet, "/api/occurrences?days=2&backfill=0&tz=America/New_York", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp occurrencesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "America/New_York", resp.Timezone)
	assert.False(t, resp.Truncated)
	require.Len(t, resp.Occurrences, 3)

	first := resp.Occurrences[0]
	assert.Equal(t, "standup", first.ParentID)
	assert.Equal(t, "2026-01-20T14:00:00Z", first.Start)
	assert.Equal(t, "2026-01-20T09:00:00-05:00", first.LocalStart)
	require.NotNil(t, first.LocalEnd)
	assert.Equal(t, "2026-01-20T09:30:00-05:00", *first.LocalEnd)
	assert.True(t, first.Today)
	assert.True(t, first.Future)
	assert.False(t, first.Past)
	assert.False(t, first.HappeningNow)

	assert.Equal(t, "standup", resp.Occurrences[1].ParentID)
	assert.Equal(t, "lunch", resp.Occurrences[2].ParentID)
	assert.Equal(t, "2026-01-21T17:00:00Z", resp.Occurrences[2].Start)
	assert.NotEqual(t, first.UID, resp.Occurrences[1].UID)
}

func TestOccurrencesTruncated(t *testing.T) {
	h := newTestServer(t, func(c *config.Config) { c.MaxOccurrences = 2 }).Handler()
	rec := do(t, h, http.MethodGet, "/api/occurrences?days=2&backfill=0", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp occurrencesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Truncated)
	assert.Len(t, resp.Occurrences, 2)
	assert.Equal(t, "UTC", resp.Timezone)
	assert.Equal(t, "2026-01-20T14:00:00Z", resp.Occurrences[0].LocalStart)
}

func TestOccurrencesBadRequest(t *testing.T) {
	h := newTestServer(t, nil).Handler()
	for _, target := range []string{
		"/api/occurrences?days=400",
		"/api/occurrences?backfill=-1",
		"/api/occurrences?tz=Atlantis/Capital",
	} {
		rec := do(t, h, http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestNext(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	rec := do(t, h, http.MethodGet, "/api/next?id=standup", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var dto occurrenceDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	assert.Equal(t, "2026-01-20T14:00:00Z", dto.Start)

	rec = do(t, h, http.MethodGet, "/api/next?id=standup&after=2026-01-20T14:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	assert.Equal(t, "2026-01-21T14:00:00Z", dto.Start)

	tests := []struct {
		target string
		status int
	}{
		{"/api/next?id=nope", http.StatusNotFound},
		{"/api/next?id=idea", http.StatusNotFound},
		{"/api/next?id=lunch&after=2026-01-22T00:00:00Z", http.StatusNotFound},
		{"/api/next?id=lunch&after=tomorrow", http.StatusBadRequest},
	}
	for _, tc := range tests {
		rec := do(t, h, http.MethodGet, tc.target, "")
		assert.Equal(t, tc.status, rec.Code, tc.target)
	}
}

func TestCalendarICS(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	rec := do(t, h, http.MethodGet, "/calendar.ics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/calendar; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "BEGIN:VCALENDAR")
	assert.Contains(t, body, "RRULE:FREQ=DAILY")
	assert.Contains(t, body, "SUMMARY:Lunch")
	assert.NotContains(t, body, "Someday")

	rec = do(t, h, http.MethodGet, "/calendar.ics?mode=occurrences", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = rec.Body.String()
	assert.Contains(t, body, "RELATED-TO:standup")
	assert.NotContains(t, body, "RRULE")

	rec = do(t, h, http.MethodGet, "/calendar.ics?mode=weekly", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEntries(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	rec := do(t, h, http.MethodPost, "/api/calendars/work/entries", `{"schedulableId":"standup"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var entry calendar.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, "work", entry.CalendarID)
	assert.Equal(t, "standup", entry.SchedulableID)
	assert.True(t, entry.StartsAt.Equal(time.Date(2026, 1, 20, 14, 0, 0, 0, time.UTC)))
	require.NotNil(t, entry.DurationMinutes)
	assert.Equal(t, 30, *entry.DurationMinutes)

	rec = do(t, h, http.MethodPost, "/api/calendars/work/entries", `{"schedulableId":"standup"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/calendars/work/entries", `{"schedulableId":"idea"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/calendars/work/entries", `{"schedulableId":"nope"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/calendars/work/entries", `{"bogus":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/calendars/work/entries", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []calendar.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = do(t, h, http.MethodGet, "/api/calendars/home/entries", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/calendars/work/entries/standup/resync", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/calendars/work/entries/standup", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodDelete, "/api/calendars/work/entries/standup", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/calendars/work/entries/standup/resync", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBasicAuth(t *testing.T) {
	h := newTestServer(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "s3cret"}
	}).Handler()

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/occurrences", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `realm="calsched"`)

	req := httptest.NewRequest(http.MethodGet, "/api/occurrences", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/occurrences", nil)
	req.SetBasicAuth("admin", "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, secureCompare("abc", "abc"))
	assert.False(t, secureCompare("abc", "abd"))
	assert.False(t, secureCompare("abc", "abcd"))
}
