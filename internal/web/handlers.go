package web

import (
	"errors"
	"net/http"
	"time"

	"calsched/internal/calendar"
	"calsched/internal/ics"
	appLog "calsched/internal/log"
	"calsched/internal/model"
	"calsched/internal/occurrence"
	"calsched/internal/tz"
)

const maxWindowDays = 366

type occurrenceDTO struct {
	UID          string  `json:"uid"`
	ParentID     string  `json:"parentId"`
	Name         string  `json:"name"`
	Description  string  `json:"description,omitempty"`
	Start        string  `json:"start"`
	End          *string `json:"end,omitempty"`
	LocalStart   string  `json:"localStart"`
	LocalEnd     *string `json:"localEnd,omitempty"`
	Timezone     string  `json:"timezone"`
	Past         bool    `json:"past"`
	HappeningNow bool    `json:"happeningNow"`
	Today        bool    `json:"today"`
	Future       bool    `json:"future"`
}

type occurrencesResponse struct {
	From        string          `json:"from"`
	To          string          `json:"to"`
	Timezone    string          `json:"timezone"`
	Truncated   bool            `json:"truncated"`
	Occurrences []occurrenceDTO `json:"occurrences"`
}

// displayZone is the zone requested by ?tz=, falling back to the
// configured one.
func (s *Server) displayZone(r *http.Request) (string, error) {
	zone := r.URL.Query().Get("tz")
	if zone == "" {
		zone = s.cfg.Timezone
	}
	if _, err := tz.Load(zone); err != nil {
		return "", err
	}
	if zone == "" {
		zone = "UTC"
	}
	return zone, nil
}

func toDTO(o *occurrence.Occurrence, zone string, now time.Time) (occurrenceDTO, error) {
	start, err := o.StartsAtIn(zone)
	if err != nil {
		return occurrenceDTO{}, err
	}
	end, err := o.EndsAtIn(zone)
	if err != nil {
		return occurrenceDTO{}, err
	}
	dto := occurrenceDTO{
		UID:          o.UID(),
		ParentID:     o.Parent().ID(),
		Name:         o.Name(),
		Description:  o.Description(),
		Start:        o.StartsAt().UTC().Format(time.RFC3339),
		LocalStart:   start.Time.Format(time.RFC3339),
		Timezone:     zone,
		Past:         o.Past(now),
		HappeningNow: o.HappeningNow(now),
		Today:        o.Today(now),
		Future:       o.Future(now),
	}
	if e := o.EndsAt(); e != nil {
		v := e.UTC().Format(time.RFC3339)
		dto.End = &v
	}
	if end != nil {
		v := end.Time.Format(time.RFC3339)
		dto.LocalEnd = &v
	}
	return dto, nil
}

// handleOccurrences lists every occurrence in [now-backfill, now+days].
func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days := parseIntDefault(q.Get("days"), s.cfg.HorizonDays)
	backfill := parseIntDefault(q.Get("backfill"), s.cfg.BackfillDays)
	if days < 0 || backfill < 0 || days+backfill > maxWindowDays {
		writeError(w, http.StatusBadRequest, "days and backfill must be non-negative and span at most 366 days")
		return
	}
	zone, err := s.displayZone(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := s.now()
	from := now.AddDate(0, 0, -backfill)
	to := now.AddDate(0, 0, days)
	occs := occurrence.Collect(s.catalog.Schedulables(), from, to)

	resp := occurrencesResponse{
		From:        from.UTC().Format(time.RFC3339),
		To:          to.UTC().Format(time.RFC3339),
		Timezone:    zone,
		Occurrences: make([]occurrenceDTO, 0, len(occs)),
	}
	if limit := s.cfg.MaxOccurrences; limit > 0 && len(occs) > limit {
		occs = occs[:limit]
		resp.Truncated = true
	}
	for _, o := range occs {
		dto, err := toDTO(o, zone, now)
		if err != nil {
			appLog.Error("failed to convert occurrence", err, "uid", o.UID())
			continue
		}
		resp.Occurrences = append(resp.Occurrences, dto)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleNext returns the first occurrence of ?id= after ?after= (default now).
func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ev, ok := s.catalog.Get(q.Get("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown schedulable")
		return
	}
	now := s.now()
	after, err := parseInstant(q.Get("after"), now)
	if err != nil {
		writeError(w, http.StatusBadRequest, "after must be an RFC 3339 timestamp")
		return
	}
	zone, err := s.displayZone(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	next := occurrence.Next(ev, after)
	if next == nil {
		writeError(w, http.StatusNotFound, "no further occurrences")
		return
	}
	dto, err := toDTO(next, zone, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// handleICS exports the catalog. ?mode=occurrences renders the expanded
// window instead of RRULE series.
func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	cfg := ics.RenderConfig{
		ProductID: s.cfg.ProductID,
		Name:      s.cfg.CalendarName,
		Stamp:     now,
	}

	var (
		doc *ics.Document
		err error
	)
	switch r.URL.Query().Get("mode") {
	case "", "series":
		doc, err = ics.RenderCalendar(s.catalog.Schedulables(), cfg)
	case "occurrences":
		from := now.AddDate(0, 0, -s.cfg.BackfillDays)
		to := now.AddDate(0, 0, s.cfg.HorizonDays)
		doc, err = ics.RenderOccurrences(occurrence.Collect(s.catalog.Schedulables(), from, to), cfg)
	default:
		writeError(w, http.StatusBadRequest, "mode must be series or occurrences")
		return
	}
	if err != nil {
		appLog.Error("failed to render calendar", err)
		writeError(w, http.StatusInternalServerError, "render failed")
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="calendar.ics"`)
	w.WriteHeader(http.StatusOK)
	if err := doc.Write(w); err != nil {
		appLog.Error("failed to write calendar", err)
	}
}

type linkRequest struct {
	SchedulableID string `json:"schedulableId"`
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.entries.ListByCalendar(r.Context(), r.PathValue("calendar"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []calendar.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleLinkEntry snapshots the next occurrence of the posted schedulable
// into the calendar.
func (s *Server) handleLinkEntry(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	next, status, msg := s.nextOf(req.SchedulableID)
	if next == nil {
		writeError(w, status, msg)
		return
	}
	entry, err := s.entries.Link(r.Context(), r.PathValue("calendar"), req.SchedulableID, calendar.SnapshotOf(next))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleUnlinkEntry(w http.ResponseWriter, r *http.Request) {
	if err := s.entries.Unlink(r.Context(), r.PathValue("calendar"), r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleResyncEntry replaces the entry snapshot with the schedulable's
// current next occurrence.
func (s *Server) handleResyncEntry(w http.ResponseWriter, r *http.Request) {
	next, status, msg := s.nextOf(r.PathValue("id"))
	if next == nil {
		writeError(w, status, msg)
		return
	}
	entry, err := s.entries.Resync(r.Context(), r.PathValue("calendar"), next)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) nextOf(id string) (*occurrence.Occurrence, int, string) {
	ev, ok := s.catalog.Get(id)
	if !ok {
		return nil, http.StatusNotFound, "unknown schedulable"
	}
	if model.IsDraft(ev) {
		return nil, http.StatusUnprocessableEntity, "schedulable has no start"
	}
	next := occurrence.Next(ev, s.now())
	if next == nil {
		return nil, http.StatusNotFound, "no further occurrences"
	}
	return next, 0, ""
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, calendar.ErrDuplicateEntry):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, calendar.ErrNotFoundEntry):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, calendar.ErrInvalidEntry):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		appLog.Error("calendar store failure", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
