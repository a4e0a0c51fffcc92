package ics

import (
	"fmt"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "calsched/internal/log"
	"calsched/internal/model"
	"calsched/internal/occurrence"
	"calsched/internal/recurrence"
	"calsched/internal/tz"
)

const (
	localLayout = "20060102T150405"
	dateLayout  = "20060102"

	defaultProductID = "calsched"
	// seriesSpan is how far past the anchor VTIMEZONE data is emitted
	// for an open-ended series.
	seriesSpan = 2 * 366 * 24 * time.Hour
)

// RenderConfig controls the calendar-level properties of a Document.
type RenderConfig struct {
	ProductID string
	Name      string
	// Stamp is written as DTSTAMP on every VEVENT. Zero means now.
	Stamp time.Time
	// Until bounds the VTIMEZONE data of an open-ended series. Zero means
	// two years past the anchor.
	Until time.Time
}

// Document is a rendered iCalendar object.
type Document struct {
	cal *ical.Calendar
}

func (d *Document) Calendar() *ical.Calendar { return d.cal }
func (d *Document) String() string           { return d.cal.Serialize() }
func (d *Document) Bytes() []byte            { return []byte(d.cal.Serialize()) }

// Write serializes the document to w.
func (d *Document) Write(w io.Writer) error {
	return d.cal.SerializeTo(w)
}

// span is the time range a zone is referenced over.
type span struct{ from, to time.Time }

func (s *span) cover(t time.Time) {
	if s.from.IsZero() || t.Before(s.from) {
		s.from = t
	}
	if t.After(s.to) {
		s.to = t
	}
}

type zoneSet struct {
	order []string
	spans map[string]*span
}

func (z *zoneSet) cover(zone string, ts ...time.Time) {
	if z.spans == nil {
		z.spans = make(map[string]*span)
	}
	s, ok := z.spans[zone]
	if !ok {
		s = &span{}
		z.spans[zone] = s
		z.order = append(z.order, zone)
	}
	for _, t := range ts {
		s.cover(t)
	}
}

func (c RenderConfig) stamp() time.Time {
	if c.Stamp.IsZero() {
		return time.Now().UTC()
	}
	return c.Stamp
}

func newCalendar(cfg RenderConfig) *ical.Calendar {
	product := cfg.ProductID
	if product == "" {
		product = defaultProductID
	}
	cal := ical.NewCalendarFor(product)
	cal.SetMethod(ical.MethodPublish)
	cal.SetCalscale("GREGORIAN")
	if cfg.Name != "" {
		cal.SetName(cfg.Name)
		cal.SetXWRCalName(cfg.Name)
	}
	return cal
}

// RenderOccurrences writes one VEVENT per occurrence. Each one is keyed by
// the occurrence UID and carries RELATED-TO pointing at its parent.
func RenderOccurrences(occs []*occurrence.Occurrence, cfg RenderConfig) (*Document, error) {
	cal := newCalendar(cfg)
	stamp := cfg.stamp()
	var zones zoneSet
	events := make([]*ical.VEvent, 0, len(occs))

	for _, occ := range occs {
		zone := occ.Timezone()
		loc, err := tz.Load(zone)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", occ.Parent().ID(), err)
		}
		ev := ical.NewEvent(occ.UID())
		ev.SetDtStampTime(stamp)
		describe(ev, occ.Parent())
		ev.AddProperty(ical.ComponentPropertyRelatedTo, occ.Parent().ID())

		setTime(ev, ical.ComponentPropertyDtStart, occ.StartsAt(), loc)
		zones.cover(zone, occ.StartsAt())
		if end := occ.EndsAt(); end != nil {
			setTime(ev, ical.ComponentPropertyDtEnd, *end, loc)
			zones.cover(zone, *end)
		}
		events = append(events, ev)
	}

	addTimezones(cal, zones)
	for _, ev := range events {
		cal.AddVEvent(ev)
	}
	return &Document{cal: cal}, nil
}

// RenderSeries writes s as a single recurring VEVENT with its RRULE and
// EXDATEs. EndsOn is folded into the RRULE as UNTIL. A one-off
// schedulable is written without RRULE. Drafts have nothing to render.
func RenderSeries(s model.Schedulable, cfg RenderConfig) (*Document, error) {
	cal := newCalendar(cfg)
	var zones zoneSet
	ev, err := seriesEvent(s, cfg, cfg.stamp(), &zones)
	if err != nil {
		return nil, err
	}
	addTimezones(cal, zones)
	cal.AddVEvent(ev)
	return &Document{cal: cal}, nil
}

// RenderCalendar writes every schedulable as a series in one document.
// Drafts are skipped; any other failure aborts the render.
func RenderCalendar(items []model.Schedulable, cfg RenderConfig) (*Document, error) {
	cal := newCalendar(cfg)
	stamp := cfg.stamp()
	var zones zoneSet
	events := make([]*ical.VEvent, 0, len(items))
	for _, s := range items {
		if model.IsDraft(s) {
			continue
		}
		ev, err := seriesEvent(s, cfg, stamp, &zones)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	addTimezones(cal, zones)
	for _, ev := range events {
		cal.AddVEvent(ev)
	}
	return &Document{cal: cal}, nil
}

func seriesEvent(s model.Schedulable, cfg RenderConfig, stamp time.Time, zones *zoneSet) (*ical.VEvent, error) {
	start := s.StartsAt()
	if start == nil {
		return nil, fmt.Errorf("render %s: %w: no start time", s.ID(), model.ErrInvalidEvent)
	}
	zone := s.Timezone()
	loc, err := tz.Load(zone)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", s.ID(), err)
	}

	ev := ical.NewEvent(s.ID())
	ev.SetDtStampTime(stamp)
	describe(ev, s)

	setTime(ev, ical.ComponentPropertyDtStart, *start, loc)
	zones.cover(zone, *start)
	if d, ok := model.Duration(s); ok {
		end := start.Add(d)
		setTime(ev, ical.ComponentPropertyDtEnd, end, loc)
		zones.cover(zone, end)
	}

	r := s.Recurrence()
	if r == nil {
		return ev, nil
	}
	spec := r.EffectiveSpec()
	ev.AddRrule(recurrence.FormatSpec(spec))

	until := cfg.Until
	if u := spec.Bounds().Until; u != nil {
		until = *u
	} else if until.IsZero() {
		until = start.Add(seriesSpan)
	}
	zones.cover(zone, until)

	if exdates := r.ExceptionDates(); len(exdates) > 0 {
		// EXDATE repeats the nominal start time on each excluded date.
		clock := start.In(loc).Format("150405")
		values := make([]string, 0, len(exdates))
		for _, d := range exdates {
			values = append(values, fmt.Sprintf("%04d%02d%02dT%s", d.Year, int(d.Month), d.Day, clock))
		}
		addTimeList(ev, ical.ComponentPropertyExdate, values, loc)
	}
	return ev, nil
}

func describe(ev *ical.VEvent, s model.Schedulable) {
	ev.SetSummary(s.Name())
	if d := s.Description(); d != "" {
		ev.SetDescription(d)
	}
	if e, ok := s.(*model.Event); ok && e.Location != "" {
		ev.SetLocation(e.Location)
	}
}

// setTime writes a DATE-TIME property: UTC form for UTC, local wall
// clock plus TZID otherwise.
func setTime(ev *ical.VEvent, prop ical.ComponentProperty, t time.Time, loc *time.Location) {
	if loc == time.UTC {
		ev.SetProperty(prop, t.UTC().Format(localLayout)+"Z")
		return
	}
	ev.SetProperty(prop, formatIn(t, loc), ical.WithTZID(loc.String()))
}

func addTimeList(ev *ical.VEvent, prop ical.ComponentProperty, values []string, loc *time.Location) {
	if loc == time.UTC {
		for i := range values {
			values[i] += "Z"
		}
		ev.AddProperty(prop, strings.Join(values, ","))
		return
	}
	ev.AddProperty(prop, strings.Join(values, ","), ical.WithTZID(loc.String()))
}

func formatIn(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(localLayout)
}

// addTimezones emits a VTIMEZONE for every non-UTC zone. Each offset
// change in the covered span (widened by a year on the left so the
// offset in effect at the first event is described) becomes a STANDARD
// or DAYLIGHT block. Zones without changes get one STANDARD block.
func addTimezones(cal *ical.Calendar, zones zoneSet) {
	for _, zone := range zones.order {
		loc, err := tz.Load(zone)
		if err != nil || loc == time.UTC {
			continue
		}
		s := zones.spans[zone]
		vtz := cal.AddTimezone(loc.String())
		transitions := tz.Transitions(loc, s.from.AddDate(-1, 0, 0), s.to.AddDate(0, 0, 1))
		if len(transitions) == 0 {
			lt := tz.In(s.from, loc)
			std := vtz.AddStandard()
			std.SetProperty(ical.ComponentPropertyDtStart, "19700101T000000")
			setOffsets(&std.ComponentBase, lt.Offset, lt.Offset, lt.Abbrev)
			continue
		}
		for _, tr := range transitions {
			var cb *ical.ComponentBase
			if tr.DST {
				d := &ical.Daylight{}
				vtz.Components = append(vtz.Components, d)
				cb = &d.ComponentBase
			} else {
				cb = &vtz.AddStandard().ComponentBase
			}
			// DTSTART is the wall clock just before the change.
			wall := tr.At.Add(time.Duration(tr.OffsetFrom) * time.Second).UTC()
			cb.SetProperty(ical.ComponentPropertyDtStart, wall.Format(localLayout))
			setOffsets(cb, tr.OffsetFrom, tr.OffsetTo, tr.Name)
		}
		appLog.Debug("ics: timezone emitted", "zone", zone, "transitions", len(transitions))
	}
}

func setOffsets(cb *ical.ComponentBase, from, to int, name string) {
	cb.SetProperty(ical.ComponentProperty(ical.PropertyTzoffsetfrom), formatOffset(from))
	cb.SetProperty(ical.ComponentProperty(ical.PropertyTzoffsetto), formatOffset(to))
	if name != "" {
		cb.SetProperty(ical.ComponentProperty(ical.PropertyTzname), name)
	}
}

// formatOffset renders seconds east of UTC as +HHMM (or +HHMMSS).
func formatOffset(sec int) string {
	sign := '+'
	if sec < 0 {
		sign = '-'
		sec = -sec
	}
	h, m, s := sec/3600, sec/60%60, sec%60
	if s != 0 {
		return fmt.Sprintf("%c%02d%02d%02d", sign, h, m, s)
	}
	return fmt.Sprintf("%c%02d%02d", sign, h, m)
}
