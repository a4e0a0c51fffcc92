package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "calsched/internal/log"
	"calsched/internal/model"
	"calsched/internal/recurrence"
	"calsched/internal/tz"
)

// Source names where an ICS payload came from.
type Source struct {
	ID  string
	URL string
	// Zone interprets floating DTSTART/DTEND values (no TZID, no Z).
	// Empty means UTC.
	Zone string
}

// ParseICS imports the VEVENTs of an ICS payload as events.
//
//   - DTSTART/DTEND honour TZID; a TZID that is not an IANA zone fails
//     that event only.
//   - RRULE becomes the event's recurrence rule, EXDATEs become exception
//     dates in the event's zone.
//   - RECURRENCE-ID overrides are skipped.
//
// Events that cannot be imported are logged and skipped; only a payload
// that cannot be parsed at all is an error.
func ParseICS(src Source, body []byte) ([]*model.Event, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty ICS body")
	}
	floating, err := tz.Load(src.Zone)
	if err != nil {
		return nil, err
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, err
	}

	events := make([]*model.Event, 0)
	for _, ve := range cal.Events() {
		if ve.GetProperty(ical.ComponentPropertyRecurrenceId) != nil {
			appLog.Debug("ics override skipped", "id", src.ID, "uid", ve.Id())
			continue
		}
		ev, perr := parseVEvent(ve, floating)
		if perr != nil {
			appLog.Error("ics vevent import failed", perr, "id", src.ID, "uid", ve.Id())
			continue
		}
		events = append(events, ev)
	}

	appLog.Info("ics parse completed", "id", src.ID, "url", redactURL(src.URL), "event_count", len(events))
	return events, nil
}

func parseVEvent(ve *ical.VEvent, floating *time.Location) (*model.Event, error) {
	uid := ve.Id()
	if uid == "" {
		return nil, errors.New("missing UID")
	}
	ev := &model.Event{
		UID:      uid,
		Summary:  value(ve, ical.ComponentPropertySummary),
		Details:  value(ve, ical.ComponentPropertyDescription),
		Location: value(ve, ical.ComponentPropertyLocation),
	}

	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil {
		// VEVENT without DTSTART: keep it as a draft.
		return ev, ev.Validate()
	}
	start, loc, allDay, err := parseTime(startProp, floating)
	if err != nil {
		return nil, fmt.Errorf("DTSTART: %w", err)
	}
	ev.Start = &start
	ev.Zone = loc.String()

	if endProp := ve.GetProperty(ical.ComponentPropertyDtEnd); endProp != nil {
		end, _, _, err := parseTime(endProp, loc)
		if err != nil {
			return nil, fmt.Errorf("DTEND: %w", err)
		}
		ev.End = &end
	} else if allDay {
		end := start.AddDate(0, 0, 1)
		ev.End = &end
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		rule, err := recurrence.New(uid, p.Value, start, ev.Zone)
		if err != nil {
			return nil, err
		}
		for _, ex := range ve.GetProperties(ical.ComponentPropertyExdate) {
			dates, err := parseDates(ex, loc)
			if err != nil {
				return nil, fmt.Errorf("EXDATE: %w", err)
			}
			for _, d := range dates {
				rule.AddExceptionDate(d)
			}
		}
		ev.Rule = rule
	}

	if err := ev.Normalize(); err != nil {
		return nil, err
	}
	return ev, nil
}

func value(ve *ical.VEvent, prop ical.ComponentProperty) string {
	if p := ve.GetProperty(prop); p != nil {
		return p.Value
	}
	return ""
}

// parseTime reads a DATE or DATE-TIME property. It returns the instant,
// the zone it is expressed in and whether it is a DATE.
func parseTime(p *ical.IANAProperty, floating *time.Location) (time.Time, *time.Location, bool, error) {
	loc, err := propLocation(p, floating)
	if err != nil {
		return time.Time{}, nil, false, err
	}
	t, allDay, err := parseStamp(p.Value, loc)
	if err != nil {
		return time.Time{}, nil, false, err
	}
	if strings.HasSuffix(p.Value, "Z") {
		loc = time.UTC
	}
	return t, loc, allDay, nil
}

// parseDates reads a comma separated EXDATE list as calendar dates in loc.
func parseDates(p *ical.IANAProperty, loc *time.Location) ([]tz.Date, error) {
	own, err := propLocation(p, loc)
	if err != nil {
		return nil, err
	}
	var out []tz.Date
	for _, part := range strings.Split(p.Value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		t, _, err := parseStamp(part, own)
		if err != nil {
			return nil, err
		}
		out = append(out, tz.DateOf(t.In(loc)))
	}
	return out, nil
}

func propLocation(p *ical.IANAProperty, fallback *time.Location) (*time.Location, error) {
	if ids := p.ICalParameters[string(ical.ParameterTzid)]; len(ids) > 0 && ids[0] != "" {
		return tz.Load(ids[0])
	}
	return fallback, nil
}

// parseStamp parses 20260115T140000Z, 20260115T140000 (in loc) and
// 20260115 (midnight in loc).
func parseStamp(v string, loc *time.Location) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, false, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		t, err := time.Parse(localLayout+"Z", v)
		return t, false, err
	case strings.Contains(v, "T"):
		t, err := time.ParseInLocation(localLayout, v, time.UTC)
		if err != nil {
			return time.Time{}, false, err
		}
		at, _ := tz.Resolve(tz.WallOf(t), loc)
		return at, false, nil
	default:
		d, err := time.ParseInLocation(dateLayout, v, time.UTC)
		if err != nil {
			return time.Time{}, true, err
		}
		at, _ := tz.Resolve(tz.Wall{Date: tz.DateOf(d)}, loc)
		return at, true, nil
	}
}
