package config

import (
	"errors"
	"fmt"
	"time"

	"calsched/internal/model"
	"calsched/internal/recurrence"
	"calsched/internal/tz"
)

// EventConfig defines one schedulable in YAML. Start and End are local
// wall-clock times in Timezone ("2026-01-15T14:00" or with seconds);
// an RFC 3339 value with an explicit offset is also accepted.
type EventConfig struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Location    string `yaml:"location,omitempty" json:"location,omitempty"`

	Start           string `yaml:"start,omitempty" json:"start,omitempty"`
	End             string `yaml:"end,omitempty" json:"end,omitempty"`
	DurationMinutes *int   `yaml:"duration_minutes,omitempty" json:"duration_minutes,omitempty"`
	Timezone        string `yaml:"timezone,omitempty" json:"timezone,omitempty"`

	RRule          string    `yaml:"rrule,omitempty" json:"rrule,omitempty"`
	ExceptionDates []tz.Date `yaml:"exception_dates,omitempty" json:"exception_dates,omitempty"`
	EndsOn         *tz.Date  `yaml:"ends_on,omitempty" json:"ends_on,omitempty"`
}

var wallLayouts = []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04"}

// Event builds the model event. zone is used when the definition does
// not name its own.
func (e EventConfig) Event(zone string, maxOccurrences int) (*model.Event, error) {
	if e.Timezone != "" {
		zone = e.Timezone
	}
	loc, err := tz.Load(zone)
	if err != nil {
		return nil, err
	}
	ev := &model.Event{
		UID:      e.ID,
		Summary:  e.Name,
		Details:  e.Description,
		Location: e.Location,
		Minutes:  e.DurationMinutes,
		Zone:     loc.String(),
	}
	if e.Start != "" {
		start, err := parseLocal(e.Start, loc)
		if err != nil {
			return nil, fmt.Errorf("start: %w", err)
		}
		ev.Start = &start
	}
	if e.End != "" {
		end, err := parseLocal(e.End, loc)
		if err != nil {
			return nil, fmt.Errorf("end: %w", err)
		}
		ev.End = &end
	}

	if e.RRule != "" {
		var anchor time.Time
		if ev.Start != nil {
			anchor = *ev.Start
		}
		rule, err := recurrence.New(e.ID, e.RRule, anchor, ev.Zone)
		if err != nil {
			return nil, err
		}
		for _, d := range e.ExceptionDates {
			rule.AddExceptionDate(d)
		}
		rule.SetEndsOn(e.EndsOn)
		rule.SetMaxOccurrences(maxOccurrences)
		ev.Rule = rule
	} else if len(e.ExceptionDates) > 0 || e.EndsOn != nil {
		return nil, fmt.Errorf("%w: exception_dates and ends_on need an rrule", model.ErrInvalidEvent)
	}

	if err := ev.Normalize(); err != nil {
		return nil, err
	}
	return ev, nil
}

// BuildEvents turns every event definition into a model event. All
// failures are reported together; ids must be unique.
func (c *Config) BuildEvents() ([]*model.Event, error) {
	out := make([]*model.Event, 0, len(c.Events))
	seen := make(map[string]struct{}, len(c.Events))
	var errs []error
	for i, def := range c.Events {
		if _, dup := seen[def.ID]; dup && def.ID != "" {
			errs = append(errs, fmt.Errorf("events[%d]: %w: duplicate id %q", i, model.ErrInvalidEvent, def.ID))
			continue
		}
		seen[def.ID] = struct{}{}
		ev, err := def.Event(c.Timezone, c.MaxOccurrences)
		if err != nil {
			errs = append(errs, fmt.Errorf("events[%d] %q: %w", i, def.ID, err))
			continue
		}
		out = append(out, ev)
	}
	return out, errors.Join(errs...)
}

// parseLocal reads a wall-clock time in loc, resolving DST gaps forward
// and overlaps to the earlier instant.
func parseLocal(v string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range wallLayouts {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			at, _ := tz.Resolve(tz.WallOf(t), loc)
			return at, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: cannot parse time %q", model.ErrInvalidEvent, v)
}
