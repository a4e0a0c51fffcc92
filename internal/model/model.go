package model

import (
	"errors"
	"fmt"
	"time"

	"calsched/internal/recurrence"
	"calsched/internal/tz"
)

// ErrInconsistentDuration is returned when an explicit end and a stored
// duration disagree.
var ErrInconsistentDuration = errors.New("inconsistent duration")

// ErrInvalidEvent covers structural problems such as an end that is not
// after the start.
var ErrInvalidEvent = errors.New("invalid event")

// DurationTolerance is how far ends_at - starts_at may drift from
// duration_minutes before the two are considered inconsistent.
const DurationTolerance = time.Minute

// Schedulable is anything that can be placed on a calendar. A nil
// StartsAt marks a draft: every timing query on a draft yields nothing.
type Schedulable interface {
	ID() string
	Name() string
	Description() string
	StartsAt() *time.Time
	EndsAt() *time.Time
	DurationMinutes() *int
	Timezone() string
	Recurrence() *recurrence.Rule
}

// Event is the concrete schedulable used by the rest of the module.
type Event struct {
	UID string // stable identity, also used for export

	Summary  string
	Details  string
	Location string

	// Start / End are instants; Zone is the IANA zone they are shown in.
	Start   *time.Time
	End     *time.Time
	Minutes *int
	Zone    string

	Rule *recurrence.Rule
}

var _ Schedulable = (*Event)(nil)

func (e *Event) ID() string                   { return e.UID }
func (e *Event) Name() string                 { return e.Summary }
func (e *Event) Description() string          { return e.Details }
func (e *Event) StartsAt() *time.Time         { return e.Start }
func (e *Event) EndsAt() *time.Time           { return e.End }
func (e *Event) DurationMinutes() *int        { return e.Minutes }
func (e *Event) Recurrence() *recurrence.Rule { return e.Rule }

// Timezone defaults to UTC when unset.
func (e *Event) Timezone() string {
	if e.Zone == "" {
		return tz.DefaultZone
	}
	return e.Zone
}

// Validate checks the scheduling constraints. Drafts are valid.
func (e *Event) Validate() error {
	if e.UID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if err := tz.Validate(e.Timezone()); err != nil {
		return err
	}
	if e.Minutes != nil && *e.Minutes < 0 {
		return fmt.Errorf("%w: negative duration %d", ErrInvalidEvent, *e.Minutes)
	}
	if e.Start == nil {
		return nil
	}
	if e.End != nil {
		if !e.End.After(*e.Start) {
			return fmt.Errorf("%w: ends_at %s is not after starts_at %s",
				ErrInvalidEvent, e.End.Format(time.RFC3339), e.Start.Format(time.RFC3339))
		}
		if e.Minutes != nil {
			elapsed := e.End.Sub(*e.Start)
			stored := time.Duration(*e.Minutes) * time.Minute
			if diff := elapsed - stored; diff > DurationTolerance || diff < -DurationTolerance {
				return fmt.Errorf("%w: ends_at is %s after starts_at but duration is %d minutes",
					ErrInconsistentDuration, elapsed, *e.Minutes)
			}
		}
	}
	return nil
}

// Normalize validates the event and fills whichever of End or Minutes is
// missing from the other. The duration is real elapsed time, so an
// event crossing a DST change keeps its true length.
func (e *Event) Normalize() error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.Start == nil {
		return nil
	}
	switch {
	case e.End != nil && e.Minutes == nil:
		m := int(e.End.Sub(*e.Start).Round(time.Minute) / time.Minute)
		e.Minutes = &m
	case e.End == nil && e.Minutes != nil && *e.Minutes > 0:
		end := e.Start.Add(time.Duration(*e.Minutes) * time.Minute)
		e.End = &end
	}
	if e.Rule != nil {
		e.Rule.SetAnchor(*e.Start)
	}
	return nil
}

// Duration returns the elapsed duration of s: End - Start when both are
// known, otherwise DurationMinutes. The bool is false when neither is set.
func Duration(s Schedulable) (time.Duration, bool) {
	if start, end := s.StartsAt(), s.EndsAt(); start != nil && end != nil {
		return end.Sub(*start), true
	}
	if m := s.DurationMinutes(); m != nil {
		return time.Duration(*m) * time.Minute, true
	}
	return 0, false
}

// IsRecurring reports whether s carries a recurrence rule.
func IsRecurring(s Schedulable) bool {
	return s.Recurrence() != nil
}

// IsDraft reports whether s has no start yet.
func IsDraft(s Schedulable) bool {
	return s.StartsAt() == nil
}
