package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"time"

	appLog "calsched/internal/log"
	"calsched/internal/tz"
)

const (
	// searchSteps bounds the widening search in NextOccurrence.
	searchSteps = 24
	// maxSearchSpan caps a single search window.
	maxSearchSpan = 25 * 365 * 24 * time.Hour
)

// Rule attaches a recurrence spec to one schedulable. It holds the
// exception dates and the optional hard end date.
//
// Exception dates and EndsOn are compared with an occurrence's calendar
// date in the rule's own timezone, not in UTC.
//
// A Rule is safe for concurrent readers. Mutations (SetSpec, SetAnchor,
// SetEndsOn, AddExceptionDate, RemoveExceptionDate) must be serialized
// by the caller; use Clone to hand readers a stable snapshot.
type Rule struct {
	schedulableID string

	text      string
	spec      Spec
	frequency Frequency

	anchor time.Time
	loc    *time.Location

	exceptions map[tz.Date]struct{}
	endsOn     *tz.Date

	maxOccurrences int
}

// New parses specText and binds it to the schedulable's start and zone.
// A zero anchor is allowed for drafts; such a rule yields nothing until
// SetAnchor is called.
func New(schedulableID, specText string, anchor time.Time, zone string) (*Rule, error) {
	loc, err := tz.Load(zone)
	if err != nil {
		return nil, err
	}
	r := &Rule{
		schedulableID: schedulableID,
		loc:           loc,
		exceptions:    make(map[tz.Date]struct{}),
	}
	if err := r.SetSpec(specText); err != nil {
		return nil, err
	}
	r.SetAnchor(anchor)
	return r, nil
}

// SchedulableID is the id of the owning schedulable.
func (r *Rule) SchedulableID() string { return r.schedulableID }

// Spec returns the parsed variant.
func (r *Rule) Spec() Spec { return r.spec }

// SpecText returns the canonical RRULE text of the spec.
func (r *Rule) SpecText() string { return r.text }

// Frequency is derived from the spec whenever it changes.
func (r *Rule) Frequency() Frequency { return r.frequency }

// Location is the zone used to interpret the rule.
func (r *Rule) Location() *time.Location { return r.loc }

// Anchor is the first start of the series, in the rule's zone.
func (r *Rule) Anchor() time.Time { return r.anchor }

// SetSpec replaces the rule text. The old spec is kept on error.
func (r *Rule) SetSpec(specText string) error {
	spec, err := ParseSpec(specText)
	if err != nil {
		return err
	}
	r.spec = spec
	r.text = FormatSpec(spec)
	r.frequency = spec.Frequency()
	return nil
}

// SetAnchor moves the series start. Sub-second precision is dropped.
func (r *Rule) SetAnchor(anchor time.Time) {
	if anchor.IsZero() {
		r.anchor = time.Time{}
		return
	}
	r.anchor = anchor.Truncate(time.Second).In(r.loc)
}

// SetMaxOccurrences caps how many instants OccurrencesBetween returns.
func (r *Rule) SetMaxOccurrences(n int) { r.maxOccurrences = n }

// EndsOn returns the hard end date, or nil.
func (r *Rule) EndsOn() *tz.Date {
	if r.endsOn == nil {
		return nil
	}
	d := *r.endsOn
	return &d
}

// SetEndsOn sets or clears (nil) the hard end date.
func (r *Rule) SetEndsOn(d *tz.Date) {
	if d == nil {
		r.endsOn = nil
		return
	}
	v := *d
	r.endsOn = &v
}

// AddExceptionDate excludes d from the series. Adding twice is a no-op.
func (r *Rule) AddExceptionDate(d tz.Date) {
	r.exceptions[d] = struct{}{}
}

// RemoveExceptionDate re-includes d. Removing an absent date is a no-op.
func (r *Rule) RemoveExceptionDate(d tz.Date) {
	delete(r.exceptions, d)
}

// ExceptionDates returns the exception set in ascending order.
func (r *Rule) ExceptionDates() []tz.Date {
	out := make([]tz.Date, 0, len(r.exceptions))
	for d := range r.exceptions {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// IsException reports whether t's local date is excluded.
func (r *Rule) IsException(t time.Time) bool {
	_, ok := r.exceptions[tz.DateOf(t.In(r.loc))]
	return ok
}

// Clone returns an independent copy, suitable as a read-only snapshot.
func (r *Rule) Clone() *Rule {
	c := *r
	c.exceptions = make(map[tz.Date]struct{}, len(r.exceptions))
	for d := range r.exceptions {
		c.exceptions[d] = struct{}{}
	}
	c.endsOn = r.EndsOn()
	return &c
}

// OccurrencesBetween expands the rule over [from, to] and drops
// exception dates and anything after EndsOn.
func (r *Rule) OccurrencesBetween(from, to time.Time) []time.Time {
	if r.spec == nil || r.anchor.IsZero() {
		return nil
	}
	res, err := ExpandWithConfig(r.spec, r.anchor, ExpandConfig{
		RangeStart:     from,
		RangeEnd:       to,
		MaxOccurrences: r.maxOccurrences,
	})
	if err != nil {
		return nil
	}
	if res.Truncated {
		appLog.Error("recurrence: truncated occurrences due to cap",
			errors.New("max occurrences reached"),
			"schedulable_id", r.schedulableID,
			"rule", r.text,
			"cap", len(res.Occurrences),
		)
	}

	return r.filter(res.Occurrences, 0)
}

// filter drops exception dates and dates after EndsOn from ascending
// candidates. A positive limit stops after that many survivors.
func (r *Rule) filter(candidates []time.Time, limit int) []time.Time {
	out := make([]time.Time, 0, len(candidates))
	for _, t := range candidates {
		d := tz.DateOf(t.In(r.loc))
		if r.endsOn != nil && d.After(*r.endsOn) {
			break
		}
		if _, skip := r.exceptions[d]; skip {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// NextOccurrence returns the first surviving start strictly after the
// given instant, or nil when the series is over. The search window
// doubles each round and gives up after a fixed number of rounds.
func (r *Rule) NextOccurrence(after time.Time) *time.Time {
	if r.spec == nil || r.anchor.IsZero() {
		return nil
	}
	end, bounded := r.end()
	if bounded && !end.After(after) {
		return nil
	}

	from := after.Add(time.Nanosecond)
	if from.Before(r.anchor) {
		from = r.anchor
	}
	span := maxSearchSpan
	if p := r.period(); p < maxSearchSpan/4 {
		span = p * 4
	}
	for i := 0; i < searchSteps; i++ {
		to := from.Add(span)
		raw, _ := expandRange(r.spec, r.anchor, from, to, 0)
		if found := r.filter(raw, 1); len(found) > 0 && found[0].After(after) {
			next := found[0]
			return &next
		}
		if bounded && !to.Before(end) {
			return nil
		}
		from = to.Add(time.Nanosecond)
		span = min(span*2, maxSearchSpan)
	}

	appLog.Debug("recurrence: next occurrence search exhausted",
		"schedulable_id", r.schedulableID,
		"rule", r.text,
		"after", after.Format(time.RFC3339),
	)
	return nil
}

// Terminated reports whether no occurrence can start after t.
func (r *Rule) Terminated(t time.Time) bool {
	end, bounded := r.end()
	return bounded && !end.After(t)
}

// end is the latest instant any occurrence may start at: the spec's
// UNTIL/COUNT bound or the end of the EndsOn day, whichever is earlier.
func (r *Rule) end() (time.Time, bool) {
	if r.spec == nil || r.anchor.IsZero() {
		return time.Time{}, false
	}
	end, ok := newSeries(r.spec, r.anchor).last()
	if r.endsOn != nil {
		limit := r.endsOnLimit()
		if !ok || limit.Before(end) {
			end, ok = limit, true
		}
	}
	return end, ok
}

// endsOnLimit is the last instant of the EndsOn day in the rule's zone.
func (r *Rule) endsOnLimit() time.Time {
	next, _ := tz.Resolve(tz.Wall{Date: r.endsOn.AddDays(1)}, r.loc)
	return next.Add(-time.Nanosecond)
}

// EffectiveSpec folds EndsOn into the spec as an UNTIL bound so that
// consumers of the bare rule text see the same series. A COUNT that
// runs out before EndsOn is left alone.
func (r *Rule) EffectiveSpec() Spec {
	if r.spec == nil || r.endsOn == nil || r.anchor.IsZero() {
		return r.spec
	}
	limit := r.endsOnLimit()
	if r.spec.Bounds().Count == 0 {
		return WithUntil(r.spec, limit)
	}
	if last, ok := newSeries(r.spec, r.anchor).last(); ok && !last.After(limit) {
		return r.spec
	}
	out, err := NewSpec(r.spec.Frequency(), r.spec.Interval(), Limit{Until: &limit})
	if err != nil {
		return r.spec
	}
	return out
}

// period is the nominal length of one repetition, saturated at
// maxSearchSpan.
func (r *Rule) period() time.Duration {
	const day = 24 * time.Hour
	days := 1
	switch r.frequency {
	case Weekly:
		days = 7
	case Monthly:
		days = 31
	case Yearly:
		days = 366
	}
	n := r.spec.Interval()
	if n > int(maxSearchSpan/day)/days {
		return maxSearchSpan
	}
	return time.Duration(days*n) * day
}

// Record is the persisted shape of a rule: the input contract from the
// storage layer.
type Record struct {
	SchedulableID  string    `json:"schedulable_id" yaml:"schedulable_id"`
	Rule           string    `json:"rule" yaml:"rule"`
	Frequency      string    `json:"frequency" yaml:"frequency"`
	ExceptionDates []tz.Date `json:"exception_dates,omitempty" yaml:"exception_dates,omitempty"`
	EndsOn         *tz.Date  `json:"ends_on,omitempty" yaml:"ends_on,omitempty"`
}

// Record snapshots the rule for storage.
func (r *Rule) Record() Record {
	return Record{
		SchedulableID:  r.schedulableID,
		Rule:           r.text,
		Frequency:      r.frequency.String(),
		ExceptionDates: r.ExceptionDates(),
		EndsOn:         r.EndsOn(),
	}
}

// FromRecord rebuilds a rule from storage. A stored frequency that
// disagrees with the rule text is rejected.
func FromRecord(rec Record, anchor time.Time, zone string) (*Rule, error) {
	r, err := New(rec.SchedulableID, rec.Rule, anchor, zone)
	if err != nil {
		return nil, err
	}
	if rec.Frequency != "" && rec.Frequency != r.frequency.String() {
		return nil, fmt.Errorf("%w: stored frequency %q does not match %q", ErrInvalidRule, rec.Frequency, r.text)
	}
	for _, d := range rec.ExceptionDates {
		r.AddExceptionDate(d)
	}
	r.SetEndsOn(rec.EndsOn)
	return r, nil
}
