package recurrence

import (
	"errors"
	"time"

	"calsched/internal/tz"
)

const (
	defaultMaxOccurrences = 5000
)

// ExpandConfig controls how a single expansion is performed.
type ExpandConfig struct {
	// RangeStart / RangeEnd define the inclusive time window.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrences is a safety cap on the number of instants returned.
	// If zero, defaultMaxOccurrences is used.
	MaxOccurrences int
}

// ExpandResult wraps the expanded instants and whether the cap was hit.
type ExpandResult struct {
	Occurrences []time.Time
	Truncated   bool
}

// Expand returns every start instant of spec within [from, to], in
// ascending order and without duplicates. Candidates are generated on
// the anchor's wall clock in the anchor's location, so a 14:00 event
// stays at 14:00 local time across DST changes. Work is proportional to
// the number of periods in the window, not to the distance from the
// anchor.
func Expand(spec Spec, anchor, from, to time.Time) []time.Time {
	out, _ := expandRange(spec, anchor, from, to, 0)
	return out
}

// ExpandWithConfig is Expand with a cap on the result size.
func ExpandWithConfig(spec Spec, anchor time.Time, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.MaxOccurrences <= 0 {
		cfg.MaxOccurrences = defaultMaxOccurrences
	}

	result.Occurrences, result.Truncated = expandRange(spec, anchor, cfg.RangeStart, cfg.RangeEnd, cfg.MaxOccurrences)
	return result, nil
}

func expandRange(spec Spec, anchor, from, to time.Time, limit int) ([]time.Time, bool) {
	if spec == nil || anchor.IsZero() || to.Before(from) {
		return nil, false
	}
	s := newSeries(spec, anchor)

	end := to
	if last, ok := s.last(); ok && last.Before(end) {
		end = last
	}
	if end.Before(from) {
		return nil, false
	}

	out := make([]time.Time, 0)
	for k := s.firstIndex(tz.DateOf(from.In(s.loc))); ; k++ {
		w, valid := s.candidate(k)
		t, _ := tz.Resolve(w, s.loc)
		if t.After(end) {
			break
		}
		if !valid || t.Before(from) {
			continue
		}
		if n := len(out); n > 0 && !t.After(out[n-1]) {
			continue
		}
		if limit > 0 && len(out) >= limit {
			return out, true
		}
		out = append(out, t)
	}
	return out, false
}

// series is a spec bound to an anchor.
type series struct {
	spec Spec
	loc  *time.Location
	wall tz.Wall
	step int
}

func newSeries(spec Spec, anchor time.Time) series {
	return series{
		spec: spec,
		loc:  anchor.Location(),
		wall: tz.WallOf(anchor),
		step: spec.Interval(),
	}
}

// candidate returns the wall clock of period k. For months or years that
// lack the anchor's day it returns the last day of that period and false.
func (s series) candidate(k int) (tz.Wall, bool) {
	w := s.wall
	switch s.spec.(type) {
	case DailySpec:
		w.Date = s.wall.Date.AddDays(k * s.step)
		return w, true
	case WeeklySpec:
		w.Date = s.wall.Date.AddDays(7 * k * s.step)
		return w, true
	case MonthlySpec:
		m := int(s.wall.Month) - 1 + k*s.step
		year := s.wall.Year + floorDiv(m, 12)
		month := time.Month(m - floorDiv(m, 12)*12 + 1)
		return onDay(w, year, month, s.wall.Day)
	case YearlySpec:
		return onDay(w, s.wall.Year+k*s.step, s.wall.Month, s.wall.Day)
	default:
		return w, false
	}
}

func onDay(w tz.Wall, year int, month time.Month, day int) (tz.Wall, bool) {
	if n := tz.DaysIn(year, month); day > n {
		w.Date = tz.Date{Year: year, Month: month, Day: n}
		return w, false
	}
	w.Date = tz.Date{Year: year, Month: month, Day: day}
	return w, true
}

// firstIndex returns a period index whose candidate is strictly before
// the given local date, so no instant at or after it is missed.
func (s series) firstIndex(from tz.Date) int {
	a := s.wall.Date
	var k int
	switch s.spec.(type) {
	case DailySpec:
		k = floorDiv(from.DaysSince(a), s.step)
	case WeeklySpec:
		k = floorDiv(from.DaysSince(a), 7*s.step)
	case MonthlySpec:
		k = floorDiv((from.Year-a.Year)*12+int(from.Month)-int(a.Month), s.step)
	case YearlySpec:
		k = floorDiv(from.Year-a.Year, s.step)
	}
	if k--; k < 0 {
		return 0
	}
	return k
}

// last returns the final instant allowed by the spec's limit, if any.
func (s series) last() (time.Time, bool) {
	l := s.spec.Bounds()
	var (
		end time.Time
		ok  bool
	)
	if l.Until != nil {
		end, ok = *l.Until, true
	}
	if l.Count > 0 {
		t, _ := tz.Resolve(s.nth(l.Count), s.loc)
		if !ok || t.Before(end) {
			end, ok = t, true
		}
	}
	return end, ok
}

// nth returns the wall clock of the n-th (1-based) valid candidate.
// Rules that skip periods repeat their pattern every cycle() periods, so
// whole cycles are jumped and at most one cycle is walked.
func (s series) nth(n int) tz.Wall {
	if !s.maySkip() {
		w, _ := s.candidate(n - 1)
		return w
	}
	cycle := s.cycle()
	perCycle := 0
	for k := 0; k < cycle; k++ {
		if _, valid := s.candidate(k); valid {
			perCycle++
		}
	}
	// k = 0 is the anchor itself, so perCycle >= 1.
	full := (n - 1) / perCycle
	seen := full * perCycle
	for k := full * cycle; ; k++ {
		w, valid := s.candidate(k)
		if !valid {
			continue
		}
		if seen++; seen == n {
			return w
		}
	}
}

// cycle is the number of periods after which validity repeats: the
// Gregorian calendar repeats every 400 years (4800 months).
func (s series) cycle() int {
	switch s.spec.(type) {
	case MonthlySpec:
		return 4800 / gcd(s.step, 4800)
	case YearlySpec:
		return 400 / gcd(s.step, 400)
	default:
		return 1
	}
}

func (s series) maySkip() bool {
	switch s.spec.(type) {
	case MonthlySpec:
		return s.wall.Day > 28
	case YearlySpec:
		return s.wall.Month == time.February && s.wall.Day == 29
	default:
		return false
	}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
