package occurrence

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"calsched/internal/model"
	"calsched/internal/tz"
)

// uidNamespace scopes occurrence UIDs so they never collide with UUIDs
// minted elsewhere.
var uidNamespace = uuid.MustParse("6c1f3d2a-9a47-4f43-8f0e-3c1d6a8e5b21")

// Key identifies an occurrence: its parent and its start instant. It is
// comparable and can be used as a map key.
type Key struct {
	ParentID string
	Sec      int64 // unix seconds
	Nsec     int
}

// Occurrence is one concrete, non-persisted instance of a schedulable.
// It carries no descriptive state of its own; everything but the start
// is read from the parent.
type Occurrence struct {
	parent model.Schedulable
	start  time.Time

	endOnce sync.Once
	end     *time.Time
}

// New wraps parent at start.
func New(parent model.Schedulable, start time.Time) *Occurrence {
	return &Occurrence{parent: parent, start: start}
}

func (o *Occurrence) Parent() model.Schedulable { return o.parent }
func (o *Occurrence) StartsAt() time.Time       { return o.start }

func (o *Occurrence) Key() Key {
	return Key{ParentID: o.parent.ID(), Sec: o.start.Unix(), Nsec: o.start.Nanosecond()}
}

// Equal compares parent identity and start instant.
func (o *Occurrence) Equal(other *Occurrence) bool {
	if o == nil || other == nil {
		return o == other
	}
	return o.Key() == other.Key()
}

// EndsAt is start plus the parent's elapsed duration, or nil when the
// parent has none. Computed once.
func (o *Occurrence) EndsAt() *time.Time {
	o.endOnce.Do(func() {
		if d, ok := model.Duration(o.parent); ok {
			end := o.start.Add(d)
			o.end = &end
		}
	})
	return o.end
}

// IsException reports whether the start date is excluded by the
// parent's recurrence rule.
func (o *Occurrence) IsException() bool {
	r := o.parent.Recurrence()
	return r != nil && r.IsException(o.start)
}

func (o *Occurrence) Name() string          { return o.parent.Name() }
func (o *Occurrence) Description() string   { return o.parent.Description() }
func (o *Occurrence) Timezone() string      { return o.parent.Timezone() }
func (o *Occurrence) DurationMinutes() *int { return o.parent.DurationMinutes() }

// LocalStartsAt is the start in the parent's zone.
func (o *Occurrence) LocalStartsAt() (tz.LocalTime, error) {
	return tz.ToLocal(o.start, o.parent.Timezone())
}

// LocalEndsAt is the end in the parent's zone, nil if there is no end.
func (o *Occurrence) LocalEndsAt() (*tz.LocalTime, error) {
	return inZone(o.EndsAt(), o.parent.Timezone())
}

// StartsAtIn converts the start into an arbitrary zone.
func (o *Occurrence) StartsAtIn(zone string) (*tz.LocalTime, error) {
	return inZone(&o.start, zone)
}

// EndsAtIn converts the end into an arbitrary zone, nil if there is no end.
func (o *Occurrence) EndsAtIn(zone string) (*tz.LocalTime, error) {
	return inZone(o.EndsAt(), zone)
}

func inZone(t *time.Time, zone string) (*tz.LocalTime, error) {
	loc, err := tz.Load(zone)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, nil
	}
	lt := tz.In(*t, loc)
	return &lt, nil
}

// Past: the occurrence is over (or has started, when it has no end).
func (o *Occurrence) Past(now time.Time) bool {
	if end := o.EndsAt(); end != nil {
		return end.Before(now)
	}
	return o.start.Before(now)
}

// Future: the occurrence has not started yet.
func (o *Occurrence) Future(now time.Time) bool {
	return o.start.After(now)
}

// Upcoming is an alias of Future.
func (o *Occurrence) Upcoming(now time.Time) bool {
	return o.Future(now)
}

// Today compares local dates in the parent's zone.
func (o *Occurrence) Today(now time.Time) bool {
	loc, err := tz.Load(o.parent.Timezone())
	if err != nil {
		return false
	}
	return tz.DateOf(o.start.In(loc)) == tz.DateOf(now.In(loc))
}

// HappeningNow is start <= now <= end; false without an end.
func (o *Occurrence) HappeningNow(now time.Time) bool {
	end := o.EndsAt()
	if end == nil {
		return false
	}
	return !now.Before(o.start) && !now.After(*end)
}

// UID is a name-based UUID of parent id and start, stable across runs.
func (o *Occurrence) UID() string {
	name := o.parent.ID() + "@" + o.start.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(uidNamespace, []byte(name)).String()
}

// Between materializes the occurrences of s that start in [from, to].
// Recurring schedulables are expanded through their rule; one-off ones
// yield at most one occurrence. Drafts yield nothing.
func Between(s model.Schedulable, from, to time.Time) []*Occurrence {
	start := s.StartsAt()
	if start == nil {
		return nil
	}
	r := s.Recurrence()
	if r == nil {
		if start.Before(from) || start.After(to) {
			return nil
		}
		return []*Occurrence{New(s, *start)}
	}
	instants := r.OccurrencesBetween(from, to)
	out := make([]*Occurrence, 0, len(instants))
	for _, t := range instants {
		out = append(out, New(s, t))
	}
	return out
}

// Next returns the first occurrence of s starting strictly after the
// given instant, or nil.
func Next(s model.Schedulable, after time.Time) *Occurrence {
	start := s.StartsAt()
	if start == nil {
		return nil
	}
	r := s.Recurrence()
	if r == nil {
		if start.After(after) {
			return New(s, *start)
		}
		return nil
	}
	next := r.NextOccurrence(after)
	if next == nil {
		return nil
	}
	return New(s, *next)
}

// Dedupe drops repeated occurrences (same parent and start) and sorts
// the rest by start, then parent id. Used when merging overlapping
// windows.
func Dedupe(occs []*Occurrence) []*Occurrence {
	seen := make(map[Key]struct{}, len(occs))
	out := make([]*Occurrence, 0, len(occs))
	for _, o := range occs {
		k := o.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].start.Equal(out[j].start) {
			return out[i].start.Before(out[j].start)
		}
		return out[i].parent.ID() < out[j].parent.ID()
	})
	return out
}

// Collect expands several schedulables over one window and returns the
// merged, ordered list.
func Collect(items []model.Schedulable, from, to time.Time) []*Occurrence {
	var all []*Occurrence
	for _, s := range items {
		all = append(all, Between(s, from, to)...)
	}
	return Dedupe(all)
}
