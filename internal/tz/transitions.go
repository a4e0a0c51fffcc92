package tz

import "time"

// Transition is a change of UTC offset.
type Transition struct {
	At         time.Time // first instant of the new offset, UTC
	OffsetFrom int
	OffsetTo   int
	Name       string // abbreviation after the change
	DST        bool   // true if the new offset is daylight time
}

// Transitions lists offset changes of loc in [from, to).
func Transitions(loc *time.Location, from, to time.Time) []Transition {
	var out []Transition
	cur := from.In(loc)
	for cur.Before(to) {
		_, end := cur.ZoneBounds()
		if end.IsZero() || !end.Before(to) {
			break
		}
		_, fromOff := cur.Zone()
		next := end.In(loc)
		name, toOff := next.Zone()
		if toOff != fromOff || next.IsDST() != cur.IsDST() {
			out = append(out, Transition{
				At:         end.UTC(),
				OffsetFrom: fromOff,
				OffsetTo:   toOff,
				Name:       name,
				DST:        next.IsDST(),
			})
		}
		cur = next
	}
	return out
}

// HasDST reports whether loc observes daylight time anywhere in the
// given window.
func HasDST(loc *time.Location, from, to time.Time) bool {
	for _, tr := range Transitions(loc, from, to) {
		if tr.DST {
			return true
		}
	}
	return false
}
