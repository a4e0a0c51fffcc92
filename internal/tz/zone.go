package tz

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	// Embedded zone database so conversions do not depend on the host.
	_ "time/tzdata"
)

// ErrInvalidTimezone is returned for identifiers that are not IANA zones.
var ErrInvalidTimezone = errors.New("invalid timezone")

// DefaultZone is used when a schedulable does not name a zone.
const DefaultZone = "UTC"

var locCache sync.Map // string -> *time.Location

// Load resolves an IANA identifier. An empty name means DefaultZone.
// "Local" is rejected because it depends on the host.
func Load(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultZone
	}
	if v, ok := locCache.Load(name); ok {
		return v.(*time.Location), nil
	}
	if name == "Local" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	locCache.Store(name, loc)
	return loc, nil
}

// Validate reports whether name is a usable zone identifier.
func Validate(name string) error {
	_, err := Load(name)
	return err
}

// LocalTime is an instant rendered in a specific zone together with the
// offset that was in effect at that instant.
type LocalTime struct {
	Time   time.Time
	Abbrev string
	Offset int // seconds east of UTC
	DST    bool
}

func (lt LocalTime) String() string {
	return lt.Time.Format("2006-01-02 15:04:05 MST")
}

// ToLocal converts an instant into zone. The offset comes from the
// instant itself, not from the current date.
func ToLocal(instant time.Time, zone string) (LocalTime, error) {
	loc, err := Load(zone)
	if err != nil {
		return LocalTime{}, err
	}
	return In(instant, loc), nil
}

// In is ToLocal for an already loaded location.
func In(instant time.Time, loc *time.Location) LocalTime {
	t := instant.In(loc)
	abbrev, offset := t.Zone()
	return LocalTime{Time: t, Abbrev: abbrev, Offset: offset, DST: t.IsDST()}
}

// Resolution describes how a wall-clock reading mapped onto an instant.
type Resolution int

const (
	Exact Resolution = iota
	Gap
	Ambiguous
)

func (r Resolution) String() string {
	switch r {
	case Gap:
		return "gap"
	case Ambiguous:
		return "ambiguous"
	default:
		return "exact"
	}
}

// Resolve maps a wall-clock reading in loc to an instant.
//
//   - Inside a spring-forward gap the reading is interpreted with the
//     offset in effect before the gap, which moves it forward by the
//     gap width (02:30 becomes 03:30 on a one-hour gap).
//   - Inside a fall-back overlap the earlier instant (pre-transition
//     offset) is returned.
//
// Zones are assumed to change offset at most once within a day of w.
func Resolve(w Wall, loc *time.Location) (time.Time, Resolution) {
	naive := w.naiveUnix()
	before := offsetAt(naive-86400, loc)
	after := offsetAt(naive+86400, loc)

	var valid []int64
	for _, off := range []int{before, after, offsetAt(naive, loc)} {
		u := naive - int64(off)
		if offsetAt(u, loc) == off {
			valid = append(valid, u)
		}
	}
	if len(valid) == 0 {
		return time.Unix(naive-int64(before), 0).In(loc), Gap
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i] < valid[j] })
	res := Exact
	if valid[len(valid)-1] != valid[0] {
		res = Ambiguous
	}
	return time.Unix(valid[0], 0).In(loc), res
}

// DSTGapShift resolves w in zone through Resolve. A reading inside a
// spring-forward gap moves forward by the gap width; ambiguous and exact
// readings resolve as in DSTAmbiguousResolve.
func DSTGapShift(w Wall, zone string) (time.Time, error) {
	return resolveIn(w, zone)
}

// DSTAmbiguousResolve resolves w in zone through Resolve. A reading
// inside a fall-back overlap maps to its first (pre-transition) instant;
// gap readings shift forward as in DSTGapShift.
func DSTAmbiguousResolve(w Wall, zone string) (time.Time, error) {
	return resolveIn(w, zone)
}

func resolveIn(w Wall, zone string) (time.Time, error) {
	loc, err := Load(zone)
	if err != nil {
		return time.Time{}, err
	}
	t, _ := Resolve(w, loc)
	return t, nil
}

func offsetAt(unix int64, loc *time.Location) int {
	_, off := time.Unix(unix, 0).In(loc).Zone()
	return off
}
