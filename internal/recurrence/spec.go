package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// ErrInvalidRule is returned when a rule text cannot be parsed or uses
// features the engine does not expand.
var ErrInvalidRule = errors.New("invalid recurrence rule")

// Frequency is the period of a rule. It is derived from the Spec variant.
type Frequency int

const (
	Daily Frequency = iota + 1
	Weekly
	Monthly
	Yearly
)

func (f Frequency) String() string {
	switch f {
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	case Yearly:
		return "yearly"
	default:
		return "unknown"
	}
}

// Limit holds the optional terminating conditions of a rule. At most one
// of Count and Until is set.
type Limit struct {
	Count int
	Until *time.Time // inclusive, UTC, second precision
}

// Spec is a recurrence definition. The concrete types are DailySpec,
// WeeklySpec, MonthlySpec and YearlySpec; the set is closed.
type Spec interface {
	Frequency() Frequency
	Interval() int
	Bounds() Limit
	sealed()
}

// DailySpec repeats every Every days from the anchor.
type DailySpec struct {
	Every int
	Limit Limit
}

// WeeklySpec repeats every Every weeks on the anchor's weekday.
type WeeklySpec struct {
	Every int
	Limit Limit
}

// MonthlySpec repeats every Every months on the anchor's day of month.
// Months without that day are skipped.
type MonthlySpec struct {
	Every int
	Limit Limit
}

// YearlySpec repeats every Every years on the anchor's month and day.
// Years without that day (Feb 29) are skipped.
type YearlySpec struct {
	Every int
	Limit Limit
}

func (DailySpec) Frequency() Frequency   { return Daily }
func (WeeklySpec) Frequency() Frequency  { return Weekly }
func (MonthlySpec) Frequency() Frequency { return Monthly }
func (YearlySpec) Frequency() Frequency  { return Yearly }

func (s DailySpec) Interval() int   { return every(s.Every) }
func (s WeeklySpec) Interval() int  { return every(s.Every) }
func (s MonthlySpec) Interval() int { return every(s.Every) }
func (s YearlySpec) Interval() int  { return every(s.Every) }

func (s DailySpec) Bounds() Limit   { return s.Limit }
func (s WeeklySpec) Bounds() Limit  { return s.Limit }
func (s MonthlySpec) Bounds() Limit { return s.Limit }
func (s YearlySpec) Bounds() Limit  { return s.Limit }

func (DailySpec) sealed()   {}
func (WeeklySpec) sealed()  {}
func (MonthlySpec) sealed() {}
func (YearlySpec) sealed()  {}

func every(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// NewSpec builds the variant for f. Until is normalized to UTC seconds.
func NewSpec(f Frequency, interval int, limit Limit) (Spec, error) {
	if interval < 1 {
		return nil, fmt.Errorf("%w: interval %d", ErrInvalidRule, interval)
	}
	if limit.Count < 0 {
		return nil, fmt.Errorf("%w: count %d", ErrInvalidRule, limit.Count)
	}
	if limit.Count > 0 && limit.Until != nil {
		return nil, fmt.Errorf("%w: COUNT and UNTIL are mutually exclusive", ErrInvalidRule)
	}
	if limit.Until != nil {
		u := limit.Until.UTC().Truncate(time.Second)
		limit.Until = &u
	}
	switch f {
	case Daily:
		return DailySpec{Every: interval, Limit: limit}, nil
	case Weekly:
		return WeeklySpec{Every: interval, Limit: limit}, nil
	case Monthly:
		return MonthlySpec{Every: interval, Limit: limit}, nil
	case Yearly:
		return YearlySpec{Every: interval, Limit: limit}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported frequency %d", ErrInvalidRule, f)
	}
}

// ParseSpec parses RFC 5545 RRULE text such as
// "FREQ=WEEKLY;INTERVAL=2;COUNT=10". A leading "RRULE:" is accepted.
// BY* parts, WKST and sub-daily frequencies are rejected.
func ParseSpec(text string) (Spec, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "RRULE:")
	if text == "" {
		return nil, fmt.Errorf("%w: empty rule", ErrInvalidRule)
	}
	if strings.Contains(text, "\n") {
		return nil, fmt.Errorf("%w: DTSTART is taken from the event, not the rule", ErrInvalidRule)
	}

	opt, err := rrule.StrToROption(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if !opt.Dtstart.IsZero() {
		return nil, fmt.Errorf("%w: DTSTART is taken from the event, not the rule", ErrInvalidRule)
	}
	if opt.Wkst != rrule.MO {
		return nil, fmt.Errorf("%w: WKST is not supported", ErrInvalidRule)
	}
	if hasByParts(opt) {
		return nil, fmt.Errorf("%w: BY* parts are not supported", ErrInvalidRule)
	}

	var f Frequency
	switch opt.Freq {
	case rrule.DAILY:
		f = Daily
	case rrule.WEEKLY:
		f = Weekly
	case rrule.MONTHLY:
		f = Monthly
	case rrule.YEARLY:
		f = Yearly
	default:
		return nil, fmt.Errorf("%w: frequency %s is not supported", ErrInvalidRule, opt.Freq)
	}

	interval := opt.Interval
	if interval == 0 && !strings.Contains(text, "INTERVAL=") {
		interval = 1
	}
	limit := Limit{Count: opt.Count}
	if !opt.Until.IsZero() {
		u := opt.Until
		limit.Until = &u
	}
	return NewSpec(f, interval, limit)
}

// MustParseSpec is ParseSpec for constant rule text.
func MustParseSpec(text string) Spec {
	s, err := ParseSpec(text)
	if err != nil {
		panic(err)
	}
	return s
}

// FormatSpec renders s as RRULE text (without the "RRULE:" prefix).
func FormatSpec(s Spec) string {
	opt := rrule.ROption{
		Interval: s.Interval(),
		Count:    s.Bounds().Count,
	}
	switch s.(type) {
	case DailySpec:
		opt.Freq = rrule.DAILY
	case WeeklySpec:
		opt.Freq = rrule.WEEKLY
	case MonthlySpec:
		opt.Freq = rrule.MONTHLY
	case YearlySpec:
		opt.Freq = rrule.YEARLY
	}
	if u := s.Bounds().Until; u != nil {
		opt.Until = u.UTC()
	}
	return opt.RRuleString()
}

// WithUntil returns a copy of s whose Until is the earlier of the
// existing bound and until. Count-limited specs are returned unchanged.
func WithUntil(s Spec, until time.Time) Spec {
	l := s.Bounds()
	if l.Count > 0 {
		return s
	}
	if l.Until != nil && l.Until.Before(until) {
		return s
	}
	l.Until = &until
	out, err := NewSpec(s.Frequency(), s.Interval(), l)
	if err != nil {
		return s
	}
	return out
}

func hasByParts(o *rrule.ROption) bool {
	return len(o.Bysetpos) > 0 || len(o.Bymonth) > 0 || len(o.Bymonthday) > 0 ||
		len(o.Byyearday) > 0 || len(o.Byweekno) > 0 || len(o.Byweekday) > 0 ||
		len(o.Byhour) > 0 || len(o.Byminute) > 0 || len(o.Bysecond) > 0 ||
		len(o.Byeaster) > 0
}
