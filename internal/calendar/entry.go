package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"calsched/internal/occurrence"
)

var (
	ErrDuplicateEntry = errors.New("calendar already has an entry for this schedulable")
	ErrNotFoundEntry  = errors.New("calendar entry not found")
	ErrInvalidEntry   = errors.New("invalid calendar entry")
)

// Snapshot holds the times copied onto an entry when it is linked. Later
// edits to the schedulable do not touch it.
type Snapshot struct {
	StartsAt        time.Time  `json:"startsAt"`
	EndsAt          *time.Time `json:"endsAt,omitempty"`
	DurationMinutes *int       `json:"durationMinutes,omitempty"`
}

// Entry links one schedulable into one calendar.
type Entry struct {
	ID            uuid.UUID `json:"id"`
	CalendarID    string    `json:"calendarId"`
	SchedulableID string    `json:"schedulableId"`
	Snapshot
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Store interface {
	Link(ctx context.Context, calendarID, schedulableID string, snap Snapshot) (Entry, error)
	Get(ctx context.Context, calendarID, schedulableID string) (Entry, error)
	ListByCalendar(ctx context.Context, calendarID string) ([]Entry, error)
	Unlink(ctx context.Context, calendarID, schedulableID string) error
	Resync(ctx context.Context, calendarID string, occ *occurrence.Occurrence) (Entry, error)
}

// SnapshotOf copies the times of one occurrence. The duration is the
// real elapsed time in whole minutes.
func SnapshotOf(occ *occurrence.Occurrence) Snapshot {
	snap := Snapshot{StartsAt: occ.StartsAt().UTC()}
	if end := occ.EndsAt(); end != nil {
		e := end.UTC()
		snap.EndsAt = &e
		m := int(e.Sub(snap.StartsAt) / time.Minute)
		snap.DurationMinutes = &m
	} else if m := occ.DurationMinutes(); m != nil {
		v := *m
		snap.DurationMinutes = &v
	}
	return snap
}

func (s Snapshot) validate() error {
	if s.StartsAt.IsZero() {
		return fmt.Errorf("start time is required: %w", ErrInvalidEntry)
	}
	if s.EndsAt != nil && !s.EndsAt.After(s.StartsAt) {
		return fmt.Errorf("end time must be after start time: %w", ErrInvalidEntry)
	}
	if s.DurationMinutes != nil && *s.DurationMinutes < 0 {
		return fmt.Errorf("duration must not be negative: %w", ErrInvalidEntry)
	}
	return nil
}

// copy detaches the pointer fields so callers cannot mutate stored state.
func (s Snapshot) copy() Snapshot {
	out := Snapshot{StartsAt: s.StartsAt}
	if s.EndsAt != nil {
		e := *s.EndsAt
		out.EndsAt = &e
	}
	if s.DurationMinutes != nil {
		m := *s.DurationMinutes
		out.DurationMinutes = &m
	}
	return out
}
