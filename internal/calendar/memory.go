package calendar

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	appLog "calsched/internal/log"
	"calsched/internal/occurrence"
)

type key struct {
	calendarID    string
	schedulableID string
}

// MemoryStore keeps entries in a map keyed by (calendar, schedulable).
type MemoryStore struct {
	mu   sync.RWMutex
	data map[key]Entry
	now  func() time.Time
}

type Option func(*MemoryStore)

// WithClock replaces time.Now for CreatedAt/UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{data: make(map[key]Entry), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *MemoryStore) Link(_ context.Context, calendarID, schedulableID string, snap Snapshot) (Entry, error) {
	if calendarID == "" || schedulableID == "" {
		return Entry{}, fmt.Errorf("calendar and schedulable ids are required: %w", ErrInvalidEntry)
	}
	if err := snap.validate(); err != nil {
		return Entry{}, err
	}

	k := key{calendarID, schedulableID}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[k]; ok {
		appLog.Info("calendar entry conflict", "calendar", calendarID, "schedulable", schedulableID)
		return Entry{}, fmt.Errorf("link %q to %q: %w", schedulableID, calendarID, ErrDuplicateEntry)
	}
	now := s.now().UTC()
	e := Entry{
		ID:            uuid.New(),
		CalendarID:    calendarID,
		SchedulableID: schedulableID,
		Snapshot:      snap.copy(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.data[k] = e
	return e.clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, calendarID, schedulableID string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[key{calendarID, schedulableID}]
	if !ok {
		return Entry{}, fmt.Errorf("entry %q in %q: %w", schedulableID, calendarID, ErrNotFoundEntry)
	}
	return e.clone(), nil
}

// ListByCalendar returns the calendar's entries ordered by start time.
func (s *MemoryStore) ListByCalendar(_ context.Context, calendarID string) ([]Entry, error) {
	entries := make([]Entry, 0)
	s.mu.RLock()
	for k, e := range s.data {
		if k.calendarID == calendarID {
			entries = append(entries, e.clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].StartsAt.Equal(entries[j].StartsAt) {
			return entries[i].StartsAt.Before(entries[j].StartsAt)
		}
		return entries[i].SchedulableID < entries[j].SchedulableID
	})
	return entries, nil
}

func (s *MemoryStore) Unlink(_ context.Context, calendarID, schedulableID string) error {
	k := key{calendarID, schedulableID}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[k]; !ok {
		return fmt.Errorf("unlink %q from %q: %w", schedulableID, calendarID, ErrNotFoundEntry)
	}
	delete(s.data, k)
	return nil
}

// Resync overwrites an existing entry's snapshot with the times of occ.
func (s *MemoryStore) Resync(_ context.Context, calendarID string, occ *occurrence.Occurrence) (Entry, error) {
	snap := SnapshotOf(occ)
	if err := snap.validate(); err != nil {
		return Entry{}, err
	}
	k := key{calendarID, occ.Parent().ID()}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[k]
	if !ok {
		return Entry{}, fmt.Errorf("resync %q in %q: %w", k.schedulableID, calendarID, ErrNotFoundEntry)
	}
	e.Snapshot = snap
	e.UpdatedAt = s.now().UTC()
	s.data[k] = e
	return e.clone(), nil
}

func (e Entry) clone() Entry {
	e.Snapshot = e.Snapshot.copy()
	return e
}
