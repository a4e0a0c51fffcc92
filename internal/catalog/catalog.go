// Package catalog holds the set of schedulables the service currently
// publishes and rebuilds it from configuration and ICS subscriptions.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"calsched/internal/config"
	"calsched/internal/ics"
	appLog "calsched/internal/log"
	"calsched/internal/model"
)

// Importer loads events from ICS subscriptions. *ics.Fetcher implements it.
type Importer interface {
	Import(ctx context.Context, sources []ics.Source) ([]*model.Event, []error)
}

// Catalog is a read-mostly snapshot of events. Replace swaps the whole
// set; readers never see a partial refresh.
type Catalog struct {
	mu        sync.RWMutex
	events    []*model.Event
	byID      map[string]*model.Event
	updatedAt time.Time
}

func New() *Catalog {
	return &Catalog{byID: make(map[string]*model.Event)}
}

// Replace installs events as the new snapshot. When two events share an
// id the first one wins.
func (c *Catalog) Replace(events []*model.Event, at time.Time) {
	byID := make(map[string]*model.Event, len(events))
	kept := make([]*model.Event, 0, len(events))
	for _, ev := range events {
		if _, dup := byID[ev.UID]; dup {
			appLog.Info("catalog: duplicate event id dropped", "id", ev.UID)
			continue
		}
		byID[ev.UID] = ev
		kept = append(kept, ev)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].UID < kept[j].UID })

	c.mu.Lock()
	c.events = kept
	c.byID = byID
	c.updatedAt = at
	c.mu.Unlock()
}

// Events returns the current snapshot ordered by id.
func (c *Catalog) Events() []*model.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*model.Event, len(c.events))
	copy(out, c.events)
	return out
}

// Schedulables is Events typed for the engine packages.
func (c *Catalog) Schedulables() []model.Schedulable {
	events := c.Events()
	out := make([]model.Schedulable, len(events))
	for i, ev := range events {
		out[i] = ev
	}
	return out
}

func (c *Catalog) Get(id string) (*model.Event, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ev, ok := c.byID[id]
	return ev, ok
}

func (c *Catalog) UpdatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updatedAt
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.events)
}

// Build assembles the events of cfg: the inline definitions first, then
// everything imported from cfg.ICS. Failures are joined into the
// returned error; whatever could be built is still returned.
func Build(ctx context.Context, cfg *config.Config, imp Importer) ([]*model.Event, error) {
	events, err := cfg.BuildEvents()
	errs := []error{err}

	if len(cfg.ICS) > 0 && imp != nil {
		sources := make([]ics.Source, 0, len(cfg.ICS))
		for _, s := range cfg.ICS {
			zone := s.Timezone
			if zone == "" {
				zone = cfg.Timezone
			}
			sources = append(sources, ics.Source{ID: s.ID, URL: s.URL, Zone: zone})
		}
		imported, importErrs := imp.Import(ctx, sources)
		errs = append(errs, importErrs...)
		for _, ev := range imported {
			if ev.Rule != nil {
				ev.Rule.SetMaxOccurrences(cfg.MaxOccurrences)
			}
		}
		events = append(events, imported...)
	}
	return events, errors.Join(errs...)
}

// Refresh rebuilds the catalog from cfg. A partial failure still
// replaces the snapshot with what was built, so one broken feed does not
// hide the rest.
func (c *Catalog) Refresh(ctx context.Context, cfg *config.Config, imp Importer, now time.Time) error {
	events, err := Build(ctx, cfg, imp)
	if err != nil {
		appLog.Error("catalog: refresh incomplete", err, "events", len(events))
	}
	if len(events) == 0 && err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	c.Replace(events, now)
	appLog.Info("catalog: refreshed", "events", len(events), "at", now.Format(time.RFC3339))
	return err
}
