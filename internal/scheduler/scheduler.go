// Package scheduler runs the refresh and export pipeline on the
// configured cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"calsched/internal/catalog"
	"calsched/internal/config"
	"calsched/internal/ics"
	appLog "calsched/internal/log"
	"calsched/internal/tz"
)

// Pipeline refreshes the catalog from config and feeds, then writes the
// exported calendar to cfg.Output.
type Pipeline struct {
	cfg      *config.Config
	catalog  *catalog.Catalog
	importer catalog.Importer
	now      func() time.Time

	mu sync.Mutex // serializes runs
}

type Option func(*Pipeline)

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func NewPipeline(cfg *config.Config, cat *catalog.Catalog, imp catalog.Importer, opts ...Option) *Pipeline {
	p := &Pipeline{cfg: cfg, catalog: cat, importer: imp, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run performs one refresh and export. A partially failed refresh still
// exports what was loaded; the refresh error is returned afterwards.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	started := p.now()
	refreshErr := p.catalog.Refresh(ctx, p.cfg, p.importer, started)
	if p.catalog.Len() == 0 && refreshErr != nil {
		return refreshErr
	}
	if err := p.Export(); err != nil {
		return err
	}
	appLog.Info("pipeline: run complete",
		"events", p.catalog.Len(),
		"output", p.cfg.Output,
		"took", time.Since(started).String(),
	)
	return refreshErr
}

// Export renders the current catalog and writes it atomically.
func (p *Pipeline) Export() error {
	if p.cfg.Output == "" {
		return nil
	}
	doc, err := ics.RenderCalendar(p.catalog.Schedulables(), ics.RenderConfig{
		ProductID: p.cfg.ProductID,
		Name:      p.cfg.CalendarName,
		Stamp:     p.now(),
	})
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := config.WriteFile(p.cfg.Output, doc.Bytes()); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return nil
}

// Scheduler triggers a Pipeline on a cron schedule evaluated in the
// configured timezone.
type Scheduler struct {
	cron     *cron.Cron
	pipeline *Pipeline
	entry    cron.EntryID
}

func New(cfg *config.Config, p *Pipeline) (*Scheduler, error) {
	loc, err := tz.Load(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	s := &Scheduler{cron: c, pipeline: p}
	id, err := c.AddFunc(cfg.RefreshCron, s.tick)
	if err != nil {
		return nil, fmt.Errorf("refresh schedule %q: %w", cfg.RefreshCron, err)
	}
	s.entry = id
	return s, nil
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := s.pipeline.Run(ctx); err != nil {
		appLog.Error("scheduled refresh failed", err)
	}
}

// Next reports when the refresh fires next. Zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

func (s *Scheduler) Start() {
	s.cron.Start()
	appLog.Info("scheduler started", "next", s.Next().Format(time.RFC3339))
}

// Stop halts the schedule and waits for a running refresh, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		appLog.Info("scheduler stop timed out")
	}
}
