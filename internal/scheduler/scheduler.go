// Package scheduler periodically enqueues ingest jobs for due sources.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"notice_hub/internal/model"
	"notice_hub/internal/pipeline"
	"notice_hub/internal/queue"
)

// Sources lists the sources the scheduler considers.
type Sources interface {
	ListActiveSources(ctx context.Context) ([]model.Source, error)
}

// Scheduler scans active sources on a cron schedule and enqueues an ingest
// job for each one whose poll interval has elapsed.
type Scheduler struct {
	sources Sources
	ingest  queue.Enqueuer[pipeline.IngestJob]
	spec    string
	loc     *time.Location
	log     *slog.Logger
	now     func() time.Time
}

// New creates a Scheduler. spec is a standard five-field cron expression or
// a descriptor such as "@every 5m".
func New(sources Sources, ingest queue.Enqueuer[pipeline.IngestJob], spec string, loc *time.Location, log *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		sources: sources,
		ingest:  ingest,
		spec:    spec,
		loc:     loc,
		log:     log,
		now:     time.Now,
	}
}

// Run scans once immediately, then on every cron tick, blocking until ctx
// is cancelled. A tick that is still running when the next one fires is
// skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(s.spec, func() { s.scan(ctx) }); err != nil {
		return fmt.Errorf("parse schedule %q: %w", s.spec, err)
	}

	s.scan(ctx)
	c.Start()
	s.log.Info("scheduler started", "schedule", s.spec, "timezone", s.loc.String())

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (s *Scheduler) scan(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	n, err := s.Tick(ctx)
	if err != nil {
		s.log.Error("scan sources", "error", err)
		return
	}
	s.log.Debug("scan complete", "enqueued", n)
}

// Tick enqueues one ingest job per due active source and returns how many
// were enqueued. Enqueue failures are logged and skipped.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	sources, err := s.sources.ListActiveSources(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active sources: %w", err)
	}

	now := s.now()
	enqueued := 0
	for _, src := range sources {
		if !src.IsDue(now) {
			continue
		}
		if err := s.ingest.Enqueue(ctx, pipeline.IngestJob{SourceID: src.ID}); err != nil {
			s.log.Error("enqueue ingest job", "source_id", src.ID, "error", err)
			continue
		}
		enqueued++
	}
	if enqueued > 0 {
		s.log.Info("ingest jobs enqueued", "count", enqueued)
	}
	return enqueued, nil
}
