// Package pipeline wires the ingest, process and notify stages onto their
// job queues.
package pipeline

import (
	"context"
	"log/slog"

	"notice_hub/internal/dedup"
	"notice_hub/internal/extract"
	"notice_hub/internal/notify"
	"notice_hub/internal/queue"
	"notice_hub/internal/storage"
)

// Config sets worker counts and the retry budget of the queues.
type Config struct {
	IngestWorkers  int
	ProcessWorkers int
	NotifyWorkers  int
	MaxAttempts    int
}

// Pipeline owns the three stage queues.
type Pipeline struct {
	Ingest  *queue.Queue[IngestJob]
	Process *queue.Queue[ProcessJob]
	Notify  *queue.Queue[NotifyJob]
}

// New builds the queues and their stage handlers.
func New(cfg Config, store storage.Storage, fetch Fetcher, ext extract.Extractor, dispatcher *notify.Dispatcher, log *slog.Logger) *Pipeline {
	dd := dedup.New(store)

	notifyQ := queue.New[NotifyJob](queue.Options{Name: QueueNotify, Workers: cfg.NotifyWorkers, MaxAttempts: cfg.MaxAttempts},
		NotifyHandler(dispatcher), store, log)
	processQ := queue.New[ProcessJob](queue.Options{Name: QueueProcess, Workers: cfg.ProcessWorkers, MaxAttempts: cfg.MaxAttempts},
		NewProcessor(store, ext, dd, notifyQ, log).Handle, store, log)
	ingestQ := queue.New[IngestJob](queue.Options{Name: QueueIngest, Workers: cfg.IngestWorkers, MaxAttempts: cfg.MaxAttempts},
		NewIngester(store, fetch, dd, processQ, log).Handle, store, log)

	return &Pipeline{Ingest: ingestQ, Process: processQ, Notify: notifyQ}
}

// NotifyHandler adapts a dispatcher to the notify queue.
func NotifyHandler(d *notify.Dispatcher) queue.Handler[NotifyJob] {
	return func(ctx context.Context, job NotifyJob) error {
		_, err := d.Dispatch(ctx, job.UserID, job.ItemID, job.RuleID)
		return err
	}
}

// Start launches the workers of every queue.
func (p *Pipeline) Start(ctx context.Context) {
	p.Notify.Start(ctx)
	p.Process.Start(ctx)
	p.Ingest.Start(ctx)
}

// Stop stops the queues in flow order.
func (p *Pipeline) Stop() {
	p.Ingest.Stop()
	p.Process.Stop()
	p.Notify.Stop()
}

// Enqueue schedules an ingest of the given source.
func (p *Pipeline) Enqueue(ctx context.Context, job IngestJob) error {
	return p.Ingest.Enqueue(ctx, job)
}

// Stats returns the counters of every queue in flow order.
func (p *Pipeline) Stats() []queue.Stats {
	return []queue.Stats{p.Ingest.Stats(), p.Process.Stats(), p.Notify.Stats()}
}
