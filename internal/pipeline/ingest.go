package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"notice_hub/internal/dedup"
	"notice_hub/internal/model"
	"notice_hub/internal/queue"
	"notice_hub/internal/storage"
)

// Fetcher fetches the current items of a source.
type Fetcher interface {
	Fetch(ctx context.Context, src model.Source) ([]model.FetchedItem, error)
}

// Ingester handles ingest jobs: fetch, drop duplicates, store raw items and
// hand them to the process queue.
type Ingester struct {
	store   storage.Storage
	fetch   Fetcher
	dedup   *dedup.Engine
	process queue.Enqueuer[ProcessJob]
	log     *slog.Logger
	now     func() time.Time
}

// ErrSourceInactive is returned when an ingest job names a disabled source.
var ErrSourceInactive = errors.New("source is inactive")

// NewIngester creates an Ingester.
func NewIngester(store storage.Storage, fetch Fetcher, dd *dedup.Engine, process queue.Enqueuer[ProcessJob], log *slog.Logger) *Ingester {
	return &Ingester{store: store, fetch: fetch, dedup: dd, process: process, log: log, now: time.Now}
}

// Handle runs one ingest job.
func (i *Ingester) Handle(ctx context.Context, job IngestJob) error {
	src, err := i.store.GetSource(ctx, job.SourceID)
	if err != nil {
		return fmt.Errorf("load source %s: %w", job.SourceID, err)
	}
	if !src.IsActive {
		return fmt.Errorf("source %s: %w", src.ID, ErrSourceInactive)
	}

	items, err := i.fetch.Fetch(ctx, *src)
	if err != nil {
		return queue.Permanent(err)
	}

	stats := model.FetchLog{SourceID: src.ID, Fetched: len(items)}
	for _, it := range items {
		dup, err := i.dedup.IsDuplicate(ctx, dedup.Fingerprint(it))
		if err != nil {
			return err
		}
		if dup {
			stats.Duplicates++
			continue
		}

		payload, err := json.Marshal(it)
		if err != nil {
			return queue.Permanent(fmt.Errorf("encode item: %w", err))
		}
		raw := model.RawItem{SourceID: src.ID, Payload: payload}
		if err := i.store.CreateRawItem(ctx, &raw); err != nil {
			return fmt.Errorf("store raw item: %w", err)
		}
		stats.New++

		if err := i.process.Enqueue(ctx, ProcessJob{RawItemID: raw.ID, SourceID: src.ID}); err != nil {
			i.log.Error("enqueue process job", "source_id", src.ID, "raw_item_id", raw.ID, "error", err)
		}
	}

	if err := i.store.MarkSourceFetched(ctx, src.ID, i.now()); err != nil {
		return fmt.Errorf("mark source fetched: %w", err)
	}
	if err := i.store.CreateFetchLog(ctx, &stats); err != nil {
		i.log.Warn("record fetch log", "source_id", src.ID, "error", err)
	}

	i.log.Info("source ingested", "source_id", src.ID, "name", src.Name,
		"fetched", stats.Fetched, "new", stats.New, "duplicates", stats.Duplicates)
	return nil
}
