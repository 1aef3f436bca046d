package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"notice_hub/internal/classify"
	"notice_hub/internal/dedup"
	"notice_hub/internal/extract"
	"notice_hub/internal/filter"
	"notice_hub/internal/model"
	"notice_hub/internal/queue"
	"notice_hub/internal/storage"
)

// Processor handles process jobs: extract, classify, store the Item and
// queue a notify job per matching rule.
type Processor struct {
	store     storage.Storage
	extractor extract.Extractor
	dedup     *dedup.Engine
	notify    queue.Enqueuer[NotifyJob]
	log       *slog.Logger
	now       func() time.Time
}

// NewProcessor creates a Processor.
func NewProcessor(store storage.Storage, ext extract.Extractor, dd *dedup.Engine, notify queue.Enqueuer[NotifyJob], log *slog.Logger) *Processor {
	return &Processor{store: store, extractor: ext, dedup: dd, notify: notify, log: log, now: time.Now}
}

// Handle runs one process job.
func (p *Processor) Handle(ctx context.Context, job ProcessJob) error {
	raw, err := p.store.GetRawItem(ctx, job.RawItemID)
	if err != nil {
		return fmt.Errorf("load raw item: %w", err)
	}
	src, err := p.store.GetSource(ctx, job.SourceID)
	if err != nil {
		return fmt.Errorf("load source: %w", err)
	}

	var fi model.FetchedItem
	if err := json.Unmarshal(raw.Payload, &fi); err != nil {
		return queue.Permanent(fmt.Errorf("decode raw item %s: %w", raw.ID, err))
	}

	fp := dedup.Fingerprint(fi)
	dup, err := p.dedup.IsDuplicate(ctx, fp)
	if err != nil {
		return err
	}
	if dup {
		p.log.Info("item already processed", "raw_item_id", raw.ID, "fingerprint", fp)
		return nil
	}

	// Rules are read before the item is written so a failure here retries
	// cleanly instead of tripping the duplicate check.
	rules, err := p.store.ListMatchableRules(ctx, src.TrustLevel)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}

	res := p.extractor.Extract(ctx, fi.Title+" "+fi.Body)
	published := fi.PublishedAt
	if published.IsZero() {
		published = p.now()
	}
	item := model.Item{
		SourceID:     src.ID,
		Title:        fi.Title,
		Body:         fi.Body,
		URL:          fi.URL,
		PublishedAt:  published,
		Type:         classify.Classify(fi.Title, fi.Body),
		Tags:         res.Tags,
		ShortSummary: res.ShortSummary,
		LongSummary:  res.LongSummary,
		Entities:     res.Entities,
		Fingerprint:  fp,
	}
	if err := p.store.CreateItem(ctx, &item); err != nil {
		return fmt.Errorf("store item: %w", err)
	}

	matched := filter.MatchingRules(item, src.TrustLevel, rules)
	for _, r := range matched {
		if err := p.notify.Enqueue(ctx, NotifyJob{UserID: r.UserID, ItemID: item.ID, RuleID: r.ID}); err != nil {
			p.log.Error("enqueue notify job", "item_id", item.ID, "rule_id", r.ID, "error", err)
		}
	}

	p.log.Info("item processed", "item_id", item.ID, "source_id", src.ID,
		"type", item.Type, "matched_rules", len(matched))
	return nil
}
