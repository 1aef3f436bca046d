package fetcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/mmcdole/gofeed"

	"notice_hub/internal/model"
)

// RSS reads RSS and Atom feeds.
type RSS struct {
	client    HTTPClient
	userAgent string
	log       *slog.Logger
	now       func() time.Time
}

// NewRSS creates an RSS adapter.
func NewRSS(client HTTPClient, userAgent string, log *slog.Logger) *RSS {
	return &RSS{client: client, userAgent: userAgent, log: log, now: time.Now}
}

// Fetch returns one item per feed entry, in feed order.
func (a *RSS) Fetch(ctx context.Context, src model.Source) []model.FetchedItem {
	body, err := fetchBody(ctx, a.client, src.URL, a.userAgent)
	if err != nil {
		a.log.Warn("fetch feed", "source_id", src.ID, "url", src.URL, "error", err)
		return nil
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		a.log.Warn("parse feed", "source_id", src.ID, "url", src.URL, "error", err)
		return nil
	}

	now := a.now().UTC()
	items := make([]model.FetchedItem, 0, len(feed.Items))
	for _, it := range feed.Items {
		items = append(items, a.convert(it, src, now))
	}
	return items
}

func (a *RSS) convert(it *gofeed.Item, src model.Source, now time.Time) model.FetchedItem {
	title := collapseSpace(it.Title)
	if title == "" {
		title = "Untitled"
	}
	body := it.Content
	if body == "" {
		body = it.Description
	}
	link := it.Link
	if link == "" {
		link = src.URL
	}
	published := now
	switch {
	case it.PublishedParsed != nil:
		published = it.PublishedParsed.UTC()
	case it.UpdatedParsed != nil:
		published = it.UpdatedParsed.UTC()
	}
	return model.FetchedItem{
		Title:       title,
		Body:        Normalize(body),
		URL:         link,
		PublishedAt: published,
	}
}
