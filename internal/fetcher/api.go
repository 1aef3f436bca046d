package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"notice_hub/internal/model"
)

// API reads JSON endpoints that return a list of notices, either as a bare
// array or wrapped in an object under "items".
type API struct {
	client    HTTPClient
	userAgent string
	log       *slog.Logger
	now       func() time.Time
}

// NewAPI creates a JSON API adapter.
func NewAPI(client HTTPClient, userAgent string, log *slog.Logger) *API {
	return &API{client: client, userAgent: userAgent, log: log, now: time.Now}
}

// Fetch returns one item per element of the response list.
func (a *API) Fetch(ctx context.Context, src model.Source) []model.FetchedItem {
	body, err := fetchBody(ctx, a.client, src.URL, a.userAgent)
	if err != nil {
		a.log.Warn("fetch api", "source_id", src.ID, "url", src.URL, "error", err)
		return nil
	}

	records, err := decodeRecords(body)
	if err != nil {
		a.log.Warn("decode api response", "source_id", src.ID, "url", src.URL, "error", err)
		return nil
	}

	now := a.now().UTC()
	items := make([]model.FetchedItem, 0, len(records))
	for _, r := range records {
		title := collapseSpace(firstString(r, "title", "headline"))
		if title == "" {
			title = "Untitled"
		}
		link := firstString(r, "url", "link")
		if link == "" {
			link = src.URL
		}
		items = append(items, model.FetchedItem{
			Title:       title,
			Body:        Normalize(firstString(r, "body", "description", "content")),
			URL:         link,
			PublishedAt: parseDate(firstString(r, "publishedAt", "published_at", "date"), now),
		})
	}
	return items
}

func decodeRecords(body []byte) ([]map[string]any, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}

	var list []any
	switch v := doc.(type) {
	case []any:
		list = v
	case map[string]any:
		items, ok := v["items"]
		if !ok || items == nil {
			return nil, nil
		}
		if list, ok = items.([]any); !ok {
			return nil, errors.New(`"items" is not a list`)
		}
	default:
		return nil, errors.New("response is neither a list nor an object")
	}

	records := make([]map[string]any, 0, len(list))
	for _, el := range list {
		if m, ok := el.(map[string]any); ok {
			records = append(records, m)
		}
	}
	return records, nil
}

// firstString returns the first key of keys present in r with a non-empty
// value. Numbers are formatted so numeric timestamps survive.
func firstString(r map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := r[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}
