// Package fetcher turns external sources into fetched notice items.
package fetcher

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/microcosm-cc/bluemonday"

	"notice_hub/internal/model"
)

const maxBodySize = 5 * 1024 * 1024

// DefaultUserAgent identifies the crawler to remote servers and robots.txt.
const DefaultUserAgent = "EducationalNewsBot/1.0"

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Adapter fetches the current items of one kind of source. Failures are
// logged by the adapter and reported as an empty result.
type Adapter interface {
	Fetch(ctx context.Context, src model.Source) []model.FetchedItem
}

// Registry maps each source kind to its adapter.
type Registry map[model.SourceKind]Adapter

// Fetch dispatches src to the adapter registered for its kind.
func (r Registry) Fetch(ctx context.Context, src model.Source) ([]model.FetchedItem, error) {
	a, ok := r[src.Kind]
	if !ok {
		return nil, fmt.Errorf("no adapter for source kind %q", src.Kind)
	}
	return a.Fetch(ctx, src), nil
}

var stripPolicy = func() *bluemonday.Policy {
	p := bluemonday.StripTagsPolicy()
	p.AddSpaceWhenStrippingTag(true)
	return p
}()

// Normalize strips HTML markup, decodes entities and collapses whitespace.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	text := html.UnescapeString(stripPolicy.Sanitize(s))
	return collapseSpace(text)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// parseDate parses a loosely formatted timestamp, returning fallback when the
// input is empty or unrecognized.
func parseDate(s string, fallback time.Time) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return fallback
	}
	return t.UTC()
}

func fetchBody(ctx context.Context, client HTTPClient, url, userAgent string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
