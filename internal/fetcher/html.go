package fetcher

import (
	"bytes"
	"context"
	"log/slog"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/temoto/robotstxt"

	"notice_hub/internal/model"
)

const (
	noticeSelector  = "article, .notice, .notification, .announcement, .post"
	headingSelector = "h1, h2, h3, .title, .heading"
	bodySelector    = ".content, .body, .description, p"
	dateSelector    = ".date, .published, time"

	maxPageBody = 5000
)

// HTML scrapes notice listings from web pages, honoring robots.txt.
type HTML struct {
	client    HTTPClient
	userAgent string
	log       *slog.Logger
	now       func() time.Time
	delay     func(ctx context.Context) error
}

// NewHTML creates an HTML adapter that waits a random 1-3 seconds before
// each page request.
func NewHTML(client HTTPClient, userAgent string, log *slog.Logger) *HTML {
	return &HTML{client: client, userAgent: userAgent, log: log, now: time.Now, delay: politeDelay}
}

func politeDelay(ctx context.Context) error {
	d := time.Second + time.Duration(rand.Int63n(int64(2 * time.Second)))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Fetch returns the notices found on the page, or the whole page as a single
// item when no notice blocks are recognized.
func (a *HTML) Fetch(ctx context.Context, src model.Source) []model.FetchedItem {
	pageURL, err := url.Parse(src.URL)
	if err != nil {
		a.log.Warn("parse page url", "source_id", src.ID, "url", src.URL, "error", err)
		return nil
	}

	if !a.allowed(ctx, pageURL) {
		a.log.Warn("disallowed by robots.txt", "source_id", src.ID, "url", src.URL)
		return nil
	}

	if err := a.delay(ctx); err != nil {
		return nil
	}

	body, err := fetchBody(ctx, a.client, src.URL, a.userAgent)
	if err != nil {
		a.log.Warn("fetch page", "source_id", src.ID, "url", src.URL, "error", err)
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		a.log.Warn("parse page", "source_id", src.ID, "url", src.URL, "error", err)
		return nil
	}

	now := a.now().UTC()
	items := a.scanNotices(doc, pageURL, now)
	if len(items) > 0 {
		return items
	}

	if item, ok := a.wholePage(doc, body, pageURL, now); ok {
		return []model.FetchedItem{item}
	}
	return nil
}

// allowed reports whether robots.txt permits fetching pageURL. A robots file
// that cannot be fetched places no restriction.
func (a *HTML) allowed(ctx context.Context, pageURL *url.URL) bool {
	robotsURL := pageURL.ResolveReference(&url.URL{Path: "/robots.txt"})
	data, err := fetchBody(ctx, a.client, robotsURL.String(), a.userAgent)
	if err != nil {
		a.log.Debug("robots.txt unavailable, proceeding", "url", robotsURL.String(), "error", err)
		return true
	}
	robots, err := robotstxt.FromBytes(data)
	if err != nil {
		a.log.Debug("robots.txt unparsable, proceeding", "url", robotsURL.String(), "error", err)
		return true
	}

	path := pageURL.EscapedPath()
	if path == "" {
		path = "/"
	}
	if pageURL.RawQuery != "" {
		path += "?" + pageURL.RawQuery
	}
	return robots.TestAgent(path, robotAgent(a.userAgent))
}

// robotAgent reduces a User-Agent header to the product token robots.txt
// groups are keyed by.
func robotAgent(ua string) string {
	if i := strings.IndexAny(ua, "/ "); i > 0 {
		return ua[:i]
	}
	return ua
}

func (a *HTML) scanNotices(doc *goquery.Document, pageURL *url.URL, now time.Time) []model.FetchedItem {
	var items []model.FetchedItem
	doc.Find(noticeSelector).Each(func(_ int, s *goquery.Selection) {
		title := collapseSpace(s.Find(headingSelector).First().Text())
		body := blockText(s.Find(bodySelector), s)
		if title == "" || body == "" {
			return
		}

		link := pageURL.String()
		if href, ok := s.Find("a").First().Attr("href"); ok && href != "" {
			if u, err := pageURL.Parse(href); err == nil {
				link = u.String()
			}
		}

		date := s.Find(dateSelector).First()
		dateText, ok := date.Attr("datetime")
		if !ok || dateText == "" {
			dateText = date.Text()
		}

		items = append(items, model.FetchedItem{
			Title:       title,
			Body:        body,
			URL:         link,
			PublishedAt: parseDate(dateText, now),
		})
	})
	return items
}

func (a *HTML) wholePage(doc *goquery.Document, raw []byte, pageURL *url.URL, now time.Time) (model.FetchedItem, bool) {
	title := collapseSpace(doc.Find("title").First().Text())
	if title == "" {
		title = collapseSpace(doc.Find("h1").First().Text())
	}
	if title == "" {
		title = "Untitled"
	}

	var body string
	if article, err := readability.FromReader(bytes.NewReader(raw), pageURL); err == nil {
		body = Normalize(article.Content)
	}
	if body == "" {
		if markup, err := goquery.OuterHtml(doc.Find("body")); err == nil {
			body = Normalize(markup)
		}
	}
	if body == "" {
		return model.FetchedItem{}, false
	}

	return model.FetchedItem{
		Title:       title,
		Body:        truncateRunes(body, maxPageBody),
		URL:         pageURL.String(),
		PublishedAt: now,
	}, true
}

// blockText normalizes each matched element on its own and joins the results
// with spaces, so adjacent paragraphs never run together. Elements nested in
// another match below root are skipped to avoid repeating their text.
func blockText(sel, root *goquery.Selection) string {
	var parts []string
	sel.Each(func(_ int, e *goquery.Selection) {
		if e.ParentsFilteredUntilSelection(bodySelector, root).Length() > 0 {
			return
		}
		markup, err := goquery.OuterHtml(e)
		if err != nil {
			return
		}
		if text := Normalize(markup); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, " ")
}
