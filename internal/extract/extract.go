// Package extract derives summaries, tags and entities from notice text.
package extract

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"notice_hub/internal/classify"
	"notice_hub/internal/model"
)

// Word limits for summaries.
const (
	ShortSummaryWords = 40
	LongSummaryWords  = 150
)

// Result is the structured output of an extractor.
type Result struct {
	Entities     model.Entities
	ShortSummary string
	LongSummary  string
	Tags         []string
}

// Extractor turns free text into a Result. Implementations never fail; a
// degraded extraction is still a Result.
type Extractor interface {
	Extract(ctx context.Context, text string) Result
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// New returns the LLM-backed extractor when apiKey is set and the
// deterministic one otherwise.
func New(apiKey, endpoint, modelName string, client HTTPClient, log *slog.Logger) Extractor {
	if apiKey == "" {
		log.Info("extraction using keyword fallback")
		return Fallback{}
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	log.Info("extraction using LLM", "model", modelName)
	return NewLLM(apiKey, endpoint, modelName, client, log)
}

var (
	tagKeywords = []string{"exam", "scholarship", "result", "admission", "notification"}
	defaultTags = []string{"educational", "notice"}
	datePattern = regexp.MustCompile(`\d{1,2}[-/]\d{1,2}[-/]\d{2,4}`)
)

// Fallback extracts with fixed keyword and pattern tables.
type Fallback struct{}

// Extract implements Extractor. It is a pure function of text.
func (Fallback) Extract(_ context.Context, text string) Result {
	lower := strings.ToLower(text)
	var tags []string
	for _, kw := range tagKeywords {
		if strings.Contains(lower, kw) {
			tags = append(tags, kw)
		}
	}
	if len(tags) == 0 {
		tags = append([]string(nil), defaultTags...)
	}

	dates := datePattern.FindAllString(text, -1)
	ent := model.Entities{
		ExamName:  classify.ExamName(text),
		Deadlines: dates,
	}
	if len(dates) > 0 {
		ent.LastDate = dates[len(dates)-1]
	}

	return Result{
		Entities:     ent,
		ShortSummary: firstWords(text, ShortSummaryWords),
		LongSummary:  firstWords(text, LongSummaryWords),
		Tags:         tags,
	}
}

// firstWords keeps the first n whitespace-separated words of s, marking a cut
// with "...".
func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ") + "..."
}
