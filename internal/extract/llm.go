package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"notice_hub/internal/model"
)

const (
	systemPrompt = "You are a helpful assistant that extracts structured information from educational notices. Always return valid JSON."

	userPrompt = `Given this notice text: %q, extract exam_name, institution, start_date, last_date ` +
		`(YYYY-MM-DD or null), deadlines (array of dates), a 1-line short_summary (<=40 words), ` +
		`a 2-3 sentence long_summary (<=150 words) and tags (array of relevant tags). ` +
		`Return JSON with exactly these keys.`

	maxPromptRunes = 8000
)

// LLM extracts through an OpenAI-compatible chat completion endpoint and
// falls back to keyword extraction on any failure.
type LLM struct {
	endpoint string
	model    string
	apiKey   string
	client   HTTPClient
	fallback Extractor
	log      *slog.Logger
}

// NewLLM creates an LLM extractor.
func NewLLM(apiKey, endpoint, modelName string, client HTTPClient, log *slog.Logger) *LLM {
	return &LLM{
		endpoint: endpoint,
		model:    modelName,
		apiKey:   apiKey,
		client:   client,
		fallback: Fallback{},
		log:      log,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type extraction struct {
	ExamName     *string  `json:"exam_name"`
	Institution  *string  `json:"institution"`
	StartDate    *string  `json:"start_date"`
	LastDate     *string  `json:"last_date"`
	Deadlines    []string `json:"deadlines"`
	ShortSummary string   `json:"short_summary"`
	LongSummary  string   `json:"long_summary"`
	Tags         []string `json:"tags"`
}

// Extract implements Extractor.
func (l *LLM) Extract(ctx context.Context, text string) Result {
	res, err := l.complete(ctx, text)
	if err != nil {
		l.log.Warn("llm extraction failed, using fallback", "error", err)
		return l.fallback.Extract(ctx, text)
	}
	return res
}

func (l *LLM) complete(ctx context.Context, text string) (Result, error) {
	if r := []rune(text); len(r) > maxPromptRunes {
		text = string(r[:maxPromptRunes])
	}
	body, err := json.Marshal(chatRequest{
		Model: l.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf(userPrompt, text)},
		},
		Temperature:    0,
		ResponseFormat: map[string]any{"type": "json_object"},
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+l.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("send completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Result{}, fmt.Errorf("completion error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var cr chatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&cr); err != nil {
		return Result{}, fmt.Errorf("decode completion: %w", err)
	}
	if len(cr.Choices) == 0 || strings.TrimSpace(cr.Choices[0].Message.Content) == "" {
		return Result{}, errors.New("empty completion")
	}

	var ex extraction
	if err := json.Unmarshal([]byte(cr.Choices[0].Message.Content), &ex); err != nil {
		return Result{}, fmt.Errorf("decode extraction: %w", err)
	}
	if strings.TrimSpace(ex.ShortSummary) == "" {
		return Result{}, errors.New("extraction has no short_summary")
	}

	tags := ex.Tags
	if tags == nil {
		tags = []string{}
	}
	return Result{
		Entities: model.Entities{
			ExamName:    deref(ex.ExamName),
			Institution: deref(ex.Institution),
			StartDate:   deref(ex.StartDate),
			LastDate:    deref(ex.LastDate),
			Deadlines:   ex.Deadlines,
		},
		ShortSummary: firstWords(ex.ShortSummary, ShortSummaryWords),
		LongSummary:  firstWords(ex.LongSummary, LongSummaryWords),
		Tags:         tags,
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
