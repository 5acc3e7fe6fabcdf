// Package extract turns raw text into a structured narrative record.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"narrativeos/internal/core"
	"narrativeos/internal/llm"
)

const (
	minKeywords = 3
	maxKeywords = 5
	// maxInputChars bounds the prompt size for long articles.
	maxInputChars = 6000
)

const systemInstruction = `You are a financial narrative analyst. Extract the narrative carried by the text.
Respond with JSON only, using exactly this schema:
{
  "title": "short narrative title",
  "summary": "one or two sentence summary",
  "sentiment": "Bullish" | "Bearish" | "Neutral",
  "entities": ["companies, people, countries, assets"],
  "keywords": ["3 to 5 keywords, most relevant first"],
  "conflict": "the core disagreement or tension, or null"
}`

// Result is a validated extraction.
type Result struct {
	Title     string
	Summary   string
	Sentiment core.Sentiment
	Entities  []string
	Keywords  []string
	Conflict  *string
}

// response is the raw contract returned by the collaborator.
type response struct {
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	Sentiment string   `json:"sentiment"`
	Entities  []string `json:"entities"`
	Keywords  []string `json:"keywords"`
	Conflict  *string  `json:"conflict"`
}

// Extractor calls the collaborator and validates its answer.
type Extractor struct {
	collaborator llm.Collaborator
}

// New creates an extractor.
func New(collaborator llm.Collaborator) *Extractor {
	return &Extractor{collaborator: collaborator}
}

// Extract returns the structured record for text. Every failure is a soft
// failure (see llm.IsSoftFailure); callers skip the item.
func (e *Extractor) Extract(ctx context.Context, text string) (*Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &llm.MalformedResponseError{Err: errors.New("empty input text")}
	}
	if r := []rune(text); len(r) > maxInputChars {
		text = string(r[:maxInputChars])
	}

	raw, err := e.collaborator.Complete(ctx, llm.Request{
		Purpose:           "extract",
		SystemInstruction: systemInstruction,
		UserPrompt:        text,
		Temperature:       0.1,
		ResponseFormat:    llm.FormatJSON,
	})
	if err != nil {
		return nil, err
	}

	resp, err := llm.DecodeJSON[response](raw)
	if err != nil {
		return nil, err
	}

	result, err := validate(resp)
	if err != nil {
		return nil, &llm.MalformedResponseError{Raw: raw, Err: err}
	}
	return result, nil
}

func validate(resp response) (*Result, error) {
	title := strings.TrimSpace(resp.Title)
	if title == "" {
		return nil, errors.New("missing title")
	}

	sentiment, ok := core.ParseSentiment(resp.Sentiment)
	if !ok {
		return nil, fmt.Errorf("invalid sentiment %q", resp.Sentiment)
	}

	keywords := dedupe(resp.Keywords)
	if len(keywords) < minKeywords {
		return nil, fmt.Errorf("need at least %d keywords, got %d", minKeywords, len(keywords))
	}
	if len(keywords) > maxKeywords {
		keywords = keywords[:maxKeywords]
	}

	var conflict *string
	if resp.Conflict != nil {
		c := strings.TrimSpace(*resp.Conflict)
		if c != "" && !strings.EqualFold(c, "null") && !strings.EqualFold(c, "none") {
			conflict = &c
		}
	}

	return &Result{
		Title:     title,
		Summary:   strings.TrimSpace(resp.Summary),
		Sentiment: sentiment,
		Entities:  dedupe(resp.Entities),
		Keywords:  keywords,
		Conflict:  conflict,
	}, nil
}

// dedupe trims values and drops blanks and case-insensitive repeats,
// keeping first occurrence order.
func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		key := strings.ToLower(v)
		if v == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}
