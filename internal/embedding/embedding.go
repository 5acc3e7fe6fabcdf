// Package embedding turns text into fixed-length vectors for semantic
// clustering.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf16"

	"google.golang.org/genai"

	"narrativeos/internal/llm"
	"narrativeos/internal/metrics"
)

// DefaultDimensions is the vector length of the hash embedder.
const DefaultDimensions = 384

// Embedder produces a vector for a piece of text.
type Embedder interface {
	Generate(ctx context.Context, text string) ([]float64, error)
	Dimensions() int
}

// boostTerms nudge texts that share a domain term toward each other. Each
// term owns a band of boostWidth dimensions.
var boostTerms = []string{"AI", "Crypto", "China", "Tech", "Stock", "Revenue", "Profit", "IPO"}

const (
	boostWidth  = 20
	boostAmount = 2.0
)

// HashEmbedder is a deterministic local embedder used when no embedding
// service is configured. It is not semantic beyond the boost terms.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a hash embedder. Non-positive dims uses
// DefaultDimensions.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &HashEmbedder{dims: dims}
}

// Dimensions implements Embedder.
func (h *HashEmbedder) Dimensions() int { return h.dims }

// Generate implements Embedder. The same text always yields the same vector.
func (h *HashEmbedder) Generate(_ context.Context, text string) ([]float64, error) {
	seed := float64(stringHash(text))

	vec := make([]float64, h.dims)
	for i := range vec {
		vec[i] = math.Sin(seed + float64(i))
	}

	lower := strings.ToLower(text)
	for k, term := range boostTerms {
		if !strings.Contains(lower, strings.ToLower(term)) {
			continue
		}
		for j := 0; j < boostWidth; j++ {
			if idx := k*boostWidth + j; idx < h.dims {
				vec[idx] += boostAmount
			}
		}
	}
	return vec, nil
}

// stringHash is the 32-bit h*31+c rolling hash over UTF-16 code units.
func stringHash(s string) int32 {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = (h << 5) - h + int32(c)
	}
	return h
}

// GeminiEmbedder calls the Gemini embedding model.
type GeminiEmbedder struct {
	client  *genai.Client
	model   string
	dims    int32
	timeout time.Duration
}

// NewGeminiEmbedder wraps an existing genai client.
func NewGeminiEmbedder(client *genai.Client, model string, dims int) *GeminiEmbedder {
	if model == "" {
		model = "text-embedding-004"
	}
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &GeminiEmbedder{client: client, model: model, dims: int32(dims), timeout: llm.DefaultTimeout}
}

// WithTimeout bounds each embedding call. Non-positive values are ignored.
func (g *GeminiEmbedder) WithTimeout(d time.Duration) *GeminiEmbedder {
	if d > 0 {
		g.timeout = d
	}
	return g
}

// Dimensions implements Embedder.
func (g *GeminiEmbedder) Dimensions() int { return int(g.dims) }

// maxEmbedChars keeps requests under the model's token limit.
const maxEmbedChars = 8000

// Generate implements Embedder.
func (g *GeminiEmbedder) Generate(ctx context.Context, text string) ([]float64, error) {
	if r := []rune(text); len(r) > maxEmbedChars {
		text = string(r[:maxEmbedChars])
	}

	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: text}},
		Role:  "user",
	}}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	dims := g.dims
	resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &dims,
	})
	elapsed := time.Since(start).Seconds()
	if err != nil {
		outcome := "error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			outcome = "timeout"
		}
		metrics.RecordCollaboratorCall("gemini", "embed", outcome, elapsed)
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}
	metrics.RecordCollaboratorCall("gemini", "embed", "ok", elapsed)
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, errors.New("no embedding values returned from API")
	}

	values := resp.Embeddings[0].Values
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out, nil
}
