// Package curator decides which recent raw items are worth extracting.
package curator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"narrativeos/internal/core"
	"narrativeos/internal/llm"
	"narrativeos/internal/logger"
	"narrativeos/internal/persistence"
)

const (
	DefaultWindow       = 24 * time.Hour
	DefaultLimit        = 100
	DefaultFallbackSize = 5
)

const systemInstruction = `You are the editor-in-chief of a financial intelligence desk.
From the numbered headlines, select the items that carry market-moving narratives:
macro policy, earnings surprises, regulation, geopolitics, capital flows, major deals.
Skip gossip, promotions, duplicates and low-signal items.
Respond with JSON only: {"selected_ids": ["<id>", ...], "reason": "<one sentence>"}`

// selection is the response contract.
type selection struct {
	SelectedIDs []string `json:"selected_ids"`
	Reason      string   `json:"reason"`
}

// Curator selects candidate raw items for extraction.
type Curator struct {
	db           persistence.Database
	collaborator llm.Collaborator
	window       time.Duration
	limit        int
	fallbackSize int
	now          func() time.Time
	log          *slog.Logger
}

// New creates a curator with the default window, limit and fallback size.
func New(db persistence.Database, collaborator llm.Collaborator) *Curator {
	return &Curator{
		db:           db,
		collaborator: collaborator,
		window:       DefaultWindow,
		limit:        DefaultLimit,
		fallbackSize: DefaultFallbackSize,
		now:          time.Now,
		log:          logger.Get(),
	}
}

// WithWindow sets how far back candidates are considered.
func (c *Curator) WithWindow(d time.Duration) *Curator {
	if d > 0 {
		c.window = d
	}
	return c
}

// WithLimit caps the number of candidates shown to the collaborator.
func (c *Curator) WithLimit(n int) *Curator {
	if n > 0 {
		c.limit = n
	}
	return c
}

// WithFallbackSize sets how many candidates are taken when the
// collaborator cannot decide.
func (c *Curator) WithFallbackSize(n int) *Curator {
	if n > 0 {
		c.fallbackSize = n
	}
	return c
}

// WithClock overrides the time source.
func (c *Curator) WithClock(now func() time.Time) *Curator {
	c.now = now
	return c
}

// Curate returns the IDs of candidate raw items selected for extraction.
// Every returned ID is a candidate: recent, and without a narrative unit.
// Collaborator failures fall back to the newest candidates; only
// persistence errors are returned.
func (c *Curator) Curate(ctx context.Context) ([]string, error) {
	candidates, err := c.Candidates(ctx)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		c.log.Info("No curation candidates")
		return nil, nil
	}

	selected, err := c.selectWithCollaborator(ctx, candidates)
	if err != nil {
		c.log.Warn("Curation falling back to newest candidates",
			"candidates", len(candidates), "fallback_size", c.fallbackSize, "error", err)
		return c.fallback(candidates), nil
	}

	c.log.Info("Curation complete", "candidates", len(candidates), "selected", len(selected))
	return selected, nil
}

// Candidates returns recent raw items without a unit, newest first.
func (c *Curator) Candidates(ctx context.Context) ([]core.RawItem, error) {
	items, err := c.db.RawItems().ListSince(ctx, c.now().Add(-c.window), c.limit)
	if err != nil {
		return nil, fmt.Errorf("list curation candidates: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}

	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	existing, err := c.db.Units().ExistingRawItemIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("check existing units: %w", err)
	}

	candidates := items[:0]
	for _, item := range items {
		if !existing[item.ID] {
			candidates = append(candidates, item)
		}
	}
	return candidates, nil
}

func (c *Curator) selectWithCollaborator(ctx context.Context, candidates []core.RawItem) ([]string, error) {
	var b strings.Builder
	for i, item := range candidates {
		fmt.Fprintf(&b, "%d. [ID:%s] %s\n", i+1, item.ID, item.Title)
	}

	raw, err := c.collaborator.Complete(ctx, llm.Request{
		Purpose:           "curate",
		SystemInstruction: systemInstruction,
		UserPrompt:        b.String(),
		Temperature:       0.1,
		ResponseFormat:    llm.FormatJSON,
	})
	if err != nil {
		return nil, err
	}

	resp, err := llm.DecodeJSON[selection](raw)
	if err != nil {
		return nil, err
	}

	return filterSelection(resp, candidates)
}

// filterSelection normalizes returned IDs and keeps only real candidates,
// in candidate order. A non-empty answer in which no ID survives is treated
// as malformed.
func filterSelection(resp selection, candidates []core.RawItem) ([]string, error) {
	chosen := make(map[string]bool, len(resp.SelectedIDs))
	for _, id := range resp.SelectedIDs {
		id = strings.TrimSpace(id)
		id = strings.TrimSpace(strings.TrimPrefix(id, "ID:"))
		if id != "" {
			chosen[id] = true
		}
	}

	var selected []string
	for _, item := range candidates {
		if chosen[item.ID] {
			selected = append(selected, item.ID)
		}
	}

	if len(resp.SelectedIDs) > 0 && len(selected) == 0 {
		return nil, &llm.MalformedResponseError{Err: fmt.Errorf("none of %d selected ids are candidates", len(resp.SelectedIDs))}
	}
	return selected, nil
}

func (c *Curator) fallback(candidates []core.RawItem) []string {
	n := c.fallbackSize
	if n > len(candidates) {
		n = len(candidates)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = candidates[i].ID
	}
	return out
}
