package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"narrativeos/internal/llm"
	"narrativeos/internal/logger"
	"narrativeos/internal/persistence"
)

const (
	briefingClusters = 5

	BriefingNoData      = "Insufficient data to generate briefing."
	BriefingUnavailable = "Briefing generation unavailable."
)

const briefingSystem = "You are a senior financial analyst."

const briefingPrompt = `You are a chief market strategist writing the %s.
Based on the narrative clusters currently dominating the market, write a concise, professional outlook.

Current narratives:
%s
Requirements:
- Title: "Global Market Narrative Briefing: %s"
- Structure: **Macro View** (two sentences on overall sentiment), **Key Drivers** (the top 2-3
  narratives and their impact), **Strategic Outlook** (what investors should watch next).
- Markdown, under 300 words.`

// Phase is the market session a briefing is written for.
type Phase string

const (
	PhaseMorning   Phase = "Morning Call"
	PhaseMidday    Phase = "Midday Review"
	PhaseClose     Phase = "Market Close"
	PhasePreMarket Phase = "Pre-Market"
)

// PhaseAt picks the briefing phase from the hour of t.
func PhaseAt(t time.Time) Phase {
	switch h := t.Hour(); {
	case h < 10:
		return PhaseMorning
	case h < 14:
		return PhaseMidday
	case h < 18:
		return PhaseClose
	default:
		return PhasePreMarket
	}
}

// Briefing is a generated market outlook.
type Briefing struct {
	Content   string    `json:"content"`
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
}

// Briefer writes periodic market briefings from the latest clusters.
type Briefer struct {
	db           persistence.Database
	collaborator llm.Collaborator
	now          func() time.Time
	log          *slog.Logger
}

// NewBriefer creates a briefing generator.
func NewBriefer(db persistence.Database, collaborator llm.Collaborator) *Briefer {
	return &Briefer{db: db, collaborator: collaborator, now: time.Now, log: logger.Get()}
}

// WithClock overrides the time source.
func (b *Briefer) WithClock(now func() time.Time) *Briefer {
	b.now = now
	return b
}

// Generate writes a briefing over the most recent clusters. It never fails:
// missing data and collaborator errors produce placeholder content.
func (b *Briefer) Generate(ctx context.Context) Briefing {
	now := b.now()
	phase := PhaseAt(now)
	out := Briefing{Phase: phase, Timestamp: now}

	clusters, err := b.db.Clusters().List(ctx, time.Time{}, briefingClusters)
	if err != nil {
		b.log.Warn("Loading clusters for briefing failed", "error", err)
		out.Content = BriefingUnavailable
		return out
	}
	if len(clusters) == 0 {
		out.Content = BriefingNoData
		return out
	}

	var summaries strings.Builder
	for _, c := range clusters {
		fmt.Fprintf(&summaries, "- **%s**: %s\n", c.Name, c.Description)
	}

	content, err := b.collaborator.Complete(ctx, llm.Request{
		Purpose:           "briefing",
		SystemInstruction: briefingSystem,
		UserPrompt:        fmt.Sprintf(briefingPrompt, phase, summaries.String(), phase),
		Temperature:       0.7,
		ResponseFormat:    llm.FormatText,
	})
	if err != nil {
		b.log.Warn("Briefing generation failed", "phase", phase, "error", err)
		out.Content = BriefingUnavailable
		return out
	}

	out.Content = strings.TrimSpace(content)
	return out
}
