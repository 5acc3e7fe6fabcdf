// Package synthesis produces long-form analysis on top of clusters: multi-turn
// research, bull/bear wargames and the periodic market briefing.
package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"narrativeos/internal/llm"
	"narrativeos/internal/logger"
	"narrativeos/internal/persistence"
)

const (
	researchTurnTokens = 1000
	researchTitleLimit = 20
)

const researchSystem = `You are a financial intelligence research agent. Analyze market narratives
through a rigorous, multi-step dialectical process: investigate, challenge and synthesize rather
than summarize. Keep a professional, objective and sharp tone.`

// researchSteps are the follow-up turns after the opening conflict question.
var researchSteps = []struct {
	purpose string
	prompt  string
}{
	{"research_stakeholders", "Step 2: Who are the key actors driving this (institutions, states, large holders)? What motives sit behind their moves?"},
	{"research_contrarian", "Step 3: Play devil's advocate. What is the consensus missing? Is there black-swan risk or a plausible reversal?"},
	{"research_synthesis", "Final step: Combine everything above into one coherent deep intelligence report in Markdown with the sections [Core Conflict], [Drivers and Motives], [Contrarian View and Risks], [Strategic Assessment]. Write it like an internal investment bank memo."},
}

// ReportStore persists a finished report for a cluster.
type ReportStore interface {
	Put(ctx context.Context, clusterID, content string) (bool, error)
}

// ResearchAgent runs a four-turn analysis conversation about a cluster.
type ResearchAgent struct {
	db           persistence.Database
	collaborator llm.Collaborator
	reports      ReportStore
	log          *slog.Logger
}

// NewResearchAgent creates a research agent that writes its final report to
// reports.
func NewResearchAgent(db persistence.Database, collaborator llm.Collaborator, reports ReportStore) *ResearchAgent {
	return &ResearchAgent{
		db:           db,
		collaborator: collaborator,
		reports:      reports,
		log:          logger.Get(),
	}
}

// Conduct interviews the collaborator about the cluster and stores the final
// synthesis as the cluster's report. Any failed turn aborts the research.
func (a *ResearchAgent) Conduct(ctx context.Context, clusterID string) (string, error) {
	cluster, err := a.db.Clusters().Get(ctx, clusterID)
	if err != nil {
		return "", fmt.Errorf("load cluster %s: %w", clusterID, err)
	}

	ids := cluster.MemberUnitIDs
	if len(ids) > researchTitleLimit {
		ids = ids[:researchTitleLimit]
	}
	units, err := a.db.Units().ListByIDs(ctx, ids)
	if err != nil {
		return "", fmt.Errorf("load members of %s: %w", clusterID, err)
	}

	var headlines strings.Builder
	for _, u := range units {
		fmt.Fprintf(&headlines, "- %s\n", u.Title)
	}

	a.log.Info("Starting research", "cluster_id", clusterID, "name", cluster.Name, "headlines", len(units))
	conv := llm.NewConversation(a.collaborator, researchSystem, 0.5, researchTurnTokens)

	opening := fmt.Sprintf("Raw data on the narrative %q:\n%s\nStep 1: Identify the single most critical conflict or tension in this narrative. What is at stake and where is the core contradiction?",
		cluster.Name, headlines.String())
	reply, err := conv.Send(ctx, "research_conflict", opening)
	if err != nil {
		return "", fmt.Errorf("research turn 1: %w", err)
	}

	for i, step := range researchSteps {
		a.log.Debug("Research turn", "cluster_id", clusterID, "turn", i+2)
		reply, err = conv.Send(ctx, step.purpose, step.prompt)
		if err != nil {
			return "", fmt.Errorf("research turn %d: %w", i+2, err)
		}
	}

	if _, err := a.reports.Put(ctx, clusterID, reply); err != nil {
		return reply, err
	}
	a.log.Info("Research complete", "cluster_id", clusterID, "length", len(reply))
	return reply, nil
}
