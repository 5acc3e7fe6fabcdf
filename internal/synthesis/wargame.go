package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"narrativeos/internal/llm"
	"narrativeos/internal/logger"
	"narrativeos/internal/persistence"
)

// SimulationFailed is the verdict returned when no debate could be produced.
const SimulationFailed = "Simulation Failed"

const wargameSystem = "You are a simulation engine. Output JSON only."

const wargamePrompt = `Simulate a war-room debate about the narrative %q.

Roles:
1. Dr. Bull: optimistic futurist and growth investor. Sees potential, disruption and opportunity.
2. Mr. Bear: cynical risk manager and macro historian. Sees bubbles, regulatory risk and valuation traps.
3. Arbiter: balanced judge who closes the debate.

Write 4 to 6 turns of Dr. Bull and Mr. Bear arguing about where this narrative goes next, then the
Arbiter's verdict.

Respond with JSON: {"turns": [{"speaker": "Dr. Bull", "content": "..."}, {"speaker": "Mr. Bear", "content": "..."}], "verdict": "..."}`

// Turn is one line of the debate.
type Turn struct {
	Speaker string `json:"speaker"`
	Content string `json:"content"`
}

// Simulation is a scripted bull/bear debate with a verdict.
type Simulation struct {
	Turns   []Turn `json:"turns"`
	Verdict string `json:"verdict"`
}

// Wargame stages bull/bear debates about clusters.
type Wargame struct {
	db           persistence.Database
	collaborator llm.Collaborator
	log          *slog.Logger
}

// NewWargame creates a wargame simulator.
func NewWargame(db persistence.Database, collaborator llm.Collaborator) *Wargame {
	return &Wargame{db: db, collaborator: collaborator, log: logger.Get()}
}

// Simulate runs a debate for the cluster. An unknown cluster is an error;
// any collaborator failure yields an empty debate with a failed verdict.
func (w *Wargame) Simulate(ctx context.Context, clusterID string) (Simulation, error) {
	cluster, err := w.db.Clusters().Get(ctx, clusterID)
	if err != nil {
		return Simulation{}, fmt.Errorf("load cluster %s: %w", clusterID, err)
	}

	sim, err := w.debate(ctx, cluster.Name)
	if err != nil {
		w.log.Warn("Wargame simulation failed", "cluster_id", clusterID, "error", err)
		return Simulation{Turns: []Turn{}, Verdict: SimulationFailed}, nil
	}
	return sim, nil
}

func (w *Wargame) debate(ctx context.Context, name string) (Simulation, error) {
	raw, err := w.collaborator.Complete(ctx, llm.Request{
		Purpose:           "wargame",
		SystemInstruction: wargameSystem,
		UserPrompt:        fmt.Sprintf(wargamePrompt, name),
		Temperature:       0.7,
		ResponseFormat:    llm.FormatJSON,
	})
	if err != nil {
		return Simulation{}, err
	}

	sim, err := llm.DecodeJSON[Simulation](raw)
	if err != nil {
		return Simulation{}, err
	}

	turns := sim.Turns[:0]
	for _, t := range sim.Turns {
		t.Speaker = strings.TrimSpace(t.Speaker)
		t.Content = strings.TrimSpace(t.Content)
		if t.Speaker != "" && t.Content != "" {
			turns = append(turns, t)
		}
	}
	sim.Turns = turns
	sim.Verdict = strings.TrimSpace(sim.Verdict)

	if len(sim.Turns) == 0 || sim.Verdict == "" {
		return Simulation{}, &llm.MalformedResponseError{Raw: raw, Err: errors.New("debate has no turns or verdict")}
	}
	return sim, nil
}
