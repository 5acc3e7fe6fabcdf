package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"narrativeos/internal/core"
	"narrativeos/internal/llm"
	"narrativeos/internal/persistence"
)

type fakeCollaborator struct {
	replies  []string
	failAt   int // 1-based call that fails; 0 never fails
	requests []llm.Request
}

func (f *fakeCollaborator) Complete(_ context.Context, req llm.Request) (string, error) {
	f.requests = append(f.requests, req)
	n := len(f.requests)
	if n == f.failAt {
		return "", &llm.CallError{Purpose: req.Purpose, Err: errors.New("timeout")}
	}
	if len(f.replies) == 0 {
		return "", llm.ErrMissingCredential
	}
	return f.replies[(n-1)%len(f.replies)], nil
}

type fakeStore struct {
	puts map[string]string
}

func (s *fakeStore) Put(_ context.Context, clusterID, content string) (bool, error) {
	if s.puts == nil {
		s.puts = map[string]string{}
	}
	s.puts[clusterID] = content
	return true, nil
}

func seed(t *testing.T, members int) *persistence.MemoryDB {
	t.Helper()
	ctx := context.Background()
	db := persistence.NewMemoryDB()
	var ids []string
	for i := 0; i < members; i++ {
		u := core.NarrativeUnit{ID: fmt.Sprintf("u%02d", i), RawItemID: fmt.Sprintf("r%02d", i), Title: fmt.Sprintf("Headline %02d", i)}
		if err := db.Units().Create(ctx, &u); err != nil {
			t.Fatalf("seed unit: %v", err)
		}
		ids = append(ids, u.ID)
	}
	cluster := core.NarrativeCluster{ID: "c1", Name: "Stablecoin Rules", Description: "Regulators move on stablecoins.", MemberUnitIDs: ids, CreatedAt: time.Now()}
	if err := db.Clusters().Create(ctx, &cluster); err != nil {
		t.Fatalf("seed cluster: %v", err)
	}
	return db
}

func TestResearchAgentRunsFourTurns(t *testing.T) {
	db := seed(t, 25)
	fake := &fakeCollaborator{replies: []string{"conflict", "stakeholders", "contrarian", "final memo"}}
	store := &fakeStore{}

	got, err := NewResearchAgent(db, fake, store).Conduct(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Conduct() error = %v", err)
	}
	if got != "final memo" || store.puts["c1"] != "final memo" {
		t.Errorf("report = %q, stored = %q", got, store.puts["c1"])
	}

	if len(fake.requests) != 4 {
		t.Fatalf("turns = %d, want 4", len(fake.requests))
	}
	last := fake.requests[3]
	if len(last.History) != 6 {
		t.Errorf("final turn history = %d messages, want 6", len(last.History))
	}
	if last.Temperature != 0.5 || last.MaxTokens != 1000 {
		t.Errorf("temperature/max tokens = %v/%d", last.Temperature, last.MaxTokens)
	}
	opening := fake.requests[0].UserPrompt
	if strings.Count(opening, "- Headline") != 20 {
		t.Errorf("opening should list 20 headlines:\n%s", opening)
	}
}

func TestResearchAgentAbortsOnFailedTurn(t *testing.T) {
	db := seed(t, 3)
	fake := &fakeCollaborator{replies: []string{"ok"}, failAt: 3}
	store := &fakeStore{}

	if _, err := NewResearchAgent(db, fake, store).Conduct(context.Background(), "c1"); err == nil {
		t.Fatal("Conduct() should fail when a turn fails")
	}
	if _, ok := store.puts["c1"]; ok {
		t.Error("nothing should be stored after a failed turn")
	}
}

func TestResearchAgentUnknownCluster(t *testing.T) {
	_, err := NewResearchAgent(persistence.NewMemoryDB(), &fakeCollaborator{}, &fakeStore{}).Conduct(context.Background(), "x")
	if !errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestWargameSimulate(t *testing.T) {
	db := seed(t, 1)
	reply := "```json\n" + `{"turns": [{"speaker": "Dr. Bull", "content": "Adoption is inevitable."}, {"speaker": "Mr. Bear", "content": " Rules will bite. "}], "verdict": "Cautious upside."}` + "\n```"
	fake := &fakeCollaborator{replies: []string{reply}}

	sim, err := NewWargame(db, fake).Simulate(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Simulate() error = %v", err)
	}
	want := Simulation{
		Turns: []Turn{
			{Speaker: "Dr. Bull", Content: "Adoption is inevitable."},
			{Speaker: "Mr. Bear", Content: "Rules will bite."},
		},
		Verdict: "Cautious upside.",
	}
	if diff := cmp.Diff(want, sim); diff != "" {
		t.Errorf("Simulate() mismatch (-want +got):\n%s", diff)
	}
	if fake.requests[0].Temperature != 0.7 || fake.requests[0].ResponseFormat != llm.FormatJSON {
		t.Errorf("request = %+v", fake.requests[0])
	}
}

func TestWargameFailure(t *testing.T) {
	db := seed(t, 1)
	for _, fake := range []*fakeCollaborator{
		{},
		{replies: []string{"not json"}},
		{replies: []string{`{"turns": [], "verdict": ""}`}},
	} {
		sim, err := NewWargame(db, fake).Simulate(context.Background(), "c1")
		if err != nil {
			t.Fatalf("Simulate() error = %v", err)
		}
		if sim.Verdict != SimulationFailed || sim.Turns == nil || len(sim.Turns) != 0 {
			t.Errorf("Simulate() = %+v, want failed simulation", sim)
		}
	}
}

func TestPhaseAt(t *testing.T) {
	tests := []struct {
		hour int
		want Phase
	}{
		{0, PhaseMorning},
		{9, PhaseMorning},
		{10, PhaseMidday},
		{13, PhaseMidday},
		{14, PhaseClose},
		{17, PhaseClose},
		{18, PhasePreMarket},
		{23, PhasePreMarket},
	}
	for _, tt := range tests {
		at := time.Date(2025, 3, 10, tt.hour, 30, 0, 0, time.UTC)
		if got := PhaseAt(at); got != tt.want {
			t.Errorf("PhaseAt(%02d:30) = %v, want %v", tt.hour, got, tt.want)
		}
	}
}

func TestBrieferGenerate(t *testing.T) {
	db := seed(t, 1)
	fake := &fakeCollaborator{replies: []string{" ## Briefing \n"}}
	at := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)

	got := NewBriefer(db, fake).WithClock(func() time.Time { return at }).Generate(context.Background())
	if got.Content != "## Briefing" || got.Phase != PhaseClose || !got.Timestamp.Equal(at) {
		t.Errorf("Generate() = %+v", got)
	}
	if !strings.Contains(fake.requests[0].UserPrompt, "- **Stablecoin Rules**: Regulators move on stablecoins.") {
		t.Errorf("prompt = %q", fake.requests[0].UserPrompt)
	}
}

func TestBrieferPlaceholders(t *testing.T) {
	empty := NewBriefer(persistence.NewMemoryDB(), &fakeCollaborator{replies: []string{"x"}}).Generate(context.Background())
	if empty.Content != BriefingNoData {
		t.Errorf("no clusters: %q", empty.Content)
	}

	failed := NewBriefer(seed(t, 1), &fakeCollaborator{}).Generate(context.Background())
	if failed.Content != BriefingUnavailable {
		t.Errorf("collaborator failure: %q", failed.Content)
	}
}
