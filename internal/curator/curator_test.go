package curator

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

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// fakeCollaborator answers every request with the same reply
type fakeCollaborator struct {
	reply   string
	err     error
	prompts []string
}

func (f *fakeCollaborator) Complete(_ context.Context, req llm.Request) (string, error) {
	f.prompts = append(f.prompts, req.UserPrompt)
	return f.reply, f.err
}

// seed stores n raw items, item-0 newest, one minute apart.
func seed(t *testing.T, db *persistence.MemoryDB, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := db.RawItems().Create(context.Background(), &core.RawItem{
			ID:        fmt.Sprintf("item-%d", i),
			Title:     fmt.Sprintf("Headline %d", i),
			Timestamp: now.Add(-time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func newCurator(db persistence.Database, c llm.Collaborator) *Curator {
	return New(db, c).WithClock(func() time.Time { return now })
}

func TestCurateSelectsCandidates(t *testing.T) {
	db := persistence.NewMemoryDB()
	seed(t, db, 4)
	fake := &fakeCollaborator{reply: `{"selected_ids": ["ID:item-2", " item-0 "], "reason": "macro"}`}

	got, err := newCurator(db, fake).Curate(context.Background())
	if err != nil {
		t.Fatalf("Curate() error = %v", err)
	}
	if diff := cmp.Diff([]string{"item-0", "item-2"}, got); diff != "" {
		t.Errorf("Curate() mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(fake.prompts[0], "1. [ID:item-0] Headline 0") {
		t.Errorf("prompt missing numbered candidate list:\n%s", fake.prompts[0])
	}
}

func TestCurateRejectsHallucinatedIDs(t *testing.T) {
	db := persistence.NewMemoryDB()
	seed(t, db, 3)
	fake := &fakeCollaborator{reply: `{"selected_ids": ["item-1", "item-99"], "reason": ""}`}

	got, err := newCurator(db, fake).Curate(context.Background())
	if err != nil {
		t.Fatalf("Curate() error = %v", err)
	}
	if diff := cmp.Diff([]string{"item-1"}, got); diff != "" {
		t.Errorf("Curate() mismatch (-want +got):\n%s", diff)
	}
}

func TestCurateExcludesItemsWithUnits(t *testing.T) {
	db := persistence.NewMemoryDB()
	seed(t, db, 3)
	_ = db.Units().Create(context.Background(), &core.NarrativeUnit{ID: "u", RawItemID: "item-0", Timestamp: now})
	fake := &fakeCollaborator{reply: `{"selected_ids": ["item-0", "item-1"]}`}

	got, err := newCurator(db, fake).Curate(context.Background())
	if err != nil {
		t.Fatalf("Curate() error = %v", err)
	}
	if diff := cmp.Diff([]string{"item-1"}, got); diff != "" {
		t.Errorf("Curate() mismatch (-want +got):\n%s", diff)
	}
	if strings.Contains(fake.prompts[0], "item-0") {
		t.Error("item with existing unit was offered to the collaborator")
	}
}

func TestCurateIgnoresItemsOutsideWindow(t *testing.T) {
	db := persistence.NewMemoryDB()
	_ = db.RawItems().Create(context.Background(), &core.RawItem{ID: "old", Timestamp: now.Add(-25 * time.Hour)})

	got, err := newCurator(db, &fakeCollaborator{reply: `{"selected_ids": ["old"]}`}).Curate(context.Background())
	if err != nil || len(got) != 0 {
		t.Errorf("Curate() = %v, %v; want empty", got, err)
	}
}

func TestCurateFallback(t *testing.T) {
	tests := []struct {
		name string
		fake *fakeCollaborator
	}{
		{"missing credential", &fakeCollaborator{err: llm.ErrMissingCredential}},
		{"call error", &fakeCollaborator{err: &llm.CallError{Purpose: "curate", Err: errors.New("timeout")}}},
		{"malformed", &fakeCollaborator{reply: "I think items 1 and 2"}},
		{"only hallucinated", &fakeCollaborator{reply: `{"selected_ids": ["nope"]}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := persistence.NewMemoryDB()
			seed(t, db, 8)

			got, err := newCurator(db, tt.fake).Curate(context.Background())
			if err != nil {
				t.Fatalf("Curate() error = %v", err)
			}
			want := []string{"item-0", "item-1", "item-2", "item-3", "item-4"}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("fallback mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCurateFallbackFewerThanSize(t *testing.T) {
	db := persistence.NewMemoryDB()
	seed(t, db, 2)
	got, _ := newCurator(db, llm.Unavailable{}).Curate(context.Background())
	if len(got) != 2 {
		t.Errorf("fallback = %v, want both candidates", got)
	}
}

func TestCurateEmptySelectionIsRespected(t *testing.T) {
	db := persistence.NewMemoryDB()
	seed(t, db, 3)
	got, err := newCurator(db, &fakeCollaborator{reply: `{"selected_ids": [], "reason": "nothing material"}`}).Curate(context.Background())
	if err != nil || len(got) != 0 {
		t.Errorf("Curate() = %v, %v; want empty selection", got, err)
	}
}

func TestCurateIdempotent(t *testing.T) {
	db := persistence.NewMemoryDB()
	seed(t, db, 6)
	fake := &fakeCollaborator{reply: `{"selected_ids": ["item-3", "item-1", "item-3"]}`}
	c := newCurator(db, fake)

	first, _ := c.Curate(context.Background())
	second, _ := c.Curate(context.Background())
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("repeat Curate() differs (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"item-1", "item-3"}, first); diff != "" {
		t.Errorf("Curate() mismatch (-want +got):\n%s", diff)
	}
}

func TestCurateLimitsCandidates(t *testing.T) {
	db := persistence.NewMemoryDB()
	seed(t, db, 10)
	fake := &fakeCollaborator{reply: `{"selected_ids": ["item-9"]}`}

	got, _ := newCurator(db, fake).WithLimit(3).Curate(context.Background())
	// item-9 is outside the newest three, so the answer is hallucinated.
	if diff := cmp.Diff([]string{"item-0", "item-1", "item-2"}, got); diff != "" {
		t.Errorf("Curate() mismatch (-want +got):\n%s", diff)
	}
}
