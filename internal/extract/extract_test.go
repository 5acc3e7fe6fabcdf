package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"narrativeos/internal/core"
	"narrativeos/internal/llm"
)

type fakeCollaborator struct {
	reply string
	err   error
	last  llm.Request
}

func (f *fakeCollaborator) Complete(_ context.Context, req llm.Request) (string, error) {
	f.last = req
	return f.reply, f.err
}

func TestExtractValid(t *testing.T) {
	fake := &fakeCollaborator{reply: "```json\n" + `{
		"title": "Chip export curbs widen",
		"summary": "New rules restrict advanced GPU sales.",
		"sentiment": "bearish",
		"entities": ["Nvidia", "China", "nvidia", " "],
		"keywords": ["export controls", "GPU", "China", "semiconductors", "Nvidia", "policy"],
		"conflict": "national security vs revenue"
	}` + "\n```"}

	got, err := New(fake).Extract(context.Background(), "Washington expands chip export controls...")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	conflict := "national security vs revenue"
	want := &Result{
		Title:     "Chip export curbs widen",
		Summary:   "New rules restrict advanced GPU sales.",
		Sentiment: core.Bearish,
		Entities:  []string{"Nvidia", "China"},
		Keywords:  []string{"export controls", "GPU", "China", "semiconductors", "Nvidia"},
		Conflict:  &conflict,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Extract() mismatch (-want +got):\n%s", diff)
	}
	if fake.last.Temperature != 0.1 || fake.last.ResponseFormat != llm.FormatJSON {
		t.Errorf("request options = %+v", fake.last)
	}
}

func TestExtractNullConflict(t *testing.T) {
	for _, conflict := range []string{`null`, `""`, `"null"`, `"None"`} {
		fake := &fakeCollaborator{reply: `{"title":"t","summary":"s","sentiment":"Neutral","entities":[],"keywords":["a","b","c"],"conflict":` + conflict + `}`}
		got, err := New(fake).Extract(context.Background(), "text")
		if err != nil {
			t.Fatalf("Extract(conflict=%s) error = %v", conflict, err)
		}
		if got.Conflict != nil {
			t.Errorf("conflict %s should be absent, got %q", conflict, *got.Conflict)
		}
	}
}

func TestExtractRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"not json", "The article is bullish on chips."},
		{"truncated", `{"title": "x", "summary":`},
		{"missing title", `{"title":"","sentiment":"Bullish","keywords":["a","b","c"]}`},
		{"bad sentiment", `{"title":"x","sentiment":"Positive","keywords":["a","b","c"]}`},
		{"too few keywords", `{"title":"x","sentiment":"Bullish","keywords":["a","A"," "]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(&fakeCollaborator{reply: tt.reply}).Extract(context.Background(), "text")
			var malformed *llm.MalformedResponseError
			if !errors.As(err, &malformed) {
				t.Errorf("Extract() error = %v, want MalformedResponseError", err)
			}
		})
	}
}

func TestExtractPropagatesSoftFailures(t *testing.T) {
	_, err := New(llm.Unavailable{}).Extract(context.Background(), "text")
	if !errors.Is(err, llm.ErrMissingCredential) || !llm.IsSoftFailure(err) {
		t.Errorf("Extract() error = %v, want soft missing credential", err)
	}
}

func TestExtractEmptyInput(t *testing.T) {
	fake := &fakeCollaborator{reply: `{}`}
	if _, err := New(fake).Extract(context.Background(), "   "); !llm.IsSoftFailure(err) {
		t.Errorf("empty input error = %v", err)
	}
	if fake.last.Purpose != "" {
		t.Error("collaborator should not be called for empty input")
	}
}
