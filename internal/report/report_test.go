package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"narrativeos/internal/core"
	"narrativeos/internal/llm"
	"narrativeos/internal/persistence"
)

type fakeCollaborator struct {
	replies []string
	err     error
	calls   int
	prompts []string
}

func (f *fakeCollaborator) Complete(_ context.Context, req llm.Request) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, req.UserPrompt)
	if f.err != nil {
		return "", f.err
	}
	return f.replies[(f.calls-1)%len(f.replies)], nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

var base = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func seedCluster(t *testing.T, db *persistence.MemoryDB, members int) {
	t.Helper()
	ctx := context.Background()
	var ids []string
	for i := 0; i < members; i++ {
		u := core.NarrativeUnit{
			ID:         fmt.Sprintf("u%02d", i),
			RawItemID:  fmt.Sprintf("r%02d", i),
			Title:      fmt.Sprintf("Headline %02d", i),
			Summary:    "summary",
			SourceType: core.SourceNews,
			Timestamp:  base.Add(-time.Duration(members-i) * time.Hour),
		}
		if err := db.Units().Create(ctx, &u); err != nil {
			t.Fatalf("seed unit: %v", err)
		}
		ids = append(ids, u.ID)
	}
	if members == 0 {
		ids = []string{"gone"}
	}
	if err := db.Clusters().Create(ctx, &core.NarrativeCluster{ID: "c1", Name: "Rate Cuts", MemberUnitIDs: ids, CreatedAt: base}); err != nil {
		t.Fatalf("seed cluster: %v", err)
	}
}

func longReport(tag string) string {
	return tag + " " + strings.Repeat("analysis ", 20)
}

func TestCacheServesFreshAndRegeneratesStale(t *testing.T) {
	ctx := context.Background()
	db := persistence.NewMemoryDB()
	seedCluster(t, db, 3)
	clk := &clock{t: base}
	fake := &fakeCollaborator{replies: []string{longReport("first"), longReport("second")}}
	cache := NewCache(db, fake).WithClock(clk.now)

	first, err := cache.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if first.Cached || !strings.HasPrefix(first.Content, "first") {
		t.Fatalf("first = %+v", first)
	}

	clk.t = base.Add(23 * time.Hour)
	second, _ := cache.Get(ctx, "c1")
	if !second.Cached || second.Content != first.Content || !second.GeneratedAt.Equal(base) {
		t.Errorf("at T+23h got %+v, want cached content from T", second)
	}
	if fake.calls != 1 {
		t.Errorf("collaborator calls = %d, want 1", fake.calls)
	}

	clk.t = base.Add(25 * time.Hour)
	third, _ := cache.Get(ctx, "c1")
	if third.Cached || !strings.HasPrefix(third.Content, "second") {
		t.Errorf("at T+25h got %+v, want regenerated", third)
	}
	stored, _ := db.Clusters().Get(ctx, "c1")
	if stored.ReportTimestamp == nil || !stored.ReportTimestamp.Equal(base.Add(25*time.Hour)) {
		t.Errorf("report timestamp = %v", stored.ReportTimestamp)
	}
}

func TestCacheDoesNotStoreShortContent(t *testing.T) {
	ctx := context.Background()
	db := persistence.NewMemoryDB()
	seedCluster(t, db, 2)
	fake := &fakeCollaborator{replies: []string{"too short"}}
	cache := NewCache(db, fake).WithClock(func() time.Time { return base })

	got, _ := cache.Get(ctx, "c1")
	if got.Content != "too short" {
		t.Errorf("Content = %q", got.Content)
	}
	stored, _ := db.Clusters().Get(ctx, "c1")
	if stored.CachedReport != nil {
		t.Error("short report should not be cached")
	}

	cache.Get(ctx, "c1")
	if fake.calls != 2 {
		t.Errorf("collaborator calls = %d, want 2", fake.calls)
	}
}

func TestCacheStampsReturnedAndStoredReportAlike(t *testing.T) {
	ctx := context.Background()
	db := persistence.NewMemoryDB()
	seedCluster(t, db, 2)

	tick := base
	next := func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	cache := NewCache(db, &fakeCollaborator{replies: []string{longReport("r")}}).WithClock(next)

	got, err := cache.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	stored, _ := db.Clusters().Get(ctx, "c1")
	if stored.ReportTimestamp == nil || !stored.ReportTimestamp.Equal(got.GeneratedAt) {
		t.Errorf("stored timestamp = %v, returned %v", stored.ReportTimestamp, got.GeneratedAt)
	}
}

func TestPutLengthThreshold(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"exactly minimum", strings.Repeat("a", DefaultMinLength), false},
		{"one over minimum", strings.Repeat("a", DefaultMinLength+1), true},
		{"multibyte under minimum", strings.Repeat("é", 60), false},
		{"multibyte over minimum", strings.Repeat("é", DefaultMinLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := persistence.NewMemoryDB()
			seedCluster(t, db, 1)
			cache := NewCache(db, &fakeCollaborator{}).WithClock(func() time.Time { return base })

			stored, err := cache.Put(context.Background(), "c1", tt.content)
			if err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			if stored != tt.want {
				t.Errorf("Put() stored = %v, want %v", stored, tt.want)
			}
		})
	}
}

func TestCacheFailureIsNotCached(t *testing.T) {
	ctx := context.Background()
	db := persistence.NewMemoryDB()
	seedCluster(t, db, 2)

	got, err := NewCache(db, &fakeCollaborator{err: errors.New("timeout")}).Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Content != Unavailable {
		t.Errorf("Content = %q, want %q", got.Content, Unavailable)
	}
	if stored, _ := db.Clusters().Get(ctx, "c1"); stored.CachedReport != nil {
		t.Error("failure text should not be cached")
	}
}

func TestCacheInsufficientData(t *testing.T) {
	db := persistence.NewMemoryDB()
	seedCluster(t, db, 0)
	fake := &fakeCollaborator{replies: []string{"unused"}}

	got, _ := NewCache(db, fake).Get(context.Background(), "c1")
	if got.Content != InsufficientData || fake.calls != 0 {
		t.Errorf("got %q after %d calls", got.Content, fake.calls)
	}
}

func TestCacheUnknownCluster(t *testing.T) {
	_, err := NewCache(persistence.NewMemoryDB(), &fakeCollaborator{}).Get(context.Background(), "nope")
	if !errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestCacheUsesMostRecentMembersChronologically(t *testing.T) {
	db := persistence.NewMemoryDB()
	seedCluster(t, db, 35)
	fake := &fakeCollaborator{replies: []string{longReport("r")}}

	NewCache(db, fake).WithClock(func() time.Time { return base }).Get(context.Background(), "c1")

	prompt := fake.prompts[0]
	if strings.Contains(prompt, "Headline 04") {
		t.Error("oldest members beyond the limit should be dropped")
	}
	first := strings.Index(prompt, "Headline 05")
	last := strings.Index(prompt, "Headline 34")
	if first < 0 || last < 0 || first > last {
		t.Errorf("context not chronological: first=%d last=%d", first, last)
	}
}

func TestFormatContext(t *testing.T) {
	units := []core.NarrativeUnit{
		{Title: "B", Summary: "later", SourceType: core.SourceSocial, Timestamp: base.Add(24 * time.Hour)},
		{Title: "A", Summary: "earlier", SourceType: core.SourceNews, Timestamp: base},
	}
	want := "[2025-03-10] (news) A: earlier\n[2025-03-11] (social) B: later"
	if got := FormatContext(units, 30); got != want {
		t.Errorf("FormatContext() = %q, want %q", got, want)
	}
}
