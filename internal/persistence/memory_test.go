package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"narrativeos/internal/core"
)

var base = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func TestMemoryRawItemsListSince(t *testing.T) {
	ctx := context.Background()
	db := NewMemoryDB()

	for i, offset := range []time.Duration{-30 * time.Hour, -2 * time.Hour, -1 * time.Hour, -3 * time.Hour} {
		item := &core.RawItem{ID: string(rune('a' + i)), Title: "t", Timestamp: base.Add(offset)}
		if err := db.RawItems().Create(ctx, item); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	items, err := db.RawItems().ListSince(ctx, base.Add(-24*time.Hour), 2)
	if err != nil {
		t.Fatalf("ListSince() error = %v", err)
	}
	if len(items) != 2 || items[0].ID != "c" || items[1].ID != "b" {
		t.Errorf("ListSince() = %v, want newest-first [c b]", ids(items))
	}
}

func TestMemoryRawItemDuplicate(t *testing.T) {
	ctx := context.Background()
	db := NewMemoryDB()
	item := &core.RawItem{ID: "dup", Timestamp: base}
	if err := db.RawItems().Create(ctx, item); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := db.RawItems().Create(ctx, item); !errors.Is(err, ErrDuplicate) {
		t.Errorf("second Create() error = %v, want ErrDuplicate", err)
	}
}

func TestMemoryUnitOnePerRawItem(t *testing.T) {
	ctx := context.Background()
	db := NewMemoryDB()

	if err := db.Units().Create(ctx, &core.NarrativeUnit{ID: "u1", RawItemID: "r1", Timestamp: base}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	err := db.Units().Create(ctx, &core.NarrativeUnit{ID: "u2", RawItemID: "r1", Timestamp: base})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("second unit for r1 error = %v, want ErrDuplicate", err)
	}

	existing, err := db.Units().ExistingRawItemIDs(ctx, []string{"r1", "r2"})
	if err != nil {
		t.Fatalf("ExistingRawItemIDs() error = %v", err)
	}
	if !existing["r1"] || existing["r2"] {
		t.Errorf("ExistingRawItemIDs() = %v", existing)
	}
}

func TestMemoryUnitsListSinceOrderAndEmbeddingFilter(t *testing.T) {
	ctx := context.Background()
	db := NewMemoryDB()

	units := []core.NarrativeUnit{
		{ID: "b", RawItemID: "rb", Timestamp: base, Embedding: []float64{1}},
		{ID: "a", RawItemID: "ra", Timestamp: base, Embedding: []float64{1}},
		{ID: "c", RawItemID: "rc", Timestamp: base.Add(-time.Hour)},
		{ID: "old", RawItemID: "ro", Timestamp: base.Add(-48 * time.Hour), Embedding: []float64{1}},
	}
	for i := range units {
		if err := db.Units().Create(ctx, &units[i]); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	all, _ := db.Units().ListSince(ctx, base.Add(-24*time.Hour), false)
	if got := unitIDs(all); len(got) != 3 || got[0] != "c" || got[1] != "a" || got[2] != "b" {
		t.Errorf("ListSince(all) = %v, want [c a b]", got)
	}

	embedded, _ := db.Units().ListSince(ctx, base.Add(-24*time.Hour), true)
	if got := unitIDs(embedded); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("ListSince(embedded) = %v, want [a b]", got)
	}
}

func TestMemoryUnitsAreCopied(t *testing.T) {
	ctx := context.Background()
	db := NewMemoryDB()
	unit := &core.NarrativeUnit{ID: "u", RawItemID: "r", Keywords: []string{"ai"}, Timestamp: base}
	_ = db.Units().Create(ctx, unit)
	unit.Keywords[0] = "mutated"

	got, err := db.Units().Get(ctx, "u")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Keywords[0] != "ai" {
		t.Errorf("stored unit was mutated through caller slice: %v", got.Keywords)
	}
}

func TestMemoryClustersLatestAndReport(t *testing.T) {
	ctx := context.Background()
	db := NewMemoryDB()

	if _, err := db.Clusters().Latest(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("Latest() on empty store error = %v", err)
	}

	first := &core.NarrativeCluster{ID: "c1", MemberUnitIDs: []string{"u1"}, CreatedAt: base}
	second := &core.NarrativeCluster{ID: "c2", MemberUnitIDs: []string{"u2"}, CreatedAt: base}
	_ = db.Clusters().Create(ctx, first)
	_ = db.Clusters().Create(ctx, second)

	latest, err := db.Clusters().Latest(ctx)
	if err != nil || latest.ID != "c2" {
		t.Fatalf("Latest() = %v, %v; want c2 (insertion order breaks ties)", latest, err)
	}

	if err := db.Clusters().UpdateReport(ctx, "c1", "report body", base.Add(time.Hour)); err != nil {
		t.Fatalf("UpdateReport() error = %v", err)
	}
	got, _ := db.Clusters().Get(ctx, "c1")
	if got.CachedReport == nil || *got.CachedReport != "report body" || !got.ReportTimestamp.Equal(base.Add(time.Hour)) {
		t.Errorf("report not stored: %+v", got)
	}

	if err := db.Clusters().UpdateReport(ctx, "missing", "x", base); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateReport(missing) error = %v", err)
	}
}

func TestMemoryClusterRequiresMembers(t *testing.T) {
	db := NewMemoryDB()
	if err := db.Clusters().Create(context.Background(), &core.NarrativeCluster{ID: "empty"}); err == nil {
		t.Error("expected error for cluster without members")
	}
}

func TestMemorySnapshotsLatest(t *testing.T) {
	ctx := context.Background()
	db := NewMemoryDB()
	for i, strength := range []float64{10, 20, 30} {
		_ = db.Snapshots().Append(ctx, &core.IndexSnapshot{
			ClusterID: "c1",
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Strength:  strength,
		})
	}

	latest, err := db.Snapshots().Latest(ctx, "c1", 2)
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if len(latest) != 2 || latest[0].Strength != 30 || latest[1].Strength != 20 {
		t.Errorf("Latest() = %+v, want strengths [30 20]", latest)
	}
}

func TestMemoryTryLock(t *testing.T) {
	ctx := context.Background()
	db := NewMemoryDB()

	release, err := db.TryLock(ctx, "pipeline")
	if err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}
	if _, err := db.TryLock(ctx, "pipeline"); !errors.Is(err, ErrLocked) {
		t.Errorf("second TryLock() error = %v, want ErrLocked", err)
	}

	other, err := db.TryLock(ctx, "index")
	if err != nil {
		t.Fatalf("TryLock(index) error = %v", err)
	}
	other()

	release()
	again, err := db.TryLock(ctx, "pipeline")
	if err != nil {
		t.Fatalf("TryLock() after release error = %v", err)
	}
	again()
}

func TestLoadMigrations(t *testing.T) {
	migrations, err := LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(migrations) == 0 || migrations[0].Version != 1 {
		t.Fatalf("unexpected migrations: %+v", migrations)
	}
	if migrations[0].Description != "initial schema" {
		t.Errorf("description = %q", migrations[0].Description)
	}

	pending := PendingMigrations(migrations, []int{1})
	if len(pending) != len(migrations)-1 {
		t.Errorf("PendingMigrations() = %d, want %d", len(pending), len(migrations)-1)
	}
}

func ids(items []core.RawItem) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}

func unitIDs(units []core.NarrativeUnit) []string {
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.ID
	}
	return out
}
