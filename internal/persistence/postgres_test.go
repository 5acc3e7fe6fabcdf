package persistence

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"narrativeos/internal/core"
)

func openTestPostgres(t *testing.T) *PostgresDB {
	t.Helper()
	dsn := os.Getenv("NARRATIVEOS_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("NARRATIVEOS_TEST_DATABASE_URL not set, skipping integration test")
	}

	db, err := NewPostgresDB(dsn)
	if err != nil {
		t.Fatalf("NewPostgresDB() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := NewMigrator(db).Up(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func TestPostgresRoundTrip(t *testing.T) {
	db := openTestPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	raw := &core.RawItem{
		ID:         uuid.NewString(),
		Title:      "Fed holds rates",
		Source:     "Wire",
		SourceType: core.SourceNews,
		Timestamp:  now,
	}
	if err := db.RawItems().Create(ctx, raw); err != nil {
		t.Fatalf("raw Create() error = %v", err)
	}
	if err := db.RawItems().Create(ctx, raw); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate raw Create() error = %v", err)
	}

	conflict := "hawks vs doves"
	unit := &core.NarrativeUnit{
		ID:         uuid.NewString(),
		RawItemID:  raw.ID,
		Title:      raw.Title,
		Sentiment:  core.Neutral,
		Entities:   []string{"Fed"},
		Keywords:   []string{"rates", "fed", "inflation"},
		Conflict:   &conflict,
		Embedding:  []float64{0.1, 0.2},
		SourceType: core.SourceNews,
		Timestamp:  now,
	}
	if err := db.Units().Create(ctx, unit); err != nil {
		t.Fatalf("unit Create() error = %v", err)
	}
	got, err := db.Units().Get(ctx, unit.ID)
	if err != nil {
		t.Fatalf("unit Get() error = %v", err)
	}
	if got.Conflict == nil || *got.Conflict != conflict || len(got.Embedding) != 2 {
		t.Errorf("unit round trip mismatch: %+v", got)
	}

	cluster := &core.NarrativeCluster{
		ID:            uuid.NewString(),
		Name:          raw.Title,
		Method:        core.MethodVector,
		MemberUnitIDs: []string{unit.ID},
		CreatedAt:     now,
	}
	if err := db.Clusters().Create(ctx, cluster); err != nil {
		t.Fatalf("cluster Create() error = %v", err)
	}
	if err := db.Snapshots().Append(ctx, &core.IndexSnapshot{ClusterID: cluster.ID, Timestamp: now, Strength: 12, Lifecycle: core.Emerging}); err != nil {
		t.Fatalf("snapshot Append() error = %v", err)
	}
	snaps, err := db.Snapshots().Latest(ctx, cluster.ID, 2)
	if err != nil || len(snaps) != 1 || snaps[0].Strength != 12 {
		t.Errorf("Latest() = %+v, %v", snaps, err)
	}
}

func TestAdvisoryKey(t *testing.T) {
	if advisoryKey("pipeline") != advisoryKey("pipeline") {
		t.Error("advisoryKey is not deterministic")
	}
	if advisoryKey("pipeline") == advisoryKey("index") {
		t.Error("distinct lock names share a key")
	}
}

func TestPostgresTryLock(t *testing.T) {
	db := openTestPostgres(t)
	ctx := context.Background()
	name := "test-lock-" + uuid.NewString()

	release, err := db.TryLock(ctx, name)
	if err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}
	if _, err := db.TryLock(ctx, name); !errors.Is(err, ErrLocked) {
		t.Errorf("second TryLock() error = %v, want ErrLocked", err)
	}

	release()
	again, err := db.TryLock(ctx, name)
	if err != nil {
		t.Fatalf("TryLock() after release error = %v", err)
	}
	again()
}
