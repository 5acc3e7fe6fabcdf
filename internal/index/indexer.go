package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"narrativeos/internal/core"
	"narrativeos/internal/logger"
	"narrativeos/internal/persistence"
)

// DefaultWindow bounds which clusters are re-scored on each pass.
const DefaultWindow = 7 * 24 * time.Hour

// Indexer appends a snapshot for every recent cluster.
type Indexer struct {
	db     persistence.Database
	window time.Duration
	now    func() time.Time
	log    *slog.Logger
}

// NewIndexer creates an indexer.
func NewIndexer(db persistence.Database) *Indexer {
	return &Indexer{
		db:     db,
		window: DefaultWindow,
		now:    time.Now,
		log:    logger.Get(),
	}
}

// WithWindow sets how far back clusters are re-scored.
func (i *Indexer) WithWindow(d time.Duration) *Indexer {
	if d > 0 {
		i.window = d
	}
	return i
}

// WithClock overrides the time source.
func (i *Indexer) WithClock(now func() time.Time) *Indexer {
	i.now = now
	return i
}

// IndexAll scores every cluster created within the window. A cluster whose
// members cannot be loaded or whose snapshot cannot be stored is logged and
// skipped; clusters with no surviving members are skipped silently. Only a
// failure to list clusters is returned.
func (i *Indexer) IndexAll(ctx context.Context) ([]core.IndexSnapshot, error) {
	clusters, err := i.db.Clusters().List(ctx, i.now().Add(-i.window), 0)
	if err != nil {
		return nil, fmt.Errorf("list clusters for indexing: %w", err)
	}

	var snapshots []core.IndexSnapshot
	var failed int
	for _, cluster := range clusters {
		snapshot, ok, err := i.IndexCluster(ctx, cluster)
		if err != nil {
			failed++
			i.log.Warn("Indexing cluster failed", "cluster_id", cluster.ID, "error", err)
			continue
		}
		if ok {
			snapshots = append(snapshots, snapshot)
		}
	}

	i.log.Info("Indexing complete", "clusters", len(clusters), "snapshots", len(snapshots), "failed", failed)
	return snapshots, nil
}

// IndexCluster scores one cluster and appends the snapshot. ok is false when
// the cluster has no loadable members.
func (i *Indexer) IndexCluster(ctx context.Context, cluster core.NarrativeCluster) (core.IndexSnapshot, bool, error) {
	units, err := i.db.Units().ListByIDs(ctx, cluster.MemberUnitIDs)
	if err != nil {
		return core.IndexSnapshot{}, false, fmt.Errorf("load members: %w", err)
	}
	if len(units) == 0 {
		return core.IndexSnapshot{}, false, nil
	}

	snapshot := Calculate(units).Snapshot(cluster.ID, i.now())
	if err := i.db.Snapshots().Append(ctx, &snapshot); err != nil {
		return core.IndexSnapshot{}, false, fmt.Errorf("append snapshot: %w", err)
	}
	return snapshot, true, nil
}
