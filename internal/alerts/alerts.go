// Package alerts detects sudden strength changes between index snapshots.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"narrativeos/internal/core"
	"narrativeos/internal/logger"
	"narrativeos/internal/metrics"
	"narrativeos/internal/persistence"
)

const (
	// ShockThreshold is the absolute strength change that raises an alert.
	ShockThreshold = 5.0
	// HighThreshold is the absolute change above which an alert is High.
	HighThreshold = 15.0
)

// Detect compares the two most recent snapshots of a cluster. latest must be
// ordered newest first; fewer than two snapshots never alert. The alert is
// timestamped with the newer snapshot.
func Detect(cluster core.NarrativeCluster, latest []core.IndexSnapshot) (*core.Alert, bool) {
	if len(latest) < 2 {
		return nil, false
	}
	current, previous := latest[0], latest[1]
	delta := current.Strength - previous.Strength
	magnitude := math.Abs(delta)
	if magnitude <= ShockThreshold {
		return nil, false
	}

	severity := core.SeverityMedium
	if magnitude > HighThreshold {
		severity = core.SeverityHigh
	}
	direction := "surged"
	if delta < 0 {
		direction = "dropped"
	}

	return &core.Alert{
		ClusterID:   cluster.ID,
		ClusterName: cluster.Name,
		Delta:       delta,
		Severity:    severity,
		Message:     fmt.Sprintf("Narrative %q strength %s by %.1f points.", cluster.Name, direction, magnitude),
		Timestamp:   current.Timestamp,
	}, true
}

// Detector evaluates stored snapshots.
type Detector struct {
	db  persistence.Database
	log *slog.Logger
}

// NewDetector creates a detector.
func NewDetector(db persistence.Database) *Detector {
	return &Detector{db: db, log: logger.Get()}
}

// Scan evaluates every stored cluster. A cluster whose snapshots cannot be
// read is logged and skipped.
func (d *Detector) Scan(ctx context.Context) ([]core.Alert, error) {
	clusters, err := d.db.Clusters().List(ctx, time.Time{}, 0)
	if err != nil {
		return nil, fmt.Errorf("list clusters for alerts: %w", err)
	}
	return d.evaluate(ctx, clusters), nil
}

// ShockAlerts is Scan for callers that only render results: any failure
// yields an empty list.
func (d *Detector) ShockAlerts(ctx context.Context) []core.Alert {
	found, err := d.Scan(ctx)
	if err != nil {
		d.log.Error("Shock alert scan failed", "error", err)
		return []core.Alert{}
	}
	if found == nil {
		return []core.Alert{}
	}
	return found
}

// ForClusters evaluates only the given clusters, typically the ones indexed
// in the current run, and counts the alerts raised.
func (d *Detector) ForClusters(ctx context.Context, clusterIDs []string) []core.Alert {
	var clusters []core.NarrativeCluster
	for _, id := range clusterIDs {
		cluster, err := d.db.Clusters().Get(ctx, id)
		if err != nil {
			d.log.Warn("Loading cluster for alerts failed", "cluster_id", id, "error", err)
			continue
		}
		clusters = append(clusters, *cluster)
	}

	found := d.evaluate(ctx, clusters)
	for _, a := range found {
		metrics.RecordAlert(string(a.Severity))
	}
	return found
}

func (d *Detector) evaluate(ctx context.Context, clusters []core.NarrativeCluster) []core.Alert {
	var found []core.Alert
	for _, cluster := range clusters {
		history, err := d.db.Snapshots().Latest(ctx, cluster.ID, 2)
		if err != nil {
			d.log.Warn("Loading snapshots failed", "cluster_id", cluster.ID, "error", err)
			continue
		}
		if alert, ok := Detect(cluster, history); ok {
			found = append(found, *alert)
		}
	}
	return found
}
