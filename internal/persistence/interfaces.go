// Package persistence defines the repositories the pipeline reads and writes
// and provides in-memory and PostgreSQL implementations.
package persistence

import (
	"context"
	"errors"
	"time"

	"narrativeos/internal/core"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a uniqueness constraint would be violated.
	ErrDuplicate = errors.New("duplicate record")
	// ErrLocked is returned by TryLock when another holder has the lock.
	ErrLocked = errors.New("lock held elsewhere")
)

// Database is the aggregate of all repositories.
type Database interface {
	RawItems() RawItemRepository
	Units() UnitRepository
	Clusters() ClusterRepository
	Snapshots() SnapshotRepository

	// TryLock takes a named lock shared by every process using the same
	// store. It returns ErrLocked without waiting when the lock is held.
	// release must be called exactly once.
	TryLock(ctx context.Context, name string) (release func(), err error)

	Ping(ctx context.Context) error
	Close() error
}

// RawItemRepository stores ingested items.
type RawItemRepository interface {
	// Create stores a new item. Returns ErrDuplicate when the ID exists.
	Create(ctx context.Context, item *core.RawItem) error

	// Get retrieves an item by ID.
	Get(ctx context.Context, id string) (*core.RawItem, error)

	// ListSince returns items with Timestamp >= since, newest first, capped
	// at limit (0 means no cap).
	ListSince(ctx context.Context, since time.Time, limit int) ([]core.RawItem, error)
}

// UnitRepository stores narrative units.
type UnitRepository interface {
	// Create stores a new unit. Returns ErrDuplicate when a unit already
	// exists for the same raw item.
	Create(ctx context.Context, unit *core.NarrativeUnit) error

	// Get retrieves a unit by ID.
	Get(ctx context.Context, id string) (*core.NarrativeUnit, error)

	// ExistingRawItemIDs returns the subset of rawItemIDs that already have
	// a unit.
	ExistingRawItemIDs(ctx context.Context, rawItemIDs []string) (map[string]bool, error)

	// ListByIDs returns the units with the given IDs. Missing IDs are
	// ignored; order is unspecified.
	ListByIDs(ctx context.Context, ids []string) ([]core.NarrativeUnit, error)

	// ListSince returns units with Timestamp >= since ordered by Timestamp
	// ascending then ID. When withEmbedding is set, units without a vector
	// are excluded.
	ListSince(ctx context.Context, since time.Time, withEmbedding bool) ([]core.NarrativeUnit, error)

	// ListRecent returns up to limit units, newest first.
	ListRecent(ctx context.Context, limit int) ([]core.NarrativeUnit, error)
}

// ClusterRepository stores narrative clusters.
type ClusterRepository interface {
	// Create stores a new cluster.
	Create(ctx context.Context, cluster *core.NarrativeCluster) error

	// Get retrieves a cluster by ID.
	Get(ctx context.Context, id string) (*core.NarrativeCluster, error)

	// List returns clusters created at or after since, newest first,
	// capped at limit (0 means no cap).
	List(ctx context.Context, since time.Time, limit int) ([]core.NarrativeCluster, error)

	// Latest returns the most recently created cluster.
	Latest(ctx context.Context) (*core.NarrativeCluster, error)

	// UpdateReport replaces the cached report and its timestamp.
	UpdateReport(ctx context.Context, id, content string, at time.Time) error
}

// SnapshotRepository stores append-only index snapshots.
type SnapshotRepository interface {
	// Append stores a snapshot.
	Append(ctx context.Context, snapshot *core.IndexSnapshot) error

	// Latest returns up to n most recent snapshots for a cluster, newest
	// first.
	Latest(ctx context.Context, clusterID string, n int) ([]core.IndexSnapshot, error)
}
