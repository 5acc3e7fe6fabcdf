package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"narrativeos/internal/core"
)

// MemoryDB is an in-process Database. Records are copied on the way in and
// out so callers cannot mutate stored state.
type MemoryDB struct {
	mu        sync.RWMutex
	rawItems  map[string]core.RawItem
	units     map[string]core.NarrativeUnit
	unitByRaw map[string]string
	clusters  map[string]core.NarrativeCluster
	snapshots map[string][]core.IndexSnapshot
	seq       int64
	order     map[string]int64
	locks     sync.Map
}

// NewMemoryDB creates an empty in-memory database.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		rawItems:  make(map[string]core.RawItem),
		units:     make(map[string]core.NarrativeUnit),
		unitByRaw: make(map[string]string),
		clusters:  make(map[string]core.NarrativeCluster),
		snapshots: make(map[string][]core.IndexSnapshot),
		order:     make(map[string]int64),
	}
}

func (m *MemoryDB) RawItems() RawItemRepository   { return memoryRawItems{m} }
func (m *MemoryDB) Units() UnitRepository         { return memoryUnits{m} }
func (m *MemoryDB) Clusters() ClusterRepository   { return memoryClusters{m} }
func (m *MemoryDB) Snapshots() SnapshotRepository { return memorySnapshots{m} }

func (m *MemoryDB) Ping(context.Context) error { return nil }
func (m *MemoryDB) Close() error               { return nil }

// TryLock implements Database. Locks are only visible within this process.
func (m *MemoryDB) TryLock(_ context.Context, name string) (func(), error) {
	v, _ := m.locks.LoadOrStore(name, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	if !mu.TryLock() {
		return nil, fmt.Errorf("%s: %w", name, ErrLocked)
	}
	return mu.Unlock, nil
}

type memoryRawItems struct{ m *MemoryDB }

func (r memoryRawItems) Create(_ context.Context, item *core.RawItem) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.rawItems[item.ID]; ok {
		return fmt.Errorf("raw item %s: %w", item.ID, ErrDuplicate)
	}
	r.m.rawItems[item.ID] = *item
	return nil
}

func (r memoryRawItems) Get(_ context.Context, id string) (*core.RawItem, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	item, ok := r.m.rawItems[id]
	if !ok {
		return nil, fmt.Errorf("raw item %s: %w", id, ErrNotFound)
	}
	return &item, nil
}

func (r memoryRawItems) ListSince(_ context.Context, since time.Time, limit int) ([]core.RawItem, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []core.RawItem
	for _, item := range r.m.rawItems {
		if !item.Timestamp.Before(since) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryUnits struct{ m *MemoryDB }

func (u memoryUnits) Create(_ context.Context, unit *core.NarrativeUnit) error {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()
	if _, ok := u.m.unitByRaw[unit.RawItemID]; ok {
		return fmt.Errorf("unit for raw item %s: %w", unit.RawItemID, ErrDuplicate)
	}
	if _, ok := u.m.units[unit.ID]; ok {
		return fmt.Errorf("unit %s: %w", unit.ID, ErrDuplicate)
	}
	u.m.units[unit.ID] = cloneUnit(*unit)
	u.m.unitByRaw[unit.RawItemID] = unit.ID
	return nil
}

func (u memoryUnits) Get(_ context.Context, id string) (*core.NarrativeUnit, error) {
	u.m.mu.RLock()
	defer u.m.mu.RUnlock()
	unit, ok := u.m.units[id]
	if !ok {
		return nil, fmt.Errorf("unit %s: %w", id, ErrNotFound)
	}
	out := cloneUnit(unit)
	return &out, nil
}

func (u memoryUnits) ExistingRawItemIDs(_ context.Context, rawItemIDs []string) (map[string]bool, error) {
	u.m.mu.RLock()
	defer u.m.mu.RUnlock()
	out := make(map[string]bool)
	for _, id := range rawItemIDs {
		if _, ok := u.m.unitByRaw[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (u memoryUnits) ListByIDs(_ context.Context, ids []string) ([]core.NarrativeUnit, error) {
	u.m.mu.RLock()
	defer u.m.mu.RUnlock()
	out := make([]core.NarrativeUnit, 0, len(ids))
	for _, id := range ids {
		if unit, ok := u.m.units[id]; ok {
			out = append(out, cloneUnit(unit))
		}
	}
	return out, nil
}

func (u memoryUnits) ListSince(_ context.Context, since time.Time, withEmbedding bool) ([]core.NarrativeUnit, error) {
	u.m.mu.RLock()
	defer u.m.mu.RUnlock()
	var out []core.NarrativeUnit
	for _, unit := range u.m.units {
		if unit.Timestamp.Before(since) {
			continue
		}
		if withEmbedding && !unit.HasEmbedding() {
			continue
		}
		out = append(out, cloneUnit(unit))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (u memoryUnits) ListRecent(_ context.Context, limit int) ([]core.NarrativeUnit, error) {
	u.m.mu.RLock()
	defer u.m.mu.RUnlock()
	out := make([]core.NarrativeUnit, 0, len(u.m.units))
	for _, unit := range u.m.units {
		out = append(out, cloneUnit(unit))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryClusters struct{ m *MemoryDB }

func (c memoryClusters) Create(_ context.Context, cluster *core.NarrativeCluster) error {
	if len(cluster.MemberUnitIDs) == 0 {
		return fmt.Errorf("cluster %s has no members", cluster.ID)
	}
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if _, ok := c.m.clusters[cluster.ID]; ok {
		return fmt.Errorf("cluster %s: %w", cluster.ID, ErrDuplicate)
	}
	c.m.seq++
	c.m.order[cluster.ID] = c.m.seq
	c.m.clusters[cluster.ID] = cloneCluster(*cluster)
	return nil
}

func (c memoryClusters) Get(_ context.Context, id string) (*core.NarrativeCluster, error) {
	c.m.mu.RLock()
	defer c.m.mu.RUnlock()
	cluster, ok := c.m.clusters[id]
	if !ok {
		return nil, fmt.Errorf("cluster %s: %w", id, ErrNotFound)
	}
	out := cloneCluster(cluster)
	return &out, nil
}

func (c memoryClusters) List(_ context.Context, since time.Time, limit int) ([]core.NarrativeCluster, error) {
	c.m.mu.RLock()
	defer c.m.mu.RUnlock()
	var out []core.NarrativeCluster
	for _, cluster := range c.m.clusters {
		if !cluster.CreatedAt.Before(since) {
			out = append(out, cloneCluster(cluster))
		}
	}
	c.sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c memoryClusters) Latest(_ context.Context) (*core.NarrativeCluster, error) {
	c.m.mu.RLock()
	defer c.m.mu.RUnlock()
	all := make([]core.NarrativeCluster, 0, len(c.m.clusters))
	for _, cluster := range c.m.clusters {
		all = append(all, cluster)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("latest cluster: %w", ErrNotFound)
	}
	c.sortNewestFirst(all)
	out := cloneCluster(all[0])
	return &out, nil
}

// sortNewestFirst orders by CreatedAt, breaking ties by insertion order.
// Callers hold the read lock.
func (c memoryClusters) sortNewestFirst(clusters []core.NarrativeCluster) {
	sort.Slice(clusters, func(i, j int) bool {
		if !clusters[i].CreatedAt.Equal(clusters[j].CreatedAt) {
			return clusters[i].CreatedAt.After(clusters[j].CreatedAt)
		}
		return c.m.order[clusters[i].ID] > c.m.order[clusters[j].ID]
	})
}

func (c memoryClusters) UpdateReport(_ context.Context, id, content string, at time.Time) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	cluster, ok := c.m.clusters[id]
	if !ok {
		return fmt.Errorf("cluster %s: %w", id, ErrNotFound)
	}
	cluster.CachedReport = &content
	cluster.ReportTimestamp = &at
	c.m.clusters[id] = cluster
	return nil
}

type memorySnapshots struct{ m *MemoryDB }

func (s memorySnapshots) Append(_ context.Context, snapshot *core.IndexSnapshot) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.snapshots[snapshot.ClusterID] = append(s.m.snapshots[snapshot.ClusterID], *snapshot)
	return nil
}

func (s memorySnapshots) Latest(_ context.Context, clusterID string, n int) ([]core.IndexSnapshot, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	all := s.m.snapshots[clusterID]
	out := make([]core.IndexSnapshot, 0, len(all))
	// Walk backwards so equal timestamps keep append order, newest first.
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func cloneUnit(u core.NarrativeUnit) core.NarrativeUnit {
	u.Entities = append([]string(nil), u.Entities...)
	u.Keywords = append([]string(nil), u.Keywords...)
	if u.Embedding != nil {
		u.Embedding = append([]float64(nil), u.Embedding...)
	}
	if u.Conflict != nil {
		c := *u.Conflict
		u.Conflict = &c
	}
	return u
}

func cloneCluster(c core.NarrativeCluster) core.NarrativeCluster {
	c.MemberUnitIDs = append([]string(nil), c.MemberUnitIDs...)
	if c.CachedReport != nil {
		r := *c.CachedReport
		c.CachedReport = &r
	}
	if c.ReportTimestamp != nil {
		t := *c.ReportTimestamp
		c.ReportTimestamp = &t
	}
	return c
}
