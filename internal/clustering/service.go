package clustering

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"narrativeos/internal/core"
	"narrativeos/internal/logger"
	"narrativeos/internal/metrics"
	"narrativeos/internal/persistence"
)

// DefaultWindow is the rolling window of units considered per run.
const DefaultWindow = 24 * time.Hour

// Service loads windowed units, runs a clusterer and persists the result.
// Each run creates fresh clusters; earlier clusters are never merged.
type Service struct {
	db      persistence.Database
	vector  *VectorClusterer
	keyword *KeywordClusterer
	window  time.Duration
	now     func() time.Time
	log     *slog.Logger
}

// NewService creates a clustering service.
func NewService(db persistence.Database, vector *VectorClusterer, keyword *KeywordClusterer) *Service {
	return &Service{
		db:      db,
		vector:  vector,
		keyword: keyword,
		window:  DefaultWindow,
		now:     time.Now,
		log:     logger.Get(),
	}
}

// WithWindow sets the rolling window.
func (s *Service) WithWindow(d time.Duration) *Service {
	if d > 0 {
		s.window = d
	}
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// RunVector clusters windowed units that carry embeddings.
func (s *Service) RunVector(ctx context.Context) ([]core.NarrativeCluster, error) {
	units, err := s.db.Units().ListSince(ctx, s.now().Add(-s.window), true)
	if err != nil {
		return nil, fmt.Errorf("load units for vector clustering: %w", err)
	}
	return s.persist(ctx, s.vector.Cluster(units))
}

// RunKeyword clusters all windowed units by keyword overlap.
func (s *Service) RunKeyword(ctx context.Context) ([]core.NarrativeCluster, error) {
	if s.keyword == nil {
		return nil, nil
	}
	units, err := s.db.Units().ListSince(ctx, s.now().Add(-s.window), false)
	if err != nil {
		return nil, fmt.Errorf("load units for keyword clustering: %w", err)
	}
	groups, err := s.keyword.Cluster(ctx, units)
	if err != nil {
		return nil, err
	}
	return s.persist(ctx, groups)
}

func (s *Service) persist(ctx context.Context, groups []Group) ([]core.NarrativeCluster, error) {
	createdAt := s.now()
	clusters := make([]core.NarrativeCluster, 0, len(groups))
	for _, g := range groups {
		if len(g.Members) == 0 {
			continue
		}
		cluster := core.NarrativeCluster{
			ID:            uuid.NewString(),
			Name:          g.Name,
			Description:   g.Description,
			Method:        g.Method,
			MemberUnitIDs: g.MemberIDs(),
			CreatedAt:     createdAt,
		}
		if err := s.db.Clusters().Create(ctx, &cluster); err != nil {
			return clusters, fmt.Errorf("persist cluster %q: %w", g.Name, err)
		}
		clusters = append(clusters, cluster)
	}

	if len(clusters) > 0 {
		metrics.RecordClusters(string(clusters[0].Method), len(clusters))
	}
	s.log.Info("Clusters persisted", "count", len(clusters))
	return clusters, nil
}
