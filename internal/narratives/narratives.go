// Package narratives assembles the caller-facing views of clusters: the
// ranked list, a cluster's detail page, the entity map and entity dossiers.
package narratives

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"narrativeos/internal/core"
	"narrativeos/internal/logger"
	"narrativeos/internal/persistence"
)

const (
	historyPoints   = 7
	timelinePoints  = 100
	trendDeadband   = 0.5
	sentimentBand   = 30.0
	listLimit       = 200
	mapEntitiesEach = 5
	minEntityLength = 3
	dossierScan     = 1000
	dossierTop      = 3
)

// Trend is the direction of a cluster's strength between its two latest
// snapshots.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// Summary is one row of the narrative list.
type Summary struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Description  string             `json:"description"`
	Method       core.ClusterMethod `json:"method"`
	Strength     int                `json:"strength"`
	Trend        Trend              `json:"trend"`
	Lifecycle    core.Lifecycle     `json:"lifecycle"`
	SourcesCount int                `json:"sources_count"`
	Sentiment    core.Sentiment     `json:"sentiment"`
	Divergence   int                `json:"divergence"`
	MemberCount  int                `json:"member_count"`
	CreatedAt    time.Time          `json:"created_at"`
	History      []float64          `json:"history"` // Oldest first
}

// TimelinePoint is one snapshot on the detail chart.
type TimelinePoint struct {
	Date      string  `json:"date"`
	Value     float64 `json:"value"`
	Sentiment float64 `json:"sentiment"`
}

// Evidence is a member unit shown on the detail page.
type Evidence struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Source    string    `json:"source"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Sentiment string    `json:"sentiment"` // Positive, Negative or Neutral
	URL       string    `json:"url,omitempty"`
}

// Detail is the full view of a single cluster.
type Detail struct {
	Summary
	Timeline []TimelinePoint `json:"timeline"`
	Evidence []Evidence      `json:"evidence"`
}

// Node is a vertex of the knowledge map.
type Node struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Val   int    `json:"val"`
	Group int    `json:"group"` // 1 narrative, 2 entity
}

// Link joins a narrative to an entity.
type Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Value  int    `json:"value"`
}

// Graph is the knowledge map.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Links []Link `json:"links"`
}

// Ref names a cluster.
type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Dossier summarizes what the store knows about one entity.
type Dossier struct {
	Name            string         `json:"name"`
	Found           bool           `json:"found"`
	Mentions        int            `json:"mentions,omitempty"`
	SentimentBias   core.Sentiment `json:"sentiment_bias,omitempty"`
	Narratives      []Ref          `json:"narratives,omitempty"`
	RecentHeadlines []string       `json:"recent_headlines,omitempty"`
}

// Service answers read queries over clusters, units and snapshots.
type Service struct {
	db  persistence.Database
	log *slog.Logger
}

// NewService creates a query service.
func NewService(db persistence.Database) *Service {
	return &Service{db: db, log: logger.Get()}
}

// List returns the most recent clusters with their latest scores.
func (s *Service) List(ctx context.Context) ([]Summary, error) {
	clusters, err := s.db.Clusters().List(ctx, time.Time{}, listLimit)
	if err != nil {
		return nil, fmt.Errorf("list clusters: %w", err)
	}

	out := make([]Summary, 0, len(clusters))
	for _, cluster := range clusters {
		snapshots, err := s.db.Snapshots().Latest(ctx, cluster.ID, historyPoints)
		if err != nil {
			return nil, fmt.Errorf("snapshots for %s: %w", cluster.ID, err)
		}
		out = append(out, summarize(cluster, snapshots))
	}
	return out, nil
}

// Get returns the detail view of a cluster. Returns persistence.ErrNotFound
// for an unknown cluster.
func (s *Service) Get(ctx context.Context, id string) (*Detail, error) {
	cluster, err := s.db.Clusters().Get(ctx, id)
	if err != nil {
		return nil, err
	}

	snapshots, err := s.db.Snapshots().Latest(ctx, id, timelinePoints)
	if err != nil {
		return nil, fmt.Errorf("snapshots for %s: %w", id, err)
	}
	units, err := s.db.Units().ListByIDs(ctx, cluster.MemberUnitIDs)
	if err != nil {
		return nil, fmt.Errorf("members of %s: %w", id, err)
	}

	detail := &Detail{
		Summary:  summarize(*cluster, snapshots),
		Timeline: make([]TimelinePoint, 0, len(snapshots)),
		Evidence: make([]Evidence, 0, len(units)),
	}
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		detail.Timeline = append(detail.Timeline, TimelinePoint{
			Date:      snap.Timestamp.UTC().Format("2006-01-02"),
			Value:     snap.Strength,
			Sentiment: snap.SentimentScore,
		})
	}
	for _, u := range units {
		detail.Evidence = append(detail.Evidence, Evidence{
			ID:        u.ID,
			Title:     u.Title,
			Source:    u.Source,
			Content:   u.Summary,
			Timestamp: u.Timestamp,
			Sentiment: tone(u.Sentiment),
			URL:       s.sourceURL(ctx, u.RawItemID),
		})
	}
	return detail, nil
}

// Map links each recent cluster to up to five of its entities. Entity nodes
// are sized by how many clusters mention them.
func (s *Service) Map(ctx context.Context) (Graph, error) {
	clusters, err := s.db.Clusters().List(ctx, time.Time{}, listLimit)
	if err != nil {
		return Graph{}, fmt.Errorf("list clusters: %w", err)
	}

	graph := Graph{Nodes: []Node{}, Links: []Link{}}
	entityCount := map[string]int{}
	var entityOrder []string
	linked := map[string]bool{}

	for _, cluster := range clusters {
		clusterNode := "cluster-" + cluster.ID
		graph.Nodes = append(graph.Nodes, Node{ID: clusterNode, Name: cluster.Name, Val: 20, Group: 1})

		units, err := s.db.Units().ListByIDs(ctx, cluster.MemberUnitIDs)
		if err != nil {
			return Graph{}, fmt.Errorf("members of %s: %w", cluster.ID, err)
		}

		seen := map[string]bool{}
		var entities []string
		for _, u := range units {
			for _, e := range u.Entities {
				e = strings.TrimSpace(e)
				if len([]rune(e)) < minEntityLength || seen[e] {
					continue
				}
				seen[e] = true
				entities = append(entities, e)
				if entityCount[e] == 0 {
					entityOrder = append(entityOrder, e)
				}
				entityCount[e]++
			}
		}

		if len(entities) > mapEntitiesEach {
			entities = entities[:mapEntitiesEach]
		}
		for _, e := range entities {
			graph.Links = append(graph.Links, Link{Source: clusterNode, Target: "entity-" + e, Value: 1})
			linked[e] = true
		}
	}

	for _, e := range entityOrder {
		if linked[e] {
			graph.Nodes = append(graph.Nodes, Node{ID: "entity-" + e, Name: e, Val: 5 + entityCount[e], Group: 2})
		}
	}
	return graph, nil
}

// Entity builds a dossier from the most recent units that mention name,
// matched case-insensitively.
func (s *Service) Entity(ctx context.Context, name string) (Dossier, error) {
	name = strings.TrimSpace(name)
	units, err := s.db.Units().ListRecent(ctx, dossierScan)
	if err != nil {
		return Dossier{}, fmt.Errorf("list units: %w", err)
	}

	var related []core.NarrativeUnit
	relatedIDs := map[string]bool{}
	for _, u := range units {
		for _, e := range u.Entities {
			if strings.EqualFold(strings.TrimSpace(e), name) {
				related = append(related, u)
				relatedIDs[u.ID] = true
				break
			}
		}
	}
	if len(related) == 0 {
		return Dossier{Name: name, Found: false}, nil
	}

	var bull, bear int
	for _, u := range related {
		switch u.Sentiment {
		case core.Bullish:
			bull++
		case core.Bearish:
			bear++
		}
	}
	bias := core.Neutral
	switch {
	case bull > bear:
		bias = core.Bullish
	case bear > bull:
		bias = core.Bearish
	}

	clusters, err := s.db.Clusters().List(ctx, time.Time{}, listLimit)
	if err != nil {
		return Dossier{}, fmt.Errorf("list clusters: %w", err)
	}
	var refs []Ref
	for _, c := range clusters {
		for _, id := range c.MemberUnitIDs {
			if relatedIDs[id] {
				refs = append(refs, Ref{ID: c.ID, Name: c.Name})
				break
			}
		}
		if len(refs) == dossierTop {
			break
		}
	}

	headlines := make([]string, 0, dossierTop)
	for _, u := range related {
		if len(headlines) == dossierTop {
			break
		}
		headlines = append(headlines, u.Title)
	}

	return Dossier{
		Name:            name,
		Found:           true,
		Mentions:        len(related),
		SentimentBias:   bias,
		Narratives:      refs,
		RecentHeadlines: headlines,
	}, nil
}

func (s *Service) sourceURL(ctx context.Context, rawItemID string) string {
	item, err := s.db.RawItems().Get(ctx, rawItemID)
	if err != nil {
		s.log.Debug("No raw item for evidence", "raw_item_id", rawItemID, "error", err)
		return ""
	}
	return item.URL
}

// summarize derives the list row from the cluster and its snapshots,
// newest first.
func summarize(cluster core.NarrativeCluster, snapshots []core.IndexSnapshot) Summary {
	out := Summary{
		ID:          cluster.ID,
		Name:        cluster.Name,
		Description: cluster.Description,
		Method:      cluster.Method,
		Trend:       TrendStable,
		Lifecycle:   core.Emerging,
		Sentiment:   core.Neutral,
		MemberCount: len(cluster.MemberUnitIDs),
		CreatedAt:   cluster.CreatedAt,
		History:     []float64{},
	}
	if len(snapshots) == 0 {
		return out
	}

	latest := snapshots[0]
	out.Strength = int(math.Floor(latest.Strength))
	out.Lifecycle = latest.Lifecycle
	out.SourcesCount = int(math.Floor(latest.MediaCoverage + latest.SocialHeat))
	out.Sentiment = SentimentLabel(latest.SentimentScore)
	out.Divergence = int(math.Floor(100 - latest.Consistency))
	if len(snapshots) > 1 {
		out.Trend = TrendOf(latest.Strength - snapshots[1].Strength)
	}

	n := len(snapshots)
	if n > historyPoints {
		n = historyPoints
	}
	for i := n - 1; i >= 0; i-- {
		out.History = append(out.History, snapshots[i].Strength)
	}
	return out
}

// TrendOf classifies a strength change.
func TrendOf(delta float64) Trend {
	switch {
	case delta > trendDeadband:
		return TrendUp
	case delta < -trendDeadband:
		return TrendDown
	default:
		return TrendStable
	}
}

// SentimentLabel buckets a -100..100 score.
func SentimentLabel(score float64) core.Sentiment {
	switch {
	case score > sentimentBand:
		return core.Bullish
	case score < -sentimentBand:
		return core.Bearish
	default:
		return core.Neutral
	}
}

func tone(s core.Sentiment) string {
	switch s {
	case core.Bullish:
		return "Positive"
	case core.Bearish:
		return "Negative"
	default:
		return "Neutral"
	}
}
