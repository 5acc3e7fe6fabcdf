package core

import (
	"strings"
	"time"
)

// SourceType classifies where a raw item came from. The index engine counts
// media coverage and social heat from it.
type SourceType string

const (
	SourceNews   SourceType = "news"
	SourceSocial SourceType = "social"
)

// FeedItem is a single entry read from an upstream feed before it is
// normalized into a RawItem.
type FeedItem struct {
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Source      string    `json:"source"`
	URL         string    `json:"url,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// RawItem is an ingested text item. Immutable once stored.
type RawItem struct {
	ID         string     `json:"id"`          // Stable identifier derived from the URL or source+title
	Title      string     `json:"title"`       // Headline
	Content    string     `json:"content"`     // Cleaned body text
	Source     string     `json:"source"`      // Feed or outlet name
	SourceType SourceType `json:"source_type"` // news or social
	URL        string     `json:"url,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`   // Publication time
	IngestedAt time.Time  `json:"ingested_at"` // When the item entered the store
}

// Text returns the text handed to the extractor and embedder.
func (r RawItem) Text() string {
	if r.Content == "" {
		return r.Title
	}
	return r.Title + "\n\n" + r.Content
}

// Sentiment is the market stance of a narrative unit.
type Sentiment string

const (
	Bullish Sentiment = "Bullish"
	Bearish Sentiment = "Bearish"
	Neutral Sentiment = "Neutral"
)

// ParseSentiment matches a label case-insensitively.
func ParseSentiment(s string) (Sentiment, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bullish":
		return Bullish, true
	case "bearish":
		return Bearish, true
	case "neutral":
		return Neutral, true
	}
	return "", false
}

// Weight maps a sentiment onto +1, -1 or 0.
func (s Sentiment) Weight() float64 {
	switch s {
	case Bullish:
		return 1
	case Bearish:
		return -1
	default:
		return 0
	}
}

// NarrativeUnit is the structured extraction of one RawItem.
type NarrativeUnit struct {
	ID         string     `json:"id"`
	RawItemID  string     `json:"raw_item_id"` // At most one unit per raw item
	Title      string     `json:"title"`
	Summary    string     `json:"summary"`
	Sentiment  Sentiment  `json:"sentiment"`
	Entities   []string   `json:"entities"`
	Keywords   []string   `json:"keywords"` // 3 to 5, ordered by relevance
	Conflict   *string    `json:"conflict,omitempty"`
	Embedding  []float64  `json:"embedding,omitempty"` // Absent when the embedder failed
	SourceType SourceType `json:"source_type"`
	Source     string     `json:"source"`
	Timestamp  time.Time  `json:"timestamp"` // Inherited from the raw item
}

// HasEmbedding reports whether the unit carries a vector.
func (u NarrativeUnit) HasEmbedding() bool {
	return len(u.Embedding) > 0
}

// ClusterMethod records which engine produced a cluster.
type ClusterMethod string

const (
	MethodVector  ClusterMethod = "vector"
	MethodKeyword ClusterMethod = "keyword"
)

// NarrativeCluster groups related units into a theme.
type NarrativeCluster struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Description     string        `json:"description"`
	Method          ClusterMethod `json:"method"`
	MemberUnitIDs   []string      `json:"member_unit_ids"` // Never empty
	CachedReport    *string       `json:"cached_report,omitempty"`
	ReportTimestamp *time.Time    `json:"report_timestamp,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// Lifecycle is the phase a narrative is in, derived from its index.
type Lifecycle string

const (
	Emerging  Lifecycle = "Emerging"
	Hyped     Lifecycle = "Hyped"
	Consensus Lifecycle = "Consensus"
	Fading    Lifecycle = "Fading"
)

// IndexSnapshot is one append-only scoring of a cluster.
type IndexSnapshot struct {
	ClusterID      string    `json:"cluster_id"`
	Timestamp      time.Time `json:"timestamp"`
	Strength       float64   `json:"strength"`        // 0..100
	SentimentScore float64   `json:"sentiment_score"` // -100..100
	Velocity       float64   `json:"velocity"`
	MediaCoverage  float64   `json:"media_coverage"`
	SocialHeat     float64   `json:"social_heat"`
	Consistency    float64   `json:"consistency"`
	Lifecycle      Lifecycle `json:"lifecycle"`
}

// Severity grades a shock alert.
type Severity string

const (
	SeverityMedium Severity = "Medium"
	SeverityHigh   Severity = "High"
)

// Alert is a derived notice that a cluster's strength moved sharply between
// its two most recent snapshots. Never persisted.
type Alert struct {
	ClusterID   string    `json:"cluster_id"`
	ClusterName string    `json:"cluster_name"`
	Delta       float64   `json:"delta"`
	Severity    Severity  `json:"severity"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}
