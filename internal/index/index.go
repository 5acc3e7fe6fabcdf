// Package index scores narrative clusters into strength snapshots.
package index

import (
	"math"
	"time"

	"narrativeos/internal/core"
)

const (
	velocityPerUnit = 2.0
	coveragePerUnit = 5.0
	maxComponent    = 100.0
	// consistencyPlaceholder stands in until cross-source agreement is
	// measured.
	consistencyPlaceholder = 80.0

	velocityWeight = 0.4
	mediaWeight    = 0.3
	socialWeight   = 0.3
)

// Metrics is the score of one set of member units.
type Metrics struct {
	Strength       float64
	SentimentScore float64
	Velocity       float64
	MediaCoverage  float64
	SocialHeat     float64
	Consistency    float64
	Lifecycle      core.Lifecycle
}

// Snapshot stamps the metrics for a cluster.
func (m Metrics) Snapshot(clusterID string, at time.Time) core.IndexSnapshot {
	return core.IndexSnapshot{
		ClusterID:      clusterID,
		Timestamp:      at,
		Strength:       m.Strength,
		SentimentScore: m.SentimentScore,
		Velocity:       m.Velocity,
		MediaCoverage:  m.MediaCoverage,
		SocialHeat:     m.SocialHeat,
		Consistency:    m.Consistency,
		Lifecycle:      m.Lifecycle,
	}
}

// Calculate scores units. It is pure: the same units always give the same
// metrics. An empty input scores zero and is Emerging.
func Calculate(units []core.NarrativeUnit) Metrics {
	n := len(units)
	if n == 0 {
		return Metrics{Lifecycle: core.Emerging}
	}

	var news, social int
	var sentimentSum float64
	for _, u := range units {
		switch u.SourceType {
		case core.SourceNews:
			news++
		case core.SourceSocial:
			social++
		}
		sentimentSum += u.Sentiment.Weight()
	}

	velocity := math.Min(float64(n)*velocityPerUnit, maxComponent)
	media := math.Min(float64(news)*coveragePerUnit, maxComponent)
	heat := math.Min(float64(social)*coveragePerUnit, maxComponent)
	strength := velocityWeight*velocity + mediaWeight*media + socialWeight*heat

	return Metrics{
		Strength:       strength,
		SentimentScore: sentimentSum / float64(n) * 100,
		Velocity:       velocity,
		MediaCoverage:  media,
		SocialHeat:     heat,
		Consistency:    consistencyPlaceholder,
		Lifecycle:      Lifecycle(strength, velocity),
	}
}

// Lifecycle classifies a narrative by strength and velocity. Rules are
// checked in order: Consensus, Hyped, Fading, otherwise Emerging.
func Lifecycle(strength, velocity float64) core.Lifecycle {
	switch {
	case strength > 80:
		return core.Consensus
	case strength > 50:
		return core.Hyped
	case velocity < 10 && strength < 30:
		return core.Fading
	default:
		return core.Emerging
	}
}
