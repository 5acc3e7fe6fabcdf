package clustering

import (
	"fmt"

	"narrativeos/internal/core"
	"narrativeos/internal/llm"
)

// VectorClusterer groups units by greedy seed clustering: each unassigned
// unit seeds a group and absorbs every later unassigned unit whose cosine
// similarity to the seed exceeds the threshold. Membership is decided
// against the seed only, so similarity is not transitive within a group.
type VectorClusterer struct {
	threshold float64
}

// NewVectorClusterer creates a clusterer with the default threshold.
func NewVectorClusterer() *VectorClusterer {
	return &VectorClusterer{threshold: DefaultCosineThreshold}
}

// WithThreshold sets the strict cosine threshold.
func (v *VectorClusterer) WithThreshold(threshold float64) *VectorClusterer {
	if threshold > 0 {
		v.threshold = threshold
	}
	return v
}

// Cluster groups units in input order. Units without an embedding are
// ignored. Each group is named after its seed.
func (v *VectorClusterer) Cluster(units []core.NarrativeUnit) []Group {
	var candidates []core.NarrativeUnit
	for _, u := range units {
		if u.HasEmbedding() {
			candidates = append(candidates, u)
		}
	}

	assigned := make([]bool, len(candidates))
	var groups []Group
	for i, seed := range candidates {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		members := []core.NarrativeUnit{seed}

		for j := i + 1; j < len(candidates); j++ {
			if assigned[j] {
				continue
			}
			if llm.CosineSimilarity(seed.Embedding, candidates[j].Embedding) > v.threshold {
				assigned[j] = true
				members = append(members, candidates[j])
			}
		}

		groups = append(groups, Group{
			Name:        seed.Title,
			Description: fmt.Sprintf("Semantic cluster of %d items.", len(members)),
			Method:      core.MethodVector,
			Members:     members,
		})
	}
	return groups
}
