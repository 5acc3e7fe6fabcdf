// Package clustering groups narrative units into themes, either by keyword
// overlap or by embedding similarity.
package clustering

import (
	"strings"

	"narrativeos/internal/core"
)

const (
	DefaultJaccardThreshold = 0.15
	DefaultCosineThreshold  = 0.85
)

// Group is an unpersisted cluster: a theme and its members.
type Group struct {
	Name        string
	Description string
	Method      core.ClusterMethod
	Members     []core.NarrativeUnit
}

// MemberIDs returns the unit IDs of the group in member order.
func (g Group) MemberIDs() []string {
	ids := make([]string, len(g.Members))
	for i, m := range g.Members {
		ids[i] = m.ID
	}
	return ids
}

// KeywordSet lower-cases and trims keywords into a set.
func KeywordSet(keywords []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			set[k] = struct{}{}
		}
	}
	return set
}

// Jaccard returns |a∩b| / |a∪b|. Two empty sets score 0.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for k := range small {
		if _, ok := large[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
