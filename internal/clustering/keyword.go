package clustering

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"narrativeos/internal/core"
	"narrativeos/internal/logger"
)

// KeywordClusterer links units whose keyword sets overlap and returns the
// connected components of that graph. Pairwise comparison is O(N²); batches
// beyond a few hundred units should be windowed by the caller.
type KeywordClusterer struct {
	threshold float64
	namer     *ThemeNamer
	log       *slog.Logger
}

// NewKeywordClusterer creates a clusterer. namer may be nil, in which case
// groups get the keyword fallback name.
func NewKeywordClusterer(namer *ThemeNamer) *KeywordClusterer {
	return &KeywordClusterer{
		threshold: DefaultJaccardThreshold,
		namer:     namer,
		log:       logger.Get(),
	}
}

// WithThreshold sets the minimum Jaccard similarity for an edge
func (k *KeywordClusterer) WithThreshold(threshold float64) *KeywordClusterer {
	if threshold > 0 {
		k.threshold = threshold
	}
	return k
}

// Cluster partitions units into named groups. Every unit lands in exactly
// one group; units with no qualifying edge form singletons. Groups and their
// members follow input order.
func (k *KeywordClusterer) Cluster(ctx context.Context, units []core.NarrativeUnit) ([]Group, error) {
	if len(units) == 0 {
		return nil, nil
	}

	components := k.components(units)
	k.log.Info(fmt.Sprintf("Keyword clustering %d units into %d groups (threshold=%.2f)",
		len(units), len(components), k.threshold))

	groups := make([]Group, 0, len(components))
	for _, idx := range components {
		members := make([]core.NarrativeUnit, len(idx))
		for i, n := range idx {
			members[i] = units[n]
		}

		var name, description string
		if k.namer != nil {
			name, description = k.namer.Name(ctx, members)
		} else {
			name, description = FallbackTheme(members)
		}

		groups = append(groups, Group{
			Name:        name,
			Description: description,
			Method:      core.MethodKeyword,
			Members:     members,
		})
	}
	return groups, nil
}

// components returns the connected components as sorted index lists,
// ordered by their smallest index.
func (k *KeywordClusterer) components(units []core.NarrativeUnit) [][]int {
	sets := make([]map[string]struct{}, len(units))
	for i, u := range units {
		sets[i] = KeywordSet(u.Keywords)
	}

	g := simple.NewUndirectedGraph()
	for i := range units {
		g.AddNode(simple.Node(int64(i)))
	}
	for i := 0; i < len(units); i++ {
		for j := i + 1; j < len(units); j++ {
			if Jaccard(sets[i], sets[j]) >= k.threshold {
				g.SetEdge(g.NewEdge(simple.Node(int64(i)), simple.Node(int64(j))))
			}
		}
	}

	var out [][]int
	for _, comp := range topo.ConnectedComponents(g) {
		idx := make([]int, len(comp))
		for i, n := range comp {
			idx[i] = int(n.ID())
		}
		sort.Ints(idx)
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}
