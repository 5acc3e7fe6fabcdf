package pipeline

import (
	"context"

	"narrativeos/internal/core"
	"narrativeos/internal/extract"
	"narrativeos/internal/ingest"
)

// Ingester pulls upstream feeds into the raw item store
type Ingester interface {
	IngestAll(ctx context.Context) (ingest.Result, error)
}

// Curator picks which raw items deserve extraction
type Curator interface {
	Curate(ctx context.Context) ([]string, error)
}

// Extractor turns raw text into a structured narrative record
type Extractor interface {
	Extract(ctx context.Context, text string) (*extract.Result, error)
}

// ClusterRunner groups windowed units into fresh clusters
type ClusterRunner interface {
	RunVector(ctx context.Context) ([]core.NarrativeCluster, error)
	RunKeyword(ctx context.Context) ([]core.NarrativeCluster, error)
}

// Indexer scores recent clusters
type Indexer interface {
	IndexAll(ctx context.Context) ([]core.IndexSnapshot, error)
}

// AlertDetector evaluates shock alerts for a set of clusters
type AlertDetector interface {
	ForClusters(ctx context.Context, clusterIDs []string) []core.Alert
}

// Researcher runs deep research on a cluster
type Researcher interface {
	Conduct(ctx context.Context, clusterID string) (string, error)
}
