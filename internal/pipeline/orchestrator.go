// Package pipeline sequences one end-to-end pass: ingest, curate, extract and
// embed, cluster, index, alert, and optionally research.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"narrativeos/internal/core"
	"narrativeos/internal/embedding"
	"narrativeos/internal/events"
	"narrativeos/internal/extract"
	"narrativeos/internal/ingest"
	"narrativeos/internal/logger"
	"narrativeos/internal/metrics"
	"narrativeos/internal/persistence"
)

const (
	DefaultMaxConcurrency     = 4
	DefaultResearchMinMembers = 5
)

// Stage names, in execution order.
const (
	StageFetch    = "fetch"
	StageCurate   = "curate"
	StageExtract  = "extract"
	StageCluster  = "cluster"
	StageIndex    = "index"
	StageAlert    = "alert"
	StageKeywords = "keyword_cluster"
	StageResearch = "research"
)

// RunLock is the store-wide lock held for the length of a run so passes
// from separate processes never overlap.
const RunLock = "pipeline"

// Item outcomes.
const (
	ItemCreated        = "created"
	ItemCreatedNoVec   = "created_without_embedding"
	ItemAlreadyPresent = "existing"
	ItemFailed         = "failed"
)

// Deps are the collaborators of a run. Ingester, Publisher and Researcher
// are optional.
type Deps struct {
	DB         persistence.Database
	Ingester   Ingester
	Curator    Curator
	Extractor  Extractor
	Embedder   embedding.Embedder
	Clusters   ClusterRunner
	Indexer    Indexer
	Alerts     AlertDetector
	Publisher  events.Publisher
	Researcher Researcher
}

// Options tune a run.
type Options struct {
	MaxConcurrency     int
	KeywordPass        bool
	ResearchMinMembers int
}

// StageResult is the outcome of one stage.
type StageResult struct {
	Name     string        `json:"name"`
	OK       bool          `json:"ok"`
	Skipped  bool          `json:"skipped,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ItemCounts tallies the extract stage.
type ItemCounts struct {
	Selected       int `json:"selected"`
	Created        int `json:"created"`
	WithoutVector  int `json:"without_vector"`
	AlreadyPresent int `json:"already_present"`
	Failed         int `json:"failed"`
}

// RunResult summarizes a pass.
type RunResult struct {
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      time.Time     `json:"finished_at"`
	Stages          []StageResult `json:"stages"`
	Ingest          ingest.Result `json:"ingest"`
	Items           ItemCounts    `json:"items"`
	Clusters        int           `json:"clusters"`
	KeywordClusters int           `json:"keyword_clusters"`
	Snapshots       int           `json:"snapshots"`
	Alerts          []core.Alert  `json:"alerts"`
	ResearchCluster string        `json:"research_cluster,omitempty"`
}

// OK reports whether every stage succeeded.
func (r RunResult) OK() bool {
	for _, s := range r.Stages {
		if !s.OK {
			return false
		}
	}
	return true
}

// Stage returns the named stage result.
func (r RunResult) Stage(name string) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageResult{}, false
}

// Orchestrator runs pipeline passes.
type Orchestrator struct {
	deps     Deps
	opts     Options
	research sync.WaitGroup
	now      func() time.Time
	log      *slog.Logger
}

// New creates an orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.ResearchMinMembers <= 0 {
		opts.ResearchMinMembers = DefaultResearchMinMembers
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}
	return &Orchestrator{
		deps: deps,
		opts: opts,
		now:  time.Now,
		log:  logger.Get(),
	}
}

// Run executes one pass. A failing stage is recorded and the pass moves on;
// a failed curation leaves nothing to extract, and a failed clustering or
// indexing stage only affects what later stages see. The error is non-nil
// when ctx ends the run early or when another run holds RunLock, which
// comes back wrapping persistence.ErrLocked.
func (o *Orchestrator) Run(ctx context.Context) (RunResult, error) {
	res := RunResult{StartedAt: o.now(), Alerts: []core.Alert{}}

	release, err := o.deps.DB.TryLock(ctx, RunLock)
	if err != nil {
		res.FinishedAt = o.now()
		if errors.Is(err, persistence.ErrLocked) {
			metrics.RecordPipelineRun("locked")
			o.log.Warn("Pipeline run skipped, another run holds the lock")
		}
		return res, fmt.Errorf("acquire run lock: %w", err)
	}
	defer release()

	o.log.Info("Pipeline run started")

	if o.deps.Ingester != nil {
		o.stage(&res, StageFetch, func() error {
			var err error
			res.Ingest, err = o.deps.Ingester.IngestAll(ctx)
			return err
		})
	} else {
		o.skip(&res, StageFetch)
	}
	if err := ctx.Err(); err != nil {
		return o.finish(res), err
	}

	var selected []string
	o.stage(&res, StageCurate, func() error {
		var err error
		selected, err = o.deps.Curator.Curate(ctx)
		return err
	})
	res.Items.Selected = len(selected)

	o.stage(&res, StageExtract, func() error {
		res.Items = o.processItems(ctx, selected)
		return ctx.Err()
	})
	if err := ctx.Err(); err != nil {
		return o.finish(res), err
	}

	o.stage(&res, StageCluster, func() error {
		clusters, err := o.deps.Clusters.RunVector(ctx)
		res.Clusters = len(clusters)
		return err
	})

	var snapshots []core.IndexSnapshot
	o.stage(&res, StageIndex, func() error {
		var err error
		snapshots, err = o.deps.Indexer.IndexAll(ctx)
		res.Snapshots = len(snapshots)
		return err
	})

	o.stage(&res, StageAlert, func() error {
		ids := make([]string, 0, len(snapshots))
		for _, s := range snapshots {
			ids = append(ids, s.ClusterID)
		}
		if found := o.deps.Alerts.ForClusters(ctx, ids); len(found) > 0 {
			res.Alerts = found
		}
		return o.deps.Publisher.Publish(ctx, res.Alerts)
	})

	if o.opts.KeywordPass {
		o.stage(&res, StageKeywords, func() error {
			clusters, err := o.deps.Clusters.RunKeyword(ctx)
			res.KeywordClusters = len(clusters)
			return err
		})
	} else {
		o.skip(&res, StageKeywords)
	}

	if o.deps.Researcher != nil {
		o.stage(&res, StageResearch, func() error {
			var err error
			res.ResearchCluster, err = o.maybeResearch(ctx)
			return err
		})
	} else {
		o.skip(&res, StageResearch)
	}

	return o.finish(res), ctx.Err()
}

// Wait blocks until background research started by earlier runs finishes.
func (o *Orchestrator) Wait() {
	o.research.Wait()
}

func (o *Orchestrator) stage(res *RunResult, name string, fn func() error) {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	sr := StageResult{Name: name, OK: err == nil, Duration: elapsed}
	if err != nil {
		sr.Error = err.Error()
		o.log.Error("Pipeline stage failed", "stage", name, "duration", elapsed.String(), "error", err)
	} else {
		o.log.Info("Pipeline stage complete", "stage", name, "duration", elapsed.String())
	}
	metrics.RecordStage(name, elapsed.Seconds(), err == nil)
	res.Stages = append(res.Stages, sr)
}

func (o *Orchestrator) skip(res *RunResult, name string) {
	res.Stages = append(res.Stages, StageResult{Name: name, OK: true, Skipped: true})
}

func (o *Orchestrator) finish(res RunResult) RunResult {
	res.FinishedAt = o.now()
	status := "success"
	if !res.OK() {
		status = "partial"
	}
	metrics.RecordPipelineRun(status)
	o.log.Info("Pipeline run finished",
		"status", status,
		"selected", res.Items.Selected,
		"units_created", res.Items.Created,
		"clusters", res.Clusters,
		"snapshots", res.Snapshots,
		"alerts", len(res.Alerts))
	return res
}

// processItems extracts and embeds every selected item with bounded
// parallelism. Item failures are counted, never propagated.
func (o *Orchestrator) processItems(ctx context.Context, rawItemIDs []string) ItemCounts {
	counts := ItemCounts{Selected: len(rawItemIDs)}
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(o.opts.MaxConcurrency)
	for _, id := range rawItemIDs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			outcome := o.processItem(ctx, id)
			metrics.RecordItem(outcome)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case ItemCreated:
				counts.Created++
			case ItemCreatedNoVec:
				counts.Created++
				counts.WithoutVector++
			case ItemAlreadyPresent:
				counts.AlreadyPresent++
			default:
				counts.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()
	return counts
}

// processItem runs extraction and embedding concurrently and stores the
// unit. An embedding failure still stores the unit, without a vector.
func (o *Orchestrator) processItem(ctx context.Context, rawItemID string) string {
	log := o.log.With("raw_item_id", rawItemID)

	existing, err := o.deps.DB.Units().ExistingRawItemIDs(ctx, []string{rawItemID})
	if err != nil {
		log.Warn("Checking existing unit failed", "error", err)
		return ItemFailed
	}
	if existing[rawItemID] {
		return ItemAlreadyPresent
	}

	raw, err := o.deps.DB.RawItems().Get(ctx, rawItemID)
	if err != nil {
		log.Warn("Loading raw item failed", "error", err)
		return ItemFailed
	}
	text := raw.Text()

	var (
		extracted  *extract.Result
		vector     []float64
		extractErr error
		embedErr   error
	)
	var g errgroup.Group
	g.Go(func() error {
		r, err := o.deps.Extractor.Extract(ctx, text)
		extracted, extractErr = r, err
		return nil
	})
	g.Go(func() error {
		vector, embedErr = o.deps.Embedder.Generate(ctx, text)
		return nil
	})
	_ = g.Wait()

	if extractErr != nil {
		log.Warn("Extraction failed, skipping item", "error", extractErr)
		return ItemFailed
	}

	unit := core.NarrativeUnit{
		ID:         uuid.NewString(),
		RawItemID:  raw.ID,
		Title:      extracted.Title,
		Summary:    extracted.Summary,
		Sentiment:  extracted.Sentiment,
		Entities:   extracted.Entities,
		Keywords:   extracted.Keywords,
		Conflict:   extracted.Conflict,
		SourceType: raw.SourceType,
		Source:     raw.Source,
		Timestamp:  raw.Timestamp,
	}
	outcome := ItemCreated
	if embedErr != nil || len(vector) == 0 {
		log.Warn("Embedding failed, storing unit without vector", "error", embedErr)
		outcome = ItemCreatedNoVec
	} else {
		unit.Embedding = vector
	}

	if err := o.deps.DB.Units().Create(ctx, &unit); err != nil {
		if errors.Is(err, persistence.ErrDuplicate) {
			return ItemAlreadyPresent
		}
		log.Warn("Storing unit failed", "error", err)
		return ItemFailed
	}
	return outcome
}

// maybeResearch starts background research on the most recently created
// cluster when it is large enough. The research outlives the run's
// context; Wait blocks on it.
func (o *Orchestrator) maybeResearch(ctx context.Context) (string, error) {
	latest, err := o.deps.DB.Clusters().Latest(ctx)
	if errors.Is(err, persistence.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load latest cluster: %w", err)
	}
	if len(latest.MemberUnitIDs) <= o.opts.ResearchMinMembers {
		o.log.Info("Skipping research, cluster too small", "cluster_id", latest.ID, "members", len(latest.MemberUnitIDs))
		return "", nil
	}

	o.log.Info("Starting background research", "cluster_id", latest.ID, "name", latest.Name, "members", len(latest.MemberUnitIDs))
	bg := context.WithoutCancel(ctx)
	o.research.Add(1)
	go func() {
		defer o.research.Done()
		if _, err := o.deps.Researcher.Conduct(bg, latest.ID); err != nil {
			o.log.Error("Background research failed", "cluster_id", latest.ID, "error", err)
		}
	}()
	return latest.ID, nil
}
