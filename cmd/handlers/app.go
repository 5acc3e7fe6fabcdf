package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"narrativeos/internal/alerts"
	"narrativeos/internal/clustering"
	"narrativeos/internal/config"
	"narrativeos/internal/core"
	"narrativeos/internal/curator"
	"narrativeos/internal/embedding"
	"narrativeos/internal/events"
	"narrativeos/internal/extract"
	"narrativeos/internal/feeds"
	"narrativeos/internal/index"
	"narrativeos/internal/ingest"
	"narrativeos/internal/llm"
	"narrativeos/internal/logger"
	"narrativeos/internal/narratives"
	"narrativeos/internal/persistence"
	"narrativeos/internal/pipeline"
	"narrativeos/internal/report"
	"narrativeos/internal/synthesis"
)

// app holds every service built from configuration. Commands take what
// they need from it.
type app struct {
	cfg       *config.Config
	db        persistence.Database
	publisher events.Publisher

	indexer      *index.Indexer
	detector     *alerts.Detector
	reports      *report.Cache
	researcher   *synthesis.ResearchAgent
	wargame      *synthesis.Wargame
	briefer      *synthesis.Briefer
	narratives   *narratives.Service
	orchestrator *pipeline.Orchestrator
}

// newApp wires the services described by cfg.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := persistence.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	collaborator, err := llm.NewFromConfig(ctx, cfg.AI)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create reasoning collaborator: %w", err)
	}

	embedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	publisher, err := events.NewFromConfig(cfg.Events.Kafka)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create event publisher: %w", err)
	}

	a := &app{
		cfg:       cfg,
		db:        db,
		publisher: publisher,
	}

	a.indexer = index.NewIndexer(db).
		WithWindow(config.Duration(cfg.Pipeline.IndexWindow, index.DefaultWindow))
	a.detector = alerts.NewDetector(db)
	a.reports = report.NewCache(db, collaborator).
		WithTTL(config.Duration(cfg.Report.TTL, report.DefaultTTL)).
		WithContextLimit(cfg.Report.ContextLimit).
		WithMinLength(cfg.Report.MinLength)
	a.researcher = synthesis.NewResearchAgent(db, collaborator, a.reports)
	a.wargame = synthesis.NewWargame(db, collaborator)
	a.briefer = synthesis.NewBriefer(db, collaborator)
	a.narratives = narratives.NewService(db)

	cur := curator.New(db, collaborator).
		WithWindow(config.Duration(cfg.Pipeline.CurationWindow, curator.DefaultWindow)).
		WithLimit(cfg.Pipeline.CurationLimit).
		WithFallbackSize(cfg.Pipeline.FallbackSize)

	clusters := clustering.NewService(db,
		clustering.NewVectorClusterer().WithThreshold(cfg.Clustering.CosineThreshold),
		clustering.NewKeywordClusterer(clustering.NewThemeNamer(collaborator)).WithThreshold(cfg.Clustering.JaccardThreshold),
	).WithWindow(config.Duration(cfg.Pipeline.ClusterWindow, clustering.DefaultWindow))

	fetcher := feeds.NewFetcher(config.Duration(cfg.Feeds.Timeout, feeds.DefaultTimeout), cfg.Feeds.UserAgent)
	ingestor := ingest.New(fetcher, db, feedSources(cfg.Feeds.Sources)).
		WithMaxItems(cfg.Feeds.MaxItemsPerFeed).
		WithConcurrency(cfg.Pipeline.MaxConcurrency)

	a.orchestrator = pipeline.New(pipeline.Deps{
		DB:         db,
		Ingester:   ingestor,
		Curator:    cur,
		Extractor:  extract.New(collaborator),
		Embedder:   embedder,
		Clusters:   clusters,
		Indexer:    a.indexer,
		Alerts:     a.detector,
		Publisher:  publisher,
		Researcher: a.researcher,
	}, pipeline.Options{
		MaxConcurrency:     cfg.Pipeline.MaxConcurrency,
		KeywordPass:        cfg.Pipeline.KeywordPass,
		ResearchMinMembers: cfg.Pipeline.ResearchMinMembers,
	})

	return a, nil
}

// newEmbedder returns the configured embedder. The Gemini embedder falls
// back to hashing when no Gemini key is available.
func newEmbedder(ctx context.Context, cfg *config.Config) (embedding.Embedder, error) {
	dims := cfg.Embedding.Dimensions
	if cfg.Embedding.Provider != "gemini" {
		return embedding.NewHashEmbedder(dims), nil
	}
	if cfg.AI.Gemini.APIKey == "" {
		logger.Warn("Gemini embedding requested without a Gemini key, using hash embeddings")
		return embedding.NewHashEmbedder(dims), nil
	}

	g, err := llm.NewGeminiCollaborator(ctx, cfg.AI.Gemini.APIKey, cfg.AI.Gemini.Model)
	if err != nil {
		return nil, err
	}
	return embedding.NewGeminiEmbedder(g.Client(), cfg.AI.Gemini.EmbeddingModel, dims).
		WithTimeout(config.Duration(cfg.AI.Timeout, llm.DefaultTimeout)), nil
}

func feedSources(sources []config.FeedSource) []feeds.Source {
	out := make([]feeds.Source, 0, len(sources))
	for _, s := range sources {
		typ := core.SourceNews
		if s.Type == string(core.SourceSocial) {
			typ = core.SourceSocial
		}
		name := s.Name
		if name == "" {
			name = s.URL
		}
		out = append(out, feeds.Source{Name: name, URL: s.URL, Type: typ})
	}
	return out
}

// Close waits for background research, then releases the publisher and
// the database.
func (a *app) Close() error {
	a.orchestrator.Wait()
	return errors.Join(a.publisher.Close(), a.db.Close())
}

// shutdownTimeout is how long serve waits for in-flight work on exit.
func (a *app) shutdownTimeout() time.Duration {
	return config.Duration(a.cfg.Server.ShutdownTimeout, 10*time.Second)
}
