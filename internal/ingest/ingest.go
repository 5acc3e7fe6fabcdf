// Package ingest pulls every configured feed into the raw item store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"narrativeos/internal/cleaning"
	"narrativeos/internal/core"
	"narrativeos/internal/feeds"
	"narrativeos/internal/logger"
	"narrativeos/internal/persistence"
)

// FeedFetcher reads one source.
type FeedFetcher interface {
	Fetch(ctx context.Context, src feeds.Source) ([]core.FeedItem, error)
}

// Result counts what one ingest pass did.
type Result struct {
	Fetched       int      `json:"fetched"`
	Stored        int      `json:"stored"`
	Duplicates    int      `json:"duplicates"`
	Filtered      int      `json:"filtered"`
	Failed        int      `json:"failed"`
	FailedSources []string `json:"failed_sources,omitempty"`
}

// Ingestor fetches, cleans, filters and stores feed items.
type Ingestor struct {
	fetcher     FeedFetcher
	db          persistence.Database
	sources     []feeds.Source
	maxItems    int
	concurrency int
	now         func() time.Time
	log         *slog.Logger
}

// New creates an ingestor over sources.
func New(fetcher FeedFetcher, db persistence.Database, sources []feeds.Source) *Ingestor {
	return &Ingestor{
		fetcher:     fetcher,
		db:          db,
		sources:     sources,
		concurrency: 1,
		now:         time.Now,
		log:         logger.Get(),
	}
}

// WithMaxItems caps how many items are taken from each feed.
func (i *Ingestor) WithMaxItems(n int) *Ingestor {
	i.maxItems = n
	return i
}

// WithConcurrency sets how many sources are fetched at once.
func (i *Ingestor) WithConcurrency(n int) *Ingestor {
	if n > 0 {
		i.concurrency = n
	}
	return i
}

// WithClock overrides the time source.
func (i *Ingestor) WithClock(now func() time.Time) *Ingestor {
	i.now = now
	return i
}

// IngestAll fetches every source independently, up to the configured
// number at a time. A failing source is logged, counted and skipped; it
// never stops the others. Only context cancellation is returned.
func (i *Ingestor) IngestAll(ctx context.Context) (Result, error) {
	var res Result
	sem := make(chan struct{}, i.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, src := range i.sources {
		select {
		case <-ctx.Done():
			wg.Wait()
			i.log.Warn("Ingestion cancelled", "reason", ctx.Err())
			return res, ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(src feeds.Source) {
			defer wg.Done()
			defer func() { <-sem }()

			part := i.ingestSource(ctx, src)

			mu.Lock()
			res.add(part)
			mu.Unlock()
		}(src)
	}
	wg.Wait()
	sort.Strings(res.FailedSources)

	i.log.Info("Ingestion complete",
		"fetched", res.Fetched, "stored", res.Stored, "duplicates", res.Duplicates,
		"filtered", res.Filtered, "failed", res.Failed, "failed_sources", len(res.FailedSources))
	return res, nil
}

func (i *Ingestor) ingestSource(ctx context.Context, src feeds.Source) Result {
	var res Result
	items, err := i.fetcher.Fetch(ctx, src)
	if err != nil {
		i.log.Warn("Source fetch failed", "source", src.Name, "error", err)
		res.FailedSources = []string{src.Name}
		return res
	}
	if i.maxItems > 0 && len(items) > i.maxItems {
		items = items[:i.maxItems]
	}
	res.Fetched = len(items)

	for _, item := range items {
		i.store(ctx, src, item, &res)
	}
	return res
}

func (r *Result) add(o Result) {
	r.Fetched += o.Fetched
	r.Stored += o.Stored
	r.Duplicates += o.Duplicates
	r.Filtered += o.Filtered
	r.Failed += o.Failed
	r.FailedSources = append(r.FailedSources, o.FailedSources...)
}

func (i *Ingestor) store(ctx context.Context, src feeds.Source, item core.FeedItem, res *Result) {
	title := cleaning.CleanText(item.Title)
	content := cleaning.CleanText(item.Summary)
	if !cleaning.IsWorthAnalyzing(strings.TrimSpace(title + " " + content)) {
		res.Filtered++
		return
	}

	sourceType := src.Type
	if sourceType == "" {
		sourceType = core.SourceNews
	}
	raw := core.RawItem{
		ID:         ItemID(src.Name, item.URL, title),
		Title:      title,
		Content:    content,
		Source:     src.Name,
		SourceType: sourceType,
		URL:        item.URL,
		Timestamp:  item.PublishedAt,
		IngestedAt: i.now().UTC(),
	}

	err := i.db.RawItems().Create(ctx, &raw)
	switch {
	case err == nil:
		res.Stored++
	case errors.Is(err, persistence.ErrDuplicate):
		res.Duplicates++
	default:
		res.Failed++
		i.log.Warn("Storing raw item failed", "source", src.Name, "raw_item_id", raw.ID, "error", err)
	}
}

// ItemID derives a stable raw item ID from the URL, or from the source and
// title when the item has no URL.
func ItemID(source, url, title string) string {
	key := strings.TrimSpace(url)
	if key == "" {
		key = fmt.Sprintf("%s|%s", source, title)
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}
