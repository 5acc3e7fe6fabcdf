// Package report memoizes long-form cluster reports with a time-to-live.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"narrativeos/internal/core"
	"narrativeos/internal/llm"
	"narrativeos/internal/logger"
	"narrativeos/internal/persistence"
)

const (
	DefaultTTL          = 24 * time.Hour
	DefaultContextLimit = 30
	DefaultMinLength    = 100

	// Unavailable is returned when synthesis fails. It is never cached.
	Unavailable = "Report generation unavailable."
	// InsufficientData is returned for a cluster whose members are gone.
	InsufficientData = "Insufficient data to generate report."
)

const systemInstruction = `You are a senior intelligence analyst at a global macro hedge fund.
Write objective, analytical, professional Markdown. No filler.`

const promptTemplate = `Write a deep-dive intelligence report on the narrative "%s".

Context (news items in chronological order):
%s

Structure:
- **Executive Summary**: three bullet points on the core situation.
- **Origin & Timeline**: how it started and evolved.
- **Key Stakeholders**: companies, regulators and people involved, and their positions.
- **Conflict Analysis**: the central tension.
- **Strategic Outlook**: what is most likely next, and the tail risks.`

// Report is the content returned for a cluster.
type Report struct {
	ClusterID   string    `json:"cluster_id"`
	Content     string    `json:"content"`
	GeneratedAt time.Time `json:"timestamp"`
	Cached      bool      `json:"cached"`
}

// Cache returns cached reports while fresh and regenerates them otherwise.
//
// Two concurrent misses for the same stale cluster each regenerate and the
// last write wins. Nothing serializes them per cluster.
type Cache struct {
	db           persistence.Database
	collaborator llm.Collaborator
	ttl          time.Duration
	contextLimit int
	minLength    int
	now          func() time.Time
	log          *slog.Logger
}

// NewCache creates a report cache with the default TTL and limits.
func NewCache(db persistence.Database, collaborator llm.Collaborator) *Cache {
	return &Cache{
		db:           db,
		collaborator: collaborator,
		ttl:          DefaultTTL,
		contextLimit: DefaultContextLimit,
		minLength:    DefaultMinLength,
		now:          time.Now,
		log:          logger.Get(),
	}
}

// WithTTL sets how long a cached report stays fresh.
func (c *Cache) WithTTL(d time.Duration) *Cache {
	if d > 0 {
		c.ttl = d
	}
	return c
}

// WithContextLimit caps how many member units feed the synthesis.
func (c *Cache) WithContextLimit(n int) *Cache {
	if n > 0 {
		c.contextLimit = n
	}
	return c
}

// WithMinLength sets the length content must exceed to be persisted.
func (c *Cache) WithMinLength(n int) *Cache {
	if n > 0 {
		c.minLength = n
	}
	return c
}

// WithClock overrides the time source.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Get returns the report for a cluster. Returns persistence.ErrNotFound for
// an unknown cluster; synthesis failures are reported in the content.
func (c *Cache) Get(ctx context.Context, clusterID string) (Report, error) {
	cluster, err := c.db.Clusters().Get(ctx, clusterID)
	if err != nil {
		return Report{}, fmt.Errorf("load cluster %s: %w", clusterID, err)
	}

	now := c.now()
	if cluster.CachedReport != nil && cluster.ReportTimestamp != nil && now.Sub(*cluster.ReportTimestamp) < c.ttl {
		c.log.Debug("Returning cached report", "cluster_id", clusterID)
		return Report{ClusterID: clusterID, Content: *cluster.CachedReport, GeneratedAt: *cluster.ReportTimestamp, Cached: true}, nil
	}

	units, err := c.db.Units().ListByIDs(ctx, cluster.MemberUnitIDs)
	if err != nil {
		return Report{}, fmt.Errorf("load members of %s: %w", clusterID, err)
	}
	if len(units) == 0 {
		return Report{ClusterID: clusterID, Content: InsufficientData, GeneratedAt: now}, nil
	}

	content, err := c.collaborator.Complete(ctx, llm.Request{
		Purpose:           "report",
		SystemInstruction: systemInstruction,
		UserPrompt:        fmt.Sprintf(promptTemplate, cluster.Name, FormatContext(units, c.contextLimit)),
		Temperature:       0.4,
		ResponseFormat:    llm.FormatText,
	})
	if err != nil {
		c.log.Warn("Report synthesis failed", "cluster_id", clusterID, "error", err)
		return Report{ClusterID: clusterID, Content: Unavailable, GeneratedAt: now}, nil
	}

	content = strings.TrimSpace(content)
	if _, err := c.store(ctx, clusterID, content, now); err != nil {
		c.log.Warn("Caching report failed", "cluster_id", clusterID, "error", err)
	}
	return Report{ClusterID: clusterID, Content: content, GeneratedAt: now}, nil
}

// Put stores content as the cluster's report when it is longer than the
// minimum length in characters. stored is false when the content was too
// short to keep.
func (c *Cache) Put(ctx context.Context, clusterID, content string) (stored bool, err error) {
	return c.store(ctx, clusterID, content, c.now())
}

func (c *Cache) store(ctx context.Context, clusterID, content string, at time.Time) (bool, error) {
	if n := utf8.RuneCountInString(content); n <= c.minLength {
		c.log.Debug("Report too short to cache", "cluster_id", clusterID, "length", n)
		return false, nil
	}
	if err := c.db.Clusters().UpdateReport(ctx, clusterID, content, at); err != nil {
		return false, fmt.Errorf("update report for %s: %w", clusterID, err)
	}
	return true, nil
}

// FormatContext renders up to limit of the most recent units, oldest first,
// one per line as "[YYYY-MM-DD] (source) title: summary".
func FormatContext(units []core.NarrativeUnit, limit int) string {
	sorted := make([]core.NarrativeUnit, len(units))
	copy(sorted, units)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}

	lines := make([]string, len(sorted))
	for i, u := range sorted {
		lines[len(sorted)-1-i] = fmt.Sprintf("[%s] (%s) %s: %s",
			u.Timestamp.UTC().Format("2006-01-02"), u.SourceType, u.Title, u.Summary)
	}
	return strings.Join(lines, "\n")
}
