// Package feeds fetches and parses RSS 2.0 and Atom feeds.
package feeds

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"narrativeos/internal/core"
	"narrativeos/internal/metrics"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "NarrativeOS/1.0"
	maxBodyBytes     = 10 << 20
	untitled         = "No Title"
)

// Source is one configured upstream feed.
type Source struct {
	Name string
	URL  string
	Type core.SourceType
}

// SourceFetchError reports a feed that could not be fetched or parsed.
type SourceFetchError struct {
	Source string
	Err    error
}

func (e *SourceFetchError) Error() string {
	return fmt.Sprintf("fetch source %s: %v", e.Source, e.Err)
}

func (e *SourceFetchError) Unwrap() error { return e.Err }

// RSS represents an RSS feed structure
type RSS struct {
	XMLName xml.Name `xml:"rss"`
	Channel Channel  `xml:"channel"`
}

// Channel represents an RSS channel
type Channel struct {
	Title string    `xml:"title"`
	Items []RSSItem `xml:"item"`
}

// RSSItem represents an RSS item
type RSSItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	Content     string `xml:"http://purl.org/rss/1.0/modules/content/ encoded"`
	PubDate     string `xml:"pubDate"`
}

// Atom represents an Atom feed structure
type Atom struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Entries []AtomEntry `xml:"entry"`
}

// AtomLink represents an Atom link element
type AtomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

// AtomEntry represents an Atom entry
type AtomEntry struct {
	Title     string     `xml:"title"`
	Link      []AtomLink `xml:"link"`
	Summary   string     `xml:"summary"`
	Content   string     `xml:"content"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
}

// Fetcher downloads feeds over HTTP.
type Fetcher struct {
	client    *http.Client
	userAgent string
	now       func() time.Time
}

// NewFetcher creates a fetcher with the given request timeout.
func NewFetcher(timeout time.Duration, userAgent string) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		now:       time.Now,
	}
}

// Fetch downloads and parses one feed. Every failure is a *SourceFetchError.
func (f *Fetcher) Fetch(ctx context.Context, src Source) ([]core.FeedItem, error) {
	items, err := f.fetch(ctx, src)
	metrics.RecordSourceFetch(src.Name, err == nil)
	if err != nil {
		return nil, &SourceFetchError{Source: src.Name, Err: err}
	}
	return items, nil
}

func (f *Fetcher) fetch(ctx context.Context, src Source) ([]core.FeedItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read feed: %w", err)
	}
	return Parse(body, src.Name, f.now())
}

// Parse decodes an RSS or Atom document. Items without a parseable date are
// stamped with now.
func Parse(body []byte, sourceName string, now time.Time) ([]core.FeedItem, error) {
	var rss RSS
	if err := xml.NewDecoder(bytes.NewReader(body)).Decode(&rss); err == nil && rss.XMLName.Local == "rss" {
		return parseRSS(rss, sourceName, now), nil
	}

	var atom Atom
	if err := xml.NewDecoder(bytes.NewReader(body)).Decode(&atom); err == nil && atom.XMLName.Local == "feed" {
		return parseAtom(atom, sourceName, now), nil
	}

	return nil, fmt.Errorf("unable to parse as RSS or Atom feed")
}

func parseRSS(rss RSS, sourceName string, now time.Time) []core.FeedItem {
	items := make([]core.FeedItem, 0, len(rss.Channel.Items))
	for _, item := range rss.Channel.Items {
		summary := item.Description
		if strings.TrimSpace(summary) == "" {
			summary = item.Content
		}
		items = append(items, core.FeedItem{
			Title:       titleOrDefault(item.Title),
			Summary:     summary,
			Source:      sourceName,
			URL:         strings.TrimSpace(item.Link),
			PublishedAt: orNow(parseRSSDate(item.PubDate), now),
		})
	}
	return items
}

func parseAtom(atom Atom, sourceName string, now time.Time) []core.FeedItem {
	items := make([]core.FeedItem, 0, len(atom.Entries))
	for _, entry := range atom.Entries {
		var link string
		for _, l := range entry.Link {
			if l.Rel == "" || l.Rel == "alternate" {
				link = l.Href
				break
			}
		}

		summary := entry.Summary
		if strings.TrimSpace(summary) == "" {
			summary = entry.Content
		}
		published := entry.Published
		if published == "" {
			published = entry.Updated
		}

		items = append(items, core.FeedItem{
			Title:       titleOrDefault(entry.Title),
			Summary:     summary,
			Source:      sourceName,
			URL:         strings.TrimSpace(link),
			PublishedAt: orNow(parseAtomDate(published), now),
		})
	}
	return items
}

func titleOrDefault(title string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	return untitled
}

func orNow(t, now time.Time) time.Time {
	if t.IsZero() {
		return now.UTC()
	}
	return t
}

// parseRSSDate parses RSS date formats
func parseRSSDate(dateStr string) time.Time {
	if dateStr == "" {
		return time.Time{}
	}

	formats := []string{
		time.RFC1123,
		time.RFC1123Z,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"Mon, 2 Jan 2006 15:04:05 MST",
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, strings.TrimSpace(dateStr)); err == nil {
			return t.UTC()
		}
	}

	return time.Time{}
}

// parseAtomDate parses Atom date formats
func parseAtomDate(dateStr string) time.Time {
	if dateStr == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, strings.TrimSpace(dateStr)); err == nil {
		return t.UTC()
	}
	return parseRSSDate(dateStr)
}
