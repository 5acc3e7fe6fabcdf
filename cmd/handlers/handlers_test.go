package handlers

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"narrativeos/internal/config"
	"narrativeos/internal/core"
	"narrativeos/internal/feeds"
)

func TestRootCommandHasSubcommands(t *testing.T) {
	root := NewRootCmd()

	var got []string
	for _, c := range root.Commands() {
		got = append(got, c.Name())
	}
	want := []string{"alerts", "migrate", "report", "run", "serve"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("subcommands mismatch (-want +got):\n%s", diff)
	}
}

func TestFeedSources(t *testing.T) {
	got := feedSources([]config.FeedSource{
		{Name: "Wire", URL: "https://wire.example/rss", Type: "news"},
		{Name: "Board", URL: "https://board.example/rss", Type: "social"},
		{URL: "https://unnamed.example/rss"},
	})
	want := []feeds.Source{
		{Name: "Wire", URL: "https://wire.example/rss", Type: core.SourceNews},
		{Name: "Board", URL: "https://board.example/rss", Type: core.SourceSocial},
		{Name: "https://unnamed.example/rss", URL: "https://unnamed.example/rss", Type: core.SourceNews},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("feedSources mismatch (-want +got):\n%s", diff)
	}
}

func TestReportRequiresClusterID(t *testing.T) {
	cmd := NewReportCmd()
	if err := cmd.Args(cmd, nil); err == nil {
		t.Error("report without a cluster id should fail argument validation")
	}
}
