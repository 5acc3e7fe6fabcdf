package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"narrativeos/internal/config"
	"narrativeos/internal/persistence"
	"narrativeos/internal/pipeline"
)

// NewRunCmd creates the run command for a single pipeline pass
func NewRunCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one full pipeline pass",
		Long: `Run one pipeline pass and exit.

Stages run in order: fetch, curate, extract and embed, cluster, index,
alert, the optional keyword pass, and auto-research. A failing stage is
reported and the pass moves on. Background research started by the pass
finishes before the command exits. The pass refuses to start while another
run, such as a scheduled one in serve, holds the database run lock.

Examples:
  narrativeos run
  narrativeos run --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run result as JSON")

	return cmd
}

func runPipeline(ctx context.Context, asJSON bool) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.orchestrator.Run(ctx)
	if errors.Is(err, persistence.ErrLocked) {
		return errors.New("another pipeline run is in progress against this database")
	}
	if err != nil {
		return fmt.Errorf("pipeline run aborted: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printRunResult(res)
	return nil
}

func printRunResult(res pipeline.RunResult) {
	fmt.Printf("Pipeline run %s -> %s\n", res.StartedAt.Format("2006-01-02 15:04:05"), res.FinishedAt.Format("15:04:05"))
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	for _, s := range res.Stages {
		status := "ok"
		switch {
		case s.Skipped:
			status = "skipped"
		case !s.OK:
			status = "FAILED"
		}
		line := fmt.Sprintf("%-16s %-8s %s", s.Name, status, s.Duration.Round(time.Millisecond))
		if s.Error != "" {
			line += "  " + s.Error
		}
		fmt.Println(line)
	}
	fmt.Println()
	fmt.Printf("Fetched: %d | Stored: %d | Duplicates: %d | Filtered: %d\n",
		res.Ingest.Fetched, res.Ingest.Stored, res.Ingest.Duplicates, res.Ingest.Filtered)
	fmt.Printf("Selected: %d | Units: %d (%d without vector) | Existing: %d | Failed: %d\n",
		res.Items.Selected, res.Items.Created, res.Items.WithoutVector, res.Items.AlreadyPresent, res.Items.Failed)
	fmt.Printf("Clusters: %d | Keyword clusters: %d | Snapshots: %d | Alerts: %d\n",
		res.Clusters, res.KeywordClusters, res.Snapshots, len(res.Alerts))
	for _, alert := range res.Alerts {
		fmt.Printf("  [%s] %s\n", alert.Severity, alert.Message)
	}
	if res.ResearchCluster != "" {
		fmt.Printf("Research started for cluster %s\n", res.ResearchCluster)
	}
}
