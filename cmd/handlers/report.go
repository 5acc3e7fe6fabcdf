package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"narrativeos/internal/config"
	"narrativeos/internal/persistence"
)

// NewReportCmd creates the report command
func NewReportCmd() *cobra.Command {
	var research bool

	cmd := &cobra.Command{
		Use:   "report <cluster-id>",
		Short: "Print the deep-dive report for a narrative",
		Long: `Print the intelligence report for a cluster.

A report younger than the cache TTL is returned as is. Otherwise a new one
is generated from the cluster's most recent members and cached. With
--research, a four-turn research conversation replaces the cached report
first.

Examples:
  narrativeos report 3f0c...
  narrativeos report 3f0c... --research`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd.Context(), args[0], research)
		},
	}

	cmd.Flags().BoolVar(&research, "research", false, "Run deep research before printing")

	return cmd
}

func runReport(ctx context.Context, clusterID string, research bool) error {

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if research {
		if _, err := a.researcher.Conduct(ctx, clusterID); err != nil {
			return fmt.Errorf("research failed: %w", err)
		}
	}

	rep, err := a.reports.Get(ctx, clusterID)
	if errors.Is(err, persistence.ErrNotFound) {
		return fmt.Errorf("narrative %s not found", clusterID)
	}
	if err != nil {
		return fmt.Errorf("failed to load report: %w", err)
	}

	source := "generated"
	if rep.Cached {
		source = "cached"
	}
	fmt.Printf("Report for %s (%s %s)\n\n", rep.ClusterID, source, rep.GeneratedAt.Format("2006-01-02 15:04"))
	fmt.Println(rep.Content)
	return nil
}
