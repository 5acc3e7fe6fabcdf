package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"narrativeos/internal/alerts"
	"narrativeos/internal/config"
	"narrativeos/internal/persistence"
)

// NewAlertsCmd creates the alerts command
func NewAlertsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List current shock alerts",
		Long: `List shock alerts across all clusters.

A cluster alerts when its strength moved by more than 5 points between its
two most recent index snapshots. Moves above 15 points are High severity.

Examples:
  narrativeos alerts
  narrativeos alerts --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAlerts(cmd.Context(), asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print alerts as JSON")

	return cmd
}

func runAlerts(ctx context.Context, asJSON bool) error {

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	db, err := persistence.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	found, err := alerts.NewDetector(db).Scan(ctx)
	if err != nil {
		return fmt.Errorf("failed to scan alerts: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(found)
	}

	if len(found) == 0 {
		fmt.Println("No shock alerts")
		return nil
	}
	for _, a := range found {
		fmt.Printf("%-6s %+6.1f  %s  %s\n", a.Severity, a.Delta, a.Timestamp.Format("2006-01-02 15:04"), a.Message)
	}
	return nil
}
