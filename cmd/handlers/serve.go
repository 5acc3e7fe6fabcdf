package handlers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"narrativeos/internal/config"
	"narrativeos/internal/logger"
	"narrativeos/internal/scheduler"
	"narrativeos/internal/server"
)

// Scheduler task names.
const (
	taskPipeline = "pipeline"
	taskIndex    = "index"
)

// NewServeCmd creates the serve command for starting the HTTP server
func NewServeCmd() *cobra.Command {
	var (
		port        int
		host        string
		noScheduler bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the periodic scheduler",
		Long: `Start the NarrativeOS API server.

The server provides:
  • Narrative list, detail, knowledge map and entity dossiers
  • Cached deep-dive reports, wargame debates and market briefings
  • Shock alerts and Prometheus metrics
  • Manual pipeline refresh and research triggers

Unless disabled, the scheduler runs the full pipeline and a standalone
indexing pass on their configured intervals. A manual refresh never
overlaps with a scheduled run.

Examples:
  # Start on the configured port
  narrativeos serve

  # Start on a custom port without periodic jobs
  narrativeos serve --port 8080 --no-scheduler`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port, host, noScheduler)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP server port (default from config: 3001)")
	cmd.Flags().StringVar(&host, "host", "", "HTTP server host (default from config: 0.0.0.0)")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "Disable periodic pipeline and index runs")

	return cmd
}

func runServe(ctx context.Context, port int, host string, noScheduler bool) error {
	log := logger.Get()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	serverCfg := cfg.Server
	if port != 0 {
		serverCfg.Port = port
	}
	if host != "" {
		serverCfg.Host = host
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("Failed to close resources", "error", err)
		}
	}()

	sched := scheduler.New()
	if err := registerTasks(sched, a); err != nil {
		return err
	}

	srv := server.New(server.Deps{
		DB:          a.db,
		Narratives:  a.narratives,
		Reports:     a.reports,
		Wargame:     a.wargame,
		Briefings:   a.briefer,
		Alerts:      a.detector,
		Researcher:  a.researcher,
		Tasks:       sched,
		RefreshTask: taskPipeline,
	}, serverCfg)

	if cfg.Scheduler.Enabled && !noScheduler {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	} else {
		log.Info("Scheduler disabled, pipeline runs only on refresh")
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info(fmt.Sprintf("Server listening on http://%s:%d", serverCfg.Host, serverCfg.Port))
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		sched.Stop()
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Info("Server shutdown initiated", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Server shutdown failed, forcing close", "error", err)
			sched.Stop()
			return fmt.Errorf("server shutdown failed: %w", err)
		}

		sched.Stop()
		srv.Wait()
		log.Info("Server stopped successfully")
	}

	return nil
}

// registerTasks adds the pipeline job and a standalone index-and-alert job.
func registerTasks(sched *scheduler.Scheduler, a *app) error {
	cfg := a.cfg.Scheduler

	if err := sched.Register(scheduler.Task{
		Name:       taskPipeline,
		Interval:   config.Duration(cfg.PipelineInterval, 0),
		RunOnStart: true,
		Run: func(ctx context.Context) error {
			res, err := a.orchestrator.Run(ctx)
			if err != nil {
				return err
			}
			if !res.OK() {
				return errors.New("pipeline run finished with failed stages")
			}
			return nil
		},
	}); err != nil {
		return err
	}

	return sched.Register(scheduler.Task{
		Name:     taskIndex,
		Interval: config.Duration(cfg.IndexInterval, 0),
		Run: func(ctx context.Context) error {
			snapshots, err := a.indexer.IndexAll(ctx)
			if err != nil {
				return err
			}
			ids := make([]string, 0, len(snapshots))
			for _, s := range snapshots {
				ids = append(ids, s.ClusterID)
			}
			return a.publisher.Publish(ctx, a.detector.ForClusters(ctx, ids))
		},
	})
}
