package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"narrativeos/internal/config"
	"narrativeos/internal/core"
	"narrativeos/internal/logger"
	"narrativeos/internal/narratives"
	"narrativeos/internal/persistence"
	"narrativeos/internal/report"
	"narrativeos/internal/synthesis"
)

// DefaultRefreshTask is the scheduler task started by POST /api/system/refresh.
const DefaultRefreshTask = "pipeline"

// NarrativeQueries answers the read-only narrative endpoints
type NarrativeQueries interface {
	List(ctx context.Context) ([]narratives.Summary, error)
	Get(ctx context.Context, id string) (*narratives.Detail, error)
	Map(ctx context.Context) (narratives.Graph, error)
	Entity(ctx context.Context, name string) (narratives.Dossier, error)
}

// ReportSource returns cached or freshly generated reports
type ReportSource interface {
	Get(ctx context.Context, clusterID string) (report.Report, error)
}

// Simulator runs wargame debates
type Simulator interface {
	Simulate(ctx context.Context, clusterID string) (synthesis.Simulation, error)
}

// BriefingSource writes market briefings
type BriefingSource interface {
	Generate(ctx context.Context) synthesis.Briefing
}

// AlertSource lists current shock alerts
type AlertSource interface {
	ShockAlerts(ctx context.Context) []core.Alert
}

// Researcher runs deep research on a cluster
type Researcher interface {
	Conduct(ctx context.Context, clusterID string) (string, error)
}

// TaskTrigger starts scheduler tasks by name
type TaskTrigger interface {
	Trigger(ctx context.Context, name string) error
}

// Deps are the services behind the API. Researcher and Tasks are optional;
// their endpoints answer 503 when unset.
type Deps struct {
	DB          persistence.Database
	Narratives  NarrativeQueries
	Reports     ReportSource
	Wargame     Simulator
	Briefings   BriefingSource
	Alerts      AlertSource
	Researcher  Researcher
	Tasks       TaskTrigger
	RefreshTask string
}

// Server represents the HTTP server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	deps       Deps
	config     config.Server
	research   sync.WaitGroup
	log        *slog.Logger
}

// New creates a new HTTP server instance
func New(deps Deps, cfg config.Server) *Server {
	if deps.RefreshTask == "" {
		deps.RefreshTask = DefaultRefreshTask
	}

	s := &Server{
		router: chi.NewRouter(),
		deps:   deps,
		config: cfg,
		log:    logger.Get(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  config.Duration(cfg.ReadTimeout, 15*time.Second),
		WriteTimeout: config.Duration(cfg.WriteTimeout, 90*time.Second),
	}

	return s
}

// setupMiddleware configures middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	// Report and wargame calls wait on the reasoning collaborator
	s.router.Use(middleware.Timeout(60 * time.Second))

	if len(s.config.AllowedOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.config.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
}

// setupRoutes configures routes for the server
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/narratives", func(r chi.Router) {
			r.Get("/", s.handleListNarratives)
			r.Get("/map", s.handleNarrativeMap)
			r.Get("/{id}", s.handleGetNarrative)
			r.Get("/{id}/report", s.handleNarrativeReport)
			r.Get("/{id}/wargame", s.handleWargame)
		})

		r.Get("/alerts/shock", s.handleShockAlerts)
		r.Get("/briefing", s.handleBriefing)
		r.Get("/entities/{name}/analysis", s.handleEntityAnalysis)

		r.Post("/system/refresh", s.handleRefresh)
		r.Post("/research/trigger", s.handleTriggerResearch)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info("Starting HTTP server",
		"addr", s.httpServer.Addr,
		"read_timeout", s.httpServer.ReadTimeout.String(),
		"write_timeout", s.httpServer.WriteTimeout.String(),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed to start: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server gracefully...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.log.Info("HTTP server stopped")
	return nil
}

// Wait blocks until research started through the API has finished.
func (s *Server) Wait() {
	s.research.Wait()
}

// Router returns the chi router instance (useful for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}
