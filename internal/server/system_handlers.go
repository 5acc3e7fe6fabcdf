package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"narrativeos/internal/persistence"
	"narrativeos/internal/scheduler"
)

// ResearchRequest is the body of POST /api/research/trigger
type ResearchRequest struct {
	ClusterID string `json:"clusterId"`
}

// handleRefresh handles POST /api/system/refresh
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tasks == nil {
		s.respondError(w, http.StatusServiceUnavailable, "Scheduler is not running")
		return
	}

	err := s.deps.Tasks.Trigger(r.Context(), s.deps.RefreshTask)
	switch {
	case errors.Is(err, scheduler.ErrTaskRunning):
		s.respondError(w, http.StatusConflict, "Pipeline is already running")
		return
	case err != nil:
		s.log.Error("Failed to trigger refresh", "task", s.deps.RefreshTask, "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to start pipeline")
		return
	}

	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"message": "Pipeline run started",
	})
}

// handleTriggerResearch handles POST /api/research/trigger. Research runs
// in the background and keeps going after the request returns.
func (s *Server) handleTriggerResearch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Researcher == nil {
		s.respondError(w, http.StatusServiceUnavailable, "Research is not configured")
		return
	}

	var req ResearchRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	id := strings.TrimSpace(req.ClusterID)
	if id == "" {
		s.respondError(w, http.StatusBadRequest, "clusterId is required")
		return
	}

	if _, err := s.deps.DB.Clusters().Get(r.Context(), id); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "Narrative not found")
			return
		}
		s.log.Error("Failed to load cluster for research", "cluster_id", id, "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to start research")
		return
	}

	ctx := context.WithoutCancel(r.Context())
	s.research.Add(1)
	go func() {
		defer s.research.Done()
		if _, err := s.deps.Researcher.Conduct(ctx, id); err != nil {
			s.log.Error("Research failed", "cluster_id", id, "error", err)
			return
		}
		s.log.Info("Research complete", "cluster_id", id)
	}()

	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"status":    "accepted",
		"message":   "Research started",
		"clusterId": id,
	})
}
