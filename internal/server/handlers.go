package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"narrativeos/internal/persistence"
)

// HealthResponse is the /health payload
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	if err := s.deps.DB.Ping(r.Context()); err != nil {
		s.log.Warn("Health check failed", "error", err)
		checks["database"] = "error"
		s.respondJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status: "unhealthy",
			Checks: checks,
		})
		return
	}

	checks["database"] = "ok"
	s.respondJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Checks: checks,
	})
}

// handleListNarratives handles GET /api/narratives
func (s *Server) handleListNarratives(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Narratives.List(r.Context())
	if err != nil {
		s.log.Error("Failed to list narratives", "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to load narratives")
		return
	}
	s.respondJSON(w, http.StatusOK, list)
}

// handleNarrativeMap handles GET /api/narratives/map
func (s *Server) handleNarrativeMap(w http.ResponseWriter, r *http.Request) {
	graph, err := s.deps.Narratives.Map(r.Context())
	if err != nil {
		s.log.Error("Failed to build narrative map", "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to build narrative map")
		return
	}
	s.respondJSON(w, http.StatusOK, graph)
}

// handleGetNarrative handles GET /api/narratives/{id}
func (s *Server) handleGetNarrative(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	detail, err := s.deps.Narratives.Get(r.Context(), id)
	if err != nil {
		s.respondLookupError(w, "narrative", id, err)
		return
	}
	s.respondJSON(w, http.StatusOK, detail)
}

// handleNarrativeReport handles GET /api/narratives/{id}/report. With
// ?format=html the markdown report is rendered to HTML.
func (s *Server) handleNarrativeReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rep, err := s.deps.Reports.Get(r.Context(), id)
	if err != nil {
		s.respondLookupError(w, "report", id, err)
		return
	}

	if r.URL.Query().Get("format") == "html" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(renderMarkdown(rep.Content)); err != nil {
			s.log.Error("Failed to write report HTML", "cluster_id", id, "error", err)
		}
		return
	}
	s.respondJSON(w, http.StatusOK, rep)
}

// handleWargame handles GET /api/narratives/{id}/wargame
func (s *Server) handleWargame(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sim, err := s.deps.Wargame.Simulate(r.Context(), id)
	if err != nil {
		s.respondLookupError(w, "wargame", id, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sim)
}

// handleShockAlerts handles GET /api/alerts/shock
func (s *Server) handleShockAlerts(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.deps.Alerts.ShockAlerts(r.Context()))
}

// handleBriefing handles GET /api/briefing
func (s *Server) handleBriefing(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.deps.Briefings.Generate(r.Context()))
}

// handleEntityAnalysis handles GET /api/entities/{name}/analysis
func (s *Server) handleEntityAnalysis(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	dossier, err := s.deps.Narratives.Entity(r.Context(), name)
	if err != nil {
		s.log.Error("Failed to analyze entity", "entity", name, "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to analyze entity")
		return
	}
	s.respondJSON(w, http.StatusOK, dossier)
}

// respondLookupError maps ErrNotFound to 404 and everything else to 500.
func (s *Server) respondLookupError(w http.ResponseWriter, what, id string, err error) {
	if errors.Is(err, persistence.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "Narrative not found")
		return
	}
	s.log.Error("Failed to load "+what, "cluster_id", id, "error", err)
	s.respondError(w, http.StatusInternalServerError, "Failed to load "+what)
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("Failed to encode JSON response", "error", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"status":  status,
			"message": message,
		},
	})
}
