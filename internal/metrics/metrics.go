// Package metrics registers the prometheus collectors for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "narrativeos"

var (
	// pipelineRuns counts orchestrator runs.
	// Labels: status (completed, partial, rejected)
	pipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Total pipeline runs by status",
	}, []string{"status"})

	// stageDuration measures how long each pipeline stage takes.
	// Labels: stage, status (ok, failed)
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Pipeline stage duration in seconds",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"stage", "status"})

	// itemsProcessed counts per-item outcomes of the extract stage.
	// Labels: outcome (created, skipped_existing, extract_failed, persist_failed, embed_failed)
	itemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "items_total",
		Help:      "Items processed by outcome",
	}, []string{"outcome"})

	// collaboratorCalls counts reasoning collaborator calls.
	// Labels: provider, purpose, outcome (ok, error, timeout, unavailable)
	collaboratorCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "collaborator",
		Name:      "calls_total",
		Help:      "Reasoning collaborator calls by outcome",
	}, []string{"provider", "purpose", "outcome"})

	// collaboratorLatency measures collaborator round trips.
	// Labels: provider, purpose
	collaboratorLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "collaborator",
		Name:      "latency_seconds",
		Help:      "Reasoning collaborator latency in seconds",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
	}, []string{"provider", "purpose"})

	// sourceFetches counts feed fetches.
	// Labels: source, status (ok, error)
	sourceFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "source_fetches_total",
		Help:      "Feed fetches by source and status",
	}, []string{"source", "status"})

	// alertsRaised counts shock alerts.
	// Labels: severity
	alertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alerts",
		Name:      "raised_total",
		Help:      "Shock alerts raised by severity",
	}, []string{"severity"})

	// clustersCreated counts persisted clusters.
	// Labels: method (vector, keyword)
	clustersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "clustering",
		Name:      "clusters_created_total",
		Help:      "Clusters persisted by method",
	}, []string{"method"})
)

// RecordPipelineRun records a finished or rejected run.
func RecordPipelineRun(status string) {
	pipelineRuns.WithLabelValues(status).Inc()
}

// RecordStage records the duration of a pipeline stage.
func RecordStage(stage string, durationSec float64, ok bool) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	stageDuration.WithLabelValues(stage, status).Observe(durationSec)
}

// RecordItem records the outcome of processing one raw item.
func RecordItem(outcome string) {
	itemsProcessed.WithLabelValues(outcome).Inc()
}

// RecordCollaboratorCall records one collaborator round trip.
func RecordCollaboratorCall(provider, purpose, outcome string, durationSec float64) {
	collaboratorCalls.WithLabelValues(provider, purpose, outcome).Inc()
	collaboratorLatency.WithLabelValues(provider, purpose).Observe(durationSec)
}

// RecordSourceFetch records a feed fetch.
func RecordSourceFetch(source string, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	sourceFetches.WithLabelValues(source, status).Inc()
}

// RecordAlert records a raised shock alert.
func RecordAlert(severity string) {
	alertsRaised.WithLabelValues(severity).Inc()
}

// RecordClusters records persisted clusters.
func RecordClusters(method string, n int) {
	clustersCreated.WithLabelValues(method).Add(float64(n))
}
