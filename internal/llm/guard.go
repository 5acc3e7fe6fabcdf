package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"narrativeos/internal/logger"
	"narrativeos/internal/metrics"
)

// DefaultTimeout bounds every collaborator call.
const DefaultTimeout = 30 * time.Second

// Guarded wraps a backend with a per-call timeout, error classification,
// logging and metrics. Calls are never retried.
type Guarded struct {
	inner    Collaborator
	provider string
	timeout  time.Duration
	log      *slog.Logger
}

// NewGuarded wraps inner. A non-positive timeout uses DefaultTimeout.
func NewGuarded(inner Collaborator, provider string, timeout time.Duration) *Guarded {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Guarded{
		inner:    inner,
		provider: provider,
		timeout:  timeout,
		log:      logger.Get(),
	}
}

// Complete forwards req to the backend. Failures come back as
// ErrMissingCredential or *CallError.
func (g *Guarded) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	text, err := g.inner.Complete(ctx, req)
	elapsed := time.Since(start).Seconds()

	switch {
	case errors.Is(err, ErrMissingCredential):
		metrics.RecordCollaboratorCall(g.provider, req.Purpose, "unavailable", elapsed)
		return "", err
	case err != nil:
		outcome := "error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			outcome = "timeout"
		}
		metrics.RecordCollaboratorCall(g.provider, req.Purpose, outcome, elapsed)
		g.log.Warn("Collaborator call failed", "provider", g.provider, "purpose", req.Purpose, "outcome", outcome, "error", err)
		return "", &CallError{Purpose: req.Purpose, Err: err}
	case strings.TrimSpace(text) == "":
		metrics.RecordCollaboratorCall(g.provider, req.Purpose, "error", elapsed)
		return "", &CallError{Purpose: req.Purpose, Err: errors.New("empty response")}
	}

	metrics.RecordCollaboratorCall(g.provider, req.Purpose, "ok", elapsed)
	g.log.Debug("Collaborator call completed", "provider", g.provider, "purpose", req.Purpose, "duration_s", elapsed)
	return text, nil
}
