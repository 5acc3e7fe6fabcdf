package llm

import (
	"context"

	"narrativeos/internal/config"
	"narrativeos/internal/logger"
)

// NewFromConfig builds the configured collaborator wrapped in a Guarded.
// Without credentials it returns a guarded Unavailable so callers degrade
// instead of failing startup.
func NewFromConfig(ctx context.Context, cfg config.AI) (Collaborator, error) {
	timeout := config.Duration(cfg.Timeout, DefaultTimeout)

	if !cfg.HasAICredentials() {
		logger.Warn("No reasoning collaborator credential configured, running in degraded mode", "provider", cfg.Provider)
		return NewGuarded(Unavailable{}, "none", timeout), nil
	}

	switch cfg.Provider {
	case "gemini":
		g, err := NewGeminiCollaborator(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
		if err != nil {
			return nil, err
		}
		return NewGuarded(g, "gemini", timeout), nil
	default:
		o, err := NewOpenAICollaborator(cfg.DeepSeek.APIKey, cfg.DeepSeek.BaseURL, cfg.DeepSeek.Model)
		if err != nil {
			return nil, err
		}
		return NewGuarded(o, "deepseek", timeout), nil
	}
}
