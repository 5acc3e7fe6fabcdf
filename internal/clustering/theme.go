package clustering

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"narrativeos/internal/core"
	"narrativeos/internal/llm"
	"narrativeos/internal/logger"
)

const (
	// maxThemeSamples caps how many members are shown to the collaborator.
	maxThemeSamples          = 10
	fallbackThemeDescription = "Automated grouping based on keywords."
)

const themeInstruction = `You name market narratives. Given a group of related headlines,
return a short, specific theme name (max 6 words) and a one-sentence description.
Respond with JSON only: {"name": "...", "description": "..."}`

type themeResponse struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ThemeNamer asks the collaborator for a group's name and falls back to
// the group's most frequent keyword.
type ThemeNamer struct {
	collaborator llm.Collaborator
	log          *slog.Logger
}

// NewThemeNamer creates a namer.
func NewThemeNamer(collaborator llm.Collaborator) *ThemeNamer {
	return &ThemeNamer{collaborator: collaborator, log: logger.Get()}
}

// Name returns a name and description for members. It never fails.
func (t *ThemeNamer) Name(ctx context.Context, members []core.NarrativeUnit) (string, string) {
	var b strings.Builder
	for i, m := range members {
		if i == maxThemeSamples {
			break
		}
		top := m.Keywords
		if len(top) > 3 {
			top = top[:3]
		}
		fmt.Fprintf(&b, "- %s (Keywords: %s)\n", m.Title, strings.Join(top, ", "))
	}

	raw, err := t.collaborator.Complete(ctx, llm.Request{
		Purpose:           "theme",
		SystemInstruction: themeInstruction,
		UserPrompt:        b.String(),
		Temperature:       0.3,
		ResponseFormat:    llm.FormatJSON,
	})
	if err == nil {
		resp, decodeErr := llm.DecodeJSON[themeResponse](raw)
		if decodeErr == nil && strings.TrimSpace(resp.Name) != "" {
			return strings.TrimSpace(resp.Name), strings.TrimSpace(resp.Description)
		}
		err = decodeErr
	}

	name, description := FallbackTheme(members)
	t.log.Debug("Theme naming fell back to keywords", "name", name, "error", err)
	return name, description
}

// FallbackTheme names a group after its most frequent keyword, ties going to
// the keyword seen first.
func FallbackTheme(members []core.NarrativeUnit) (string, string) {
	counts := make(map[string]int)
	display := make(map[string]string)
	var order []string

	for _, m := range members {
		for _, k := range m.Keywords {
			key := strings.ToLower(strings.TrimSpace(k))
			if key == "" {
				continue
			}
			if _, ok := counts[key]; !ok {
				order = append(order, key)
				display[key] = strings.TrimSpace(k)
			}
			counts[key]++
		}
	}

	if len(order) == 0 {
		if len(members) > 0 && members[0].Title != "" {
			return members[0].Title, fallbackThemeDescription
		}
		return "Unnamed Narrative", fallbackThemeDescription
	}

	best := order[0]
	for _, key := range order[1:] {
		if counts[key] > counts[best] {
			best = key
		}
	}
	return display[best] + " Narrative", fallbackThemeDescription
}
