package llm

import (
	"context"
	"fmt"
	"strings"
)

// Conversation keeps the history of a multi-turn exchange with a
// collaborator. History is managed manually so any backend can serve it.
type Conversation struct {
	collaborator Collaborator
	system       string
	history      []Message
	temperature  float64
	maxTokens    int
}

// NewConversation starts an empty conversation.
func NewConversation(c Collaborator, systemInstruction string, temperature float64, maxTokens int) *Conversation {
	return &Conversation{
		collaborator: c,
		system:       systemInstruction,
		temperature:  temperature,
		maxTokens:    maxTokens,
	}
}

// Send submits message with the full history and records the reply.
func (c *Conversation) Send(ctx context.Context, purpose, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("message cannot be empty")
	}

	reply, err := c.collaborator.Complete(ctx, Request{
		Purpose:           purpose,
		SystemInstruction: c.system,
		History:           c.history,
		UserPrompt:        message,
		Temperature:       c.temperature,
		ResponseFormat:    FormatText,
		MaxTokens:         c.maxTokens,
	})
	if err != nil {
		return "", err
	}

	reply = strings.TrimSpace(reply)
	c.history = append(c.history,
		Message{Role: RoleUser, Content: message},
		Message{Role: RoleAssistant, Content: reply},
	)
	return reply, nil
}

// History returns a copy of the recorded turns.
func (c *Conversation) History() []Message {
	out := make([]Message, len(c.history))
	copy(out, c.history)
	return out
}
