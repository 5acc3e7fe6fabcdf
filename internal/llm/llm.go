// Package llm provides the reasoning collaborator abstraction: a prompt in,
// text out, with Gemini and OpenAI-compatible backends.
package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ResponseFormat tells the backend whether to constrain output to JSON.
type ResponseFormat string

const (
	FormatText ResponseFormat = "text"
	FormatJSON ResponseFormat = "json"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one prior turn of a multi-turn conversation.
type Message struct {
	Role    Role
	Content string
}

// Request is a single collaborator call.
type Request struct {
	Purpose           string // Short label used for logs and metrics, e.g. "curate"
	SystemInstruction string
	History           []Message // Prior turns, oldest first
	UserPrompt        string
	Temperature       float64
	ResponseFormat    ResponseFormat
	MaxTokens         int
}

// Collaborator is an external reasoning service.
type Collaborator interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ErrMissingCredential is returned when no API key is configured. Callers
// switch to their degraded behaviour.
var ErrMissingCredential = errors.New("reasoning collaborator credential is not configured")

// CallError wraps a transport, timeout or empty-response failure.
type CallError struct {
	Purpose string
	Err     error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("collaborator call %q failed: %v", e.Purpose, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// MalformedResponseError is returned when a response does not satisfy the
// expected schema.
type MalformedResponseError struct {
	Raw string
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed collaborator response: %v", e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// IsSoftFailure reports whether err is a collaborator failure that callers
// must absorb with a fallback rather than propagate.
func IsSoftFailure(err error) bool {
	if err == nil {
		return false
	}
	var callErr *CallError
	var malformed *MalformedResponseError
	return errors.Is(err, ErrMissingCredential) ||
		errors.As(err, &callErr) ||
		errors.As(err, &malformed)
}

// Unavailable is the collaborator used when no credential is configured.
type Unavailable struct{}

// Complete always fails with ErrMissingCredential.
func (Unavailable) Complete(context.Context, Request) (string, error) {
	return "", ErrMissingCredential
}

// CosineSimilarity calculates the cosine similarity between two embeddings.
// Mismatched lengths and zero vectors score 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
