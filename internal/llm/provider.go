// Package llm provides chat-completion providers behind a common
// interface, with ordered failover across providers and typed error
// classification.
package llm

import (
	"context"

	"github.com/quillagent/quill/pkg/models"
)

// ChatRequest carries one completion request in provider-neutral form.
type ChatRequest struct {
	Model       string
	System      string
	Messages    []models.Message
	Tools       []models.ToolDefinition
	MaxTokens   int
	Temperature float64
}

// ChatResponse is the provider-neutral result of a non-streaming call.
type ChatResponse struct {
	Content      string
	ToolCalls    []models.ToolCall
	StopReason   string
	InputTokens  int
	OutputTokens int
}

// Provider is one LLM backend. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Name returns the stable lowercase provider identifier.
	Name() string

	// Chat performs a blocking completion.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Stream performs a streaming completion. The returned channel is
	// closed after a done or error chunk.
	Stream(ctx context.Context, req *ChatRequest) (<-chan *models.StreamChunk, error)

	// CountTokens estimates the token cost of the given messages.
	CountTokens(messages []models.Message) int

	// HealthCheck verifies the provider is reachable and credentialed.
	HealthCheck(ctx context.Context) error
}

// estimateTokens approximates token counts at four characters per
// token, which tracks English prose closely enough for budgeting.
func estimateTokens(text string) int {
	return len(text) / 4
}

// estimateMessageTokens sums the estimate over message content plus a
// small fixed overhead per message for role framing.
func estimateMessageTokens(messages []models.Message) int {
	total := 0
	for _, msg := range messages {
		total += estimateTokens(msg.Content) + 4
		for _, tc := range msg.ToolCalls {
			total += estimateTokens(tc.Name) + 16
		}
	}
	return total
}
