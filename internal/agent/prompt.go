package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quillagent/quill/pkg/models"
)

const memoryTopK = 5

// MemoryRetriever is the slice of the memory capability the assembler
// needs.
type MemoryRetriever interface {
	Retrieve(ctx context.Context, query string, topK int, memoryType models.MemoryType) ([]*models.MemoryEntry, error)
}

// PromptAssembler builds the bounded message list handed to the model:
// one system message (identity, retrieved memories, tool summary), as
// much recent history as the token budget allows, and the current user
// message last.
type PromptAssembler struct {
	identity *IdentityProvider
	memory   MemoryRetriever
	logger   *slog.Logger

	maxContextTokens      int
	responseReserveTokens int
}

// NewPromptAssembler wires an assembler. memory may be nil, in which
// case the memory section is omitted.
func NewPromptAssembler(identity *IdentityProvider, memory MemoryRetriever, maxContextTokens, responseReserveTokens int, logger *slog.Logger) *PromptAssembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PromptAssembler{
		identity:              identity,
		memory:                memory,
		logger:                logger,
		maxContextTokens:      maxContextTokens,
		responseReserveTokens: responseReserveTokens,
	}
}

// Assemble builds the prompt for one user turn. The result always fits
// max_context_tokens minus the response reserve by construction.
func (a *PromptAssembler) Assemble(ctx context.Context, userText string, history []models.Message, tools []models.ToolDefinition) []models.Message {
	system := a.buildSystemMessage(ctx, userText, tools)
	userMsg := models.NewMessage(models.RoleUser, userText)

	budget := a.maxContextTokens - a.responseReserveTokens -
		estimateMessage(system) - estimateMessage(userMsg)

	kept := a.selectHistory(history, budget)

	messages := make([]models.Message, 0, len(kept)+2)
	messages = append(messages, system)
	messages = append(messages, kept...)
	messages = append(messages, userMsg)
	return messages
}

func (a *PromptAssembler) buildSystemMessage(ctx context.Context, userText string, tools []models.ToolDefinition) models.Message {
	var b strings.Builder
	b.WriteString(a.identity.SystemPrompt())

	if a.memory != nil {
		entries, err := a.memory.Retrieve(ctx, userText, memoryTopK, "")
		if err != nil {
			a.logger.Debug("memory retrieval skipped for prompt", "error", err)
		} else if len(entries) > 0 {
			b.WriteString("\n\n## Relevant Context from Memory\n")
			for _, entry := range entries {
				fmt.Fprintf(&b, "- %s\n", entry.Content)
			}
		}
	}

	if len(tools) > 0 {
		b.WriteString("\n\n## Available Tools\n")
		for _, tool := range tools {
			fmt.Fprintf(&b, "- %s: %s\n", tool.Name, tool.Description)
		}
	}

	return models.NewMessage(models.RoleSystem, b.String())
}

// selectHistory walks history newest to oldest, keeping whole turns
// that fit the budget, and emits them back in chronological order. An
// assistant message with tool calls is kept only together with all of
// its tool responses; orphans on either side are dropped.
func (a *PromptAssembler) selectHistory(history []models.Message, budget int) []models.Message {
	if budget <= 0 || len(history) == 0 {
		return nil
	}

	keep := make([]bool, len(history))
	remaining := budget

	i := len(history) - 1
	for i >= 0 {
		// Identify the turn group ending at index i.
		start := i
		if history[i].Role == models.RoleTool {
			// Collect contiguous tool messages plus their assistant.
			for start >= 0 && history[start].Role == models.RoleTool {
				start--
			}
			if start < 0 || !history[start].HasToolCalls() {
				// Orphan tool responses: skip them.
				i = start
				continue
			}
		} else if history[i].HasToolCalls() {
			// Assistant tool request without its responses is a partial
			// turn: never retained alone.
			i--
			continue
		}

		cost := 0
		for j := start; j <= i; j++ {
			cost += estimateMessage(history[j])
		}
		if cost > remaining {
			break
		}
		for j := start; j <= i; j++ {
			keep[j] = true
		}
		remaining -= cost
		i = start - 1
	}

	var kept []models.Message
	for idx, msg := range history {
		if keep[idx] {
			kept = append(kept, msg)
		}
	}
	return kept
}

// EstimateMessages returns the assembler's token estimate for a message
// list.
func EstimateMessages(messages []models.Message) int {
	total := 0
	for _, msg := range messages {
		total += estimateMessage(msg)
	}
	return total
}

// estimateMessage approximates tokens at four characters per token
// plus a small per-message overhead.
func estimateMessage(msg models.Message) int {
	total := len(msg.Content)/4 + 4
	for _, tc := range msg.ToolCalls {
		total += len(tc.Name)/4 + 16
	}
	return total
}
