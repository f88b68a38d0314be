package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/quillagent/quill/pkg/models"
)

type fixedRetriever struct {
	entries []*models.MemoryEntry
	err     error
}

func (f *fixedRetriever) Retrieve(ctx context.Context, query string, topK int, memoryType models.MemoryType) ([]*models.MemoryEntry, error) {
	return f.entries, f.err
}

func userMsg(content string) models.Message {
	return models.NewMessage(models.RoleUser, content)
}

func assistantMsg(content string) models.Message {
	return models.NewMessage(models.RoleAssistant, content)
}

func TestAssembleOrdering(t *testing.T) {
	asm := NewPromptAssembler(NewIdentityProvider(""), nil, 100000, 4096, nil)

	history := []models.Message{userMsg("first"), assistantMsg("reply")}
	messages := asm.Assemble(context.Background(), "second", history, nil)

	if len(messages) != 4 {
		t.Fatalf("expected system + 2 history + user, got %d", len(messages))
	}
	if messages[0].Role != models.RoleSystem {
		t.Errorf("first message must be system, got %s", messages[0].Role)
	}
	last := messages[len(messages)-1]
	if last.Role != models.RoleUser || last.Content != "second" {
		t.Errorf("last message must be the current user text, got %+v", last)
	}
}

func TestAssembleFitsBudget(t *testing.T) {
	maxContext := 2000
	reserve := 500
	asm := NewPromptAssembler(NewIdentityProvider(""), nil, maxContext, reserve, nil)

	long := strings.Repeat("orchestration ", 400)
	var history []models.Message
	for i := 0; i < 20; i++ {
		history = append(history, userMsg(long), assistantMsg(long))
	}

	messages := asm.Assemble(context.Background(), "what next?", history, nil)
	if got := EstimateMessages(messages); got > maxContext-reserve {
		t.Errorf("assembled prompt estimates %d tokens, budget is %d", got, maxContext-reserve)
	}
	if messages[len(messages)-1].Content != "what next?" {
		t.Error("current user message must survive truncation")
	}
}

func TestSelectHistoryKeepsNewestTurns(t *testing.T) {
	asm := NewPromptAssembler(NewIdentityProvider(""), nil, 100000, 4096, nil)

	history := []models.Message{
		userMsg(strings.Repeat("old ", 100)),
		assistantMsg(strings.Repeat("old ", 100)),
		userMsg("recent question"),
		assistantMsg("recent answer"),
	}
	// Budget only fits the recent pair.
	kept := asm.selectHistory(history, 30)
	if len(kept) != 2 {
		t.Fatalf("expected the 2 newest messages, got %d", len(kept))
	}
	if kept[0].Content != "recent question" || kept[1].Content != "recent answer" {
		t.Errorf("kept wrong messages: %+v", kept)
	}
}

func TestSelectHistoryDropsPartialToolTurn(t *testing.T) {
	asm := NewPromptAssembler(NewIdentityProvider(""), nil, 100000, 4096, nil)

	assistant := models.NewMessage(models.RoleAssistant, "")
	assistant.ToolCalls = []models.ToolCall{{ID: "call_1", Name: "shell"}}
	toolMsg := models.NewToolMessage("call_1", strings.Repeat("output ", 200))

	history := []models.Message{
		userMsg("run it"),
		assistant,
		toolMsg,
		assistantMsg("done"),
	}

	// Budget fits the final assistant and the user message but not the
	// tool exchange; the assistant+tool pair must go together.
	budget := estimateMessage(history[3]) + estimateMessage(history[0]) + 5
	kept := asm.selectHistory(history, budget)
	for _, msg := range kept {
		if msg.Role == models.RoleTool || msg.HasToolCalls() {
			t.Errorf("partial tool turn leaked into kept history: %+v", msg)
		}
	}
}

func TestSelectHistoryKeepsWholeToolTurn(t *testing.T) {
	asm := NewPromptAssembler(NewIdentityProvider(""), nil, 100000, 4096, nil)

	assistant := models.NewMessage(models.RoleAssistant, "")
	assistant.ToolCalls = []models.ToolCall{{ID: "call_1", Name: "shell"}}
	history := []models.Message{
		userMsg("run it"),
		assistant,
		models.NewToolMessage("call_1", "ok"),
		assistantMsg("done"),
	}

	kept := asm.selectHistory(history, 100000)
	if len(kept) != 4 {
		t.Fatalf("ample budget should keep everything, got %d", len(kept))
	}
}

func TestSelectHistoryDropsOrphanToolMessages(t *testing.T) {
	asm := NewPromptAssembler(NewIdentityProvider(""), nil, 100000, 4096, nil)

	history := []models.Message{
		models.NewToolMessage("call_x", "stray output"),
		userMsg("hello"),
		assistantMsg("hi"),
	}
	kept := asm.selectHistory(history, 100000)
	for _, msg := range kept {
		if msg.Role == models.RoleTool {
			t.Errorf("orphan tool message should be dropped: %+v", msg)
		}
	}
	if len(kept) != 2 {
		t.Errorf("expected the user/assistant pair, got %d messages", len(kept))
	}
}

func TestSystemMessageSections(t *testing.T) {
	retriever := &fixedRetriever{entries: []*models.MemoryEntry{
		{Content: "user prefers dark mode"},
	}}
	asm := NewPromptAssembler(NewIdentityProvider(""), retriever, 100000, 4096, nil)

	tools := []models.ToolDefinition{{Name: "shell", Description: "Run a shell command"}}
	messages := asm.Assemble(context.Background(), "set up my editor", nil, tools)

	system := messages[0].Content
	if !strings.Contains(system, "Relevant Context from Memory") {
		t.Error("memory section missing")
	}
	if !strings.Contains(system, "user prefers dark mode") {
		t.Error("retrieved entry missing from system message")
	}
	if !strings.Contains(system, "Available Tools") || !strings.Contains(system, "shell: Run a shell command") {
		t.Error("tool summary missing from system message")
	}
}

func TestRetrievalErrorOmitsMemorySection(t *testing.T) {
	retriever := &fixedRetriever{err: context.DeadlineExceeded}
	asm := NewPromptAssembler(NewIdentityProvider(""), retriever, 100000, 4096, nil)

	messages := asm.Assemble(context.Background(), "hello", nil, nil)
	if strings.Contains(messages[0].Content, "Relevant Context from Memory") {
		t.Error("failed retrieval must not add a memory section")
	}
}
