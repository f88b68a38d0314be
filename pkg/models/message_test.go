package models

import (
	"testing"
	"time"
)

func TestNewMessage(t *testing.T) {
	msg := NewMessage(RoleUser, "hello")

	if msg.ID == "" {
		t.Error("expected non-empty ID")
	}
	if msg.Role != RoleUser {
		t.Errorf("expected role user, got %s", msg.Role)
	}
	if msg.Content != "hello" {
		t.Errorf("expected content 'hello', got %q", msg.Content)
	}
	if msg.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestNewToolMessage(t *testing.T) {
	msg := NewToolMessage("call-1", "output")

	if msg.Role != RoleTool {
		t.Errorf("expected role tool, got %s", msg.Role)
	}
	if msg.ToolCallID != "call-1" {
		t.Errorf("expected tool_call_id call-1, got %q", msg.ToolCallID)
	}
}

func TestConversationAppend(t *testing.T) {
	conv := NewConversation("")
	if conv.ID == "" {
		t.Fatal("expected generated conversation id")
	}

	before := conv.UpdatedAt
	time.Sleep(time.Millisecond)
	conv.Append(NewMessage(RoleUser, "hi"))

	if len(conv.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(conv.Messages))
	}
	if !conv.UpdatedAt.After(before) {
		t.Error("expected UpdatedAt to advance on append")
	}
}

func TestHasToolCalls(t *testing.T) {
	msg := NewMessage(RoleAssistant, "")
	if msg.HasToolCalls() {
		t.Error("expected no tool calls")
	}
	msg.ToolCalls = []ToolCall{{ID: "1", Name: "shell"}}
	if !msg.HasToolCalls() {
		t.Error("expected tool calls")
	}
}

func TestClampImportance(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.42, 0.42},
		{1, 1},
		{3.7, 1},
	}
	for _, tc := range cases {
		if got := ClampImportance(tc.in); got != tc.want {
			t.Errorf("ClampImportance(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestMemoryEntryTouch(t *testing.T) {
	entry := NewMemoryEntry("fact", MemorySemantic, 0.5)
	if entry.AccessCount != 0 {
		t.Fatalf("expected zero access count, got %d", entry.AccessCount)
	}

	entry.Touch()
	entry.Touch()

	if entry.AccessCount != 2 {
		t.Errorf("expected access count 2, got %d", entry.AccessCount)
	}
	if entry.LastAccessed.Before(entry.CreatedAt) {
		t.Error("LastAccessed must not precede CreatedAt")
	}
}

func TestNewMemoryEntryClampsImportance(t *testing.T) {
	entry := NewMemoryEntry("x", MemoryEpisodic, 2.5)
	if entry.Importance != 1 {
		t.Errorf("expected clamped importance 1, got %v", entry.Importance)
	}
}

func TestStreamChunkBuilders(t *testing.T) {
	if chunk := TextChunk("hi"); chunk.Type != ChunkText || chunk.Content != "hi" {
		t.Errorf("unexpected text chunk: %+v", chunk)
	}
	if chunk := DoneChunk(); chunk.Type != ChunkDone {
		t.Errorf("unexpected done chunk: %+v", chunk)
	}
	call := &ToolCall{ID: "1", Name: "shell"}
	if chunk := ToolStartChunk(call); chunk.Type != ChunkToolStart || chunk.ToolCall != call {
		t.Errorf("unexpected tool_start chunk: %+v", chunk)
	}
}
