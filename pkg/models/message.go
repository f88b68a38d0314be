// Package models defines the shared value types exchanged between the
// agent runtime, the memory subsystem, and the transport layer.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCallStatus tracks the lifecycle of a tool invocation.
type ToolCallStatus string

const (
	ToolCallPending   ToolCallStatus = "pending"
	ToolCallRunning   ToolCallStatus = "running"
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallFailed    ToolCallStatus = "failed"
	ToolCallTimeout   ToolCallStatus = "timeout"
)

// ToolCall represents an LLM's request to execute a tool. Arguments are
// schema-free at this layer; the tool validates them on execution.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Status    ToolCallStatus `json:"status,omitempty"`
}

// ToolResult represents the output of a tool execution.
// Success implies Error is empty; on failure either Error is set or
// Output carries a diagnostic.
type ToolResult struct {
	ToolCallID string         `json:"tool_call_id"`
	ToolName   string         `json:"tool_name"`
	Success    bool           `json:"success"`
	Output     string         `json:"output"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Message is a single turn of one role within a conversation.
// ToolCalls is populated only on assistant messages; ToolCallID only on
// tool messages, where it references a prior assistant tool call.
type Message struct {
	ID         string         `json:"id"`
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	Timestamp  time.Time      `json:"timestamp"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewMessage creates a message with a fresh id and the current timestamp.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewToolMessage creates a tool-role message answering the given tool call.
func NewToolMessage(toolCallID, content string) Message {
	msg := NewMessage(RoleTool, content)
	msg.ToolCallID = toolCallID
	return msg
}

// HasToolCalls reports whether the message requests any tool executions.
func (m *Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// Conversation is an append-only ordered sequence of messages sharing an id.
// The conversation exclusively owns its messages; UpdatedAt is refreshed on
// every append.
type Conversation struct {
	ID        string         `json:"id"`
	Title     string         `json:"title,omitempty"`
	Messages  []Message      `json:"messages"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewConversation creates an empty conversation. If id is empty a fresh
// one is generated.
func NewConversation(id string) *Conversation {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	return &Conversation{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a message to the conversation and refreshes UpdatedAt.
func (c *Conversation) Append(msg Message) {
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = time.Now()
}

// ToolDefinition describes a tool to the model: a unique name, a human
// description, a JSON-schema-like parameter mapping, and the subset of
// parameter names that are required.
type ToolDefinition struct {
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	Parameters     map[string]any `json:"parameters"`
	RequiredParams []string       `json:"required_params,omitempty"`
}
