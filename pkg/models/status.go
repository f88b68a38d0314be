package models

import "time"

// AgentState indicates what the agent is currently doing.
type AgentState string

const (
	StateIdle AgentState = "idle"
	StateBusy AgentState = "busy"
)

// ActivityEntry is one line of the monitor's bounded activity log.
type ActivityEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail,omitempty"`
}

// AgentStatus is a point-in-time monitoring snapshot.
type AgentStatus struct {
	State             AgentState      `json:"state"`
	CurrentTask       string          `json:"current_task,omitempty"`
	StartedAt         time.Time       `json:"started_at"`
	Uptime            time.Duration   `json:"uptime"`
	ConversationCount int64           `json:"conversation_count"`
	MessageCount      int64           `json:"message_count"`
	ToolCallCount     int64           `json:"tool_call_count"`
	InputTokens       int64           `json:"input_tokens"`
	OutputTokens      int64           `json:"output_tokens"`
	Activity          []ActivityEntry `json:"activity,omitempty"`
}
