package models

import (
	"time"

	"github.com/google/uuid"
)

// MemoryType categorizes memory entries.
type MemoryType string

const (
	// MemoryEpisodic records concrete events (conversation turns, actions).
	MemoryEpisodic MemoryType = "episodic"

	// MemorySemantic records general facts.
	MemorySemantic MemoryType = "semantic"

	// MemoryProcedural records how-to knowledge.
	MemoryProcedural MemoryType = "procedural"
)

// MemoryEntry is a durable fact or observation indexed for later retrieval.
// Importance is clamped to [0,1]; LastAccessed never precedes CreatedAt and
// AccessCount is monotonically non-decreasing.
type MemoryEntry struct {
	ID                   string         `json:"id"`
	Content              string         `json:"content"`
	MemoryType           MemoryType     `json:"memory_type"`
	Importance           float64        `json:"importance"`
	Embedding            []float32      `json:"embedding,omitempty"`
	Tags                 []string       `json:"tags,omitempty"`
	SourceConversationID string         `json:"source_conversation_id,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	LastAccessed         time.Time      `json:"last_accessed"`
	AccessCount          int64          `json:"access_count"`
	Metadata             map[string]any `json:"metadata,omitempty"`
}

// NewMemoryEntry creates an entry with a fresh id, clamped importance, and
// both timestamps set to now.
func NewMemoryEntry(content string, memoryType MemoryType, importance float64) *MemoryEntry {
	now := time.Now()
	return &MemoryEntry{
		ID:           uuid.NewString(),
		Content:      content,
		MemoryType:   memoryType,
		Importance:   ClampImportance(importance),
		CreatedAt:    now,
		LastAccessed: now,
	}
}

// Touch records an access: bumps AccessCount and refreshes LastAccessed.
func (e *MemoryEntry) Touch() {
	e.AccessCount++
	e.LastAccessed = time.Now()
}

// ClampImportance clamps v to the [0,1] range.
func ClampImportance(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
