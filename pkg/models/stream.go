package models

// ChunkType discriminates the variants of a StreamChunk.
type ChunkType string

const (
	ChunkText      ChunkType = "text"
	ChunkToolStart ChunkType = "tool_start"
	ChunkToolEnd   ChunkType = "tool_end"
	ChunkError     ChunkType = "error"
	ChunkDone      ChunkType = "done"
)

// Usage reports token consumption for one model call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// StreamChunk is a tagged variant delivered through streaming responses.
// Exactly one payload field is populated according to Type: Content for
// text and error chunks, ToolCall for tool_start, ToolResult for
// tool_end. Usage rides on the provider's done chunk when the stream
// reported it.
type StreamChunk struct {
	Type       ChunkType   `json:"type"`
	Content    string      `json:"content,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
	Usage      *Usage      `json:"usage,omitempty"`
	Err        error       `json:"-"`
}

// TextChunk builds a text chunk.
func TextChunk(content string) *StreamChunk {
	return &StreamChunk{Type: ChunkText, Content: content}
}

// ToolStartChunk builds a tool_start chunk announcing an invocation.
func ToolStartChunk(call *ToolCall) *StreamChunk {
	return &StreamChunk{Type: ChunkToolStart, ToolCall: call}
}

// ToolEndChunk builds a tool_end chunk carrying the invocation result.
func ToolEndChunk(result *ToolResult) *StreamChunk {
	return &StreamChunk{Type: ChunkToolEnd, ToolResult: result}
}

// ErrorChunk builds a terminal error chunk.
func ErrorChunk(err error) *StreamChunk {
	chunk := &StreamChunk{Type: ChunkError, Err: err}
	if err != nil {
		chunk.Content = err.Error()
	}
	return chunk
}

// DoneChunk builds the terminal done chunk.
func DoneChunk() *StreamChunk {
	return &StreamChunk{Type: ChunkDone}
}

// DoneChunkWithUsage builds the terminal done chunk carrying the
// stream's token usage.
func DoneChunkWithUsage(inputTokens, outputTokens int) *StreamChunk {
	return &StreamChunk{Type: ChunkDone, Usage: &Usage{InputTokens: inputTokens, OutputTokens: outputTokens}}
}
