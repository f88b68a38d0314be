// Package agent implements the conversation loop: prompt assembly,
// model calls with tool interleaving, and episodic memory writeback.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/quillagent/quill/internal/llm"
	"github.com/quillagent/quill/internal/retry"
	"github.com/quillagent/quill/pkg/models"
)

// DefaultMaxToolIterations bounds model calls within one user turn.
const DefaultMaxToolIterations = 8

// LLM is the slice of the failover client the loop depends on.
type LLM interface {
	Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)
	Stream(ctx context.Context, req *llm.ChatRequest) (<-chan *models.StreamChunk, error)
	CountTokens(messages []models.Message) int
}

// Memory is the slice of the memory manager the loop depends on.
type Memory interface {
	MemoryRetriever
	Store(ctx context.Context, entry *models.MemoryEntry) error
}

// ToolExecutor is the slice of the tool registry the loop depends on.
type ToolExecutor interface {
	ListTools() []models.ToolDefinition
	Execute(ctx context.Context, name string, args map[string]any, timeout time.Duration) (*models.ToolResult, error)
}

// Config tunes an Agent.
type Config struct {
	Model             string
	MaxTokens         int
	Temperature       float64
	MaxToolIterations int
	ToolTimeout       time.Duration
}

// Agent drives conversations. Conversations live in memory for the
// process lifetime; turns on the same conversation id are serialized
// by a per-id lock so concurrent callers cannot interleave appends.
type Agent struct {
	llm       LLM
	memory    Memory
	registry  ToolExecutor
	assembler *PromptAssembler
	monitor   *Monitor
	logger    *slog.Logger
	cfg       Config

	mu            sync.Mutex
	conversations map[string]*models.Conversation
	locks         map[string]*conversationLock
}

type conversationLock struct {
	mu   sync.Mutex
	refs int
}

// New wires an agent.
func New(llmClient LLM, mem Memory, registry ToolExecutor, assembler *PromptAssembler, monitor *Monitor, cfg Config, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	if monitor == nil {
		monitor = NewMonitor()
	}
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = DefaultMaxToolIterations
	}
	return &Agent{
		llm:           llmClient,
		memory:        mem,
		registry:      registry,
		assembler:     assembler,
		monitor:       monitor,
		logger:        logger,
		cfg:           cfg,
		conversations: make(map[string]*models.Conversation),
		locks:         make(map[string]*conversationLock),
	}
}

// Monitor returns the agent's task monitor.
func (a *Agent) Monitor() *Monitor { return a.monitor }

// Conversation returns the conversation for id, or nil when unknown.
func (a *Agent) Conversation(id string) *models.Conversation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conversations[id]
}

// Chat runs one user turn to a terminal assistant message.
func (a *Agent) Chat(ctx context.Context, userText, conversationID string) (*models.Message, error) {
	conv, unlock := a.acquireConversation(conversationID)
	defer unlock()

	a.monitor.SetBusy("chat")
	defer a.monitor.SetIdle()
	a.monitor.RecordConversation(conv.ID)

	messages := a.assembler.Assemble(ctx, userText, conv.Messages, a.registry.ListTools())
	a.appendMessage(conv, models.NewMessage(models.RoleUser, userText))

	final, toolCalls, hadError, err := a.runToolLoop(ctx, conv, messages, nil)
	if err != nil {
		// A failed turn still answers: the loop translates the failure
		// into a one-sentence assistant message.
		failMsg := models.NewMessage(models.RoleAssistant,
			fmt.Sprintf("I couldn't complete that because %v.", err))
		a.appendMessage(conv, failMsg)
		a.logger.Error("chat turn failed", "conversation_id", conv.ID, "error", err)
		return &failMsg, nil
	}

	a.persistTurn(ctx, conv.ID, userText, final.Content, toolCalls, hadError)
	return final, nil
}

// StreamChat runs the same state machine as Chat but emits chunks:
// text deltas verbatim, tool_start/tool_end around each tool, and a
// terminal done (or error) chunk.
func (a *Agent) StreamChat(ctx context.Context, userText, conversationID string) (<-chan *models.StreamChunk, error) {
	out := make(chan *models.StreamChunk)

	go func() {
		defer close(out)

		conv, unlock := a.acquireConversation(conversationID)
		defer unlock()

		a.monitor.SetBusy("stream_chat")
		defer a.monitor.SetIdle()
		a.monitor.RecordConversation(conv.ID)

		messages := a.assembler.Assemble(ctx, userText, conv.Messages, a.registry.ListTools())
		a.appendMessage(conv, models.NewMessage(models.RoleUser, userText))

		final, toolCalls, hadError, err := a.runToolLoop(ctx, conv, messages, out)
		if err != nil {
			out <- models.ErrorChunk(err)
			return
		}

		a.persistTurn(ctx, conv.ID, userText, final.Content, toolCalls, hadError)
		out <- models.DoneChunk()
	}()

	return out, nil
}

// Status returns the monitor snapshot.
func (a *Agent) Status() models.AgentStatus {
	return a.monitor.Status()
}

// runToolLoop drives model calls and tool dispatch until the model
// answers without tool calls or the iteration bound is hit. When sink
// is non-nil the loop streams; otherwise it uses blocking chats.
// Returns the terminal assistant message, the total tool calls made,
// and whether any tool failed.
func (a *Agent) runToolLoop(ctx context.Context, conv *models.Conversation, messages []models.Message, sink chan<- *models.StreamChunk) (*models.Message, int, bool, error) {
	totalToolCalls := 0
	hadError := false

	for iteration := 0; iteration < a.cfg.MaxToolIterations; iteration++ {
		req := &llm.ChatRequest{
			Model:       a.cfg.Model,
			Messages:    messages,
			Tools:       a.registry.ListTools(),
			MaxTokens:   a.cfg.MaxTokens,
			Temperature: a.cfg.Temperature,
		}

		var assistant models.Message
		var err error
		if sink != nil {
			assistant, err = a.streamOnce(ctx, req, sink)
		} else {
			assistant, err = a.chatOnce(ctx, req)
		}
		if err != nil {
			return nil, totalToolCalls, hadError, err
		}

		a.appendMessage(conv, assistant)
		messages = append(messages, assistant)

		if !assistant.HasToolCalls() {
			return &conv.Messages[len(conv.Messages)-1], totalToolCalls, hadError, nil
		}

		for _, tc := range assistant.ToolCalls {
			totalToolCalls++
			a.monitor.RecordToolCall(tc.Name)
			if sink != nil {
				call := tc
				call.Status = models.ToolCallRunning
				sink <- models.ToolStartChunk(&call)
			}

			result := a.executeToolCall(ctx, tc)
			if !result.Success {
				hadError = true
			}
			if sink != nil {
				sink <- models.ToolEndChunk(result)
			}

			toolMsg := models.NewToolMessage(tc.ID, toolMessageContent(result))
			if !result.Success {
				toolMsg.Metadata = map[string]any{"is_error": true}
			}
			a.appendMessage(conv, toolMsg)
			messages = append(messages, toolMsg)
		}
	}

	// Iteration bound exhausted without a final answer.
	synthetic := models.NewMessage(models.RoleAssistant,
		fmt.Sprintf("I stopped after %d tool iterations without reaching a final answer. The partial results are recorded above.", a.cfg.MaxToolIterations))
	a.appendMessage(conv, synthetic)
	return &synthetic, totalToolCalls, hadError, nil
}

// chatOnce performs one blocking model call and converts the response
// into an assistant message carrying usage metadata.
func (a *Agent) chatOnce(ctx context.Context, req *llm.ChatRequest) (models.Message, error) {
	resp, err := a.llm.Chat(ctx, req)
	if err != nil {
		return models.Message{}, err
	}
	a.monitor.RecordTokens(resp.InputTokens, resp.OutputTokens)

	msg := models.NewMessage(models.RoleAssistant, resp.Content)
	msg.ToolCalls = resp.ToolCalls
	msg.Metadata = map[string]any{
		"input_tokens":  resp.InputTokens,
		"output_tokens": resp.OutputTokens,
		"stop_reason":   resp.StopReason,
	}
	return msg, nil
}

// streamOnce consumes one model stream, forwarding text chunks to the
// sink and accumulating the full assistant message.
func (a *Agent) streamOnce(ctx context.Context, req *llm.ChatRequest, sink chan<- *models.StreamChunk) (models.Message, error) {
	chunks, err := a.llm.Stream(ctx, req)
	if err != nil {
		return models.Message{}, err
	}

	var content []byte
	var toolCalls []models.ToolCall
	var usage *models.Usage
	for chunk := range chunks {
		switch chunk.Type {
		case models.ChunkText:
			content = append(content, chunk.Content...)
			sink <- chunk
		case models.ChunkToolStart:
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
			}
		case models.ChunkError:
			return models.Message{}, chunk.Err
		case models.ChunkDone:
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
		}
	}

	msg := models.NewMessage(models.RoleAssistant, string(content))
	msg.ToolCalls = toolCalls
	if usage != nil {
		a.monitor.RecordTokens(usage.InputTokens, usage.OutputTokens)
		msg.Metadata = map[string]any{
			"input_tokens":  usage.InputTokens,
			"output_tokens": usage.OutputTokens,
		}
	}
	return msg, nil
}

// executeToolCall dispatches one tool call; registry-level failures
// (not found, timeout, panics) become failed results so the model sees
// them and the loop continues.
func (a *Agent) executeToolCall(ctx context.Context, tc models.ToolCall) *models.ToolResult {
	result, err := a.registry.Execute(ctx, tc.Name, tc.Arguments, a.cfg.ToolTimeout)
	if err != nil {
		a.logger.Warn("tool call failed",
			"tool", tc.Name,
			"tool_call_id", tc.ID,
			"error", err,
		)
		return &models.ToolResult{
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			Success:    false,
			Error:      err.Error(),
		}
	}
	result.ToolCallID = tc.ID
	return result
}

// persistTurn writes an episodic memory summarizing the turn. Failures
// are logged, never propagated.
func (a *Agent) persistTurn(ctx context.Context, conversationID, userText, assistantText string, toolCalls int, hadError bool) {
	if a.memory == nil {
		return
	}

	entry := models.NewMemoryEntry(
		userText+"\n---\n"+assistantText,
		models.MemoryEpisodic,
		turnImportance(toolCalls, hadError),
	)
	entry.SourceConversationID = conversationID
	entry.Tags = []string{"conversation"}

	// SQLite writes can fail transiently under a concurrent sweep, so
	// retry briefly before giving up. A lost entry is not fatal.
	err := retry.Do(ctx, retry.Config{
		MaxRetries:   2,
		InitialDelay: 50 * time.Millisecond,
	}, func(ctx context.Context) error {
		return a.memory.Store(ctx, entry)
	})
	if err != nil {
		a.logger.Warn("failed to persist turn memory",
			"conversation_id", conversationID,
			"error", err,
		)
	}
}

// turnImportance scores a turn: a base of 0.3, rising with tool usage
// and on errors, clamped to [0,1].
func turnImportance(toolCalls int, hadError bool) float64 {
	score := 0.3 + 0.1*math.Log(1+float64(toolCalls))
	if hadError {
		score += 0.1
	}
	return models.ClampImportance(score)
}

func toolMessageContent(result *models.ToolResult) string {
	if result.Success {
		return result.Output
	}
	if result.Error != "" {
		return result.Error
	}
	return result.Output
}

// acquireConversation returns the conversation for id (creating and
// registering it when unknown) with its per-id lock held. The returned
// unlock releases the lock and drops it once no turn references it.
func (a *Agent) acquireConversation(id string) (*models.Conversation, func()) {
	a.mu.Lock()
	if id == "" || a.conversations[id] == nil {
		conv := models.NewConversation(id)
		a.conversations[conv.ID] = conv
		id = conv.ID
	}
	conv := a.conversations[id]

	lock := a.locks[id]
	if lock == nil {
		lock = &conversationLock{}
		a.locks[id] = lock
	}
	lock.refs++
	a.mu.Unlock()

	lock.mu.Lock()

	return conv, func() {
		lock.mu.Unlock()
		a.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(a.locks, id)
		}
		a.mu.Unlock()
	}
}

func (a *Agent) appendMessage(conv *models.Conversation, msg models.Message) {
	conv.Append(msg)
	a.monitor.RecordMessages(1)
}
