package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/quillagent/quill/pkg/models"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIProvider implements Provider against any OpenAI-compatible
// chat-completions endpoint. The provider name is configurable so the
// same adapter serves compatible third-party APIs.
type OpenAIProvider struct {
	client       *openai.Client
	name         string
	defaultModel string
}

// OpenAIConfig configures an OpenAIProvider. APIKey is required;
// BaseURL overrides the default api.openai.com endpoint.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string

	// name overrides the provider identifier for compatible APIs.
	name string
}

// NewOpenAIProvider builds a provider against the OpenAI API.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	name := cfg.name
	if name == "" {
		name = "openai"
	}
	model := cfg.DefaultModel
	if model == "" {
		model = defaultOpenAIModel
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		name:         name,
		defaultModel: model,
	}, nil
}

func (p *OpenAIProvider) Name() string { return p.name }

// Chat performs a blocking chat completion.
func (p *OpenAIProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(req, false))
	if err != nil {
		return nil, classifyError(p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ResponseError{Provider: p.name, Message: "empty choices in completion response"}
	}

	choice := resp.Choices[0]
	out := &ChatResponse{
		Content:      choice.Message.Content,
		StopReason:   string(choice.FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		call, err := p.parseToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments)
		if err != nil {
			return nil, err
		}
		out.ToolCalls = append(out.ToolCalls, *call)
	}
	return out, nil
}

// Stream performs a streaming chat completion. Tool calls arrive as
// incremental fragments and are accumulated until the finish reason
// marks them complete.
func (p *OpenAIProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan *models.StreamChunk, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, p.buildRequest(req, true))
	if err != nil {
		return nil, classifyError(p.name, err)
	}

	chunks := make(chan *models.StreamChunk)
	go func() {
		defer close(chunks)
		defer stream.Close()

		pending := make(map[int]*partialToolCall)
		var inputTokens, outputTokens int

		flush := func() bool {
			for _, partial := range pending {
				if partial.id == "" || partial.name == "" {
					continue
				}
				call, err := p.parseToolCall(partial.id, partial.name, partial.args.String())
				if err != nil {
					chunks <- models.ErrorChunk(err)
					return false
				}
				chunks <- models.ToolStartChunk(call)
			}
			pending = make(map[int]*partialToolCall)
			return true
		}

		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					if !flush() {
						return
					}
					chunks <- models.DoneChunkWithUsage(inputTokens, outputTokens)
					return
				}
				chunks <- models.ErrorChunk(classifyError(p.name, err))
				return
			}
			if response.Usage != nil {
				inputTokens = response.Usage.PromptTokens
				outputTokens = response.Usage.CompletionTokens
			}
			if len(response.Choices) == 0 {
				continue
			}

			choice := response.Choices[0]
			if choice.Delta.Content != "" {
				chunks <- models.TextChunk(choice.Delta.Content)
			}

			for _, tc := range choice.Delta.ToolCalls {
				index := 0
				if tc.Index != nil {
					index = *tc.Index
				}
				partial := pending[index]
				if partial == nil {
					partial = &partialToolCall{}
					pending[index] = partial
				}
				if tc.ID != "" {
					partial.id = tc.ID
				}
				if tc.Function.Name != "" {
					partial.name = tc.Function.Name
				}
				partial.args.WriteString(tc.Function.Arguments)
			}

			if choice.FinishReason == openai.FinishReasonToolCalls {
				if !flush() {
					return
				}
			}
		}
	}()

	return chunks, nil
}

func (p *OpenAIProvider) CountTokens(messages []models.Message) int {
	return estimateMessageTokens(messages)
}

// HealthCheck lists models as an authenticated reachability probe.
func (p *OpenAIProvider) HealthCheck(ctx context.Context) error {
	if _, err := p.client.ListModels(ctx); err != nil {
		return classifyError(p.name, err)
	}
	return nil
}

type partialToolCall struct {
	id   string
	name string
	args strings.Builder
}

func (p *OpenAIProvider) parseToolCall(id, name, rawArgs string) (*models.ToolCall, error) {
	args := map[string]any{}
	if strings.TrimSpace(rawArgs) != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return nil, &ResponseError{
				Provider: p.name,
				Message:  fmt.Sprintf("malformed tool arguments for %s: %v", name, err),
				Err:      err,
			}
		}
	}
	return &models.ToolCall{
		ID:        id,
		Name:      name,
		Arguments: args,
		Status:    models.ToolCallPending,
	}, nil
}

func (p *OpenAIProvider) buildRequest(req *ChatRequest, stream bool) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	out := openai.ChatCompletionRequest{
		Model:    model,
		Messages: p.convertMessages(req.Messages, req.System),
		Stream:   stream,
	}
	if stream {
		// Ask for the trailing usage chunk so streamed turns report
		// token counts like blocking ones.
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		out.Temperature = float32(req.Temperature)
	}
	if len(req.Tools) > 0 {
		out.Tools = p.convertTools(req.Tools)
	}
	return out
}

// convertMessages maps neutral messages to the chat-completions shape.
// The system prompt is injected as the leading message and each tool
// result becomes its own tool-role message.
func (p *OpenAIProvider) convertMessages(messages []models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Content,
			})

		case models.RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})

		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				args := "{}"
				if tc.Arguments != nil {
					if raw, err := json.Marshal(tc.Arguments); err == nil {
						args = string(raw)
					}
				}
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
			result = append(result, oaiMsg)

		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		}
	}

	return result
}

func (p *OpenAIProvider) convertTools(tools []models.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		params := tool.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		}
	}
	return result
}
