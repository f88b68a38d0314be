package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/quillagent/quill/pkg/models"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicProvider implements Provider on top of the official
// Anthropic SDK. Safe for concurrent use: every call creates an
// independent request or stream.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

// AnthropicConfig configures an AnthropicProvider. APIKey is required.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// NewAnthropicProvider builds a provider against the Anthropic API.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultAnthropicModel
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// Chat performs a blocking completion against the Messages API.
func (p *AnthropicProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyError(p.Name(), err)
	}

	resp := &ChatResponse{
		StopReason:   string(message.StopReason),
		InputTokens:  int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
	}

	var text strings.Builder
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			toolUse := block.AsToolUse()
			args := map[string]any{}
			if len(toolUse.Input) > 0 {
				if err := json.Unmarshal(toolUse.Input, &args); err != nil {
					return nil, &ResponseError{
						Provider: p.Name(),
						Message:  fmt.Sprintf("malformed tool input for %s: %v", toolUse.Name, err),
						Err:      err,
					}
				}
			}
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				ID:        toolUse.ID,
				Name:      toolUse.Name,
				Arguments: args,
				Status:    models.ToolCallPending,
			})
		}
	}
	resp.Content = text.String()
	return resp, nil
}

// Stream performs a streaming completion. Text deltas are emitted as
// they arrive; a tool call is emitted once its input JSON is complete.
func (p *AnthropicProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan *models.StreamChunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	chunks := make(chan *models.StreamChunk)

	go func() {
		defer close(chunks)
		defer stream.Close()

		var currentTool *models.ToolCall
		var toolInput strings.Builder
		var inputTokens, outputTokens int

		for stream.Next() {
			event := stream.Current()

			switch event.Type {
			case "message_start":
				usage := event.AsMessageStart().Message.Usage
				if usage.InputTokens > 0 {
					inputTokens = int(usage.InputTokens)
				}

			case "message_delta":
				usage := event.AsMessageDelta().Usage
				if usage.OutputTokens > 0 {
					outputTokens = int(usage.OutputTokens)
				}

			case "content_block_start":
				block := event.AsContentBlockStart().ContentBlock
				if block.Type == "tool_use" {
					toolUse := block.AsToolUse()
					currentTool = &models.ToolCall{
						ID:     toolUse.ID,
						Name:   toolUse.Name,
						Status: models.ToolCallPending,
					}
					toolInput.Reset()
				}

			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				switch delta.Type {
				case "text_delta":
					if delta.Text != "" {
						chunks <- models.TextChunk(delta.Text)
					}
				case "input_json_delta":
					toolInput.WriteString(delta.PartialJSON)
				}

			case "content_block_stop":
				if currentTool != nil {
					args := map[string]any{}
					if toolInput.Len() > 0 {
						if err := json.Unmarshal([]byte(toolInput.String()), &args); err != nil {
							chunks <- models.ErrorChunk(&ResponseError{
								Provider: p.Name(),
								Message:  fmt.Sprintf("malformed tool input for %s: %v", currentTool.Name, err),
								Err:      err,
							})
							return
						}
					}
					currentTool.Arguments = args
					chunks <- models.ToolStartChunk(currentTool)
					currentTool = nil
				}

			case "message_stop":
				chunks <- models.DoneChunkWithUsage(inputTokens, outputTokens)
				return
			}
		}

		if err := stream.Err(); err != nil {
			chunks <- models.ErrorChunk(classifyError(p.Name(), err))
			return
		}
		chunks <- models.DoneChunkWithUsage(inputTokens, outputTokens)
	}()

	return chunks, nil
}

func (p *AnthropicProvider) CountTokens(messages []models.Message) int {
	return estimateMessageTokens(messages)
}

// HealthCheck lists models, the cheapest authenticated round trip the
// API offers.
func (p *AnthropicProvider) HealthCheck(ctx context.Context) error {
	_, err := p.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return classifyError(p.Name(), err)
	}
	return nil
}

func (p *AnthropicProvider) buildParams(req *ChatRequest) (anthropic.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := p.convertTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	return params, nil
}

// convertMessages maps neutral messages to Anthropic content blocks.
// System messages are skipped (carried in params.System) and tool
// results ride in user-role messages per the Messages API contract.
func (p *AnthropicProvider) convertMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion

		if msg.Role == models.RoleTool {
			content = append(content, anthropic.NewToolResultBlock(
				msg.ToolCallID,
				msg.Content,
				toolMessageIsError(msg),
			))
			result = append(result, anthropic.NewUserMessage(content...))
			continue
		}

		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tc := range msg.ToolCalls {
			input := tc.Arguments
			if input == nil {
				input = map[string]any{}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

func (p *AnthropicProvider) convertTools(tools []models.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))

	for _, tool := range tools {
		raw, err := json.Marshal(tool.Parameters)
		if err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		if len(tool.RequiredParams) > 0 && len(schema.Required) == 0 {
			schema.Required = tool.RequiredParams
		}

		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, param)
	}

	return result, nil
}

// toolMessageIsError reads the error marker a tool-result message
// carries in its metadata.
func toolMessageIsError(msg models.Message) bool {
	if msg.Metadata == nil {
		return false
	}
	isErr, _ := msg.Metadata["is_error"].(bool)
	return isErr
}
