package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicClient implements Client on top of the official SDK. The SDK
// handles SSE framing; this client normalizes its event union into chunks.
type AnthropicClient struct {
	client       anthropic.Client
	defaultModel string
	retryConfig  RetryConfig
}

func NewAnthropicClient(apiKey, apiBase, defaultModel string) *AnthropicClient {
	if defaultModel == "" {
		defaultModel = defaultAnthropicModel
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if strings.TrimSpace(apiBase) != "" {
		opts = append(opts, option.WithBaseURL(apiBase))
	}
	return &AnthropicClient{
		client:       anthropic.NewClient(opts...),
		defaultModel: defaultModel,
		retryConfig:  DefaultRetryConfig(),
	}
}

func (c *AnthropicClient) Name() string         { return "anthropic" }
func (c *AnthropicClient) DefaultModel() string { return c.defaultModel }

func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}

	return RetryDo(ctx, c.retryConfig, func() (*Response, error) {
		msg, err := c.client.Messages.New(ctx, params)
		if err != nil {
			return nil, wrapAnthropicError(err)
		}

		result := &Response{StopReason: normalizeStopReason(string(msg.StopReason))}
		for _, block := range msg.Content {
			switch block.Type {
			case "text":
				result.Content += block.Text
			case "thinking":
				result.Reasoning += block.Thinking
			case "tool_use":
				toolUse := block.AsToolUse()
				id := toolUse.ID
				if id == "" {
					id = uuid.NewString()
				}
				args, malformed := parseToolArgs(string(toolUse.Input))
				result.ToolCalls = append(result.ToolCalls, ToolCall{
					ID:            id,
					Name:          toolUse.Name,
					Arguments:     args,
					ArgsMalformed: malformed,
				})
			}
		}
		if len(result.ToolCalls) > 0 {
			result.StopReason = "tool_calls"
		}
		result.Usage = &Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
		}
		result.Usage.Normalize()
		return result, nil
	})
}

func (c *AnthropicClient) Stream(ctx context.Context, req Request, emit func(Chunk) error) (*Response, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}

	// Retry only until the first chunk is delivered; after that the
	// stream is live and a failure is terminal.
	var lastErr error
	for attempt := 0; attempt <= c.retryConfig.MaxRetries; attempt++ {
		resp, emitted, err := c.streamOnce(ctx, params, emit)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if emitted || !isRetryable(err) || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("anthropic: max retries exceeded: %w", lastErr)
}

func (c *AnthropicClient) streamOnce(ctx context.Context, params anthropic.MessageNewParams, emit func(Chunk) error) (*Response, bool, error) {
	stream := c.client.Messages.NewStreaming(ctx, params)

	result := &Response{StopReason: "stop"}
	usage := &Usage{}
	emitted := false

	// Tool calls arrive as content_block_start (id+name) followed by
	// input_json_delta fragments, keyed by block index.
	accumulators := make(map[int]*toolCallAccumulator)
	toolOrder := []int{}

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			if messageStart.Message.Usage.InputTokens > 0 {
				usage.PromptTokens = int(messageStart.Message.Usage.InputTokens)
			}

		case "content_block_start":
			blockStart := event.AsContentBlockStart()
			if blockStart.ContentBlock.Type == "tool_use" {
				toolUse := blockStart.ContentBlock.AsToolUse()
				index := int(blockStart.Index)
				accumulators[index] = &toolCallAccumulator{
					call: ToolCall{ID: toolUse.ID, Name: toolUse.Name},
				}
				toolOrder = append(toolOrder, index)

				emitted = true
				err := emit(Chunk{Kind: ChunkToolCallDelta, ToolCall: ToolCallDelta{
					Index: index,
					ID:    toolUse.ID,
					Name:  toolUse.Name,
				}})
				if err != nil {
					return nil, emitted, err
				}
			}

		case "content_block_delta":
			blockDelta := event.AsContentBlockDelta()
			delta := blockDelta.Delta

			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					result.Content += delta.Text
					emitted = true
					if err := emit(Chunk{Kind: ChunkText, Text: delta.Text}); err != nil {
						return nil, emitted, err
					}
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					result.Reasoning += delta.Thinking
					emitted = true
					if err := emit(Chunk{Kind: ChunkReasoning, Text: delta.Thinking}); err != nil {
						return nil, emitted, err
					}
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					index := int(blockDelta.Index)
					if acc, ok := accumulators[index]; ok {
						acc.rawArgs += delta.PartialJSON
					}
					emitted = true
					err := emit(Chunk{Kind: ChunkToolCallDelta, ToolCall: ToolCallDelta{
						Index:        index,
						ArgsFragment: delta.PartialJSON,
					}})
					if err != nil {
						return nil, emitted, err
					}
				}
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				usage.CompletionTokens = int(messageDelta.Usage.OutputTokens)
			}
			if messageDelta.Delta.StopReason != "" {
				result.StopReason = normalizeStopReason(string(messageDelta.Delta.StopReason))
			}

		case "message_stop":
			usage.Normalize()
			result.Usage = usage
			emitted = true
			if err := emit(Chunk{Kind: ChunkUsage, Usage: usage}); err != nil {
				return nil, emitted, err
			}

			for _, index := range toolOrder {
				acc := accumulators[index]
				acc.call.Arguments, acc.call.ArgsMalformed = parseToolArgs(acc.rawArgs)
				if acc.call.ID == "" {
					acc.call.ID = uuid.NewString()
				}
				result.ToolCalls = append(result.ToolCalls, acc.call)
			}
			if len(result.ToolCalls) > 0 {
				result.StopReason = "tool_calls"
			}

			if err := emit(Chunk{Kind: ChunkDone}); err != nil {
				return nil, emitted, err
			}
			return result, emitted, nil
		}
	}

	if err := stream.Err(); err != nil {
		return nil, emitted, wrapAnthropicError(err)
	}
	return nil, emitted, fmt.Errorf("anthropic: stream ended without message_stop")
}

func (c *AnthropicClient) buildParams(req Request) (anthropic.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	return params, nil
}

// convertAnthropicMessages maps the neutral message list to Anthropic
// content blocks. Tool results become tool_result blocks on user
// messages; system messages are handled via params.System instead.
func convertAnthropicMessages(messages []Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, m := range messages {
		if m.Role == "system" {
			continue
		}

		var content []anthropic.ContentBlockParamUnion

		if m.Role == "tool" {
			content = append(content, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
		} else if m.Content != "" {
			content = append(content, anthropic.NewTextBlock(m.Content))
		}

		for _, tc := range m.ToolCalls {
			input := tc.Arguments
			if input == nil {
				input = map[string]any{}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}

		if len(content) == 0 {
			continue
		}

		if m.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

func convertAnthropicTools(tools []ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam

	for _, t := range tools {
		raw, err := json.Marshal(t.Parameters)
		if err != nil {
			return nil, fmt.Errorf("marshal tool schema for %s: %w", t.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s", t.Name)
		}
		toolParam.OfTool.Description = anthropic.String(t.Description)
		result = append(result, toolParam)
	}

	return result, nil
}

func normalizeStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence", "":
		return "stop"
	case "tool_use":
		return "tool_calls"
	case "max_tokens":
		return "length"
	}
	return reason
}

// wrapAnthropicError maps SDK API errors to HTTPError so the shared
// retry classification applies.
func wrapAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		retryAfter := ""
		if apiErr.Response != nil {
			retryAfter = apiErr.Response.Header.Get("Retry-After")
		}
		return &HTTPError{
			Status:     apiErr.StatusCode,
			Body:       fmt.Sprintf("anthropic: %s", apiErr.RawJSON()),
			RetryAfter: ParseRetryAfter(retryAfter),
		}
	}
	return err
}
