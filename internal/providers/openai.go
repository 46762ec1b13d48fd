package providers

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// parseToolArgs decodes a tool call's argument JSON. Empty input is a valid
// no-argument call; anything else that fails to parse is flagged so the loop
// can fail the call instead of silently running it with empty arguments.
func parseToolArgs(raw string) (map[string]any, bool) {
	args := make(map[string]any)
	if strings.TrimSpace(raw) == "" {
		return args, false
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{}, true
	}
	return args, false
}

// OpenAIClient implements Client for OpenAI-compatible APIs
// (OpenAI, OpenRouter, DeepSeek, VLLM, etc.)
type OpenAIClient struct {
	name         string
	apiKey       string
	apiBase      string
	defaultModel string
	client       *http.Client
	retryConfig  RetryConfig
}

func NewOpenAIClient(name, apiKey, apiBase, defaultModel string) *OpenAIClient {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	apiBase = strings.TrimRight(apiBase, "/")

	return &OpenAIClient{
		name:         name,
		apiKey:       apiKey,
		apiBase:      apiBase,
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 120 * time.Second},
		retryConfig:  DefaultRetryConfig(),
	}
}

func (c *OpenAIClient) Name() string         { return c.name }
func (c *OpenAIClient) DefaultModel() string { return c.defaultModel }

// resolveModel returns the model ID to use for a request.
// OpenRouter model IDs require a provider prefix (e.g. "anthropic/...");
// an unprefixed model falls back to the client default.
func (c *OpenAIClient) resolveModel(model string) string {
	if model == "" {
		return c.defaultModel
	}
	if c.name == "openrouter" && !strings.Contains(model, "/") {
		return c.defaultModel
	}
	return model
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	body := c.buildRequestBody(req, false)

	return RetryDo(ctx, c.retryConfig, func() (*Response, error) {
		respBody, err := c.doRequest(ctx, body)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()

		var oaiResp openAIResponse
		if err := json.NewDecoder(respBody).Decode(&oaiResp); err != nil {
			return nil, fmt.Errorf("%s: decode response: %w", c.name, err)
		}
		return c.parseResponse(&oaiResp), nil
	})
}

func (c *OpenAIClient) Stream(ctx context.Context, req Request, emit func(Chunk) error) (*Response, error) {
	body := c.buildRequestBody(req, true)

	// Retry only the connection phase; once streaming starts, no retry.
	respBody, err := RetryDo(ctx, c.retryConfig, func() (io.ReadCloser, error) {
		return c.doRequest(ctx, body)
	})
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	result := &Response{StopReason: "stop"}
	accumulators := make(map[int]*toolCallAccumulator)

	scanner := bufio.NewScanner(respBody)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}

		if chunk.Usage != nil {
			u := &Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
			u.Normalize()
			result.Usage = u
			if err := emit(Chunk{Kind: ChunkUsage, Usage: u}); err != nil {
				return nil, err
			}
		}

		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.ReasoningContent != "" {
			result.Reasoning += delta.ReasoningContent
			if err := emit(Chunk{Kind: ChunkReasoning, Text: delta.ReasoningContent}); err != nil {
				return nil, err
			}
		}
		if delta.Content != "" {
			result.Content += delta.Content
			if err := emit(Chunk{Kind: ChunkText, Text: delta.Content}); err != nil {
				return nil, err
			}
		}

		for _, tc := range delta.ToolCalls {
			acc, ok := accumulators[tc.Index]
			if !ok {
				acc = &toolCallAccumulator{}
				accumulators[tc.Index] = acc
			}
			// Ids and names may arrive on any delta; fill when still empty.
			if tc.ID != "" && acc.call.ID == "" {
				acc.call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				acc.call.Name = strings.TrimSpace(tc.Function.Name)
			}
			acc.rawArgs += tc.Function.Arguments

			err := emit(Chunk{Kind: ChunkToolCallDelta, ToolCall: ToolCallDelta{
				Index:        tc.Index,
				ID:           tc.ID,
				Name:         strings.TrimSpace(tc.Function.Name),
				ArgsFragment: tc.Function.Arguments,
			}})
			if err != nil {
				return nil, err
			}
		}

		if chunk.Choices[0].FinishReason != "" {
			result.StopReason = chunk.Choices[0].FinishReason
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: read stream: %w", c.name, err)
	}

	// Parse accumulated tool call arguments in index order.
	for i := 0; i < len(accumulators); i++ {
		acc, ok := accumulators[i]
		if !ok {
			continue
		}
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
		return nil, err
	}
	return result, nil
}

type toolCallAccumulator struct {
	call    ToolCall
	rawArgs string
}

func (c *OpenAIClient) buildRequestBody(req Request, stream bool) map[string]any {
	model := c.resolveModel(req.Model)

	msgs := make([]map[string]any, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, map[string]any{"role": "system", "content": req.System})
	}
	for _, m := range req.Messages {
		msg := map[string]any{"role": m.Role}

		// Omit empty content on assistant messages carrying tool_calls;
		// some compatible backends reject it.
		if m.Content != "" || len(m.ToolCalls) == 0 {
			msg["content"] = m.Content
		}

		// Wire format: {id, type: "function", function: {name, arguments: "<json string>"}}
		if len(m.ToolCalls) > 0 {
			toolCalls := make([]map[string]any, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				argsJSON, _ := json.Marshal(tc.Arguments)
				toolCalls[i] = map[string]any{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]any{
						"name":      tc.Name,
						"arguments": string(argsJSON),
					},
				}
			}
			msg["tool_calls"] = toolCalls
		}
		if m.ToolCallID != "" {
			msg["tool_call_id"] = m.ToolCallID
		}
		msgs = append(msgs, msg)
	}

	body := map[string]any{
		"model":    model,
		"messages": msgs,
		"stream":   stream,
	}

	if len(req.Tools) > 0 {
		tools := make([]map[string]any, len(req.Tools))
		for i, t := range req.Tools {
			tools[i] = map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  t.Parameters,
				},
			}
		}
		body["tools"] = tools
		body["tool_choice"] = "auto"
	}

	if stream {
		body["stream_options"] = map[string]any{"include_usage": true}
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}

	return body
}

func (c *OpenAIClient) doRequest(ctx context.Context, body any) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", c.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", c.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", c.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("%s: %s", c.name, string(respBody)),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return resp.Body, nil
}

func (c *OpenAIClient) parseResponse(resp *openAIResponse) *Response {
	result := &Response{StopReason: "stop"}

	if len(resp.Choices) > 0 {
		msg := resp.Choices[0].Message
		result.Content = msg.Content
		result.Reasoning = msg.ReasoningContent
		if resp.Choices[0].FinishReason != "" {
			result.StopReason = resp.Choices[0].FinishReason
		}

		for _, tc := range msg.ToolCalls {
			id := tc.ID
			if id == "" {
				id = uuid.NewString()
			}
			args, malformed := parseToolArgs(tc.Function.Arguments)
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:            id,
				Name:          strings.TrimSpace(tc.Function.Name),
				Arguments:     args,
				ArgsMalformed: malformed,
			})
		}
		if len(result.ToolCalls) > 0 {
			result.StopReason = "tool_calls"
		}
	}

	if resp.Usage != nil {
		u := &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
		u.Normalize()
		result.Usage = u
	}
	return result
}
