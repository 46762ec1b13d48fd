package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func sseBody(lines ...string) string {
	out := ""
	for _, l := range lines {
		out += "data: " + l + "\n\n"
	}
	return out + "data: [DONE]\n\n"
}

func newStreamServer(t *testing.T, body string) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	c := NewOpenAIClient("test", "key", srv.URL, "base-model")
	c.retryConfig.MaxRetries = 0
	return c
}

func TestOpenAIStreamAssemblesResponse(t *testing.T) {
	body := sseBody(
		`{"choices":[{"delta":{"reasoning_content":"thinking "}}]}`,
		`{"choices":[{"delta":{"reasoning_content":"aloud"}}]}`,
		`{"choices":[{"delta":{"content":"Hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`{"choices":[],"usage":{"prompt_tokens":10,"completion_tokens":4}}`,
	)
	c := newStreamServer(t, body)

	var chunks []Chunk
	resp, err := c.Stream(context.Background(), Request{Model: "base-model"}, func(ch Chunk) error {
		chunks = append(chunks, ch)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if resp.Content != "Hello" {
		t.Fatalf("content = %q", resp.Content)
	}
	if resp.Reasoning != "thinking aloud" {
		t.Fatalf("reasoning = %q", resp.Reasoning)
	}
	if resp.StopReason != "stop" {
		t.Fatalf("stop reason = %q", resp.StopReason)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 14 {
		t.Fatalf("usage = %+v (Normalize must fill total)", resp.Usage)
	}
	if len(chunks) == 0 || chunks[len(chunks)-1].Kind != ChunkDone {
		t.Fatalf("chunks must end with ChunkDone: %v", chunks)
	}
}

func TestOpenAIStreamAccumulatesToolCalls(t *testing.T) {
	body := sseBody(
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"read_file","arguments":"{\"pa"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"th\":\"a.go\"}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
	)
	c := newStreamServer(t, body)

	resp, err := c.Stream(context.Background(), Request{}, func(Chunk) error { return nil })
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "call_1" || tc.Name != "read_file" {
		t.Fatalf("tool call = %+v", tc)
	}
	if tc.Arguments["path"] != "a.go" {
		t.Fatalf("arguments = %v (fragments must be joined before parsing)", tc.Arguments)
	}
	if resp.StopReason != "tool_calls" {
		t.Fatalf("stop reason = %q", resp.StopReason)
	}
}

func TestOpenAIStreamMalformedToolArgs(t *testing.T) {
	body := sseBody(
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"read_file","arguments":"{\"path\": not json"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
	)
	c := newStreamServer(t, body)

	resp, err := c.Stream(context.Background(), Request{}, func(Chunk) error { return nil })
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	tc := resp.ToolCalls[0]
	if !tc.ArgsMalformed {
		t.Fatal("unparseable arguments must be flagged, not silently dropped")
	}
	if len(tc.Arguments) != 0 {
		t.Fatalf("arguments = %v, want empty", tc.Arguments)
	}
}

func TestOpenAIStreamToolCallIDLateOrMissing(t *testing.T) {
	t.Run("id on a later delta", func(t *testing.T) {
		body := sseBody(
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"name":"read_file","arguments":"{"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"late_id","function":{"arguments":"}"}}]}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		)
		c := newStreamServer(t, body)
		resp, err := c.Stream(context.Background(), Request{}, func(Chunk) error { return nil })
		if err != nil {
			t.Fatalf("Stream: %v", err)
		}
		if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "late_id" {
			t.Fatalf("tool calls = %+v", resp.ToolCalls)
		}
	})

	t.Run("id never sent", func(t *testing.T) {
		body := sseBody(
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"name":"read_file","arguments":"{}"}}]}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		)
		c := newStreamServer(t, body)
		resp, err := c.Stream(context.Background(), Request{}, func(Chunk) error { return nil })
		if err != nil {
			t.Fatalf("Stream: %v", err)
		}
		if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID == "" {
			t.Fatalf("tool calls = %+v, want generated id", resp.ToolCalls)
		}
	})
}

func TestOpenAICompleteParsesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("auth header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices":[{"message":{"content":"","tool_calls":[
				{"id":"c1","function":{"name":" web_search ","arguments":"{\"query\":\"go\"}"}}
			]},"finish_reason":"tool_calls"}],
			"usage":{"prompt_tokens":7,"completion_tokens":3,"total_tokens":10}
		}`))
	}))
	defer srv.Close()
	c := NewOpenAIClient("test", "key", srv.URL, "base-model")
	c.retryConfig.MaxRetries = 0

	resp, err := c.Complete(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "web_search" {
		t.Fatalf("tool calls = %+v (names must be trimmed)", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Arguments["query"] != "go" {
		t.Fatalf("arguments = %v", resp.ToolCalls[0].Arguments)
	}
	if resp.StopReason != "tool_calls" {
		t.Fatalf("stop reason = %q", resp.StopReason)
	}
}

func TestBuildRequestBody(t *testing.T) {
	c := NewOpenAIClient("test", "key", "http://x", "base-model")

	req := Request{
		System: "be helpful",
		Messages: []Message{
			{Role: "user", Content: "hi"},
			{Role: "assistant", ToolCalls: []ToolCall{{ID: "c1", Name: "read_file", Arguments: map[string]any{"path": "a.go"}}}},
			{Role: "tool", Content: `{"type":"read_file_result"}`, ToolCallID: "c1"},
		},
		Tools:     []ToolDefinition{{Name: "read_file", Parameters: map[string]any{"type": "object"}}},
		MaxTokens: 100,
	}
	body := c.buildRequestBody(req, true)

	msgs := body["messages"].([]map[string]any)
	if len(msgs) != 4 || msgs[0]["role"] != "system" || msgs[0]["content"] != "be helpful" {
		t.Fatalf("messages = %v", msgs)
	}

	// Empty assistant content is omitted when tool_calls are present.
	if _, ok := msgs[2]["content"]; ok {
		t.Fatalf("carrier message must omit content: %v", msgs[2])
	}
	calls := msgs[2]["tool_calls"].([]map[string]any)
	fn := calls[0]["function"].(map[string]any)
	if fn["name"] != "read_file" {
		t.Fatalf("function = %v", fn)
	}
	if args, ok := fn["arguments"].(string); !ok || args != `{"path":"a.go"}` {
		t.Fatalf("arguments must be a JSON string: %v", fn["arguments"])
	}

	if msgs[3]["tool_call_id"] != "c1" {
		t.Fatalf("tool message = %v", msgs[3])
	}

	if body["stream"] != true || body["tool_choice"] != "auto" {
		t.Fatalf("body = %v", body)
	}
	if _, ok := body["stream_options"]; !ok {
		t.Fatal("streaming requests must ask for usage")
	}
	if body["max_tokens"] != 100 {
		t.Fatalf("max_tokens = %v", body["max_tokens"])
	}
	if _, ok := body["temperature"]; ok {
		t.Fatal("zero temperature must be omitted")
	}
}

func TestResolveModel(t *testing.T) {
	plain := NewOpenAIClient("test", "k", "http://x", "default")
	if got := plain.resolveModel(""); got != "default" {
		t.Fatalf("empty model = %q", got)
	}
	if got := plain.resolveModel("gpt-x"); got != "gpt-x" {
		t.Fatalf("explicit model = %q", got)
	}

	or := NewOpenAIClient("openrouter", "k", "http://x", "anthropic/claude")
	if got := or.resolveModel("bare-model"); got != "anthropic/claude" {
		t.Fatalf("unprefixed openrouter model = %q, must fall back", got)
	}
	if got := or.resolveModel("openai/gpt-x"); got != "openai/gpt-x" {
		t.Fatalf("prefixed model = %q", got)
	}
}
