// Package providers implements LLM clients that normalize vendor streaming
// formats into a single chunk stream the agent loop can consume.
package providers

import (
	"context"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client is the interface all LLM providers implement.
type Client interface {
	// Stream sends messages and emits normalized chunks as they arrive.
	// It returns the fully accumulated response after the stream ends.
	// If emit returns an error the stream is abandoned and that error
	// is returned.
	Stream(ctx context.Context, req Request, emit func(Chunk) error) (*Response, error)

	// Complete sends messages without streaming.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string

	// DefaultModel returns the provider's default model name.
	DefaultModel() string
}

// Request is the input for a Stream/Complete call.
type Request struct {
	System      string
	Messages    []Message
	Tools       []ToolDefinition
	Model       string
	MaxTokens   int
	Temperature float64
}

// Response is the accumulated result of one model turn.
type Response struct {
	Content    string
	Reasoning  string
	ToolCalls  []ToolCall
	StopReason string // "stop", "tool_calls", "length"
	Usage      *Usage
}

// ChunkKind discriminates the normalized stream chunk variants.
type ChunkKind int

const (
	// ChunkText carries a fragment of visible assistant text.
	ChunkText ChunkKind = iota
	// ChunkReasoning carries a fragment of model reasoning/thinking.
	ChunkReasoning
	// ChunkToolCallDelta carries an incremental piece of a tool call.
	// The first delta for an index carries ID and Name; later deltas
	// append to ArgsFragment.
	ChunkToolCallDelta
	// ChunkUsage carries a token-usage snapshot. May arrive more than
	// once; the last one wins.
	ChunkUsage
	// ChunkDone marks end of stream.
	ChunkDone
)

// Chunk is one normalized streaming event. Exactly the fields relevant
// to Kind are set.
type Chunk struct {
	Kind     ChunkKind
	Text     string
	ToolCall ToolCallDelta
	Usage    *Usage
}

// ToolCallDelta is an incremental piece of a streamed tool call,
// keyed by the provider-assigned block/choice index.
type ToolCallDelta struct {
	Index        int
	ID           string
	Name         string
	ArgsFragment string
}

// Message is one conversation message in the provider-neutral format.
type Message struct {
	Role       string // "system", "user", "assistant", "tool"
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string // for role "tool"
}

// ToolCall is a complete tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`

	// ArgsMalformed marks a call whose argument JSON did not parse. The
	// loop fails such a call with a tool_error instead of running the tool
	// on empty arguments.
	ArgsMalformed bool `json:"-"`
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Usage tracks token consumption for one model turn. Providers report
// prompt tokens under different names; they are normalized here.
type Usage struct {
	Model            string `json:"model,omitempty"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Normalize fills TotalTokens when the provider omitted it.
func (u *Usage) Normalize() {
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
}
