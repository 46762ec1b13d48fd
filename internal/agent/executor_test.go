package agent

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agentsmithy/agentsmithy/internal/journal"
	"github.com/agentsmithy/agentsmithy/internal/providers"
	"github.com/agentsmithy/agentsmithy/internal/toolresults"
	"github.com/agentsmithy/agentsmithy/internal/tools"
	"github.com/agentsmithy/agentsmithy/pkg/protocol"
)

// scriptedClient returns pre-baked responses in order, emitting their text
// as single chunks when streaming.
type scriptedClient struct {
	responses []*providers.Response
	err       error
	calls     int
}

func (c *scriptedClient) next() (*providers.Response, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.calls >= len(c.responses) {
		return nil, errors.New("script exhausted")
	}
	r := c.responses[c.calls]
	c.calls++
	return r, nil
}

func (c *scriptedClient) Stream(ctx context.Context, req providers.Request, emit func(providers.Chunk) error) (*providers.Response, error) {
	r, err := c.next()
	if err != nil {
		return nil, err
	}
	if r.Reasoning != "" {
		if err := emit(providers.Chunk{Kind: providers.ChunkReasoning, Text: r.Reasoning}); err != nil {
			return nil, err
		}
	}
	if r.Content != "" {
		if err := emit(providers.Chunk{Kind: providers.ChunkText, Text: r.Content}); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (c *scriptedClient) Complete(ctx context.Context, req providers.Request) (*providers.Response, error) {
	return c.next()
}

func (c *scriptedClient) Name() string         { return "scripted" }
func (c *scriptedClient) DefaultModel() string { return "test-model" }

// stubTool runs a fixed function.
type stubTool struct {
	name      string
	ephemeral bool
	run       func(args map[string]any) (map[string]any, error)
}

func (t *stubTool) Name() string        { return t.name }
func (t *stubTool) Description() string { return "stub" }
func (t *stubTool) Ephemeral() bool     { return t.ephemeral }
func (t *stubTool) Schema() map[string]any {
	return map[string]any{"type": "object", "additionalProperties": true}
}
func (t *stubTool) Run(ctx context.Context, tc *tools.ToolContext, args map[string]any) (map[string]any, error) {
	return t.run(args)
}

type testHarness struct {
	exec    *Executor
	db      *journal.DB
	toolCtx *tools.ToolContext
	events  []protocol.Event
}

func newHarness(t *testing.T, client providers.Client, maxErrors int, tl ...tools.Tool) *testHarness {
	t.Helper()
	db, err := journal.Open(filepath.Join(t.TempDir(), "journal.sqlite"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	registry := tools.NewRegistry()
	for _, tool := range tl {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("register %s: %v", tool.Name(), err)
		}
	}

	h := &testHarness{
		db: db,
		toolCtx: &tools.ToolContext{
			DialogID: "d1",
			Results:  toolresults.NewStore(db, "d1"),
		},
	}
	h.exec = NewExecutor(ExecutorConfig{
		Client:               client,
		Registry:             registry,
		DB:                   db,
		MaxConsecutiveErrors: maxErrors,
	})
	return h
}

func (h *testHarness) run(ctx context.Context) Outcome {
	return h.exec.Run(ctx, RunParams{
		DialogID: "d1",
		System:   "you are a test",
		Conversation: []providers.Message{
			{Role: "user", Content: "go"},
		},
		Model:   "test-model",
		ToolCtx: h.toolCtx,
		Emit: func(ev protocol.Event) error {
			h.events = append(h.events, ev)
			return nil
		},
	})
}

func (h *testHarness) eventTypes() []protocol.EventType {
	out := make([]protocol.EventType, len(h.events))
	for i, e := range h.events {
		out[i] = e.Type
	}
	return out
}

func TestRunCompletesOnPlainText(t *testing.T) {
	client := &scriptedClient{responses: []*providers.Response{
		{Content: "hello there", StopReason: "stop", Usage: &providers.Usage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12}},
	}}
	h := newHarness(t, client, 0)

	out := h.run(context.Background())
	if out.Kind != OutcomeCompleted {
		t.Fatalf("kind = %v, err = %v", out.Kind, out.Err)
	}
	if out.Content != "hello there" {
		t.Fatalf("content = %q", out.Content)
	}
	if out.AssistantPersisted {
		t.Fatal("terminal text answer is persisted by the caller, not the loop")
	}

	// chat_start, chat, chat_end; never error or done.
	want := []protocol.EventType{protocol.EventChatStart, protocol.EventChat, protocol.EventChatEnd}
	got := h.eventTypes()
	if len(got) != len(want) {
		t.Fatalf("events = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}

	u, err := h.db.UsageTotals(context.Background(), "d1")
	if err != nil || u.TotalTokens != 12 {
		t.Fatalf("usage = %+v, %v", u, err)
	}
}

func TestRunExecutesToolsThenCompletes(t *testing.T) {
	client := &scriptedClient{responses: []*providers.Response{
		{ToolCalls: []providers.ToolCall{{ID: "c1", Name: "echo", Arguments: map[string]any{"v": "x"}}}, StopReason: "tool_calls"},
		{Content: "done", StopReason: "stop"},
	}}
	echo := &stubTool{name: "echo", run: func(args map[string]any) (map[string]any, error) {
		return map[string]any{"type": "echo_result", "v": args["v"]}, nil
	}}
	h := newHarness(t, client, 0, echo)

	out := h.run(context.Background())
	if out.Kind != OutcomeCompleted || out.Content != "done" {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Iterations != 2 {
		t.Fatalf("iterations = %d, want 2", out.Iterations)
	}
	if !out.AssistantPersisted {
		t.Fatal("the tool-call carrier must be journaled by the loop")
	}

	var sawToolCall bool
	for _, ev := range h.events {
		if ev.Type == protocol.EventToolCall {
			sawToolCall = true
			if ev.ToolName != "echo" {
				t.Fatalf("tool_call name = %q", ev.ToolName)
			}
		}
	}
	if !sawToolCall {
		t.Fatal("no tool_call event emitted")
	}

	// The journal holds the carrier and the slim tool-result row.
	all, err := h.db.All(context.Background(), "d1")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("journal rows = %d, want carrier + tool result", len(all))
	}
	if all[0].Msg.Role != journal.RoleAssistant || len(all[0].Msg.ToolCalls) != 1 {
		t.Fatalf("row 0 = %+v", all[0].Msg)
	}
	if all[1].Msg.Role != journal.RoleTool || all[1].Msg.ToolCallID != "c1" {
		t.Fatalf("row 1 = %+v", all[1].Msg)
	}
	var slim toolresults.Envelope
	if err := json.Unmarshal(all[1].Msg.Envelope, &slim); err != nil {
		t.Fatalf("decode slim envelope: %v", err)
	}
	if slim.HasInlineResult || slim.ResultRef == nil {
		t.Fatalf("journaled envelope must be slim: %+v", slim)
	}
}

func TestRunErrorBudgetExhausted(t *testing.T) {
	// Three iterations of failing tool calls against a budget of 3.
	fail := func() *providers.Response {
		return &providers.Response{
			ToolCalls:  []providers.ToolCall{{ID: "c", Name: "boom", Arguments: map[string]any{}}},
			StopReason: "tool_calls",
		}
	}
	client := &scriptedClient{responses: []*providers.Response{fail(), fail(), fail()}}
	boom := &stubTool{name: "boom", run: func(map[string]any) (map[string]any, error) {
		return nil, errors.New("always broken")
	}}
	h := newHarness(t, client, 3, boom)

	out := h.run(context.Background())
	if out.Kind != OutcomeErrorBudgetExhausted {
		t.Fatalf("kind = %v, err = %v", out.Kind, out.Err)
	}

	// The loop reports through the outcome; it never emits error or done.
	for _, ev := range h.events {
		if ev.Type == protocol.EventError || ev.Type == protocol.EventDone {
			t.Fatalf("loop emitted %s", ev.Type)
		}
	}
}

// recordingClient captures each request so tests can inspect the
// conversation fed back into the model.
type recordingClient struct {
	*scriptedClient
	reqs []providers.Request
}

func (c *recordingClient) Stream(ctx context.Context, req providers.Request, emit func(providers.Chunk) error) (*providers.Response, error) {
	c.reqs = append(c.reqs, req)
	return c.scriptedClient.Stream(ctx, req, emit)
}

func TestRunMalformedArgsFailWithoutExecuting(t *testing.T) {
	// Two malformed calls against a budget of 2: the tool must never run
	// and the failures must drain the budget.
	bad := func() *providers.Response {
		return &providers.Response{
			ToolCalls:  []providers.ToolCall{{ID: "c", Name: "echo", Arguments: map[string]any{}, ArgsMalformed: true}},
			StopReason: "tool_calls",
		}
	}
	client := &recordingClient{scriptedClient: &scriptedClient{responses: []*providers.Response{bad(), bad()}}}
	ran := false
	echo := &stubTool{name: "echo", run: func(map[string]any) (map[string]any, error) {
		ran = true
		return map[string]any{"type": "echo_result"}, nil
	}}
	h := newHarness(t, client, 2, echo)

	out := h.run(context.Background())
	if out.Kind != OutcomeErrorBudgetExhausted {
		t.Fatalf("kind = %v, err = %v", out.Kind, out.Err)
	}
	if ran {
		t.Fatal("tool must not execute on unparseable arguments")
	}

	// The second request carries the first call's error envelope back to
	// the model as a tool message.
	if len(client.reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(client.reqs))
	}
	msgs := client.reqs[1].Messages
	last := msgs[len(msgs)-1]
	if last.Role != "tool" || !strings.Contains(last.Content, tools.CodeArgsValidation) {
		t.Fatalf("fed-back message = %+v, want args_validation tool error", last)
	}
}

func TestRunSuccessResetsErrorStreak(t *testing.T) {
	call := func(name string) *providers.Response {
		return &providers.Response{
			ToolCalls:  []providers.ToolCall{{ID: "c", Name: name, Arguments: map[string]any{}}},
			StopReason: "tool_calls",
		}
	}
	client := &scriptedClient{responses: []*providers.Response{
		call("boom"), call("ok"), call("boom"), {Content: "fine", StopReason: "stop"},
	}}
	boom := &stubTool{name: "boom", run: func(map[string]any) (map[string]any, error) {
		return nil, errors.New("broken")
	}}
	ok := &stubTool{name: "ok", run: func(map[string]any) (map[string]any, error) {
		return map[string]any{"type": "ok_result"}, nil
	}}
	h := newHarness(t, client, 2, boom, ok)

	out := h.run(context.Background())
	if out.Kind != OutcomeCompleted {
		t.Fatalf("a success between errors must reset the streak, got %v (%v)", out.Kind, out.Err)
	}
}

func TestRunStreamFailure(t *testing.T) {
	client := &scriptedClient{err: errors.New("upstream 500")}
	h := newHarness(t, client, 0)

	out := h.run(context.Background())
	if out.Kind != OutcomeStreamFailed {
		t.Fatalf("kind = %v", out.Kind)
	}
	if out.Err == nil {
		t.Fatal("stream failure must carry the error")
	}
	for _, ev := range h.events {
		if ev.Type == protocol.EventError || ev.Type == protocol.EventDone {
			t.Fatalf("loop emitted %s", ev.Type)
		}
	}
}

func TestRunCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := &scriptedClient{responses: []*providers.Response{{Content: "never"}}}
	h := newHarness(t, client, 0)

	out := h.run(ctx)
	if out.Kind != OutcomeCanceled {
		t.Fatalf("kind = %v", out.Kind)
	}
}

func TestEphemeralResultsStayOutOfHistory(t *testing.T) {
	client := &scriptedClient{responses: []*providers.Response{
		{ToolCalls: []providers.ToolCall{{ID: "c1", Name: "peek", Arguments: map[string]any{}}}, StopReason: "tool_calls"},
		{Content: "done", StopReason: "stop"},
	}}
	peek := &stubTool{name: "peek", ephemeral: true, run: func(map[string]any) (map[string]any, error) {
		return map[string]any{"type": "peek_result", "secret": "big payload"}, nil
	}}
	h := newHarness(t, client, 0, peek)

	out := h.run(context.Background())
	if out.Kind != OutcomeCompleted {
		t.Fatalf("outcome = %+v", out)
	}
	if out.AssistantPersisted {
		t.Fatal("a carrier holding only ephemeral calls must not be journaled")
	}

	all, err := h.db.All(context.Background(), "d1")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Fatalf("journal rows = %d, ephemeral turns must leave no trace", len(all))
	}
}

func TestRunReasoningBoundaries(t *testing.T) {
	client := &scriptedClient{responses: []*providers.Response{
		{Reasoning: "thinking...", Content: "answer", StopReason: "stop"},
	}}
	h := newHarness(t, client, 0)

	out := h.run(context.Background())
	if out.Kind != OutcomeCompleted {
		t.Fatalf("outcome = %+v", out)
	}
	// Boundaries close after the stream ends, so both end events trail.
	want := []protocol.EventType{
		protocol.EventReasoningStart, protocol.EventReasoning,
		protocol.EventChatStart, protocol.EventChat,
		protocol.EventReasoningEnd, protocol.EventChatEnd,
	}
	got := h.eventTypes()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}
