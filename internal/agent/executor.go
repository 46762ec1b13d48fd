// Package agent drives the model loop: stream one model turn, execute the
// tool calls it declared, feed the results back, repeat until the model
// answers with plain text.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentsmithy/agentsmithy/internal/journal"
	"github.com/agentsmithy/agentsmithy/internal/providers"
	"github.com/agentsmithy/agentsmithy/internal/toolresults"
	"github.com/agentsmithy/agentsmithy/internal/tools"
	"github.com/agentsmithy/agentsmithy/pkg/protocol"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultMaxConsecutiveErrors caps the recoverable-error streak. Iterations
// themselves are unbounded.
const DefaultMaxConsecutiveErrors = 10

// Executor runs the agent loop for one dialog turn at a time.
type Executor struct {
	client               providers.Client
	registry             *tools.Registry
	db                   *journal.DB
	maxConsecutiveErrors int
	log                  *slog.Logger
	tracer               trace.Tracer
}

// ExecutorConfig configures a new Executor.
type ExecutorConfig struct {
	Client               providers.Client
	Registry             *tools.Registry
	DB                   *journal.DB
	MaxConsecutiveErrors int
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	maxErrors := cfg.MaxConsecutiveErrors
	if maxErrors <= 0 {
		maxErrors = DefaultMaxConsecutiveErrors
	}
	return &Executor{
		client:               cfg.Client,
		registry:             cfg.Registry,
		db:                   cfg.DB,
		maxConsecutiveErrors: maxErrors,
		log:                  slog.With("component", "agent"),
		tracer:               otel.Tracer("agentsmithy/agent"),
	}
}

// RunParams is the input for one turn of the loop.
type RunParams struct {
	DialogID     string
	System       string
	Conversation []providers.Message
	Model        string
	MaxTokens    int
	Temperature  float64

	// ToolCtx is the per-invocation context handed to every tool call in
	// this turn.
	ToolCtx *tools.ToolContext

	// Emit streams protocol events to the client. Nil runs the loop
	// without streaming (the non-streaming chat endpoint). A returned
	// error means the client is gone; the loop stops.
	Emit func(protocol.Event) error
}

// Run drives the loop to a tagged outcome. It never emits error or done
// events itself; the orchestrator derives those from the outcome.
func (e *Executor) Run(ctx context.Context, params RunParams) Outcome {
	emit := params.Emit
	if emit == nil {
		emit = func(protocol.Event) error { return nil }
	}

	conversation := params.Conversation
	toolDefs := e.toolDefinitions()

	var lastUsage *providers.Usage
	consecutiveErrors := 0
	assistantPersisted := false
	iteration := 0

	for {
		if ctx.Err() != nil {
			return Outcome{Kind: OutcomeCanceled, Err: ctx.Err(), Iterations: iteration, Usage: lastUsage, AssistantPersisted: assistantPersisted}
		}
		iteration++
		e.log.Debug("loop iteration", "dialog", params.DialogID, "iteration", iteration, "messages", len(conversation))

		resp, err := e.streamIteration(ctx, params, conversation, toolDefs, iteration, emit)
		if err != nil {
			kind := OutcomeStreamFailed
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				kind = OutcomeCanceled
			}
			return Outcome{Kind: kind, Err: err, Iterations: iteration, Usage: lastUsage, AssistantPersisted: assistantPersisted}
		}

		if resp.Usage != nil {
			lastUsage = resp.Usage
			model := params.Model
			if model == "" {
				model = e.client.DefaultModel()
			}
			e.recordUsage(ctx, params.DialogID, model, resp.Usage)
		}

		// Terminal text answer: nothing left to execute.
		if len(resp.ToolCalls) == 0 {
			return Outcome{Kind: OutcomeCompleted, Content: resp.Content, Iterations: iteration, Usage: lastUsage, AssistantPersisted: assistantPersisted}
		}

		assistantMsg := providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		}
		conversation = append(conversation, assistantMsg)

		carrierIdx, persisted := e.persistAssistantTurn(ctx, params.DialogID, resp)
		if persisted {
			assistantPersisted = true
		}
		if params.ToolCtx != nil {
			// File edits emitted by this batch key their history rows to
			// the assistant message that declared the calls.
			params.ToolCtx.MessageIndex = carrierIdx
		}

		for _, tc := range resp.ToolCalls {
			if err := emit(protocol.ToolCallEvent(tc.Name, tc.Arguments)); err != nil {
				return Outcome{Kind: OutcomeCanceled, Err: err, Iterations: iteration, Usage: lastUsage, AssistantPersisted: assistantPersisted}
			}

			envelope, isErr := e.executeTool(ctx, params, tc)
			if isErr {
				consecutiveErrors++
			} else {
				consecutiveErrors = 0
			}

			encoded, err := json.Marshal(envelope)
			if err != nil {
				encoded = []byte(`{"type":"tool_error","code":"execution_failed","error":"failed to encode tool result"}`)
				consecutiveErrors++
			}
			conversation = append(conversation, providers.Message{
				Role:       "tool",
				Content:    string(encoded),
				ToolCallID: tc.ID,
			})

			// Non-ephemeral results are journaled in the slim reference
			// form; ephemeral results never reach history.
			if envelope.ResultRef != nil {
				slim, err := json.Marshal(envelope.Slim())
				if err == nil {
					_, err = e.db.Append(ctx, params.DialogID, journal.Message{
						Role:       journal.RoleTool,
						ToolCallID: tc.ID,
						Envelope:   slim,
					})
				}
				if err != nil {
					e.log.Warn("failed to journal tool result", "dialog", params.DialogID, "tool", tc.Name, "error", err)
				}
			}

			if consecutiveErrors >= e.maxConsecutiveErrors {
				return Outcome{
					Kind:               OutcomeErrorBudgetExhausted,
					Err:                fmt.Errorf("%d consecutive tool errors", consecutiveErrors),
					Iterations:         iteration,
					Usage:              lastUsage,
					AssistantPersisted: assistantPersisted,
				}
			}
		}
	}
}

// streamIteration runs one model turn, translating normalized chunks into
// boundary-tracked protocol events.
func (e *Executor) streamIteration(ctx context.Context, params RunParams, conversation []providers.Message, toolDefs []providers.ToolDefinition, iteration int, emit func(protocol.Event) error) (*providers.Response, error) {
	ctx, span := e.tracer.Start(ctx, "llm.turn", trace.WithAttributes(
		attribute.String("dialog.id", params.DialogID),
		attribute.String("llm.model", params.Model),
		attribute.Int("loop.iteration", iteration),
	))
	defer span.End()

	req := providers.Request{
		System:      params.System,
		Messages:    conversation,
		Tools:       toolDefs,
		Model:       params.Model,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
	}

	if params.Emit == nil {
		return e.client.Complete(ctx, req)
	}

	chatStarted := false
	reasoningStarted := false

	resp, err := e.client.Stream(ctx, req, func(ch providers.Chunk) error {
		switch ch.Kind {
		case providers.ChunkReasoning:
			if !reasoningStarted {
				if err := emit(protocol.ReasoningStartEvent()); err != nil {
					return err
				}
				reasoningStarted = true
			}
			return emit(protocol.ReasoningEvent(ch.Text))

		case providers.ChunkText:
			if !chatStarted {
				if err := emit(protocol.ChatStartEvent()); err != nil {
					return err
				}
				chatStarted = true
			}
			return emit(protocol.ChatEvent(ch.Text))
		}
		// Tool-call deltas and usage snapshots are accumulated by the
		// provider; nothing streams for them until execution.
		return nil
	})

	// Close open boundaries even when the stream failed midway, so the
	// client never sees a dangling start.
	if reasoningStarted {
		if emitErr := emit(protocol.ReasoningEndEvent()); emitErr != nil && err == nil {
			err = emitErr
		}
	}
	if chatStarted {
		if emitErr := emit(protocol.ChatEndEvent()); emitErr != nil && err == nil {
			err = emitErr
		}
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if resp.Usage != nil {
		span.SetAttributes(
			attribute.Int("llm.usage.prompt_tokens", resp.Usage.PromptTokens),
			attribute.Int("llm.usage.completion_tokens", resp.Usage.CompletionTokens),
		)
	}
	return resp, nil
}

// executeTool runs one call through the registry and wraps its result in an
// envelope. The bool reports whether the result was an error document.
func (e *Executor) executeTool(ctx context.Context, params RunParams, tc providers.ToolCall) (toolresults.Envelope, bool) {
	ctx, span := e.tracer.Start(ctx, "tool."+tc.Name, trace.WithAttributes(
		attribute.String("dialog.id", params.DialogID),
		attribute.String("tool.call_id", tc.ID),
	))
	defer span.End()

	var result map[string]any
	if tc.ArgsMalformed {
		// The streamed argument JSON never parsed; running the tool on
		// empty arguments would execute it with the wrong input.
		result = tools.ToolError(tools.CodeArgsValidation, "tool call arguments were not valid JSON", "")
	} else {
		result = e.registry.Run(ctx, params.ToolCtx, tc.Name, tc.Arguments)
	}
	isErr := tools.IsError(result)
	if isErr {
		span.SetAttributes(attribute.Bool("tool.error", true))
	}

	mode := toolresults.PersistReferenced
	if tool, ok := e.registry.Get(tc.Name); ok && tool.Ephemeral() {
		mode = toolresults.PersistNone
	}
	if isErr {
		// Error documents stay inline; there is nothing worth storing.
		mode = toolresults.PersistNone
	}

	var store *toolresults.Store
	if params.ToolCtx != nil {
		store = params.ToolCtx.Results
	}
	envelope, err := store.BuildEnvelope(ctx, mode, tc.ID, tc.Name, tc.Arguments, result)
	if err != nil {
		e.log.Warn("failed to build tool envelope", "tool", tc.Name, "error", err)
		span.RecordError(err)
		fallback := tools.ToolError(tools.CodeExecutionFailed, err.Error(), "")
		return toolresults.Envelope{
			ToolCallID:      tc.ID,
			ToolName:        tc.Name,
			Status:          "error",
			InlineResult:    fallback,
			HasInlineResult: true,
		}, true
	}
	return envelope, isErr
}

// persistAssistantTurn journals the assistant message declaring tool calls,
// with calls to ephemeral tools filtered out so replays never chase results
// that were not stored. Returns the journal index of the row, -1 when
// nothing was persisted.
func (e *Executor) persistAssistantTurn(ctx context.Context, dialogID string, resp *providers.Response) (int, bool) {
	var kept []journal.ToolCall
	for _, tc := range resp.ToolCalls {
		if tool, ok := e.registry.Get(tc.Name); ok && tool.Ephemeral() {
			continue
		}
		kept = append(kept, journal.ToolCall{ID: tc.ID, Name: tc.Name, Args: tc.Arguments})
	}
	if resp.Content == "" && len(kept) == 0 {
		return -1, false
	}

	idx, err := e.db.Append(ctx, dialogID, journal.Message{
		Role:      journal.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: kept,
	})
	if err != nil {
		e.log.Warn("failed to journal assistant turn", "dialog", dialogID, "error", err)
		return -1, false
	}
	return idx, true
}

func (e *Executor) recordUsage(ctx context.Context, dialogID, model string, u *providers.Usage) {
	err := e.db.RecordUsage(ctx, dialogID, journal.Usage{
		Model:            model,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	})
	if err != nil {
		e.log.Warn("failed to record usage", "dialog", dialogID, "error", err)
	}
}

func (e *Executor) toolDefinitions() []providers.ToolDefinition {
	list := e.registry.List()
	defs := make([]providers.ToolDefinition, 0, len(list))
	for _, t := range list {
		defs = append(defs, providers.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return defs
}
