// Package tools defines the tool contract the agent loop executes: named
// units with a JSON-schema-validated argument surface, run against a
// per-invocation context instead of mutable tool state.
package tools

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/agentsmithy/agentsmithy/internal/toolresults"
	"github.com/agentsmithy/agentsmithy/internal/versioning"
	"github.com/agentsmithy/agentsmithy/pkg/protocol"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ToolContext carries everything a tool may need for one invocation. A fresh
// value is built per call, so tools hold no dialog state between runs.
type ToolContext struct {
	DialogID      string
	WorkspaceRoot string

	// Emit streams events (tool_call, file_edit) to the client while the
	// tool runs. Nil discards.
	Emit func(protocol.Event)

	// Repo is the dialog's versioning engine; nil when versioning is
	// unavailable (file-mutating tools then skip checkpointing).
	Repo *versioning.Repo

	// Results is the dialog's tool-result store; nil disables retrieval.
	Results *toolresults.Store

	// MessageIndex is the journal index of the assistant message that
	// declared the in-flight tool calls. The loop refreshes it before each
	// batch; -1 when no assistant row was journaled for the batch.
	MessageIndex int

	// SetTitle updates the dialog's title in project metadata.
	SetTitle func(ctx context.Context, title string) error
}

// EmitEvent sends ev through the context sink, if any.
func (tc *ToolContext) EmitEvent(ev protocol.Event) {
	if tc != nil && tc.Emit != nil {
		tc.Emit(ev)
	}
}

// Tool is one executable unit. Run returns the result document; its "type"
// field starts with the tool family (read_file_result, tool_error, ...).
// A returned error is converted by the registry into an execution_failed
// envelope, never propagated to the loop.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]any
	// Ephemeral tools produce results that never reach history or the
	// result store.
	Ephemeral() bool
	Run(ctx context.Context, tc *ToolContext, args map[string]any) (map[string]any, error)
}

// Error codes in tool_error envelopes.
const (
	CodeArgsValidation  = "args_validation"
	CodeExecutionFailed = "execution_failed"
	CodeUnknownTool     = "unknown_tool"
)

// ToolError builds the unified error envelope.
func ToolError(code, message, errorType string) map[string]any {
	out := map[string]any{
		"type":  "tool_error",
		"code":  code,
		"error": message,
	}
	if errorType != "" {
		out["error_type"] = errorType
	}
	return out
}

// typedError builds a per-family error result like read_file_error.
func typedError(family, path, message, errorType string) map[string]any {
	return map[string]any{
		"type":       family + "_error",
		"path":       path,
		"error":      message,
		"error_type": errorType,
	}
}

// IsError reports whether a result document is an error of any shape.
func IsError(result map[string]any) bool {
	rtype, _ := result["type"].(string)
	return rtype == "tool_error" || (len(rtype) > 6 && rtype[len(rtype)-6:] == "_error")
}

func requireString(args map[string]any, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}
