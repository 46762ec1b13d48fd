package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentsmithy/agentsmithy/internal/toolresults"
)

// GetPreviousResultTool retrieves a stored result from an earlier tool call.
// Ephemeral: its own output never reaches history or storage, so replays
// cannot chain references to references.
type GetPreviousResultTool struct{}

func NewGetPreviousResultTool() *GetPreviousResultTool { return &GetPreviousResultTool{} }

func (t *GetPreviousResultTool) Name() string { return "get_tool_result" }
func (t *GetPreviousResultTool) Description() string {
	return "Retrieve the full result of a PREVIOUS tool call from earlier in the conversation by its tool_call_id."
}
func (t *GetPreviousResultTool) Ephemeral() bool { return true }

func (t *GetPreviousResultTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tool_call_id": map[string]any{
				"type":        "string",
				"description": "The ID of a previous tool call whose results you need to retrieve",
			},
		},
		"required":             []string{"tool_call_id"},
		"additionalProperties": false,
	}
}

func (t *GetPreviousResultTool) Run(ctx context.Context, tc *ToolContext, args map[string]any) (map[string]any, error) {
	callID, err := requireString(args, "tool_call_id")
	if err != nil {
		return nil, err
	}
	if tc.Results == nil {
		return ToolError(CodeExecutionFailed, "no tool-result storage available for this dialog", ""), nil
	}

	stored, err := tc.Results.Get(ctx, callID)
	if err != nil {
		if errors.Is(err, toolresults.ErrNotFound) {
			return ToolError(CodeExecutionFailed,
				fmt.Sprintf("tool result not found: %s. This tool retrieves results from EARLIER in the conversation, not from tools you just executed.", callID),
				"NotFound"), nil
		}
		return nil, err
	}

	return map[string]any{
		"type":          "previous_result",
		"tool_call_id":  callID,
		"tool_name":     stored.ToolName,
		"original_args": stored.Args,
		"result":        stored.Result,
		"timestamp":     stored.Timestamp,
	}, nil
}
