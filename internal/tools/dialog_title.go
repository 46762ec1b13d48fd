package tools

import (
	"context"
	"fmt"
	"strings"
)

const maxDialogTitleLength = 50

// SetDialogTitleTool updates the dialog's title in project metadata.
// Ephemeral: its result is never persisted.
type SetDialogTitleTool struct{}

func NewSetDialogTitleTool() *SetDialogTitleTool { return &SetDialogTitleTool{} }

func (t *SetDialogTitleTool) Name() string { return "set_dialog_title" }
func (t *SetDialogTitleTool) Description() string {
	return "Set or update the title of the whole conversation/dialog. " +
		"The title MUST be 50 characters or less, brief (ideally 3-8 words) and descriptive. " +
		"Only update it if the current one doesn't match the conversation."
}
func (t *SetDialogTitleTool) Ephemeral() bool { return true }

func (t *SetDialogTitleTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{
				"type":        "string",
				"description": "The new title for the dialog (max 50 characters)",
			},
		},
		"required":             []string{"title"},
		"additionalProperties": false,
	}
}

func (t *SetDialogTitleTool) Run(ctx context.Context, tc *ToolContext, args map[string]any) (map[string]any, error) {
	title, _ := args["title"].(string)
	title = strings.TrimSpace(title)

	if tc.SetTitle == nil {
		return ToolError(CodeExecutionFailed, "no dialog context available for setting title", ""), nil
	}
	if title == "" {
		return ToolError(CodeExecutionFailed, "title cannot be empty", ""), nil
	}
	if len(title) > maxDialogTitleLength {
		return ToolError(CodeExecutionFailed,
			fmt.Sprintf("title is too long (%d characters), maximum length is %d characters", len(title), maxDialogTitleLength),
			""), nil
	}

	if err := tc.SetTitle(ctx, title); err != nil {
		return nil, fmt.Errorf("set dialog title: %w", err)
	}

	return map[string]any{
		"type":    "set_dialog_title_result",
		"title":   title,
		"message": "Dialog title set to: " + title,
	}, nil
}
