package tools

import (
	"context"
	"fmt"
	"os"

	"github.com/agentsmithy/agentsmithy/pkg/protocol"
)

// DeleteFileTool removes one file (never directories) and records the
// deletion as a checkpoint.
type DeleteFileTool struct{}

func NewDeleteFileTool() *DeleteFileTool { return &DeleteFileTool{} }

func (t *DeleteFileTool) Name() string { return "delete_file" }
func (t *DeleteFileTool) Description() string {
	return "Delete a file from the workspace (non-recursive)."
}
func (t *DeleteFileTool) Ephemeral() bool { return false }

func (t *DeleteFileTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to file to delete",
			},
		},
		"required":             []string{"path"},
		"additionalProperties": false,
	}
}

func (t *DeleteFileTool) Run(ctx context.Context, tc *ToolContext, args map[string]any) (map[string]any, error) {
	path, err := requireString(args, "path")
	if err != nil {
		return nil, err
	}

	resolved, err := resolveWorkspacePath(path, tc.WorkspaceRoot)
	if err != nil {
		return typedError("delete_file", path, err.Error(), "AccessDenied"), nil
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return typedError("delete_file", resolved, "File not found: "+resolved, "FileNotFoundError"), nil
		}
		return typedError("delete_file", resolved, err.Error(), "OSError"), nil
	}
	if info.IsDir() {
		return typedError("delete_file", resolved, "Path is a directory, not a file: "+resolved, "IsADirectoryError"), nil
	}

	var checkpoint string
	if tc.Repo != nil {
		if err := tc.Repo.StartEdit([]string{resolved}); err != nil {
			return nil, fmt.Errorf("start edit: %w", err)
		}
	}

	if err := os.Remove(resolved); err != nil {
		if tc.Repo != nil {
			tc.Repo.AbortEdit()
		}
		return nil, fmt.Errorf("delete file: %w", err)
	}

	if tc.Repo != nil {
		if err := tc.Repo.TrackFileChange(resolved, "delete"); err != nil {
			return nil, err
		}
		if err := tc.Repo.FinalizeEdit(); err != nil {
			return nil, err
		}
		cp, err := tc.Repo.CreateCheckpoint(ctx, "delete_file: "+workspaceRel(resolved, tc.WorkspaceRoot))
		if err != nil {
			return nil, fmt.Errorf("checkpoint: %w", err)
		}
		checkpoint = cp.CommitID
	}

	tc.EmitEvent(protocol.Event{
		Type:       protocol.EventFileEdit,
		File:       workspaceRel(resolved, tc.WorkspaceRoot),
		Checkpoint: checkpoint,
	})

	result := map[string]any{
		"type": "delete_file_result",
		"path": resolved,
	}
	if checkpoint != "" {
		result["checkpoint"] = checkpoint
	}
	return result, nil
}
