package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/agentsmithy/agentsmithy/pkg/protocol"
)

// WriteFileTool creates or overwrites one file, records the change in the
// versioning engine and emits a file_edit event.
type WriteFileTool struct{}

func NewWriteFileTool() *WriteFileTool { return &WriteFileTool{} }

func (t *WriteFileTool) Name() string { return "write_to_file" }
func (t *WriteFileTool) Description() string {
	return "Write complete content to a file (create or overwrite)."
}
func (t *WriteFileTool) Ephemeral() bool { return false }

func (t *WriteFileTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to write",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Complete file content to write",
			},
		},
		"required":             []string{"path", "content"},
		"additionalProperties": false,
	}
}

func (t *WriteFileTool) Run(ctx context.Context, tc *ToolContext, args map[string]any) (map[string]any, error) {
	path, err := requireString(args, "path")
	if err != nil {
		return nil, err
	}
	content, _ := args["content"].(string)

	resolved, err := resolveWorkspacePath(path, tc.WorkspaceRoot)
	if err != nil {
		return typedError("write_file", path, err.Error(), "AccessDenied"), nil
	}

	var checkpoint string
	if tc.Repo != nil {
		if err := tc.Repo.StartEdit([]string{resolved}); err != nil {
			return nil, fmt.Errorf("start edit: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		if tc.Repo != nil {
			tc.Repo.AbortEdit()
		}
		return nil, fmt.Errorf("create parent directory: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		if tc.Repo != nil {
			tc.Repo.AbortEdit()
		}
		return nil, fmt.Errorf("write file: %w", err)
	}

	if tc.Repo != nil {
		if err := tc.Repo.TrackFileChange(resolved, "write"); err != nil {
			return nil, err
		}
		if err := tc.Repo.FinalizeEdit(); err != nil {
			return nil, err
		}
		cp, err := tc.Repo.CreateCheckpoint(ctx, "write_to_file: "+workspaceRel(resolved, tc.WorkspaceRoot))
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
		"type": "write_file_result",
		"path": resolved,
	}
	if checkpoint != "" {
		result["checkpoint"] = checkpoint
	}
	return result, nil
}

// workspaceRel renders path relative to the workspace root with forward
// slashes, the form events and journal rows store.
func workspaceRel(path, workspace string) string {
	if rel, err := filepath.Rel(workspace, path); err == nil && !filepath.IsAbs(rel) {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(path)
}
