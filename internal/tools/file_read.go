package tools

import (
	"context"
	"os"
)

// ReadFileTool returns the full contents of one workspace file.
type ReadFileTool struct{}

func NewReadFileTool() *ReadFileTool { return &ReadFileTool{} }

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Read the contents of a file in the workspace."
}
func (t *ReadFileTool) Ephemeral() bool { return false }

func (t *ReadFileTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file to read",
			},
		},
		"required":             []string{"path"},
		"additionalProperties": false,
	}
}

func (t *ReadFileTool) Run(ctx context.Context, tc *ToolContext, args map[string]any) (map[string]any, error) {
	path, err := requireString(args, "path")
	if err != nil {
		return nil, err
	}

	resolved, err := resolveWorkspacePath(path, tc.WorkspaceRoot)
	if err != nil {
		return typedError("read_file", path, err.Error(), "AccessDenied"), nil
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return typedError("read_file", resolved, "File not found: "+resolved, "FileNotFoundError"), nil
		}
		return typedError("read_file", resolved, err.Error(), "OSError"), nil
	}
	if info.IsDir() {
		return typedError("read_file", resolved, "Path is a directory: "+resolved, "IsADirectoryError"), nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return typedError("read_file", resolved, err.Error(), "OSError"), nil
	}

	return map[string]any{
		"type":    "read_file_result",
		"path":    resolved,
		"content": string(data),
	}, nil
}
