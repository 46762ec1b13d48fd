package tools

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// ListFilesTool lists directory contents, honoring the shared ignore rules.
type ListFilesTool struct{}

func NewListFilesTool() *ListFilesTool { return &ListFilesTool{} }

func (t *ListFilesTool) Name() string { return "list_files" }
func (t *ListFilesTool) Description() string {
	return "List files and directories at a path, optionally recursive."
}
func (t *ListFilesTool) Ephemeral() bool { return false }

func (t *ListFilesTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Directory to list",
			},
			"recursive": map[string]any{
				"type":        "boolean",
				"description": "Recurse into subdirectories",
			},
			"hidden_files": map[string]any{
				"type":        "boolean",
				"description": "Include hidden files",
			},
		},
		"required":             []string{"path"},
		"additionalProperties": false,
	}
}

func (t *ListFilesTool) Run(ctx context.Context, tc *ToolContext, args map[string]any) (map[string]any, error) {
	path, err := requireString(args, "path")
	if err != nil {
		return nil, err
	}
	recursive, _ := args["recursive"].(bool)
	includeHidden, _ := args["hidden_files"].(bool)

	resolved, err := resolveWorkspacePath(path, tc.WorkspaceRoot)
	if err != nil {
		return typedError("list_files", path, err.Error(), "AccessDenied"), nil
	}
	if isRestrictedRoot(resolved) {
		return typedError("list_files", resolved, "Access to this directory is restricted: "+resolved, "RestrictedPathError"), nil
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return typedError("list_files", resolved, "Path does not exist: "+resolved, "PathNotFoundError"), nil
		}
		return typedError("list_files", resolved, err.Error(), "OSError"), nil
	}
	if !info.IsDir() {
		return typedError("list_files", resolved, "Path is not a directory: "+resolved, "NotADirectoryError"), nil
	}

	var items []string
	if recursive {
		err = filepath.WalkDir(resolved, func(p string, d fs.DirEntry, werr error) error {
			if werr != nil {
				return nil
			}
			if p == resolved {
				return nil
			}
			rel, _ := filepath.Rel(resolved, p)
			if shouldSkip(rel, includeHidden) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			items = append(items, p)
			return nil
		})
	} else {
		var entries []fs.DirEntry
		entries, err = os.ReadDir(resolved)
		for _, e := range entries {
			if shouldSkip(e.Name(), includeHidden) {
				continue
			}
			items = append(items, filepath.Join(resolved, e.Name()))
		}
	}
	if err != nil {
		return typedError("list_files", resolved, err.Error(), "OSError"), nil
	}

	sort.Strings(items)
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = it
	}
	return map[string]any{
		"type":  "list_files_result",
		"path":  resolved,
		"items": out,
	}, nil
}
