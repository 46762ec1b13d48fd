package tools

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// SearchFilesTool searches file contents under a directory with a regex,
// returning matches with two lines of surrounding context.
type SearchFilesTool struct{}

func NewSearchFilesTool() *SearchFilesTool { return &SearchFilesTool{} }

func (t *SearchFilesTool) Name() string { return "search_files" }
func (t *SearchFilesTool) Description() string {
	return "Search files under a directory for a regex pattern, with optional filename glob filter."
}
func (t *SearchFilesTool) Ephemeral() bool { return false }

func (t *SearchFilesTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Directory to search",
			},
			"regex": map[string]any{
				"type":        "string",
				"description": "Regex pattern (Go syntax)",
			},
			"file_pattern": map[string]any{
				"type":        "string",
				"description": "Glob to filter file names (e.g. *.go)",
			},
		},
		"required":             []string{"path", "regex"},
		"additionalProperties": false,
	}
}

func (t *SearchFilesTool) Run(ctx context.Context, tc *ToolContext, args map[string]any) (map[string]any, error) {
	path, err := requireString(args, "path")
	if err != nil {
		return nil, err
	}
	pattern, err := requireString(args, "regex")
	if err != nil {
		return nil, err
	}
	filePattern, _ := args["file_pattern"].(string)

	resolved, err := resolveWorkspacePath(path, tc.WorkspaceRoot)
	if err != nil {
		return typedError("search_files", path, err.Error(), "AccessDenied"), nil
	}
	if isRestrictedRoot(resolved) {
		return typedError("search_files", resolved, "Access to this directory is restricted: "+resolved, "RestrictedPathError"), nil
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return typedError("search_files", resolved, "Path does not exist: "+resolved, "PathNotFoundError"), nil
		}
		return typedError("search_files", resolved, err.Error(), "OSError"), nil
	}
	if !info.IsDir() {
		return typedError("search_files", resolved, "Path is not a directory: "+resolved, "NotADirectoryError"), nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return typedError("search_files", resolved, "Invalid regex pattern: "+pattern+" - "+err.Error(), "RegexError"), nil
	}

	includeHidden := strings.Contains(filePattern, ".*") || strings.Contains(filePattern, "/.")
	var results []any

	walkErr := filepath.WalkDir(resolved, func(p string, d fs.DirEntry, werr error) error {
		if werr != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, _ := filepath.Rel(resolved, p)
		if p != resolved && shouldSkip(rel, includeHidden) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if filePattern != "" {
			if ok, _ := filepath.Match(filePattern, d.Name()); !ok {
				return nil
			}
		}

		data, rerr := os.ReadFile(p)
		if rerr != nil {
			return nil
		}
		lines := strings.Split(string(data), "\n")
		for i, line := range lines {
			if !re.MatchString(line) {
				continue
			}
			start := i - 2
			if start < 0 {
				start = 0
			}
			end := i + 3
			if end > len(lines) {
				end = len(lines)
			}
			results = append(results, map[string]any{
				"file":    p,
				"line":    i + 1,
				"context": strings.Join(lines[start:end], "\n"),
			})
		}
		return nil
	})
	if walkErr != nil {
		return typedError("search_files", resolved, walkErr.Error(), "OSError"), nil
	}

	return map[string]any{
		"type":    "search_files_result",
		"results": results,
	}, nil
}
