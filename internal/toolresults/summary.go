package toolresults

import (
	"fmt"
	"strings"
)

// summaryFunc renders a one-line description of a tool call for envelope
// metadata and logs.
type summaryFunc func(args, result map[string]any) string

var summaryGenerators = map[string]summaryFunc{
	"read_file":       summarizeReadFile,
	"write_file":      summarizeWriteFile,
	"replace_in_file": summarizeReplaceInFile,
	"delete_file":     summarizePathOnly,
	"list_files":      summarizeListFiles,
	"search_files":    summarizeSearchFiles,
	"web_search":      summarizeWebSearch,
	"web_fetch":       summarizeWebFetch,
}

// Summarize produces the stored summary for a tool call. Unknown tools get
// an empty summary; error results collapse to the error text.
func Summarize(toolName string, args, result map[string]any) string {
	if fn, ok := summaryGenerators[toolName]; ok {
		return fn(args, result)
	}
	if rtype, _ := result["type"].(string); rtype == "tool_error" {
		return resultError(result)
	}
	return ""
}

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func errorSummary(args map[string]any, result map[string]any, key string) (string, bool) {
	if e := resultError(result); e != "" {
		return fmt.Sprintf("%s: %s", argString(args, key), e), true
	}
	return "", false
}

func summarizeReadFile(args, result map[string]any) string {
	path := argString(args, "path")
	if e := resultError(result); e != "" {
		return fmt.Sprintf("Error reading %s: %s", path, e)
	}
	content, _ := result["content"].(string)
	if lines := strings.SplitN(content, "\n", 2); len(lines) > 0 {
		if preview := strings.TrimSpace(lines[0]); preview != "" {
			if len(preview) > 80 {
				preview = preview[:80]
			}
			return fmt.Sprintf("Read file %s - %s", path, preview)
		}
	}
	return "Read file " + path
}

func summarizeWriteFile(args, result map[string]any) string {
	if s, done := errorSummary(args, result, "path"); done {
		return s
	}
	content := argString(args, "content")
	return fmt.Sprintf("%s: %d bytes", argString(args, "path"), len(content))
}

func summarizeReplaceInFile(args, result map[string]any) string {
	if s, done := errorSummary(args, result, "path"); done {
		return s
	}
	return argString(args, "path")
}

func summarizePathOnly(args, result map[string]any) string {
	if s, done := errorSummary(args, result, "path"); done {
		return s
	}
	if p, ok := result["path"].(string); ok && p != "" {
		return p
	}
	return argString(args, "path")
}

func summarizeListFiles(args, result map[string]any) string {
	if s, done := errorSummary(args, result, "path"); done {
		return s
	}
	items, _ := result["items"].([]any)
	return fmt.Sprintf("%s: %d items", argString(args, "path"), len(items))
}

func summarizeSearchFiles(args, result map[string]any) string {
	if s, done := errorSummary(args, result, "path"); done {
		return s
	}
	results, _ := result["results"].([]any)
	return fmt.Sprintf("%s '%s': %d matches", argString(args, "path"), argString(args, "regex"), len(results))
}

func summarizeWebSearch(args, result map[string]any) string {
	query := argString(args, "query")
	if e := resultError(result); e != "" {
		return fmt.Sprintf("'%s': %s", query, e)
	}
	count := 0
	switch v := result["count"].(type) {
	case float64:
		count = int(v)
	case int:
		count = v
	}
	return fmt.Sprintf("'%s': %d results", query, count)
}

func summarizeWebFetch(args, result map[string]any) string {
	url := argString(args, "url")
	if e := resultError(result); e != "" {
		return fmt.Sprintf("%s: %s", url, e)
	}
	content, _ := result["content"].(string)
	return fmt.Sprintf("%s: %d bytes", url, len(content))
}
