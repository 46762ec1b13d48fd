package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/agentsmithy/agentsmithy/pkg/protocol"
)

// ReplaceInFileTool edits a file by applying SEARCH/REPLACE marker blocks.
// Matching falls back from exact to whitespace-trimmed lines to block
// anchors (first and last line of 3+ line blocks).
type ReplaceInFileTool struct{}

func NewReplaceInFileTool() *ReplaceInFileTool { return &ReplaceInFileTool{} }

func (t *ReplaceInFileTool) Name() string { return "replace_in_file" }
func (t *ReplaceInFileTool) Description() string {
	return "Edit a file by applying a diff. Required format:\n" +
		"```\n" +
		"------- SEARCH\n" +
		"[exact lines to find]\n" +
		"=======\n" +
		"[replacement lines]\n" +
		"+++++++ REPLACE\n" +
		"```\n" +
		"Features: exact match, line-trimmed match (ignores whitespace), block anchor match (3+ lines);\n" +
		"multiple blocks allowed; empty SEARCH replaces whole file; handles out-of-order edits."
}
func (t *ReplaceInFileTool) Ephemeral() bool { return false }

func (t *ReplaceInFileTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to file to modify",
			},
			"diff": map[string]any{
				"type": "string",
				"description": "Diff content in MARKER style: ------- SEARCH / ======= / +++++++ REPLACE blocks, " +
					"in file order; empty SEARCH means replace whole file.",
			},
		},
		"required":             []string{"path", "diff"},
		"additionalProperties": false,
	}
}

func (t *ReplaceInFileTool) Run(ctx context.Context, tc *ToolContext, args map[string]any) (map[string]any, error) {
	path, err := requireString(args, "path")
	if err != nil {
		return nil, err
	}
	diffText, err := requireString(args, "diff")
	if err != nil {
		return nil, err
	}

	resolved, err := resolveWorkspacePath(path, tc.WorkspaceRoot)
	if err != nil {
		return typedError("replace_file", path, err.Error(), "AccessDenied"), nil
	}

	original := ""
	if data, rerr := os.ReadFile(resolved); rerr == nil {
		original = string(data)
	}

	if tc.Repo != nil {
		if serr := tc.Repo.StartEdit([]string{resolved}); serr != nil {
			return nil, fmt.Errorf("start edit: %w", serr)
		}
	}

	newText, err := applyMarkerBlocks(original, diffText)
	if err == nil && newText == original && original != "" {
		err = fmt.Errorf("no changes were made - diff pattern not found in file")
	}
	if err != nil {
		if tc.Repo != nil {
			tc.Repo.AbortEdit()
		}
		return nil, enrichMatchError(err, original)
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		if tc.Repo != nil {
			tc.Repo.AbortEdit()
		}
		return nil, fmt.Errorf("create parent directory: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(newText), 0o644); err != nil {
		if tc.Repo != nil {
			tc.Repo.AbortEdit()
		}
		return nil, fmt.Errorf("write file: %w", err)
	}

	var checkpoint string
	if tc.Repo != nil {
		if err := tc.Repo.TrackFileChange(resolved, "write"); err != nil {
			return nil, err
		}
		if err := tc.Repo.FinalizeEdit(); err != nil {
			return nil, err
		}
		cp, err := tc.Repo.CreateCheckpoint(ctx, "replace_in_file: "+workspaceRel(resolved, tc.WorkspaceRoot))
		if err != nil {
			return nil, fmt.Errorf("checkpoint: %w", err)
		}
		checkpoint = cp.CommitID
	}

	unified, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(original),
		B:        difflib.SplitLines(newText),
		FromFile: "a/" + resolved,
		ToFile:   "b/" + resolved,
		Context:  3,
	})

	tc.EmitEvent(protocol.Event{
		Type:       protocol.EventFileEdit,
		File:       workspaceRel(resolved, tc.WorkspaceRoot),
		Diff:       unified,
		Checkpoint: checkpoint,
	})

	result := map[string]any{
		"type": "replace_file_result",
		"path": resolved,
		"diff": unified,
	}
	if checkpoint != "" {
		result["checkpoint"] = checkpoint
	}
	return result, nil
}

// enrichMatchError appends a file preview to match failures so the model can
// correct its SEARCH block.
func enrichMatchError(err error, original string) error {
	if !strings.Contains(err.Error(), "does not match") {
		return err
	}
	lines := strings.Split(original, "\n")
	n := len(lines)
	if n > 20 {
		n = 20
	}
	preview := strings.Join(lines[:n], "\n")
	if n < len(lines) {
		preview += "\n... (file continues)"
	}
	return fmt.Errorf("%w\n\nFile preview (first 20 lines):\n```\n%s\n```\n\n"+
		"Hint: Try using smaller, more specific SEARCH blocks or check for whitespace differences.",
		err, preview)
}

var (
	searchStartRe  = regexp.MustCompile(`^[-<]{3,}\s*SEARCH>?$`)
	blockMiddleRe  = regexp.MustCompile(`^={3,}$`)
	replaceEndRe   = regexp.MustCompile(`^[+>]{3,}\s*(REPLACE>?)?$`)
	closingMarkRe  = regexp.MustCompile(`^>{3,}\s*$`)
	escapedPunctRe = regexp.MustCompile(`\\([\\|().{}\[\]^$*+?])`)
)

type replacement struct {
	start   int
	end     int
	content string
}

// applyMarkerBlocks parses SEARCH/REPLACE blocks out of diffText and applies
// them to original. Blocks may arrive out of file order; overlapping matches
// are dropped.
func applyMarkerBlocks(original, diffText string) (string, error) {
	var repls []replacement

	addOne := func(search, replace string) error {
		if search == "" {
			repls = append(repls, replacement{start: 0, end: len(original), content: replace})
			return nil
		}
		start, end, ok := locateBlock(original, search)
		if !ok {
			preview := search
			if len(preview) > 100 {
				preview = preview[:100] + "..."
			}
			return fmt.Errorf("the SEARCH block does not match anything in the file:\n```\n%s\n```\n"+
				"Tried: exact match, line-trimmed match, block anchor match", preview)
		}
		repls = append(repls, replacement{start: start, end: end, content: replace})
		return nil
	}

	state := "idle"
	var searchBuf, replaceBuf []string
	pendingSearch := ""

	for _, line := range strings.Split(diffText, "\n") {
		switch {
		case searchStartRe.MatchString(line):
			state = "search"
			searchBuf, replaceBuf = nil, nil
			continue
		case blockMiddleRe.MatchString(line):
			if state == "search" {
				state = "replace"
			}
			continue
		case replaceEndRe.MatchString(line):
			switch state {
			case "replace":
				search := escapedPunctRe.ReplaceAllString(strings.Join(searchBuf, "\n"), "$1")
				if err := addOne(search, strings.Join(replaceBuf, "\n")); err != nil {
					return "", err
				}
				state = "idle"
				searchBuf, replaceBuf = nil, nil
				continue
			case "search":
				// Block without a ======= separator: replacement follows the
				// REPLACE marker.
				pendingSearch = escapedPunctRe.ReplaceAllString(strings.Join(searchBuf, "\n"), "$1")
				state = "replace_after_marker"
				searchBuf, replaceBuf = nil, nil
				continue
			}
		}

		switch state {
		case "search":
			searchBuf = append(searchBuf, line)
		case "replace":
			replaceBuf = append(replaceBuf, line)
		case "replace_after_marker":
			if closingMarkRe.MatchString(line) {
				state = "idle"
				if pendingSearch != "" {
					if err := addOne(pendingSearch, strings.Join(replaceBuf, "\n")); err != nil {
						return "", err
					}
					pendingSearch = ""
				}
				replaceBuf = nil
				continue
			}
			replaceBuf = append(replaceBuf, line)
		}
	}
	if state == "replace_after_marker" && pendingSearch != "" {
		if err := addOne(pendingSearch, strings.Join(replaceBuf, "\n")); err != nil {
			return "", err
		}
	}

	if len(repls) == 0 {
		return original, nil
	}

	sort.Slice(repls, func(i, j int) bool { return repls[i].start < repls[j].start })

	var sb strings.Builder
	pos := 0
	for _, rp := range repls {
		if rp.start < pos {
			continue
		}
		sb.WriteString(original[pos:rp.start])
		sb.WriteString(rp.content)
		pos = rp.end
	}
	sb.WriteString(original[pos:])
	return sb.String(), nil
}

// locateBlock finds the character span of search in original, trying exact
// match, then whitespace-trimmed lines, then first/last line anchors.
func locateBlock(original, search string) (int, int, bool) {
	if idx := strings.Index(original, search); idx != -1 {
		return idx, idx + len(search), true
	}
	if start, end, ok := trimmedLineMatch(original, search); ok {
		return start, end, true
	}
	return blockAnchorMatch(original, search)
}

func splitSearchLines(search string) []string {
	lines := strings.Split(search, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func trimmedLineMatch(original, search string) (int, int, bool) {
	origLines := strings.Split(original, "\n")
	searchLines := splitSearchLines(search)
	if len(searchLines) == 0 {
		return 0, 0, false
	}

	for i := 0; i+len(searchLines) <= len(origLines); i++ {
		match := true
		for j := range searchLines {
			if strings.TrimSpace(origLines[i+j]) != strings.TrimSpace(searchLines[j]) {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		start := lineOffset(origLines, i)
		end := start
		for j := 0; j < len(searchLines); j++ {
			end += len(origLines[i+j]) + 1
		}
		return start, end, true
	}
	return 0, 0, false
}

func blockAnchorMatch(original, search string) (int, int, bool) {
	origLines := strings.Split(original, "\n")
	searchLines := splitSearchLines(search)
	if len(searchLines) < 3 {
		return 0, 0, false
	}

	first := strings.TrimSpace(searchLines[0])
	last := strings.TrimSpace(searchLines[len(searchLines)-1])
	size := len(searchLines)

	for i := 0; i+size <= len(origLines); i++ {
		if strings.TrimSpace(origLines[i]) != first {
			continue
		}
		if strings.TrimSpace(origLines[i+size-1]) != last {
			continue
		}
		start := lineOffset(origLines, i)
		var end int
		if i+size >= len(origLines) {
			end = start
			for j := 0; j < size; j++ {
				end += len(origLines[i+j])
			}
			end += size - 1
		} else {
			end = start
			for j := 0; j < size; j++ {
				end += len(origLines[i+j]) + 1
			}
		}
		return start, end, true
	}
	return 0, 0, false
}

func lineOffset(lines []string, idx int) int {
	off := 0
	for i := 0; i < idx; i++ {
		off += len(lines[i]) + 1
	}
	return off
}
