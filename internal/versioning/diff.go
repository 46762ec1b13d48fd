package versioning

import (
	"bytes"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// ChangedFile is one entry of a tree-level diff.
type ChangedFile struct {
	Path      string  `json:"path"`
	Status    string  `json:"status"` // added | modified | deleted
	Additions int     `json:"additions"`
	Deletions int     `json:"deletions"`
	Diff      *string `json:"diff"` // nil for binary files or when not requested
}

// TreeDiff compares the committed trees of two revisions.
func (r *Repo) TreeDiff(revA, revB string, includeDiff bool) ([]ChangedFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	flatten := func(rev string) (map[string]flatEntry, error) {
		if rev == "" {
			return map[string]flatEntry{}, nil
		}
		id, err := r.resolve(rev)
		if err != nil {
			return nil, err
		}
		return r.flattenCommit(id)
	}

	a, err := flatten(revA)
	if err != nil {
		return nil, err
	}
	b, err := flatten(revB)
	if err != nil {
		return nil, err
	}
	return r.diffFlatLocked(a, b, includeDiff)
}

func (r *Repo) diffFlatLocked(a, b map[string]flatEntry, includeDiff bool) ([]ChangedFile, error) {
	paths := map[string]struct{}{}
	for p := range a {
		paths[p] = struct{}{}
	}
	for p := range b {
		paths[p] = struct{}{}
	}
	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	var out []ChangedFile
	for _, path := range sorted {
		ea, inA := a[path]
		eb, inB := b[path]

		var cf ChangedFile
		switch {
		case inA && !inB:
			cf = ChangedFile{Path: path, Status: "deleted"}
		case !inA && inB:
			cf = ChangedFile{Path: path, Status: "added"}
		case ea.Hash != eb.Hash:
			cf = ChangedFile{Path: path, Status: "modified"}
		default:
			continue
		}

		var oldContent, newContent []byte
		if inA {
			oldContent, _ = r.getBlob(ea.Hash)
		}
		if inB {
			newContent, _ = r.getBlob(eb.Hash)
		}

		if isBinary(oldContent) || isBinary(newContent) {
			out = append(out, cf) // additions=deletions=0, diff=nil
			continue
		}

		adds, dels, text := unifiedDiff(path, oldContent, newContent)
		cf.Additions = adds
		cf.Deletions = dels
		if includeDiff {
			cf.Diff = &text
		}
		out = append(out, cf)
	}
	return out, nil
}

func isBinary(content []byte) bool {
	if len(content) == 0 {
		return false
	}
	probe := content
	if len(probe) > 8000 {
		probe = probe[:8000]
	}
	return bytes.IndexByte(probe, 0) >= 0
}

// unifiedDiff produces a unified diff plus added/removed line counts.
func unifiedDiff(path string, oldContent, newContent []byte) (adds, dels int, text string) {
	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(oldContent)),
		B:        difflib.SplitLines(string(newContent)),
		FromFile: "a/" + path,
		ToFile:   "b/" + path,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return 0, 0, ""
	}
	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			adds++
		case strings.HasPrefix(line, "-"):
			dels++
		}
	}
	return adds, dels, text
}
