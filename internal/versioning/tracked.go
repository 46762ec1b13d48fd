package versioning

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// trackedSet is the set of workspace paths the agent has introduced since the
// last approval. Restore consults it to delete agent-created files that are
// absent from the target tree without touching user-owned files.
type trackedSet struct {
	path  string
	paths map[string]struct{}
}

func loadTracked(path string) (*trackedSet, error) {
	t := &trackedSet{path: path, paths: map[string]struct{}{}}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, fmt.Errorf("load tracked paths: %w", err)
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse tracked paths: %w", err)
	}
	for _, p := range list {
		t.paths[p] = struct{}{}
	}
	return t, nil
}

func (t *trackedSet) save() error {
	list := make([]string, 0, len(t.paths))
	for p := range t.paths {
		list = append(list, p)
	}
	sort.Strings(list)
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(t.path, data)
}

func (t *trackedSet) add(path string)    { t.paths[path] = struct{}{} }
func (t *trackedSet) remove(path string) { delete(t.paths, path) }
func (t *trackedSet) contains(path string) bool {
	_, ok := t.paths[path]
	return ok
}
func (t *trackedSet) clear() { t.paths = map[string]struct{}{} }

// TrackedPaths returns the current tracked set, sorted.
func (r *Repo) TrackedPaths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := make([]string, 0, len(r.tracked.paths))
	for p := range r.tracked.paths {
		list = append(list, p)
	}
	sort.Strings(list)
	return list
}
