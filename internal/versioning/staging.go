package versioning

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// stagedEntry is one pending change in the staging area.
type stagedEntry struct {
	Hash    string `json:"hash,omitempty"` // blob id; empty for deletions
	Deleted bool   `json:"deleted,omitempty"`
	// Agent marks entries staged explicitly by a tool, as opposed to the
	// checkpoint scan refreshing files the repo already knows. Only agent
	// entries feed the tracked-paths set.
	Agent bool `json:"agent,omitempty"`
}

type stagingArea struct {
	path    string
	entries map[string]stagedEntry // normalized rel path → entry
}

func loadStaging(path string) (*stagingArea, error) {
	s := &stagingArea{path: path, entries: map[string]stagedEntry{}}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("load staging: %w", err)
	}
	if err := json.Unmarshal(data, &s.entries); err != nil {
		return nil, fmt.Errorf("parse staging: %w", err)
	}
	return s, nil
}

func (s *stagingArea) save() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(s.path, data)
}

func (s *stagingArea) set(path string, e stagedEntry) {
	s.entries[path] = e
}

func (s *stagingArea) clear() {
	s.entries = map[string]stagedEntry{}
}

func (s *stagingArea) paths() []string {
	out := make([]string, 0, len(s.entries))
	for p := range s.entries {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// StageFile hashes the file's current on-disk bytes into a blob and records it
// in the staging area. Paths may be absolute or workspace-relative.
func (r *Repo) StageFile(path string) error {
	return r.stageFile(path, true)
}

func (r *Repo) stageFile(path string, agent bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stageFileLocked(path, agent)
}

func (r *Repo) stageFileLocked(path string, agent bool) error {
	rel, err := r.normalizePath(path)
	if err != nil {
		return err
	}
	content, err := os.ReadFile(r.absPath(rel))
	if err != nil {
		return fmt.Errorf("stage %s: %w", rel, err)
	}
	hash, err := r.putBlob(content)
	if err != nil {
		return err
	}
	prev := r.staging.entries[rel]
	r.staging.set(rel, stagedEntry{Hash: hash, Agent: agent || prev.Agent})
	return r.staging.save()
}

// StageDeletion records an explicit deletion of a workspace path.
func (r *Repo) StageDeletion(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rel, err := r.normalizePath(path)
	if err != nil {
		return err
	}
	r.staging.set(rel, stagedEntry{Deleted: true, Agent: true})
	return r.staging.save()
}

// ClearStaging resets staging to match the current session head.
func (r *Repo) ClearStaging() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.staging.clear()
	return r.staging.save()
}

// HasStagedChanges reports whether staging differs from the session head tree.
func (r *Repo) HasStagedChanges(head string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stagingDiffersLocked(head)
}

func (r *Repo) stagingDiffersLocked(head string) (bool, error) {
	if len(r.staging.entries) == 0 {
		return false, nil
	}
	base, err := r.flattenCommit(head)
	if err != nil {
		return false, err
	}
	for path, e := range r.staging.entries {
		cur, ok := base[path]
		if e.Deleted {
			if ok {
				return true, nil
			}
			continue
		}
		if !ok || cur.Hash != e.Hash {
			return true, nil
		}
	}
	return false, nil
}

// StagedFile describes one staged change relative to the session head.
type StagedFile struct {
	Path   string `json:"path"`
	Status string `json:"status"` // added | modified | deleted
}

// StagedFiles lists staging relative to the given session head commit.
func (r *Repo) StagedFiles(head string) ([]StagedFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	base, err := r.flattenCommit(head)
	if err != nil {
		return nil, err
	}
	var out []StagedFile
	for _, path := range r.staging.paths() {
		e := r.staging.entries[path]
		cur, inBase := base[path]
		switch {
		case e.Deleted && inBase:
			out = append(out, StagedFile{Path: path, Status: "deleted"})
		case e.Deleted:
			// deleting a path the head never had: no visible change
		case !inBase:
			out = append(out, StagedFile{Path: path, Status: "added"})
		case cur.Hash != e.Hash:
			out = append(out, StagedFile{Path: path, Status: "modified"})
		}
	}
	return out, nil
}
