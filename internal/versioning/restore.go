package versioning

import (
	"context"
	"os"
	"path/filepath"
)

// RestoreCheckpoint materializes the target commit's tree in the workspace.
// Files present in the target are overwritten from blobs. Files absent from
// the target are deleted only when the tracked-paths set owns them; user files
// outside the set are never touched. Writes are best-effort: paths that fail
// (OS locks, permissions) are logged and skipped.
//
// Returns the normalized paths that were written or deleted.
func (r *Repo) RestoreCheckpoint(ctx context.Context, commitID string) ([]string, error) {
	sess, err := r.ensureActiveSession(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	target, err := r.resolve(commitID)
	if err != nil {
		return nil, err
	}
	targetFlat := map[string]flatEntry{}
	if target != "" {
		if targetFlat, err = r.flattenCommit(target); err != nil {
			return nil, err
		}
	}

	head, err := r.readRef(sess.Ref)
	if err != nil {
		return nil, err
	}
	headFlat, err := r.flattenCommit(head)
	if err != nil {
		return nil, err
	}

	// Candidate set for deletion: everything the session knows plus the
	// tracked set itself.
	pre := map[string]struct{}{}
	for p := range headFlat {
		pre[p] = struct{}{}
	}
	for p := range r.tracked.paths {
		pre[p] = struct{}{}
	}

	var touched []string

	for path, entry := range targetFlat {
		content, err := r.getBlob(entry.Hash)
		if err != nil {
			r.log.Warn("restore: blob missing", "path", path, "error", err)
			continue
		}
		abs := r.absPath(path)
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			r.log.Warn("restore: mkdir failed", "path", path, "error", err)
			continue
		}
		perm := os.FileMode(0o644)
		if entry.Mode == modeExec {
			perm = 0o755
		}
		if err := os.WriteFile(abs, content, perm); err != nil {
			r.log.Warn("restore: write failed", "path", path, "error", err)
			continue
		}
		touched = append(touched, path)
	}

	for path := range pre {
		if _, inTarget := targetFlat[path]; inTarget {
			continue
		}
		if !r.tracked.contains(path) {
			continue // user-owned file, preserve
		}
		if err := os.Remove(r.absPath(path)); err != nil {
			if !os.IsNotExist(err) {
				r.log.Warn("restore: delete failed", "path", path, "error", err)
				continue
			}
		}
		r.tracked.remove(path)
		touched = append(touched, path)
	}
	if err := r.tracked.save(); err != nil {
		return touched, err
	}

	r.staging.clear()
	if err := r.staging.save(); err != nil {
		return touched, err
	}

	r.log.Info("checkpoint restored", "target", shortID(target), "paths", len(touched))
	return touched, nil
}

// RestoreToMain realizes main's tree on disk. An unset main ref means an
// empty baseline: only tracked files are deleted.
func (r *Repo) RestoreToMain(ctx context.Context) ([]string, error) {
	mainHead, err := r.readRef("refs/heads/main")
	if err != nil {
		return nil, err
	}
	if mainHead == "" {
		return r.restoreEmpty(ctx)
	}
	return r.RestoreCheckpoint(ctx, mainHead)
}

func (r *Repo) restoreEmpty(ctx context.Context) ([]string, error) {
	if _, err := r.ensureActiveSession(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var touched []string
	for path := range r.tracked.paths {
		if err := os.Remove(r.absPath(path)); err != nil && !os.IsNotExist(err) {
			r.log.Warn("restore: delete failed", "path", path, "error", err)
			continue
		}
		touched = append(touched, path)
	}
	r.tracked.clear()
	if err := r.tracked.save(); err != nil {
		return touched, err
	}
	r.staging.clear()
	return touched, r.staging.save()
}

// CommitExists reports whether the revision resolves to a commit in the store.
func (r *Repo) CommitExists(rev string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, err := r.resolve(rev)
	if err != nil || id == "" {
		return false
	}
	_, err = r.getCommit(id)
	return err == nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
