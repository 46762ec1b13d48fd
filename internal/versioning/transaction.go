package versioning

import (
	"fmt"
	"os"
	"path/filepath"
)

// transaction holds pre-image snapshots for a bracketed edit so a failure
// mid-write can be rolled back.
type transaction struct {
	// preImages maps normalized rel path → blob hash of the content before
	// the edit. A missing key in snapshots with present=false means the file
	// did not exist and must be removed on abort.
	preImages map[string]preImage
	// changes deferred to the transaction boundary: path → op.
	changes map[string]string // op: write | delete
}

type preImage struct {
	Hash    string
	Present bool
}

// StartEdit begins a best-effort transaction over the given paths, snapshotting
// their current content. Nested StartEdit calls replace the previous snapshot.
func (r *Repo) StartEdit(paths []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	txn := &transaction{
		preImages: map[string]preImage{},
		changes:   map[string]string{},
	}
	for _, p := range paths {
		rel, err := r.normalizePath(p)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(r.absPath(rel))
		if err != nil {
			if os.IsNotExist(err) {
				txn.preImages[rel] = preImage{Present: false}
				continue
			}
			return fmt.Errorf("snapshot %s: %w", rel, err)
		}
		hash, err := r.putBlob(content)
		if err != nil {
			return err
		}
		txn.preImages[rel] = preImage{Hash: hash, Present: true}
	}
	r.txn = txn
	return nil
}

// InTransaction reports whether an edit bracket is open.
func (r *Repo) InTransaction() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.txn != nil
}

// TrackFileChange records a change made inside the open transaction. Staging
// is deferred until FinalizeEdit so an abort never leaves half-staged state.
func (r *Repo) TrackFileChange(path, op string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.txn == nil {
		return fmt.Errorf("track file change: no open transaction")
	}
	rel, err := r.normalizePath(path)
	if err != nil {
		return err
	}
	if op != "delete" {
		op = "write"
	}
	r.txn.changes[rel] = op
	return nil
}

// AbortEdit restores the pre-image content of every path recorded by StartEdit
// and drops deferred changes. Restoration is best-effort; failures are logged.
func (r *Repo) AbortEdit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	txn := r.txn
	r.txn = nil
	if txn == nil {
		return
	}
	for rel, pre := range txn.preImages {
		abs := r.absPath(rel)
		if !pre.Present {
			if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
				r.log.Warn("abort edit: remove failed", "path", rel, "error", err)
			}
			continue
		}
		content, err := r.getBlob(pre.Hash)
		if err != nil {
			r.log.Warn("abort edit: pre-image missing", "path", rel, "error", err)
			continue
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			r.log.Warn("abort edit: mkdir failed", "path", rel, "error", err)
			continue
		}
		if err := os.WriteFile(abs, content, 0o644); err != nil {
			r.log.Warn("abort edit: restore failed", "path", rel, "error", err)
		}
	}
}

// FinalizeEdit applies the deferred changes to staging and discards the
// rollback snapshot.
func (r *Repo) FinalizeEdit() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	txn := r.txn
	r.txn = nil
	if txn == nil {
		return nil
	}
	for rel, op := range txn.changes {
		if op == "delete" {
			r.staging.set(rel, stagedEntry{Deleted: true, Agent: true})
			continue
		}
		if err := r.stageFileLocked(rel, true); err != nil {
			return err
		}
	}
	return r.staging.save()
}
