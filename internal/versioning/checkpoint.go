package versioning

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Checkpoint is the result of a snapshot request.
type Checkpoint struct {
	CommitID  string    `json:"commit_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	// Created is false when the workspace was already identical to the
	// session head and no new commit was written.
	Created bool `json:"created"`
}

// ensureActiveSession returns the active session, creating session_1 (pointing
// at main, normally unset for a fresh dialog) when none exists.
func (r *Repo) ensureActiveSession(ctx context.Context) (*Session, error) {
	sess, err := r.sessions.ActiveSession(ctx)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}
	const name = "session_1"
	ref := "refs/heads/" + name
	mainHead, err := r.readRef("refs/heads/main")
	if err != nil {
		return nil, err
	}
	if mainHead != "" {
		if err := r.updateRef(ref, mainHead); err != nil {
			return nil, err
		}
	}
	if err := r.sessions.CreateSession(ctx, name, ref); err != nil {
		return nil, err
	}
	if err := r.sessions.UpdateBranch(ctx, "session", ref, mainHead, true); err != nil {
		return nil, err
	}
	return &Session{Name: name, Ref: ref, Status: "active", CreatedAt: time.Now().UTC()}, nil
}

// ActiveSessionName returns the name of the active session, creating the
// initial one on first use.
func (r *Repo) ActiveSessionName(ctx context.Context) (string, error) {
	sess, err := r.ensureActiveSession(ctx)
	if err != nil {
		return "", err
	}
	return sess.Name, nil
}

// CreateCheckpoint snapshots the workspace onto the active session branch.
// When nothing changed since the session head, the head commit is returned
// with Created=false.
func (r *Repo) CreateCheckpoint(ctx context.Context, message string) (*Checkpoint, error) {
	sess, err := r.ensureActiveSession(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.txn != nil {
		return nil, fmt.Errorf("create checkpoint: edit transaction still open")
	}

	head, err := r.readRef(sess.Ref)
	if err != nil {
		return nil, err
	}

	if err := r.refreshStagingLocked(head); err != nil {
		return nil, err
	}

	// Effective tree: session head overlaid with staging.
	flat, err := r.flattenCommit(head)
	if err != nil {
		return nil, err
	}
	for path, e := range r.staging.entries {
		if e.Deleted {
			delete(flat, path)
			continue
		}
		flat[path] = flatEntry{Hash: e.Hash, Mode: modeFile}
	}

	treeHash, err := r.writeTree(flat)
	if err != nil {
		return nil, err
	}

	if head != "" {
		parent, err := r.getCommit(head)
		if err != nil {
			return nil, err
		}
		if parent.Tree == treeHash {
			return &Checkpoint{CommitID: head, Message: parent.Message, Timestamp: parent.Timestamp}, nil
		}
	}

	now := time.Now().UTC()
	commit := &Commit{Tree: treeHash, Author: authorName, Message: message, Timestamp: now}
	if head != "" {
		commit.Parents = []string{head}
	}
	commitID, err := r.putObject(kindCommit, encodeCommit(commit))
	if err != nil {
		return nil, err
	}
	if err := r.updateRef(sess.Ref, commitID); err != nil {
		return nil, err
	}

	// Agent-staged paths join the tracked set; agent deletions leave it.
	for path, e := range r.staging.entries {
		if !e.Agent {
			continue
		}
		if e.Deleted {
			r.tracked.remove(path)
		} else {
			r.tracked.add(path)
		}
	}
	if err := r.tracked.save(); err != nil {
		return nil, err
	}

	r.staging.clear()
	if err := r.staging.save(); err != nil {
		return nil, err
	}

	if err := r.sessions.IncrementCheckpoints(ctx, sess.Name); err != nil {
		r.log.Warn("checkpoint count update failed", "session", sess.Name, "error", err)
	}
	if err := r.sessions.UpdateBranch(ctx, "session", sess.Ref, commitID, true); err != nil {
		r.log.Warn("branch head update failed", "ref", sess.Ref, "error", err)
	}

	r.log.Info("checkpoint created", "commit", commitID[:8], "session", sess.Name, "message", message)
	return &Checkpoint{CommitID: commitID, Message: message, Timestamp: now, Created: true}, nil
}

// refreshStagingLocked stages content changes for files the repo already
// knows about (session head, tracked set, or staged), so user edits to those
// files are captured by the next checkpoint. New user files are not adopted.
func (r *Repo) refreshStagingLocked(head string) error {
	known, err := r.flattenCommit(head)
	if err != nil {
		return err
	}

	disk, err := r.scanWorkspace()
	if err != nil {
		return err
	}

	for path, entry := range known {
		if e, staged := r.staging.entries[path]; staged && (e.Deleted || e.Hash != "") {
			continue // explicit staging wins
		}
		if _, onDisk := disk[path]; !onDisk {
			r.staging.set(path, stagedEntry{Deleted: true})
			continue
		}
		content, err := os.ReadFile(r.absPath(path))
		if err != nil {
			continue
		}
		if hashObject(kindBlob, content) == entry.Hash {
			continue
		}
		hash, err := r.putBlob(content)
		if err != nil {
			return err
		}
		r.staging.set(path, stagedEntry{Hash: hash})
	}
	return r.staging.save()
}

// ListCheckpoints returns the active session's commits in chronological order,
// excluding commits already on main.
func (r *Repo) ListCheckpoints(ctx context.Context) ([]Checkpoint, error) {
	sess, err := r.ensureActiveSession(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	head, err := r.readRef(sess.Ref)
	if err != nil {
		return nil, err
	}
	mainHead, err := r.readRef("refs/heads/main")
	if err != nil {
		return nil, err
	}

	var out []Checkpoint
	for cur := head; cur != "" && cur != mainHead; {
		c, err := r.getCommit(cur)
		if err != nil {
			return nil, err
		}
		out = append(out, Checkpoint{CommitID: c.Hash, Message: c.Message, Timestamp: c.Timestamp, Created: true})
		if len(c.Parents) == 0 {
			break
		}
		cur = c.Parents[0]
	}
	// Walk yielded newest-first; flip to chronological.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// countCommitsBetween counts first-parent commits reachable from `to` down to
// (but excluding) `from`.
func (r *Repo) countCommitsBetween(from, to string) (int, error) {
	n := 0
	for cur := to; cur != "" && cur != from; {
		c, err := r.getCommit(cur)
		if err != nil {
			return 0, err
		}
		n++
		if len(c.Parents) == 0 {
			break
		}
		cur = c.Parents[0]
	}
	return n, nil
}

// HasUncommittedChanges reports whether the workspace or staging differs from
// the session head tree for any path the repo knows about.
func (r *Repo) HasUncommittedChanges(ctx context.Context) (bool, error) {
	sess, err := r.ensureActiveSession(ctx)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	head, err := r.readRef(sess.Ref)
	if err != nil {
		return false, err
	}
	if differs, err := r.stagingDiffersLocked(head); err != nil || differs {
		return differs, err
	}

	known, err := r.flattenCommit(head)
	if err != nil {
		return false, err
	}
	for path, entry := range known {
		content, err := os.ReadFile(r.absPath(path))
		if err != nil {
			if os.IsNotExist(err) {
				return true, nil
			}
			continue
		}
		if hashObject(kindBlob, content) != entry.Hash {
			return true, nil
		}
	}
	return false, nil
}
