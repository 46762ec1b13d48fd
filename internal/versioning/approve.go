package versioning

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// ApproveResult is the outcome of ApproveAll.
type ApproveResult struct {
	ApprovedCommit  string `json:"approved_commit"`
	NewSession      string `json:"new_session"`
	CommitsApproved int    `json:"commits_approved"`
}

// ResetResult is the outcome of ResetToApproved.
type ResetResult struct {
	ResetTo            string `json:"reset_to"`
	NewSession         string `json:"new_session"`
	PreResetCheckpoint string `json:"pre_reset_checkpoint,omitempty"`
}

// ApproveAll fast-forwards main to the active session head and opens the next
// session. Dirty staging or workspace changes are checkpointed first so the
// approval covers everything the user sees on disk.
func (r *Repo) ApproveAll(ctx context.Context, message string) (*ApproveResult, error) {
	sess, err := r.ensureActiveSession(ctx)
	if err != nil {
		return nil, err
	}

	dirty, err := r.HasUncommittedChanges(ctx)
	if err != nil {
		return nil, err
	}
	if dirty {
		msg := message
		if msg == "" {
			msg = "Approve: auto-commit pending changes"
		}
		if _, err := r.CreateCheckpoint(ctx, msg); err != nil {
			return nil, err
		}
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

	approved := head
	if approved == "" {
		// Nothing ever committed in this session: approving is a no-op on
		// main but still rotates the session.
		approved = mainHead
	}

	count := 0
	if head != "" && head != mainHead {
		if count, err = r.countCommitsBetween(mainHead, head); err != nil {
			return nil, err
		}
		if err := r.updateRef("refs/heads/main", head); err != nil {
			return nil, err
		}
		if err := r.sessions.UpdateBranch(ctx, "main", "refs/heads/main", head, true); err != nil {
			r.log.Warn("main branch row update failed", "error", err)
		}
	}

	if err := r.sessions.CloseSession(ctx, sess.Name, "merged", approved); err != nil {
		return nil, err
	}

	next, err := r.openNextSessionLocked(ctx, sess.Name, approved)
	if err != nil {
		return nil, err
	}

	r.tracked.clear()
	if err := r.tracked.save(); err != nil {
		return nil, err
	}
	r.staging.clear()
	if err := r.staging.save(); err != nil {
		return nil, err
	}

	r.log.Info("session approved", "session", sess.Name, "commit", shortID(approved), "commits", count, "next", next)
	return &ApproveResult{ApprovedCommit: approved, NewSession: next, CommitsApproved: count}, nil
}

// ResetToApproved abandons the active session and opens a new one at main.
// Pending work is auto-saved on the abandoned session first so nothing is
// silently lost; the caller then calls RestoreToMain to realize main's tree.
func (r *Repo) ResetToApproved(ctx context.Context) (*ResetResult, error) {
	sess, err := r.ensureActiveSession(ctx)
	if err != nil {
		return nil, err
	}

	preReset := ""
	dirty, err := r.HasUncommittedChanges(ctx)
	if err != nil {
		return nil, err
	}
	if dirty {
		cp, err := r.CreateCheckpoint(ctx, "Auto-save before reset")
		if err != nil {
			return nil, err
		}
		preReset = cp.CommitID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	mainHead, err := r.readRef("refs/heads/main")
	if err != nil {
		return nil, err
	}

	if err := r.sessions.CloseSession(ctx, sess.Name, "abandoned", ""); err != nil {
		return nil, err
	}
	next, err := r.openNextSessionLocked(ctx, sess.Name, mainHead)
	if err != nil {
		return nil, err
	}

	r.staging.clear()
	if err := r.staging.save(); err != nil {
		return nil, err
	}

	r.log.Info("session reset", "abandoned", sess.Name, "main", shortID(mainHead), "next", next)
	return &ResetResult{ResetTo: mainHead, NewSession: next, PreResetCheckpoint: preReset}, nil
}

// openNextSessionLocked allocates session_{N+1}, points its ref at base, and
// records the new rows.
func (r *Repo) openNextSessionLocked(ctx context.Context, current, base string) (string, error) {
	n := 0
	if rest, ok := strings.CutPrefix(current, "session_"); ok {
		if v, err := strconv.Atoi(rest); err == nil {
			n = v
		}
	}
	name := fmt.Sprintf("session_%d", n+1)
	ref := "refs/heads/" + name
	if base != "" {
		if err := r.updateRef(ref, base); err != nil {
			return "", err
		}
	}
	if err := r.sessions.CreateSession(ctx, name, ref); err != nil {
		return "", err
	}
	if err := r.sessions.UpdateBranch(ctx, "session", ref, base, true); err != nil {
		r.log.Warn("session branch row update failed", "ref", ref, "error", err)
	}
	return name, nil
}

// SessionStatus summarizes the active session against main.
type SessionStatus struct {
	ActiveSession string        `json:"active_session,omitempty"`
	SessionRef    string        `json:"session_ref,omitempty"`
	HasUnapproved bool          `json:"has_unapproved"`
	ChangedFiles  []ChangedFile `json:"changed_files"`
}

// Status reports whether the session carries unapproved work and the file-level
// delta between main and the session's effective tree (head overlaid with
// staging), including real diffs when includeDiff is set.
func (r *Repo) Status(ctx context.Context, includeDiff bool) (*SessionStatus, error) {
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

	mainFlat, err := r.flattenCommit(mainHead)
	if err != nil {
		return nil, err
	}
	effective, err := r.flattenCommit(head)
	if err != nil {
		return nil, err
	}
	for path, e := range r.staging.entries {
		if e.Deleted {
			delete(effective, path)
			continue
		}
		effective[path] = flatEntry{Hash: e.Hash, Mode: modeFile}
	}

	changed, err := r.diffFlatLocked(mainFlat, effective, includeDiff)
	if err != nil {
		return nil, err
	}

	return &SessionStatus{
		ActiveSession: sess.Name,
		SessionRef:    sess.Ref,
		HasUnapproved: len(changed) > 0,
		ChangedFiles:  changed,
	}, nil
}
