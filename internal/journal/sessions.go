package journal

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/agentsmithy/agentsmithy/internal/versioning"
)

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }

// SessionStore binds the sessions and dialog_branches tables to one dialog,
// implementing the ledger the versioning engine records into.
type SessionStore struct {
	db       *DB
	dialogID string
}

// Sessions returns the session ledger for the dialog.
func (d *DB) Sessions(dialogID string) *SessionStore {
	return &SessionStore{db: d, dialogID: dialogID}
}

var _ versioning.SessionStore = (*SessionStore)(nil)

// ActiveSession returns the dialog's active session, or nil when none exists.
func (s *SessionStore) ActiveSession(ctx context.Context) (*versioning.Session, error) {
	var sess versioning.Session
	var created, closed, approved sql.NullString
	var branchExists int
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT session_name, ref_name, status, created_at, closed_at, approved_commit,
		        checkpoints_count, branch_exists
		 FROM sessions WHERE dialog_id = ? AND status = 'active' ORDER BY id DESC LIMIT 1`,
		s.dialogID).
		Scan(&sess.Name, &sess.Ref, &sess.Status, &created, &closed, &approved,
			&sess.CheckpointsCount, &branchExists)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	if created.Valid {
		sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, created.String)
	}
	if closed.Valid {
		sess.ClosedAt, _ = time.Parse(time.RFC3339Nano, closed.String)
	}
	sess.ApprovedCommit = approved.String
	sess.BranchExists = branchExists != 0
	return &sess, nil
}

// CreateSession records a new active session.
func (s *SessionStore) CreateSession(ctx context.Context, name, ref string) error {
	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO sessions (dialog_id, session_name, ref_name, status) VALUES (?, ?, ?, 'active')
		 ON CONFLICT(dialog_id, session_name) DO UPDATE SET
		   ref_name = excluded.ref_name, status = 'active', closed_at = NULL`,
		s.dialogID, name, ref)
	return err
}

// CloseSession marks the named session merged or abandoned.
func (s *SessionStore) CloseSession(ctx context.Context, name, status, approvedCommit string) error {
	_, err := s.db.sql.ExecContext(ctx,
		`UPDATE sessions SET status = ?, approved_commit = NULLIF(?, ''),
		        closed_at = strftime('%Y-%m-%dT%H:%M:%fZ','now'), branch_exists = 0
		 WHERE dialog_id = ? AND session_name = ?`,
		status, approvedCommit, s.dialogID, name)
	return err
}

// IncrementCheckpoints bumps the named session's checkpoint counter.
func (s *SessionStore) IncrementCheckpoints(ctx context.Context, name string) error {
	_, err := s.db.sql.ExecContext(ctx,
		`UPDATE sessions SET checkpoints_count = checkpoints_count + 1
		 WHERE dialog_id = ? AND session_name = ?`, s.dialogID, name)
	return err
}

// UpdateBranch upserts the dialog's view of a branch head.
func (s *SessionStore) UpdateBranch(ctx context.Context, branchType, ref, head string, valid bool) error {
	v := 0
	if valid {
		v = 1
	}
	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO dialog_branches (dialog_id, branch_type, ref_name, head_commit, valid)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(dialog_id, branch_type) DO UPDATE SET
		   ref_name = excluded.ref_name, head_commit = excluded.head_commit, valid = excluded.valid`,
		s.dialogID, branchType, ref, head, v)
	return err
}
