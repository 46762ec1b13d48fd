package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/agentsmithy/agentsmithy/internal/project"
)

// handleCheckpoints lists the dialog's commits on the active session.
func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	d, err := s.dialogWithRepo(w, r)
	if d == nil || err != nil {
		return
	}
	cps, err := d.Repo.ListCheckpoints(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	items := make([]map[string]any, 0, len(cps))
	for _, cp := range cps {
		items = append(items, map[string]any{
			"commit_id": cp.CommitID,
			"message":   cp.Message,
			"timestamp": cp.Timestamp,
		})
	}
	resp := map[string]any{"dialog_id": d.ID, "checkpoints": items}
	if d.Meta.InitialCheckpoint != "" {
		resp["initial_checkpoint"] = d.Meta.InitialCheckpoint
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRestore materializes a checkpoint's tree and snapshots the result.
func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	d, err := s.dialogWithRepo(w, r)
	if d == nil || err != nil {
		return
	}
	var req struct {
		CheckpointID string `json:"checkpoint_id"`
	}
	if err := decodeBody(r, &req); err != nil || req.CheckpointID == "" {
		writeError(w, http.StatusBadRequest, "checkpoint_id is required")
		return
	}
	if !d.Repo.CommitExists(req.CheckpointID) {
		writeError(w, http.StatusNotFound, "checkpoint not found: "+req.CheckpointID)
		return
	}

	if _, err := d.Repo.RestoreCheckpoint(r.Context(), req.CheckpointID); err != nil {
		writeDomainError(w, err)
		return
	}
	cp, err := d.Repo.CreateCheckpoint(r.Context(), "Restored to "+short(req.CheckpointID))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// The workspace content changed under the retrieval index.
	if s.tasks != nil {
		s.tasks.Go("rag-resync-"+d.ID, func(ctx context.Context) {
			if _, err := s.rag.Sync(ctx); err != nil {
				s.log.Warn("post-restore rag sync failed", "dialog", d.ID, "error", err)
			}
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"restored_to":    req.CheckpointID,
		"new_checkpoint": cp.CommitID,
	})
}

// handleApprove fast-forwards main to the session head.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	d, err := s.dialogWithRepo(w, r)
	if d == nil || err != nil {
		return
	}
	var req struct {
		Message string `json:"message,omitempty"`
	}
	_ = decodeBody(r, &req)

	result, err := d.Repo.ApproveAll(r.Context(), req.Message)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	err = s.project.SetSessionInfo(r.Context(), d.ID, result.NewSession,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		s.log.Warn("failed to update dialog metadata after approve", "dialog", d.ID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"approved_commit":  result.ApprovedCommit,
		"new_session":      result.NewSession,
		"commits_approved": result.CommitsApproved,
	})
}

// handleReset abandons the active session and rebuilds main's tree on disk.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	d, err := s.dialogWithRepo(w, r)
	if d == nil || err != nil {
		return
	}
	result, err := d.Repo.ResetToApproved(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	// The refs moved; now realize main's tree in the workspace.
	if _, err := d.Repo.RestoreToMain(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.project.SetSessionInfo(r.Context(), d.ID, result.NewSession, ""); err != nil {
		s.log.Warn("failed to update dialog metadata after reset", "dialog", d.ID, "error", err)
	}
	if s.tasks != nil {
		s.tasks.Go("rag-resync-"+d.ID, func(ctx context.Context) {
			_, _ = s.rag.Sync(ctx)
		})
	}

	resp := map[string]any{
		"reset_to":    result.ResetTo,
		"new_session": result.NewSession,
	}
	if result.PreResetCheckpoint != "" {
		resp["pre_reset_checkpoint"] = result.PreResetCheckpoint
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSession reports the approval-cycle state with real diffs.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	d, err := s.dialogWithRepo(w, r)
	if d == nil || err != nil {
		return
	}
	status, err := d.Repo.Status(r.Context(), true)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := map[string]any{
		"has_unapproved": status.HasUnapproved,
		"changed_files":  status.ChangedFiles,
	}
	if status.ActiveSession != "" {
		resp["active_session"] = status.ActiveSession
	}
	if status.SessionRef != "" {
		resp["session_ref"] = status.SessionRef
	}
	if d.Meta.LastApprovedAt != "" {
		resp["last_approved_at"] = d.Meta.LastApprovedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// dialogWithRepo loads the dialog and rejects ones without a versioning
// repo (the inspector). Writes the error response itself.
func (s *Server) dialogWithRepo(w http.ResponseWriter, r *http.Request) (*project.Dialog, error) {
	d, err := s.project.Dialog(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return nil, err
	}
	if d.Repo == nil {
		writeError(w, http.StatusBadRequest, "dialog has no versioning repository")
		return nil, nil
	}
	return d, nil
}
