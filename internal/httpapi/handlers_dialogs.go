package httpapi

import (
	"net/http"
	"strconv"

	"github.com/agentsmithy/agentsmithy/internal/history"
	"github.com/agentsmithy/agentsmithy/internal/project"
)

func dialogItem(m project.Meta) map[string]any {
	item := map[string]any{
		"id":         m.ID,
		"created_at": m.CreatedAt,
		"updated_at": m.UpdatedAt,
	}
	if m.Title != "" {
		item["title"] = m.Title
	}
	if m.ActiveSession != "" {
		item["active_session"] = m.ActiveSession
	}
	if m.LastApprovedAt != "" {
		item["last_approved_at"] = m.LastApprovedAt
	}
	if m.InitialCheckpoint != "" {
		item["initial_checkpoint"] = m.InitialCheckpoint
	}
	return item
}

func (s *Server) handleListDialogs(w http.ResponseWriter, r *http.Request) {
	metas, err := s.project.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	items := make([]map[string]any, 0, len(metas))
	for _, m := range metas {
		items = append(items, dialogItem(m))
	}
	resp := map[string]any{"dialogs": items}
	if cur := s.project.CurrentID(); cur != "" {
		resp["current_dialog_id"] = cur
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateDialog(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title      string `json:"title,omitempty"`
		SetCurrent bool   `json:"set_current"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	d, err := s.project.Create(r.Context(), req.Title, req.SetCurrent)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": d.ID})
}

func (s *Server) handleGetCurrent(w http.ResponseWriter, r *http.Request) {
	cur := s.project.CurrentID()
	if cur == "" {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	d, err := s.project.Dialog(r.Context(), cur)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": cur, "meta": dialogItem(d.Meta)})
}

func (s *Server) handleSetCurrent(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id query parameter is required")
		return
	}
	if err := s.project.SetCurrent(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleGetDialog(w http.ResponseWriter, r *http.Request) {
	d, err := s.project.Dialog(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dialogItem(d.Meta))
}

func (s *Server) handlePatchDialog(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Title != "" {
		if err := s.project.SetTitle(r.Context(), r.PathValue("id"), req.Title); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleDeleteDialog(w http.ResponseWriter, r *http.Request) {
	if err := s.project.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	d, err := s.project.Dialog(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	limit := history.DefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	var before *int
	if v := r.URL.Query().Get("before"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			before = &n
		}
	}

	page, err := history.New(d.DB).Page(r.Context(), d.ID, limit, before)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
