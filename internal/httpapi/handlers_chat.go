package httpapi

import (
	"net/http"

	"github.com/agentsmithy/agentsmithy/internal/chat"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages []chatMessage  `json:"messages"`
	Context  map[string]any `json:"context,omitempty"`
	Stream   bool           `json:"stream"`
	DialogID string         `json:"dialog_id,omitempty"`
}

// handleChat runs one turn against the target dialog, streaming over SSE
// unless the client asked for a single JSON response.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	query := lastUserMessage(req.Messages)
	if query == "" {
		writeError(w, http.StatusBadRequest, "messages must contain a user message")
		return
	}

	dialogID := req.DialogID
	if dialogID == "" {
		dialogID = s.project.CurrentID()
	}
	if dialogID == "" {
		d, err := s.project.Create(r.Context(), "", true)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		dialogID = d.ID
	}

	turn := chat.Request{DialogID: dialogID, Query: query, Context: req.Context}

	if !req.Stream {
		result, err := s.chat.Chat(r.Context(), turn)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"content": result.Content,
			"done":    true,
			"metadata": map[string]any{
				"dialog_id":  dialogID,
				"checkpoint": result.Checkpoint,
				"session":    result.Session,
			},
		})
		return
	}

	stream, err := newSSEStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer stream.Finish()

	if err := s.chat.StreamChat(r.Context(), turn, stream.Send); err != nil {
		s.log.Warn("stream turn failed", "dialog", dialogID, "error", err)
	}
}

func lastUserMessage(msgs []chatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" && msgs[i].Content != "" {
			return msgs[i].Content
		}
	}
	return ""
}
