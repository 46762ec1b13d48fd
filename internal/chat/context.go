package chat

import (
	"context"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/agentsmithy/agentsmithy/internal/journal"
	"github.com/agentsmithy/agentsmithy/internal/project"
	"github.com/agentsmithy/agentsmithy/internal/providers"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// defaultSystemPrompt is used when the config does not provide one.
const defaultSystemPrompt = "You are a coding assistant working inside the user's project. " +
	"Use the available tools to read, search, and modify files. Prefer small, " +
	"reviewable edits. When you change a file, explain what you changed and why."

// assembleContext builds the system prompt and the provider conversation for
// this turn: summary-aware history tail, retrieval snippets, caller context.
func (s *Service) assembleContext(ctx context.Context, d *project.Dialog, req Request) (string, []providers.Message, error) {
	system := s.agentCfg.SystemPrompt
	if system == "" {
		system = defaultSystemPrompt
	}
	if d.Meta.Title != "" {
		system += "\n\nDialog title: " + d.Meta.Title
	}

	msgs, err := d.DB.All(ctx, d.ID)
	if err != nil {
		return "", nil, fmt.Errorf("load history: %w", err)
	}

	// A stored summary replaces the prefix it covers; only the tail stays in
	// the window.
	if summary, ok, err := d.DB.LatestSummary(ctx, d.ID); err != nil {
		s.log.Warn("failed to load summary", "dialog", d.ID, "error", err)
	} else if ok {
		system += "\n\nSummary of the earlier conversation:\n" + summary.SummaryText
		tail := msgs[:0:0]
		for _, m := range msgs {
			if m.Index >= summary.CutoffMessageIndex {
				tail = append(tail, m)
			}
		}
		msgs = tail
	}

	if snippets, err := s.rag.Query(ctx, req.Query, s.ragMax); err != nil {
		s.log.Warn("rag query failed", "dialog", d.ID, "error", err)
	} else if len(snippets) > 0 {
		var sb strings.Builder
		sb.WriteString("\n\nRelevant workspace files:\n")
		for _, sn := range snippets {
			sb.WriteString("--- ")
			sb.WriteString(sn.Path)
			sb.WriteString(" ---\n")
			sb.WriteString(sn.Content)
			sb.WriteString("\n")
		}
		system += sb.String()
	}

	if len(req.Context) > 0 {
		if extra, err := json.Marshal(req.Context); err == nil {
			system += "\n\nAdditional context from the client:\n" + string(extra)
		}
	}

	return system, toConversation(msgs), nil
}

// toConversation maps journal rows onto the provider message shape. Tool
// rows carry the slim envelope as their content.
func toConversation(msgs []journal.StoredMessage) []providers.Message {
	out := make([]providers.Message, 0, len(msgs))
	for _, sm := range msgs {
		m := sm.Msg
		switch m.Role {
		case journal.RoleUser:
			out = append(out, providers.Message{Role: "user", Content: m.Content})

		case journal.RoleAssistant:
			pm := providers.Message{Role: "assistant", Content: m.Content}
			for _, tc := range m.ToolCalls {
				pm.ToolCalls = append(pm.ToolCalls, providers.ToolCall{
					ID: tc.ID, Name: tc.Name, Arguments: tc.Args,
				})
			}
			out = append(out, pm)

		case journal.RoleTool:
			content := m.Content
			if len(m.Envelope) > 0 {
				content = string(m.Envelope)
			}
			out = append(out, providers.Message{
				Role: "tool", Content: content, ToolCallID: m.ToolCallID,
			})
		}
	}
	return out
}
