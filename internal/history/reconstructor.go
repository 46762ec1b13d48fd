// Package history rebuilds the client-facing event stream of a dialog from
// the journal: messages interleaved with their reasoning blocks, tool calls
// and file edits, paginated over the visible-message cursor.
package history

import (
	"context"
	"log/slog"

	"github.com/agentsmithy/agentsmithy/internal/journal"
	"github.com/agentsmithy/agentsmithy/pkg/protocol"
)

// Event is one entry of the reconstructed stream. Only user and chat events
// carry Idx, the pagination cursor over visible messages.
type Event struct {
	Type       protocol.EventType `json:"type"`
	Idx        *int               `json:"idx,omitempty"`
	Content    string             `json:"content,omitempty"`
	ModelName  string             `json:"model_name,omitempty"`
	ID         string             `json:"id,omitempty"`
	Name       string             `json:"name,omitempty"`
	Args       map[string]any     `json:"args,omitempty"`
	File       string             `json:"file,omitempty"`
	Diff       string             `json:"diff,omitempty"`
	Checkpoint string             `json:"checkpoint,omitempty"`
}

// Page is one reconstructed history window.
type Page struct {
	DialogID    string  `json:"dialog_id"`
	Events      []Event `json:"events"`
	TotalEvents int     `json:"total_events"`
	HasMore     bool    `json:"has_more"`
	FirstIdx    int     `json:"first_idx"`
	LastIdx     int     `json:"last_idx"`
}

// Reconstructor reads one dialog's journal.
type Reconstructor struct {
	db  *journal.DB
	log *slog.Logger
}

// New returns a reconstructor over the given journal.
func New(db *journal.DB) *Reconstructor {
	return &Reconstructor{db: db, log: slog.With("component", "history")}
}

// DefaultLimit bounds a history page when the caller does not say otherwise.
const DefaultLimit = 20

// Page loads a window of the dialog's event stream. before, when set, is an
// exclusive upper bound on the visible-message cursor; nil loads the tail,
// which also surfaces orphan reasoning.
func (r *Reconstructor) Page(ctx context.Context, dialogID string, limit int, before *int) (Page, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	totalVisible, err := r.db.CountVisible(ctx, dialogID)
	if err != nil {
		return Page{}, err
	}

	var start int
	var end *int
	if before != nil {
		e := *before
		end = &e
		start = max(0, e-limit)
	} else {
		start = max(0, totalVisible-limit)
	}

	slice, err := r.db.Slice(ctx, dialogID, start, end)
	if err != nil {
		return Page{}, err
	}

	indices := make([]int, 0, len(slice))
	for _, sm := range slice {
		indices = append(indices, sm.Index)
	}

	reasoning, err := r.db.ReasoningForIndices(ctx, dialogID, indices)
	if err != nil {
		return Page{}, err
	}
	reasoningByIdx := map[int][]journal.ReasoningBlock{}
	for _, b := range reasoning {
		reasoningByIdx[b.MessageIndex] = append(reasoningByIdx[b.MessageIndex], b)
	}

	var orphans []journal.ReasoningBlock
	if before == nil {
		if orphans, err = r.db.OrphanReasoning(ctx, dialogID); err != nil {
			return Page{}, err
		}
	}

	edits, err := r.db.FileEditsForIndices(ctx, dialogID, indices)
	if err != nil {
		return Page{}, err
	}
	editsByIdx := map[int][]journal.FileEdit{}
	for _, e := range edits {
		editsByIdx[e.MessageIndex] = append(editsByIdx[e.MessageIndex], e)
	}

	events := buildStream(slice, start, reasoningByIdx, editsByIdx, orphans)

	total, err := r.totalEvents(ctx, dialogID)
	if err != nil {
		return Page{}, err
	}

	firstIdx, lastIdx := cursorBounds(events)
	return Page{
		DialogID:    dialogID,
		Events:      events,
		TotalEvents: total,
		HasMore:     start > 0,
		FirstIdx:    firstIdx,
		LastIdx:     lastIdx,
	}, nil
}

// buildStream walks the slice in order, emitting per message index in
// priority order. The walk is already sorted by (index, priority, sub-index).
func buildStream(
	slice []journal.StoredMessage,
	start int,
	reasoningByIdx map[int][]journal.ReasoningBlock,
	editsByIdx map[int][]journal.FileEdit,
	orphans []journal.ReasoningBlock,
) []Event {
	events := make([]Event, 0, len(slice))
	cursor := 0

	for _, sm := range slice {
		msg := sm.Msg
		if msg.Role == journal.RoleTool {
			continue
		}
		emptyAssistant := msg.Role == journal.RoleAssistant && msg.Content == ""

		for _, b := range reasoningByIdx[sm.Index] {
			events = append(events, Event{
				Type:      protocol.EventReasoning,
				Content:   b.Content,
				ModelName: b.ModelName,
			})
		}

		if !emptyAssistant {
			ev := Event{Content: msg.Content}
			switch msg.Role {
			case journal.RoleUser:
				ev.Type = protocol.EventUser
			case journal.RoleAssistant:
				ev.Type = protocol.EventChat
			default:
				ev.Type = protocol.EventType(msg.Role)
			}
			if ev.Type == protocol.EventUser || ev.Type == protocol.EventChat {
				idx := start + cursor
				cursor++
				ev.Idx = &idx
			}
			events = append(events, ev)
		}

		for _, tc := range msg.ToolCalls {
			events = append(events, Event{
				Type: protocol.EventToolCall,
				ID:   tc.ID,
				Name: tc.Name,
				Args: tc.Args,
			})
		}

		for _, e := range editsByIdx[sm.Index] {
			events = append(events, Event{
				Type:       protocol.EventFileEdit,
				File:       e.File,
				Diff:       e.Diff,
				Checkpoint: e.Checkpoint,
			})
		}
	}

	for _, b := range orphans {
		events = append(events, Event{
			Type:      protocol.EventReasoning,
			Content:   b.Content,
			ModelName: b.ModelName,
		})
	}
	return events
}

// totalEvents is the combined count of non-empty visible messages, tool
// calls, reasoning blocks and file edits across the whole dialog.
func (r *Reconstructor) totalEvents(ctx context.Context, dialogID string) (int, error) {
	all, err := r.db.All(ctx, dialogID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, sm := range all {
		if sm.Msg.Visible() {
			total++
		}
		total += len(sm.Msg.ToolCalls)
	}

	reasoning, err := r.db.ReasoningCount(ctx, dialogID)
	if err != nil {
		return 0, err
	}
	edits, err := r.db.FileEditCount(ctx, dialogID)
	if err != nil {
		return 0, err
	}
	return total + reasoning + edits, nil
}

func cursorBounds(events []Event) (first, last int) {
	seen := false
	for _, e := range events {
		if e.Idx == nil {
			continue
		}
		if !seen {
			first = *e.Idx
			seen = true
		}
		last = *e.Idx
	}
	return first, last
}
