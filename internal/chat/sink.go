package chat

import (
	"context"
	"strings"

	"github.com/agentsmithy/agentsmithy/internal/project"
	"github.com/agentsmithy/agentsmithy/internal/tools"
	"github.com/agentsmithy/agentsmithy/pkg/protocol"
)

// turnSink sits between the loop and the client. It forwards every event
// and maintains the two turn buffers: assistant text (flushed once at turn
// end) and reasoning text (flushed at each reasoning_end boundary, tagged
// with the index the next persisted message will get).
type turnSink struct {
	ctx    context.Context
	svc    *Service
	dialog *project.Dialog
	emit   func(protocol.Event) error
	model  string

	// toolCtx is the turn's tool context; the loop keeps its MessageIndex
	// pointed at the assistant message declaring the in-flight tool calls.
	toolCtx *tools.ToolContext

	assistant strings.Builder
	reasoning strings.Builder
}

func (t *turnSink) send(ev protocol.Event) error {
	switch ev.Type {
	case protocol.EventChat:
		t.assistant.WriteString(ev.Content)
	case protocol.EventReasoning:
		t.reasoning.WriteString(ev.Content)
	case protocol.EventReasoningEnd:
		t.flushReasoning(t.ctx)
	case protocol.EventFileEdit:
		t.recordFileEdit(ev)
	}
	return t.emit(ev)
}

func (t *turnSink) assistantText() string { return t.assistant.String() }

// flushReasoning writes the buffered reasoning as a row attached to the next
// message index. Safe to call again at turn end for a dangling buffer.
func (t *turnSink) flushReasoning(ctx context.Context) {
	content := t.reasoning.String()
	if strings.TrimSpace(content) == "" {
		return
	}
	t.reasoning.Reset()

	ctx = context.WithoutCancel(ctx)
	idx, err := t.dialog.DB.MessageCount(ctx, t.dialog.ID)
	if err != nil {
		idx = -1
	}
	if err := t.dialog.DB.AddReasoning(ctx, t.dialog.ID, content, t.model, idx); err != nil {
		t.svc.log.Warn("failed to journal reasoning", "dialog", t.dialog.ID, "error", err)
	}
}

// recordFileEdit journals a file_edit event keyed to the assistant message
// that declared the editing tool call, so history reconstruction surfaces
// the edit next to that message.
func (t *turnSink) recordFileEdit(ev protocol.Event) {
	ctx := context.WithoutCancel(t.ctx)
	idx := -1
	if t.toolCtx != nil {
		idx = t.toolCtx.MessageIndex
	}
	if idx < 0 {
		// No assistant row for this batch; key at the next journal index.
		if n, err := t.dialog.DB.MessageCount(ctx, t.dialog.ID); err == nil {
			idx = n
		}
	}
	err := t.dialog.DB.AddFileEdit(ctx, t.dialog.ID, ev.File, ev.Diff, ev.Checkpoint, idx)
	if err != nil {
		t.svc.log.Warn("failed to journal file edit", "dialog", t.dialog.ID, "file", ev.File, "error", err)
	}
}
