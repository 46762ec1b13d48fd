package journal

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Message roles in the dialog log.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleSystem    = "system"
)

// ToolCall is one tool invocation declared by an assistant message. Args are
// the parsed arguments, provider quirks already normalized away.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Message is the provider-independent on-disk message schema.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// Tool-result messages: the originating call and the slim envelope.
	ToolCallID string              `json:"tool_call_id,omitempty"`
	Envelope   jsoniter.RawMessage `json:"envelope,omitempty"`

	// User messages: versioning coordinates captured before the turn.
	Checkpoint string `json:"checkpoint,omitempty"`
	Session    string `json:"session,omitempty"`
}

// carrier marks assistant rows with no content that exist only to hold
// tool_calls; they are invisible to pagination but their calls still surface.
func (m Message) isCarrier() bool {
	return m.Role == RoleAssistant && m.Content == "" && len(m.ToolCalls) > 0
}

// Visible reports whether the message participates in the client-facing
// message cursor.
func (m Message) Visible() bool {
	if m.Role == RoleTool {
		return false
	}
	if m.Role == RoleAssistant && m.Content == "" {
		return false
	}
	return true
}

// StoredMessage pairs a message with its position in the dialog's full log
// (the index reasoning and file edits key on) and its row id.
type StoredMessage struct {
	Msg   Message
	Index int
	ID    int64
}

// Append writes the message to the end of the dialog's log and returns its
// index in the full log.
func (d *DB) Append(ctx context.Context, dialogID string, msg Message) (int, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("encode message: %w", err)
	}
	carrier := 0
	if msg.isCarrier() {
		carrier = 1
	}
	visible := 0
	if msg.Visible() {
		visible = 1
	}

	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (dialog_id, role, carrier, visible, payload) VALUES (?, ?, ?, ?, ?)`,
		dialogID, msg.Role, carrier, visible, string(payload),
	); err != nil {
		return 0, fmt.Errorf("append message: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE dialog_id = ?`, dialogID,
	).Scan(&count); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count - 1, nil
}

// MessageCount returns the number of rows in the dialog's full log.
func (d *DB) MessageCount(ctx context.Context, dialogID string) (int, error) {
	var n int
	err := d.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE dialog_id = ?`, dialogID).Scan(&n)
	return n, err
}

// CountVisible counts messages participating in the client-facing cursor:
// everything except tool results and empty-assistant carriers.
func (d *DB) CountVisible(ctx context.Context, dialogID string) (int, error) {
	var n int
	err := d.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE dialog_id = ? AND visible = 1`,
		dialogID).Scan(&n)
	return n, err
}

// All returns the dialog's full log in insertion order.
func (d *DB) All(ctx context.Context, dialogID string) ([]StoredMessage, error) {
	rows, err := d.sql.QueryContext(ctx,
		`SELECT id, payload FROM messages WHERE dialog_id = ? ORDER BY id`, dialogID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredMessage
	idx := 0
	for rows.Next() {
		var id int64
		var payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		var msg Message
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return nil, fmt.Errorf("decode message %d: %w", id, err)
		}
		out = append(out, StoredMessage{Msg: msg, Index: idx, ID: id})
		idx++
	}
	return out, rows.Err()
}

// MessagesAfter returns messages with full-log index > afterIndex, in order.
// Used for summary-aware context loads.
func (d *DB) MessagesAfter(ctx context.Context, dialogID string, afterIndex int) ([]StoredMessage, error) {
	all, err := d.All(ctx, dialogID)
	if err != nil {
		return nil, err
	}
	for i, sm := range all {
		if sm.Index > afterIndex {
			return all[i:], nil
		}
	}
	return nil, nil
}

// Slice returns visible messages with visible-cursor positions in
// [start, end), plus adjacent empty-assistant carriers so their tool calls
// surface. A nil end means a tail load, which also includes every trailing
// carrier. The visible-cursor position of the first returned visible message
// equals start.
func (d *DB) Slice(ctx context.Context, dialogID string, start int, end *int) ([]StoredMessage, error) {
	all, err := d.All(ctx, dialogID)
	if err != nil {
		return nil, err
	}

	var out []StoredMessage
	visible := 0
	for i := 0; i < len(all); i++ {
		sm := all[i]
		if !sm.Msg.Visible() {
			// Carriers ride along with the preceding visible message when it
			// is inside the slice.
			if sm.Msg.isCarrier() && len(out) > 0 && visible > start && (end == nil || visible <= *end) {
				out = append(out, sm)
			}
			continue
		}
		if visible >= start && (end == nil || visible < *end) {
			out = append(out, sm)
		}
		visible++
		if end != nil && visible >= *end {
			// Include carriers immediately following the last visible message
			// of a bounded slice.
			for j := i + 1; j < len(all) && all[j].Msg.isCarrier(); j++ {
				out = append(out, all[j])
			}
			break
		}
	}
	return out, nil
}

// Clear wipes every row belonging to the dialog across all tables.
func (d *DB) Clear(ctx context.Context, dialogID string) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{
		"messages", "reasoning", "file_edits", "usage_events",
		"usage_totals", "summaries", "sessions", "dialog_branches", "tool_results",
	} {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE dialog_id = ?`, table), dialogID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}
