package journal

import (
	"context"
	"time"
)

// ToolResultRow is the stored record of one tool invocation: its arguments
// and full result, compressed, plus the summary surfaced in slim envelopes.
type ToolResultRow struct {
	ToolCallID string
	ToolName   string
	Args       []byte // raw JSON
	Result     []byte // raw JSON
	SizeBytes  int
	Summary    string
	Error      string
	CreatedAt  time.Time
}

// PutToolResult stores (or replaces) a tool-result row.
func (d *DB) PutToolResult(ctx context.Context, dialogID string, row ToolResultRow) error {
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO tool_results (tool_call_id, dialog_id, tool_name, args, result, size_bytes, summary, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(tool_call_id) DO UPDATE SET
		   tool_name = excluded.tool_name, args = excluded.args, result = excluded.result,
		   size_bytes = excluded.size_bytes, summary = excluded.summary, error = excluded.error`,
		row.ToolCallID, dialogID, row.ToolName,
		Compress(row.Args), Compress(row.Result),
		row.SizeBytes, row.Summary, row.Error)
	return err
}

// GetToolResult fetches the stored row for a tool call. ErrNotFound when the
// id is unknown.
func (d *DB) GetToolResult(ctx context.Context, dialogID, toolCallID string) (ToolResultRow, error) {
	var row ToolResultRow
	var args, result []byte
	var summary, errText, created string
	err := d.sql.QueryRowContext(ctx,
		`SELECT tool_call_id, tool_name, args, result, size_bytes, COALESCE(summary,''), COALESCE(error,''), created_at
		 FROM tool_results WHERE dialog_id = ? AND tool_call_id = ?`,
		dialogID, toolCallID).
		Scan(&row.ToolCallID, &row.ToolName, &args, &result, &row.SizeBytes, &summary, &errText, &created)
	if err != nil {
		if isNoRows(err) {
			return ToolResultRow{}, ErrNotFound
		}
		return ToolResultRow{}, err
	}
	if row.Args, err = Decompress(args); err != nil {
		return ToolResultRow{}, err
	}
	if row.Result, err = Decompress(result); err != nil {
		return ToolResultRow{}, err
	}
	row.Summary = summary
	row.Error = errText
	row.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return row, nil
}
