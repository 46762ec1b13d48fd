package journal

import (
	"context"
	"time"
)

// FileEdit records one file mutation made by a tool during a turn, keyed to
// the assistant message that requested it.
type FileEdit struct {
	ID           int64
	File         string
	Diff         string
	Checkpoint   string
	MessageIndex int
	CreatedAt    time.Time
}

// AddFileEdit stores a file-edit row.
func (d *DB) AddFileEdit(ctx context.Context, dialogID, file, diff, checkpoint string, messageIndex int) error {
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO file_edits (dialog_id, file, diff, checkpoint, message_index) VALUES (?, ?, ?, ?, ?)`,
		dialogID, file, diff, checkpoint, messageIndex)
	return err
}

// FileEditsForIndices returns edits keyed to any of the given message
// indices, in insertion order.
func (d *DB) FileEditsForIndices(ctx context.Context, dialogID string, indices []int) ([]FileEdit, error) {
	if len(indices) == 0 {
		return nil, nil
	}
	query, args := inQuery(
		`SELECT id, file, COALESCE(diff,''), COALESCE(checkpoint,''), message_index, created_at
		 FROM file_edits WHERE dialog_id = ? AND message_index IN (%s) ORDER BY id`,
		dialogID, indices)

	rows, err := d.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FileEdit
	for rows.Next() {
		var e FileEdit
		var created string
		if err := rows.Scan(&e.ID, &e.File, &e.Diff, &e.Checkpoint, &e.MessageIndex, &created); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// FileEditCount returns the number of file-edit rows for the dialog.
func (d *DB) FileEditCount(ctx context.Context, dialogID string) (int, error) {
	var n int
	err := d.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM file_edits WHERE dialog_id = ?`, dialogID).Scan(&n)
	return n, err
}
