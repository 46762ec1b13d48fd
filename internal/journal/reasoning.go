package journal

import (
	"context"
	"time"
)

// ReasoningBlock is one stored run of model reasoning. MessageIndex is the
// full-log position of the assistant message the reasoning precedes, or -1
// when unattached.
type ReasoningBlock struct {
	ID           int64
	Content      string
	ModelName    string
	MessageIndex int
	CreatedAt    time.Time
}

// AddReasoning stores a reasoning block, compressed.
func (d *DB) AddReasoning(ctx context.Context, dialogID, content, modelName string, messageIndex int) error {
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO reasoning (dialog_id, content, model_name, message_index) VALUES (?, ?, ?, ?)`,
		dialogID, Compress([]byte(content)), modelName, messageIndex)
	return err
}

// ReasoningForIndices returns reasoning blocks keyed to any of the given
// message indices, in insertion order.
func (d *DB) ReasoningForIndices(ctx context.Context, dialogID string, indices []int) ([]ReasoningBlock, error) {
	if len(indices) == 0 {
		return nil, nil
	}
	query, args := inQuery(
		`SELECT id, content, COALESCE(model_name,''), message_index, created_at
		 FROM reasoning WHERE dialog_id = ? AND message_index IN (%s) ORDER BY id`,
		dialogID, indices)

	rows, err := d.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReasoning(rows)
}

// OrphanReasoning returns blocks with message_index = -1, which only surface
// on tail loads.
func (d *DB) OrphanReasoning(ctx context.Context, dialogID string) ([]ReasoningBlock, error) {
	rows, err := d.sql.QueryContext(ctx,
		`SELECT id, content, COALESCE(model_name,''), message_index, created_at
		 FROM reasoning WHERE dialog_id = ? AND message_index = -1 ORDER BY id`, dialogID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReasoning(rows)
}

// ReasoningCount returns the number of reasoning blocks for the dialog.
func (d *DB) ReasoningCount(ctx context.Context, dialogID string) (int, error) {
	var n int
	err := d.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reasoning WHERE dialog_id = ?`, dialogID).Scan(&n)
	return n, err
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanReasoning(rows rowScanner) ([]ReasoningBlock, error) {
	var out []ReasoningBlock
	for rows.Next() {
		var b ReasoningBlock
		var compressed []byte
		var created string
		if err := rows.Scan(&b.ID, &compressed, &b.ModelName, &b.MessageIndex, &created); err != nil {
			return nil, err
		}
		content, err := Decompress(compressed)
		if err != nil {
			return nil, err
		}
		b.Content = string(content)
		b.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, b)
	}
	return out, rows.Err()
}
