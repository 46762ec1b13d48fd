package journal

import (
	"context"
	"time"
)

// Summary compacts everything up to and including CutoffMessageIndex; later
// context loads replace those messages with SummaryText.
type Summary struct {
	ID                 int64
	CutoffMessageIndex int
	SummaryText        string
	KeepLast           int
	SummarizedCount    int
	CreatedAt          time.Time
}

// SaveSummary stores a new summary row. The latest row wins on load.
func (d *DB) SaveSummary(ctx context.Context, dialogID string, s Summary) error {
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO summaries (dialog_id, cutoff_message_index, summary_text, keep_last, summarized_count)
		 VALUES (?, ?, ?, ?, ?)`,
		dialogID, s.CutoffMessageIndex, s.SummaryText, s.KeepLast, s.SummarizedCount)
	return err
}

// LatestSummary returns the most recent summary for the dialog, if any.
func (d *DB) LatestSummary(ctx context.Context, dialogID string) (Summary, bool, error) {
	var s Summary
	var created string
	err := d.sql.QueryRowContext(ctx,
		`SELECT id, cutoff_message_index, summary_text, keep_last, summarized_count, created_at
		 FROM summaries WHERE dialog_id = ? ORDER BY id DESC LIMIT 1`, dialogID).
		Scan(&s.ID, &s.CutoffMessageIndex, &s.SummaryText, &s.KeepLast, &s.SummarizedCount, &created)
	if err != nil {
		if isNoRows(err) {
			return Summary{}, false, nil
		}
		return Summary{}, false, err
	}
	s.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return s, true, nil
}
