package journal

import (
	"context"
)

// Usage is a normalized token-usage report from one model call.
type Usage struct {
	Model            string `json:"model,omitempty"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// RecordUsage appends a usage event and folds it into the dialog's running
// totals.
func (d *DB) RecordUsage(ctx context.Context, dialogID string, u Usage) error {
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}

	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO usage_events (dialog_id, model, prompt_tokens, completion_tokens, total_tokens)
		 VALUES (?, ?, ?, ?, ?)`,
		dialogID, u.Model, u.PromptTokens, u.CompletionTokens, u.TotalTokens); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO usage_totals (dialog_id, model, prompt_tokens, completion_tokens, total_tokens, updated_at)
		 VALUES (?, ?, ?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		 ON CONFLICT(dialog_id) DO UPDATE SET
		   model = excluded.model,
		   prompt_tokens = prompt_tokens + excluded.prompt_tokens,
		   completion_tokens = completion_tokens + excluded.completion_tokens,
		   total_tokens = total_tokens + excluded.total_tokens,
		   updated_at = excluded.updated_at`,
		dialogID, u.Model, u.PromptTokens, u.CompletionTokens, u.TotalTokens); err != nil {
		return err
	}
	return tx.Commit()
}

// UsageTotals returns the dialog's accumulated token usage. Zero totals when
// nothing has been recorded.
func (d *DB) UsageTotals(ctx context.Context, dialogID string) (Usage, error) {
	var u Usage
	err := d.sql.QueryRowContext(ctx,
		`SELECT COALESCE(model,''), prompt_tokens, completion_tokens, total_tokens
		 FROM usage_totals WHERE dialog_id = ?`, dialogID).
		Scan(&u.Model, &u.PromptTokens, &u.CompletionTokens, &u.TotalTokens)
	if err != nil {
		if isNoRows(err) {
			return Usage{}, nil
		}
		return Usage{}, err
	}
	return u, nil
}

// LastUsage returns the most recent usage event, which approximates the
// current context size for the summarization trigger.
func (d *DB) LastUsage(ctx context.Context, dialogID string) (Usage, bool, error) {
	var u Usage
	err := d.sql.QueryRowContext(ctx,
		`SELECT COALESCE(model,''), prompt_tokens, completion_tokens, total_tokens
		 FROM usage_events WHERE dialog_id = ? ORDER BY id DESC LIMIT 1`, dialogID).
		Scan(&u.Model, &u.PromptTokens, &u.CompletionTokens, &u.TotalTokens)
	if err != nil {
		if isNoRows(err) {
			return Usage{}, false, nil
		}
		return Usage{}, false, err
	}
	return u, true, nil
}
