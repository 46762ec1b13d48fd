package project

import (
	"context"
	"os"
)

// Index is the dialogs/index.json document. It is a derived projection of
// the per-dialog metadata, refreshed after registry mutations instead of on
// every message write.
type Index struct {
	CurrentDialogID string      `json:"current_dialog_id,omitempty"`
	Dialogs         []IndexItem `json:"dialogs"`
}

// IndexItem is one dialog's row in the index.
type IndexItem struct {
	ID                string `json:"id"`
	Title             string `json:"title,omitempty"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
	ActiveSession     string `json:"active_session,omitempty"`
	LastApprovedAt    string `json:"last_approved_at,omitempty"`
	InitialCheckpoint string `json:"initial_checkpoint,omitempty"`
}

// RefreshIndex rebuilds index.json from the on-disk metadata.
func (p *Project) RefreshIndex(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshIndexLocked(ctx)
}

// refreshIndexLocked writes the projection. Failures are logged and never
// propagate: a stale index must not abort the operation that triggered the
// refresh.
func (p *Project) refreshIndexLocked(ctx context.Context) {
	metas, err := p.List(ctx)
	if err != nil {
		p.log.Warn("failed to enumerate dialogs for index", "error", err)
		return
	}

	idx := Index{
		CurrentDialogID: p.currentID,
		Dialogs:         make([]IndexItem, 0, len(metas)),
	}
	for _, m := range metas {
		idx.Dialogs = append(idx.Dialogs, IndexItem{
			ID:                m.ID,
			Title:             m.Title,
			CreatedAt:         m.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			UpdatedAt:         m.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
			ActiveSession:     m.ActiveSession,
			LastApprovedAt:    m.LastApprovedAt,
			InitialCheckpoint: m.InitialCheckpoint,
		})
	}

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		p.log.Warn("failed to encode dialog index", "error", err)
		return
	}
	if err := atomicWriteFile(p.indexPath(), data); err != nil {
		p.log.Warn("failed to write dialog index", "error", err)
	}
}

func readIndex(path string) (Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Index{}, err
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return Index{}, err
	}
	return idx, nil
}
