// Package project owns the on-disk state directory of one workspace:
// dialog registries, their journals and versioning repos, the derived
// dialogs index, and the server status file.
package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentsmithy/agentsmithy/internal/journal"
	"github.com/agentsmithy/agentsmithy/internal/toolresults"
	"github.com/agentsmithy/agentsmithy/internal/versioning"
)

// InspectorDialogID is the reserved dialog backed by the shared journal at
// dialogs/journal.sqlite. It has no versioning repo.
const InspectorDialogID = "inspector"

// DefaultStateDirName is used when the config leaves the name empty.
const DefaultStateDirName = ".agentsmithy"

// ErrDialogNotFound is returned for ids with no state on disk.
var ErrDialogNotFound = errors.New("project: dialog not found")

// Dialog bundles the per-dialog handles a turn needs.
type Dialog struct {
	ID      string
	Meta    Meta
	DB      *journal.DB
	Repo    *versioning.Repo // nil for the inspector dialog
	Results *toolresults.Store
}

// Project manages the state directory rooted at <workspace>/<stateDirName>.
type Project struct {
	root     string
	stateDir string

	mu        sync.Mutex
	open      map[string]*Dialog
	currentID string

	status *StatusManager
	log    *slog.Logger
}

// Open prepares the state directory and loads the current-dialog pointer
// from a previously written index, if any.
func Open(workspaceRoot, stateDirName string) (*Project, error) {
	if stateDirName == "" {
		stateDirName = DefaultStateDirName
	}
	stateDir := filepath.Join(workspaceRoot, stateDirName)
	if err := os.MkdirAll(filepath.Join(stateDir, "dialogs"), 0o755); err != nil {
		return nil, fmt.Errorf("project: create state dir: %w", err)
	}

	p := &Project{
		root:     workspaceRoot,
		stateDir: stateDir,
		open:     make(map[string]*Dialog),
		status:   NewStatusManager(filepath.Join(stateDir, "status.json")),
		log:      slog.With("component", "project"),
	}

	if idx, err := readIndex(p.indexPath()); err == nil {
		p.currentID = idx.CurrentDialogID
	}
	return p, nil
}

// Root returns the workspace root the project serves.
func (p *Project) Root() string { return p.root }

// StateDir returns the absolute state directory path.
func (p *Project) StateDir() string { return p.stateDir }

// Status returns the status.json manager.
func (p *Project) Status() *StatusManager { return p.status }

func (p *Project) dialogsDir() string       { return filepath.Join(p.stateDir, "dialogs") }
func (p *Project) dialogDir(id string) string { return filepath.Join(p.dialogsDir(), id) }
func (p *Project) indexPath() string        { return filepath.Join(p.dialogsDir(), "index.json") }

// Create allocates a new dialog: state directory, journal, versioning repo,
// metadata. The index projection is refreshed before returning.
func (p *Project) Create(ctx context.Context, title string, setCurrent bool) (*Dialog, error) {
	id := uuid.NewString()

	p.mu.Lock()
	defer p.mu.Unlock()

	d, err := p.openLocked(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if title != "" {
		d.Meta.Title = title
		if err := writeMeta(p.dialogDir(id), d.Meta); err != nil {
			p.log.Warn("failed to persist dialog title", "dialog", id, "error", err)
		}
	}
	if setCurrent {
		p.currentID = id
	}
	p.refreshIndexLocked(ctx)
	return d, nil
}

// Dialog returns an open handle for id, opening the on-disk state on first
// use. The inspector dialog is created on demand.
func (p *Project) Dialog(ctx context.Context, id string) (*Dialog, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if d, ok := p.open[id]; ok {
		return d, nil
	}
	create := id == InspectorDialogID
	if !create {
		if _, err := os.Stat(p.dialogDir(id)); err != nil {
			return nil, ErrDialogNotFound
		}
	}
	return p.openLocked(ctx, id, create)
}

// openLocked opens (or creates, when create is set) the dialog's journal,
// repo, and result store. Caller holds p.mu.
func (p *Project) openLocked(ctx context.Context, id string, create bool) (*Dialog, error) {
	if id == InspectorDialogID {
		db, err := journal.Open(filepath.Join(p.dialogsDir(), "journal.sqlite"))
		if err != nil {
			return nil, fmt.Errorf("project: open inspector journal: %w", err)
		}
		d := &Dialog{
			ID:      id,
			Meta:    Meta{ID: id, Title: "Inspector", CreatedAt: time.Now().UTC()},
			DB:      db,
			Results: toolresults.NewStore(db, id),
		}
		p.open[id] = d
		return d, nil
	}

	dir := p.dialogDir(id)
	if create {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("project: create dialog dir: %w", err)
		}
	}

	meta, err := readMeta(dir)
	if err != nil {
		if !create {
			p.log.Warn("dialog metadata unreadable, rebuilding", "dialog", id, "error", err)
		}
		meta = Meta{ID: id, CreatedAt: time.Now().UTC()}
		if err := writeMeta(dir, meta); err != nil {
			return nil, fmt.Errorf("project: write dialog metadata: %w", err)
		}
	}

	db, err := journal.Open(filepath.Join(dir, "journal.sqlite"))
	if err != nil {
		return nil, fmt.Errorf("project: open journal: %w", err)
	}

	repo, err := versioning.Open(filepath.Join(dir, "repo"), p.root, db.Sessions(id))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("project: open versioning repo: %w", err)
	}

	d := &Dialog{
		ID:      id,
		Meta:    meta,
		DB:      db,
		Repo:    repo,
		Results: toolresults.NewStore(db, id),
	}
	p.open[id] = d
	return d, nil
}

// List returns metadata for every dialog on disk, newest first.
func (p *Project) List(ctx context.Context) ([]Meta, error) {
	entries, err := os.ReadDir(p.dialogsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("project: list dialogs: %w", err)
	}

	metas := make([]Meta, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := readMeta(filepath.Join(p.dialogsDir(), e.Name()))
		if err != nil {
			p.log.Warn("skipping dialog with unreadable metadata", "dialog", e.Name(), "error", err)
			continue
		}
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})
	return metas, nil
}

// CurrentID returns the current dialog id, or empty when none is set.
func (p *Project) CurrentID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentID
}

// SetCurrent points the project at an existing dialog.
func (p *Project) SetCurrent(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id != InspectorDialogID {
		if _, err := os.Stat(p.dialogDir(id)); err != nil {
			return ErrDialogNotFound
		}
	}
	p.currentID = id
	p.refreshIndexLocked(ctx)
	return nil
}

// SetTitle updates a dialog's title. Wired into the set_dialog_title tool.
func (p *Project) SetTitle(ctx context.Context, id, title string) error {
	return p.updateMeta(ctx, id, func(m *Meta) { m.Title = title })
}

// SetInitialCheckpoint records the first checkpoint of a fresh dialog. Later
// calls are ignored.
func (p *Project) SetInitialCheckpoint(ctx context.Context, id, commitID string) error {
	return p.updateMeta(ctx, id, func(m *Meta) {
		if m.InitialCheckpoint == "" {
			m.InitialCheckpoint = commitID
		}
	})
}

// SetSessionInfo records the approval-cycle fields shown in the index after
// an approve or reset.
func (p *Project) SetSessionInfo(ctx context.Context, id, activeSession, lastApprovedAt string) error {
	return p.updateMeta(ctx, id, func(m *Meta) {
		m.ActiveSession = activeSession
		if lastApprovedAt != "" {
			m.LastApprovedAt = lastApprovedAt
		}
	})
}

// Touch bumps the dialog's updated_at and refreshes the index; called after
// each completed turn.
func (p *Project) Touch(ctx context.Context, id string) {
	if err := p.updateMeta(ctx, id, func(m *Meta) {}); err != nil {
		p.log.Warn("failed to touch dialog", "dialog", id, "error", err)
	}
}

func (p *Project) updateMeta(ctx context.Context, id string, apply func(*Meta)) error {
	if id == InspectorDialogID {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	dir := p.dialogDir(id)
	meta, err := readMeta(dir)
	if err != nil {
		return ErrDialogNotFound
	}
	apply(&meta)
	meta.UpdatedAt = time.Now().UTC()
	if err := writeMeta(dir, meta); err != nil {
		return fmt.Errorf("project: write dialog metadata: %w", err)
	}
	if d, ok := p.open[id]; ok {
		d.Meta = meta
	}
	p.refreshIndexLocked(ctx)
	return nil
}

// Delete closes and removes a dialog's entire state directory.
func (p *Project) Delete(ctx context.Context, id string) error {
	if id == InspectorDialogID {
		return fmt.Errorf("project: the inspector dialog cannot be deleted")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if d, ok := p.open[id]; ok {
		d.Close()
		delete(p.open, id)
	}
	dir := p.dialogDir(id)
	if _, err := os.Stat(dir); err != nil {
		return ErrDialogNotFound
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("project: delete dialog: %w", err)
	}
	if p.currentID == id {
		p.currentID = ""
	}
	p.refreshIndexLocked(ctx)
	return nil
}

// Close releases every open dialog handle.
func (p *Project) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for id, d := range p.open {
		if err := d.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.open, id)
	}
	return firstErr
}

// Close releases the dialog's database handle.
func (d *Dialog) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
