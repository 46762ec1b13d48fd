package project

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openProject(t *testing.T) (*Project, string) {
	t.Helper()
	root := t.TempDir()
	p, err := Open(root, "")
	if err != nil {
		t.Fatalf("open project: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p, root
}

func TestCreateAndReopenDialog(t *testing.T) {
	p, root := openProject(t)
	ctx := context.Background()

	d, err := p.Create(ctx, "My dialog", true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if d.ID == "" || d.DB == nil || d.Repo == nil || d.Results == nil {
		t.Fatalf("dialog = %+v", d)
	}
	if d.Meta.Title != "My dialog" {
		t.Fatalf("title = %q", d.Meta.Title)
	}
	if p.CurrentID() != d.ID {
		t.Fatalf("current = %q, want %q", p.CurrentID(), d.ID)
	}

	// State lives under <root>/.agentsmithy/dialogs/<id>.
	dir := filepath.Join(root, DefaultStateDirName, "dialogs", d.ID)
	if _, err := os.Stat(filepath.Join(dir, "meta.json")); err != nil {
		t.Fatalf("meta.json missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "journal.sqlite")); err != nil {
		t.Fatalf("journal missing: %v", err)
	}

	// Repeated lookups return the cached handle.
	again, err := p.Dialog(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again != d {
		t.Fatal("Dialog must return the open handle")
	}
}

func TestDialogNotFound(t *testing.T) {
	p, _ := openProject(t)
	_, err := p.Dialog(context.Background(), "no-such-id")
	if !errors.Is(err, ErrDialogNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestCurrentPointerSurvivesReopen(t *testing.T) {
	root := t.TempDir()
	p, err := Open(root, "")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	d, err := p.Create(ctx, "persist me", true)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}

	p2, err := Open(root, "")
	if err != nil {
		t.Fatal(err)
	}
	defer p2.Close()
	if p2.CurrentID() != d.ID {
		t.Fatalf("current after reopen = %q, want %q", p2.CurrentID(), d.ID)
	}
	reopened, err := p2.Dialog(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Meta.Title != "persist me" {
		t.Fatalf("title after reopen = %q", reopened.Meta.Title)
	}
}

func TestListNewestFirst(t *testing.T) {
	p, _ := openProject(t)
	ctx := context.Background()

	first, err := p.Create(ctx, "first", false)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond) // distinct created_at
	second, err := p.Create(ctx, "second", false)
	if err != nil {
		t.Fatal(err)
	}

	metas, err := p.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 2 {
		t.Fatalf("len = %d", len(metas))
	}
	if metas[0].ID != second.ID || metas[1].ID != first.ID {
		t.Fatalf("order = [%s %s], want newest first", metas[0].Title, metas[1].Title)
	}
}

func TestIndexIsDerivedProjection(t *testing.T) {
	p, _ := openProject(t)
	ctx := context.Background()

	d, err := p.Create(ctx, "indexed", true)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.SetTitle(ctx, d.ID, "renamed"); err != nil {
		t.Fatal(err)
	}

	idx, err := readIndex(p.indexPath())
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	if idx.CurrentDialogID != d.ID {
		t.Fatalf("index current = %q", idx.CurrentDialogID)
	}
	if len(idx.Dialogs) != 1 || idx.Dialogs[0].Title != "renamed" {
		t.Fatalf("index dialogs = %+v", idx.Dialogs)
	}

	// The index rebuilds from meta.json; deleting it and refreshing restores it.
	if err := os.Remove(p.indexPath()); err != nil {
		t.Fatal(err)
	}
	p.RefreshIndex(ctx)
	idx, err = readIndex(p.indexPath())
	if err != nil || len(idx.Dialogs) != 1 {
		t.Fatalf("rebuilt index = %+v, %v", idx, err)
	}
}

func TestSetCurrentValidates(t *testing.T) {
	p, _ := openProject(t)
	ctx := context.Background()

	if err := p.SetCurrent(ctx, "bogus"); !errors.Is(err, ErrDialogNotFound) {
		t.Fatalf("err = %v", err)
	}

	d, err := p.Create(ctx, "", false)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.SetCurrent(ctx, d.ID); err != nil {
		t.Fatal(err)
	}
	if p.CurrentID() != d.ID {
		t.Fatalf("current = %q", p.CurrentID())
	}
}

func TestSetInitialCheckpointOnlyOnce(t *testing.T) {
	p, _ := openProject(t)
	ctx := context.Background()

	d, err := p.Create(ctx, "", false)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.SetInitialCheckpoint(ctx, d.ID, "abc"); err != nil {
		t.Fatal(err)
	}
	if err := p.SetInitialCheckpoint(ctx, d.ID, "def"); err != nil {
		t.Fatal(err)
	}
	got, err := p.Dialog(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Meta.InitialCheckpoint != "abc" {
		t.Fatalf("initial checkpoint = %q, want first write to win", got.Meta.InitialCheckpoint)
	}
}

func TestDeleteDialog(t *testing.T) {
	p, root := openProject(t)
	ctx := context.Background()

	d, err := p.Create(ctx, "doomed", true)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Delete(ctx, d.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, DefaultStateDirName, "dialogs", d.ID)); !os.IsNotExist(err) {
		t.Fatal("dialog dir still exists")
	}
	if p.CurrentID() != "" {
		t.Fatal("deleting the current dialog must clear the pointer")
	}
	if _, err := p.Dialog(ctx, d.ID); !errors.Is(err, ErrDialogNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestInspectorDialog(t *testing.T) {
	p, _ := openProject(t)
	ctx := context.Background()

	d, err := p.Dialog(ctx, InspectorDialogID)
	if err != nil {
		t.Fatalf("inspector: %v", err)
	}
	if d.Repo != nil {
		t.Fatal("inspector has no versioning repo")
	}
	if d.DB == nil || d.Results == nil {
		t.Fatalf("dialog = %+v", d)
	}
	if err := p.Delete(ctx, InspectorDialogID); err == nil {
		t.Fatal("inspector must not be deletable")
	}

	// The inspector never appears in the dialog listing.
	metas, err := p.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range metas {
		if m.ID == InspectorDialogID {
			t.Fatal("inspector leaked into the listing")
		}
	}
}

func TestStatusManager(t *testing.T) {
	p, _ := openProject(t)

	p.Status().Set(Status{ServerStatus: "running", ServerPID: 1234, Port: 8080})
	if got := p.Status().Current(); got.ServerStatus != "running" || got.Port != 8080 {
		t.Fatalf("status = %+v", got)
	}

	// A fresh manager reads the file back.
	m2 := NewStatusManager(filepath.Join(p.StateDir(), "status.json"))
	if got := m2.Current(); got.ServerPID != 1234 {
		t.Fatalf("reloaded status = %+v", got)
	}
}
