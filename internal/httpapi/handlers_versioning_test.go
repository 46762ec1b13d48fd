package httpapi

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentsmithy/agentsmithy/internal/project"
)

// writeTracked edits one file through the versioning transaction bracket.
func writeTracked(t *testing.T, d *project.Dialog, path, content string) {
	t.Helper()
	if err := d.Repo.StartEdit([]string{path}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := d.Repo.TrackFileChange(path, "write"); err != nil {
		t.Fatal(err)
	}
	if err := d.Repo.FinalizeEdit(); err != nil {
		t.Fatal(err)
	}
}

func TestHandleResetRestoresApprovedTree(t *testing.T) {
	ctx := context.Background()
	work := t.TempDir()
	p, err := project.Open(work, "")
	if err != nil {
		t.Fatalf("open project: %v", err)
	}
	t.Cleanup(func() { p.Close() })

	d, err := p.Create(ctx, "reset test", true)
	if err != nil {
		t.Fatalf("create dialog: %v", err)
	}

	// Approve a.py at "v1", then leave "v2" unapproved on the session.
	target := filepath.Join(work, "a.py")
	writeTracked(t, d, target, "v1")
	if _, err := d.Repo.CreateCheckpoint(ctx, "write a.py"); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Repo.ApproveAll(ctx, ""); err != nil {
		t.Fatal(err)
	}
	writeTracked(t, d, target, "v2")
	if _, err := d.Repo.CreateCheckpoint(ctx, "rewrite a.py"); err != nil {
		t.Fatal(err)
	}

	s := NewServer(Deps{Project: p})
	req := httptest.NewRequest("POST", "/api/dialogs/"+d.ID+"/reset", nil)
	req.SetPathValue("id", d.ID)
	rr := httptest.NewRecorder()
	s.handleReset(rr, req)

	if rr.Code != 200 {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		ResetTo    string `json:"reset_to"`
		NewSession string `json:"new_session"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.NewSession == "" {
		t.Fatalf("response = %s", rr.Body.String())
	}

	// The workspace reverted to the approved content, not just the refs.
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "v1" {
		t.Fatalf("a.py after reset = %q, want approved %q", data, "v1")
	}
}
