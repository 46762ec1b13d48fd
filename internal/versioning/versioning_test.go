package versioning

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// fakeSessionStore is an in-memory SessionStore.
type fakeSessionStore struct {
	sessions []*Session
}

func (f *fakeSessionStore) ActiveSession(ctx context.Context) (*Session, error) {
	for i := len(f.sessions) - 1; i >= 0; i-- {
		if f.sessions[i].Status == "active" {
			return f.sessions[i], nil
		}
	}
	return nil, nil
}

func (f *fakeSessionStore) CreateSession(ctx context.Context, name, ref string) error {
	f.sessions = append(f.sessions, &Session{
		Name: name, Ref: ref, Status: "active", CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (f *fakeSessionStore) CloseSession(ctx context.Context, name, status, approvedCommit string) error {
	for _, s := range f.sessions {
		if s.Name == name && s.Status == "active" {
			s.Status = status
			s.ApprovedCommit = approvedCommit
			s.ClosedAt = time.Now().UTC()
		}
	}
	return nil
}

func (f *fakeSessionStore) IncrementCheckpoints(ctx context.Context, name string) error {
	for _, s := range f.sessions {
		if s.Name == name {
			s.CheckpointsCount++
		}
	}
	return nil
}

func (f *fakeSessionStore) UpdateBranch(ctx context.Context, branchType, ref, head string, valid bool) error {
	return nil
}

func newTestRepo(t *testing.T) (*Repo, string, *fakeSessionStore) {
	t.Helper()
	work := t.TempDir()
	store := &fakeSessionStore{}
	repo, err := Open(filepath.Join(t.TempDir(), "repo"), work, store)
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	return repo, work, store
}

// agentWrite writes content through the edit bracket the file tools use.
func agentWrite(t *testing.T, repo *Repo, work, rel, content string) {
	t.Helper()
	abs := filepath.Join(work, rel)
	if err := repo.StartEdit([]string{abs}); err != nil {
		t.Fatalf("start edit: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := repo.TrackFileChange(abs, "write"); err != nil {
		t.Fatalf("track: %v", err)
	}
	if err := repo.FinalizeEdit(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
}

func TestCheckpointAndApproveCycle(t *testing.T) {
	repo, work, store := newTestRepo(t)
	ctx := context.Background()

	agentWrite(t, repo, work, "main.go", "package main\n")
	cp1, err := repo.CreateCheckpoint(ctx, "add main.go")
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if !cp1.Created || cp1.CommitID == "" {
		t.Fatalf("checkpoint = %+v", cp1)
	}

	agentWrite(t, repo, work, "util.go", "package main\n\nfunc util() {}\n")
	cp2, err := repo.CreateCheckpoint(ctx, "add util.go")
	if err != nil {
		t.Fatal(err)
	}
	if cp2.CommitID == cp1.CommitID {
		t.Fatal("second checkpoint reused the first commit")
	}

	cps, err := repo.ListCheckpoints(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cps) != 2 {
		t.Fatalf("checkpoints = %d, want 2", len(cps))
	}
	// Chronological: oldest first.
	if cps[0].CommitID != cp1.CommitID || cps[1].CommitID != cp2.CommitID {
		t.Fatalf("order wrong: %+v", cps)
	}

	res, err := repo.ApproveAll(ctx, "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if res.ApprovedCommit != cp2.CommitID {
		t.Fatalf("approved = %s, want %s", shortID(res.ApprovedCommit), shortID(cp2.CommitID))
	}
	if res.CommitsApproved != 2 {
		t.Fatalf("commits approved = %d, want 2", res.CommitsApproved)
	}
	if res.NewSession != "session_2" {
		t.Fatalf("new session = %q", res.NewSession)
	}

	// The old session is closed, the new one active.
	active, _ := store.ActiveSession(ctx)
	if active == nil || active.Name != "session_2" {
		t.Fatalf("active = %+v", active)
	}

	// After approval the session has nothing unapproved.
	cps, err = repo.ListCheckpoints(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cps) != 0 {
		t.Fatalf("checkpoints after approve = %d, want 0", len(cps))
	}
	status, err := repo.Status(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if status.HasUnapproved || len(status.ChangedFiles) != 0 {
		t.Fatalf("status = %+v", status)
	}
}

func TestCheckpointNoChangeReturnsHead(t *testing.T) {
	repo, work, _ := newTestRepo(t)
	ctx := context.Background()

	agentWrite(t, repo, work, "a.txt", "hello\n")
	cp1, err := repo.CreateCheckpoint(ctx, "first")
	if err != nil {
		t.Fatal(err)
	}

	cp2, err := repo.CreateCheckpoint(ctx, "nothing changed")
	if err != nil {
		t.Fatal(err)
	}
	if cp2.Created {
		t.Fatal("identical tree must not create a commit")
	}
	if cp2.CommitID != cp1.CommitID {
		t.Fatalf("no-change checkpoint = %s, want head %s", shortID(cp2.CommitID), shortID(cp1.CommitID))
	}
}

func TestRestorePreservesUserFiles(t *testing.T) {
	repo, work, _ := newTestRepo(t)
	ctx := context.Background()

	agentWrite(t, repo, work, "agent.txt", "v1\n")
	cp1, err := repo.CreateCheckpoint(ctx, "agent v1")
	if err != nil {
		t.Fatal(err)
	}

	agentWrite(t, repo, work, "agent.txt", "v2\n")
	agentWrite(t, repo, work, "extra.txt", "agent extra\n")
	if _, err := repo.CreateCheckpoint(ctx, "agent v2"); err != nil {
		t.Fatal(err)
	}

	// A file the user created themselves, never staged through the tools.
	userFile := filepath.Join(work, "user.txt")
	if err := os.WriteFile(userFile, []byte("mine\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	touched, err := repo.RestoreCheckpoint(ctx, cp1.CommitID)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if len(touched) == 0 {
		t.Fatal("restore touched nothing")
	}

	data, err := os.ReadFile(filepath.Join(work, "agent.txt"))
	if err != nil || string(data) != "v1\n" {
		t.Fatalf("agent.txt = %q, %v", data, err)
	}
	// extra.txt is tracked (agent-created) and absent from the target: deleted.
	if _, err := os.Stat(filepath.Join(work, "extra.txt")); !os.IsNotExist(err) {
		t.Fatalf("extra.txt should be deleted, stat err = %v", err)
	}
	// The user's own file survives.
	if _, err := os.Stat(userFile); err != nil {
		t.Fatalf("user.txt must be preserved: %v", err)
	}
}

func TestResetToApprovedAutoSaves(t *testing.T) {
	repo, work, _ := newTestRepo(t)
	ctx := context.Background()

	agentWrite(t, repo, work, "base.txt", "base\n")
	if _, err := repo.CreateCheckpoint(ctx, "base"); err != nil {
		t.Fatal(err)
	}
	approved, err := repo.ApproveAll(ctx, "")
	if err != nil {
		t.Fatal(err)
	}

	// New unapproved work in session_2, left uncommitted.
	agentWrite(t, repo, work, "wip.txt", "work in progress\n")

	res, err := repo.ResetToApproved(ctx)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if res.ResetTo != approved.ApprovedCommit {
		t.Fatalf("reset to %s, want main %s", shortID(res.ResetTo), shortID(approved.ApprovedCommit))
	}
	if res.PreResetCheckpoint == "" {
		t.Fatal("dirty session must be auto-saved before reset")
	}
	if res.NewSession != "session_3" {
		t.Fatalf("new session = %q", res.NewSession)
	}

	if _, err := repo.RestoreToMain(ctx); err != nil {
		t.Fatalf("restore to main: %v", err)
	}
	if _, err := os.Stat(filepath.Join(work, "wip.txt")); !os.IsNotExist(err) {
		t.Fatalf("wip.txt should be gone after reset, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(work, "base.txt")); err != nil {
		t.Fatalf("approved file missing after reset: %v", err)
	}
}

func TestStatusReportsStagedDiff(t *testing.T) {
	repo, work, _ := newTestRepo(t)
	ctx := context.Background()

	agentWrite(t, repo, work, "file.txt", "one\ntwo\n")
	if _, err := repo.CreateCheckpoint(ctx, "initial"); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.ApproveAll(ctx, ""); err != nil {
		t.Fatal(err)
	}

	// Modify through the bracket but do not checkpoint: the staged content
	// must already show up against main.
	agentWrite(t, repo, work, "file.txt", "one\ntwo\nthree\n")

	status, err := repo.Status(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if !status.HasUnapproved {
		t.Fatal("staged change must count as unapproved")
	}
	if len(status.ChangedFiles) != 1 {
		t.Fatalf("changed = %+v", status.ChangedFiles)
	}
	cf := status.ChangedFiles[0]
	if cf.Path != "file.txt" || cf.Status != "modified" {
		t.Fatalf("changed file = %+v", cf)
	}
	if cf.Additions != 1 || cf.Deletions != 0 {
		t.Fatalf("additions/deletions = %d/%d", cf.Additions, cf.Deletions)
	}
	if cf.Diff == nil || *cf.Diff == "" {
		t.Fatal("includeDiff must attach a unified diff")
	}
}

func TestAbortEditRollsBack(t *testing.T) {
	repo, work, _ := newTestRepo(t)

	abs := filepath.Join(work, "target.txt")
	if err := os.WriteFile(abs, []byte("original\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := repo.StartEdit([]string{abs}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte("clobbered\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := repo.TrackFileChange(abs, "write"); err != nil {
		t.Fatal(err)
	}
	repo.AbortEdit()

	data, err := os.ReadFile(abs)
	if err != nil || string(data) != "original\n" {
		t.Fatalf("after abort: %q, %v", data, err)
	}
	if repo.InTransaction() {
		t.Fatal("transaction must be closed after abort")
	}
}

func TestAbortEditRemovesNewFile(t *testing.T) {
	repo, work, _ := newTestRepo(t)

	abs := filepath.Join(work, "brand-new.txt")
	if err := repo.StartEdit([]string{abs}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte("oops\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	repo.AbortEdit()

	if _, err := os.Stat(abs); !os.IsNotExist(err) {
		t.Fatalf("new file must be removed on abort, stat err = %v", err)
	}
}

func TestCheckpointCapturesUserEditsToKnownFiles(t *testing.T) {
	repo, work, _ := newTestRepo(t)
	ctx := context.Background()

	agentWrite(t, repo, work, "known.txt", "v1\n")
	if _, err := repo.CreateCheckpoint(ctx, "v1"); err != nil {
		t.Fatal(err)
	}

	// The user edits the known file directly, outside the tools.
	if err := os.WriteFile(filepath.Join(work, "known.txt"), []byte("user edit\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// And creates a brand-new file the repo has never seen.
	if err := os.WriteFile(filepath.Join(work, "unknown.txt"), []byte("new\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cp, err := repo.CreateCheckpoint(ctx, "after user edit")
	if err != nil {
		t.Fatal(err)
	}
	if !cp.Created {
		t.Fatal("user edit to a known file must produce a commit")
	}

	flat, err := repo.flattenCommit(cp.CommitID)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := flat["known.txt"]; !ok {
		t.Fatal("known.txt missing from snapshot")
	}
	if _, ok := flat["unknown.txt"]; ok {
		t.Fatal("new user files must not be adopted into snapshots")
	}
}

func TestCommitExists(t *testing.T) {
	repo, work, _ := newTestRepo(t)
	ctx := context.Background()

	if repo.CommitExists("deadbeef") {
		t.Fatal("bogus revision must not exist")
	}
	agentWrite(t, repo, work, "x.txt", "x\n")
	cp, err := repo.CreateCheckpoint(ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	if !repo.CommitExists(cp.CommitID) {
		t.Fatal("created commit must exist")
	}
	if !repo.CommitExists("session_1") {
		t.Fatal("branch shorthand must resolve")
	}
}
