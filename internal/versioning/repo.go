package versioning

import (
	"bytes"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned when an object, ref, or commit does not exist.
var ErrNotFound = errors.New("versioning: not found")

const authorName = "agentsmithy"

// Session mirrors one row of the sessions table.
type Session struct {
	Name             string
	Ref              string
	Status           string // active | merged | abandoned
	CreatedAt        time.Time
	ClosedAt         time.Time
	ApprovedCommit   string
	CheckpointsCount int
	BranchExists     bool
}

// SessionStore is the journal-backed session ledger the engine records into.
type SessionStore interface {
	ActiveSession(ctx context.Context) (*Session, error) // nil when none exists yet
	CreateSession(ctx context.Context, name, ref string) error
	CloseSession(ctx context.Context, name, status, approvedCommit string) error
	IncrementCheckpoints(ctx context.Context, name string) error
	UpdateBranch(ctx context.Context, branchType, ref, head string, valid bool) error
}

// Repo is the per-dialog content-addressed snapshot store. The repository
// lives under the dialog's state directory, never inside the user workspace,
// so it cannot collide with the user's own version control.
type Repo struct {
	dir      string // repo root: <state>/dialogs/<id>/repo
	workRoot string // user workspace root
	sessions SessionStore
	log      *slog.Logger

	mu       sync.Mutex
	staging  *stagingArea
	tracked  *trackedSet
	txn      *transaction
	excludes *ignoreRules
}

// Open initializes (or reopens) the repository at dir mirroring workRoot.
func Open(dir, workRoot string, sessions SessionStore) (*Repo, error) {
	for _, sub := range []string{"objects", filepath.Join("refs", "heads")} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("init repo layout: %w", err)
		}
	}

	r := &Repo{
		dir:      dir,
		workRoot: workRoot,
		sessions: sessions,
		log:      slog.With("component", "versioning"),
	}

	var err error
	if r.staging, err = loadStaging(filepath.Join(dir, "staging.json")); err != nil {
		return nil, err
	}
	if r.tracked, err = loadTracked(filepath.Join(dir, "tracked.json")); err != nil {
		return nil, err
	}
	r.excludes = loadIgnoreRules(workRoot)
	return r, nil
}

// WorkRoot returns the mirrored workspace root.
func (r *Repo) WorkRoot() string { return r.workRoot }

// ---- object store ----

func (r *Repo) objectPath(hash string) string {
	return filepath.Join(r.dir, "objects", hash[:2], hash[2:])
}

// putObject writes a loose zlib-deflated object and returns its id.
// Writing an object that already exists is a no-op (content addressing).
func (r *Repo) putObject(kind string, content []byte) (string, error) {
	hash := hashObject(kind, content)
	path := r.objectPath(hash)
	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("object dir: %w", err)
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	fmt.Fprintf(zw, "%s %d\x00", kind, len(content))
	zw.Write(content)
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("deflate object: %w", err)
	}
	if err := atomicWrite(path, buf.Bytes()); err != nil {
		return "", fmt.Errorf("write object %s: %w", hash, err)
	}
	return hash, nil
}

func (r *Repo) getObject(hash string) (kind string, content []byte, err error) {
	f, err := os.Open(r.objectPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, fmt.Errorf("object %s: %w", hash, ErrNotFound)
		}
		return "", nil, err
	}
	defer f.Close()

	zr, err := zlib.NewReader(f)
	if err != nil {
		return "", nil, fmt.Errorf("inflate object %s: %w", hash, err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return "", nil, fmt.Errorf("read object %s: %w", hash, err)
	}
	nul := bytes.IndexByte(raw, 0)
	if nul < 0 {
		return "", nil, fmt.Errorf("object %s: malformed header", hash)
	}
	header := string(raw[:nul])
	kind, _, _ = strings.Cut(header, " ")
	return kind, raw[nul+1:], nil
}

func (r *Repo) putBlob(content []byte) (string, error) {
	return r.putObject(kindBlob, encodeBlob(content))
}

func (r *Repo) getBlob(hash string) ([]byte, error) {
	kind, data, err := r.getObject(hash)
	if err != nil {
		return nil, err
	}
	if kind != kindBlob {
		return nil, fmt.Errorf("object %s is %s, want blob", hash, kind)
	}
	return data, nil
}

func (r *Repo) getCommit(hash string) (*Commit, error) {
	kind, data, err := r.getObject(hash)
	if err != nil {
		return nil, err
	}
	if kind != kindCommit {
		return nil, fmt.Errorf("object %s is %s, want commit", hash, kind)
	}
	return decodeCommit(hash, data)
}

// ---- refs ----

func (r *Repo) refPath(ref string) string {
	return filepath.Join(r.dir, filepath.FromSlash(ref))
}

// readRef returns the commit id a ref points at, or "" when the ref is unset.
func (r *Repo) readRef(ref string) (string, error) {
	data, err := os.ReadFile(r.refPath(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read ref %s: %w", ref, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// updateRef atomically points ref at hash (write-temp-then-rename).
func (r *Repo) updateRef(ref, hash string) error {
	path := r.refPath(ref)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := atomicWrite(path, []byte(hash+"\n")); err != nil {
		// Ref updates are retried once; the orphaned commit object is harmless.
		if err2 := atomicWrite(path, []byte(hash+"\n")); err2 != nil {
			return fmt.Errorf("update ref %s: %w", ref, err2)
		}
	}
	return nil
}

func (r *Repo) deleteRef(ref string) error {
	err := os.Remove(r.refPath(ref))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// resolve accepts a full ref name, a branch shorthand ("main", "session_2"),
// or a commit id, and returns the commit id.
func (r *Repo) resolve(rev string) (string, error) {
	if rev == "" {
		return "", fmt.Errorf("empty revision: %w", ErrNotFound)
	}
	if strings.HasPrefix(rev, "refs/") {
		return r.readRef(rev)
	}
	if hash, err := r.readRef("refs/heads/" + rev); err == nil && hash != "" {
		return hash, nil
	}
	if _, err := os.Stat(r.objectPath(rev)); err == nil {
		return rev, nil
	}
	return "", fmt.Errorf("revision %q: %w", rev, ErrNotFound)
}

// ---- flat trees ----

// flatEntry is one path in a flattened tree.
type flatEntry struct {
	Hash string
	Mode string
}

// flattenCommit returns path → entry for every file reachable from the commit.
// An empty commit id yields an empty map.
func (r *Repo) flattenCommit(commitID string) (map[string]flatEntry, error) {
	flat := map[string]flatEntry{}
	if commitID == "" {
		return flat, nil
	}
	c, err := r.getCommit(commitID)
	if err != nil {
		return nil, err
	}
	if err := r.flattenTree(c.Tree, "", flat); err != nil {
		return nil, err
	}
	return flat, nil
}

func (r *Repo) flattenTree(treeHash, prefix string, out map[string]flatEntry) error {
	kind, data, err := r.getObject(treeHash)
	if err != nil {
		return err
	}
	if kind != kindTree {
		return fmt.Errorf("object %s is %s, want tree", treeHash, kind)
	}
	t, err := decodeTree(data)
	if err != nil {
		return err
	}
	for _, e := range t.Entries {
		path := e.Name
		if prefix != "" {
			path = prefix + "/" + e.Name
		}
		if e.Mode == modeTree {
			if err := r.flattenTree(e.Hash, path, out); err != nil {
				return err
			}
			continue
		}
		out[path] = flatEntry{Hash: e.Hash, Mode: e.Mode}
	}
	return nil
}

// writeTree builds nested tree objects from a flat path map and returns the
// root tree id.
func (r *Repo) writeTree(flat map[string]flatEntry) (string, error) {
	type dir struct {
		files map[string]flatEntry
		dirs  map[string]*dir
	}
	newDir := func() *dir {
		return &dir{files: map[string]flatEntry{}, dirs: map[string]*dir{}}
	}
	root := newDir()

	paths := make([]string, 0, len(flat))
	for p := range flat {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		parts := strings.Split(p, "/")
		cur := root
		for _, seg := range parts[:len(parts)-1] {
			next, ok := cur.dirs[seg]
			if !ok {
				next = newDir()
				cur.dirs[seg] = next
			}
			cur = next
		}
		cur.files[parts[len(parts)-1]] = flat[p]
	}

	var write func(d *dir) (string, error)
	write = func(d *dir) (string, error) {
		t := &Tree{}
		for name, sub := range d.dirs {
			hash, err := write(sub)
			if err != nil {
				return "", err
			}
			t.Entries = append(t.Entries, TreeEntry{Mode: modeTree, Name: name, Hash: hash})
		}
		for name, e := range d.files {
			t.Entries = append(t.Entries, TreeEntry{Mode: e.Mode, Name: name, Hash: e.Hash})
		}
		encoded, err := encodeTree(t)
		if err != nil {
			return "", err
		}
		return r.putObject(kindTree, encoded)
	}
	return write(root)
}

// ---- workspace ----

// normalizePath converts an absolute or workspace-relative path into the
// canonical forward-slash form relative to the project root.
func (r *Repo) normalizePath(path string) (string, error) {
	p := filepath.ToSlash(path)
	if filepath.IsAbs(path) {
		rel, err := filepath.Rel(r.workRoot, path)
		if err != nil {
			return "", fmt.Errorf("path %q outside workspace: %w", path, err)
		}
		p = filepath.ToSlash(rel)
	}
	p = strings.TrimPrefix(p, "./")
	if p == "" || p == "." || strings.HasPrefix(p, "../") {
		return "", fmt.Errorf("path %q outside workspace", path)
	}
	return p, nil
}

func (r *Repo) absPath(rel string) string {
	return filepath.Join(r.workRoot, filepath.FromSlash(rel))
}

// scanWorkspace lists every non-excluded regular file under the workspace,
// keyed by normalized relative path.
func (r *Repo) scanWorkspace() (map[string]os.FileInfo, error) {
	files := map[string]os.FileInfo{}
	err := filepath.WalkDir(r.workRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped
		}
		rel, rerr := filepath.Rel(r.workRoot, path)
		if rerr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if r.excludes.Match(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if r.excludes.Match(rel, false) {
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil {
			return nil
		}
		files[rel] = info
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan workspace: %w", err)
	}
	return files, nil
}

func fileMode(info os.FileInfo) string {
	if info != nil && info.Mode()&0o111 != 0 {
		return modeExec
	}
	return modeFile
}

// atomicWrite writes data to path via a temp file in the same directory
// followed by rename.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
