package versioning

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Object kinds in the content-addressed store. Encodings are canonical so that
// identical content always yields the same id.
const (
	kindBlob   = "blob"
	kindTree   = "tree"
	kindCommit = "commit"
)

// File modes recorded in tree entries.
const (
	modeFile = "100644"
	modeExec = "100755"
	modeTree = "40000"
)

// TreeEntry is one child of a tree object.
type TreeEntry struct {
	Mode string
	Name string
	Hash string // hex object id
}

// Tree maps entry name to its record, kept sorted on encode.
type Tree struct {
	Entries []TreeEntry
}

// Commit is a snapshot pointer with ancestry.
type Commit struct {
	Hash      string
	Tree      string
	Parents   []string
	Author    string
	Message   string
	Timestamp time.Time
}

func hashObject(kind string, content []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s %d\x00", kind, len(content))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

// encodeBlob returns the canonical payload for file bytes (the bytes themselves).
func encodeBlob(content []byte) []byte { return content }

// encodeTree encodes entries as "<mode> <name>\x00<20-byte hash>" sorted by name.
func encodeTree(t *Tree) ([]byte, error) {
	entries := make([]TreeEntry, len(t.Entries))
	copy(entries, t.Entries)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	var buf bytes.Buffer
	for _, e := range entries {
		raw, err := hex.DecodeString(e.Hash)
		if err != nil || len(raw) != sha1.Size {
			return nil, fmt.Errorf("tree entry %q: bad hash %q", e.Name, e.Hash)
		}
		fmt.Fprintf(&buf, "%s %s\x00", e.Mode, e.Name)
		buf.Write(raw)
	}
	return buf.Bytes(), nil
}

func decodeTree(data []byte) (*Tree, error) {
	t := &Tree{}
	for len(data) > 0 {
		sp := bytes.IndexByte(data, ' ')
		if sp < 0 {
			return nil, fmt.Errorf("tree: missing mode separator")
		}
		mode := string(data[:sp])
		data = data[sp+1:]

		nul := bytes.IndexByte(data, 0)
		if nul < 0 {
			return nil, fmt.Errorf("tree: missing name terminator")
		}
		name := string(data[:nul])
		data = data[nul+1:]

		if len(data) < sha1.Size {
			return nil, fmt.Errorf("tree: truncated hash for %q", name)
		}
		hash := hex.EncodeToString(data[:sha1.Size])
		data = data[sha1.Size:]

		t.Entries = append(t.Entries, TreeEntry{Mode: mode, Name: name, Hash: hash})
	}
	return t, nil
}

func encodeCommit(c *Commit) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", c.Tree)
	for _, p := range c.Parents {
		fmt.Fprintf(&buf, "parent %s\n", p)
	}
	ts := c.Timestamp.Unix()
	fmt.Fprintf(&buf, "author %s %d +0000\n", c.Author, ts)
	fmt.Fprintf(&buf, "committer %s %d +0000\n", c.Author, ts)
	buf.WriteString("\n")
	buf.WriteString(c.Message)
	buf.WriteString("\n")
	return buf.Bytes()
}

func decodeCommit(hash string, data []byte) (*Commit, error) {
	c := &Commit{Hash: hash}
	text := string(data)
	head, msg, found := strings.Cut(text, "\n\n")
	if !found {
		return nil, fmt.Errorf("commit %s: missing message separator", hash)
	}
	c.Message = strings.TrimSuffix(msg, "\n")

	for _, line := range strings.Split(head, "\n") {
		key, val, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		switch key {
		case "tree":
			c.Tree = val
		case "parent":
			c.Parents = append(c.Parents, val)
		case "author":
			// "<name> <unix> <tz>"
			fields := strings.Fields(val)
			if len(fields) >= 2 {
				c.Author = strings.Join(fields[:len(fields)-2], " ")
				if sec, err := strconv.ParseInt(fields[len(fields)-2], 10, 64); err == nil {
					c.Timestamp = time.Unix(sec, 0).UTC()
				}
			}
		}
	}
	if c.Tree == "" {
		return nil, fmt.Errorf("commit %s: missing tree", hash)
	}
	return c, nil
}
