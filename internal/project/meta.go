package project

import (
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const metaFileName = "meta.json"

// Meta is the per-dialog metadata document stored alongside the journal.
type Meta struct {
	ID                string    `json:"id"`
	Title             string    `json:"title,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	ActiveSession     string    `json:"active_session,omitempty"`
	LastApprovedAt    string    `json:"last_approved_at,omitempty"`
	InitialCheckpoint string    `json:"initial_checkpoint,omitempty"`
}

func readMeta(dialogDir string) (Meta, error) {
	data, err := os.ReadFile(filepath.Join(dialogDir, metaFileName))
	if err != nil {
		return Meta{}, err
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return Meta{}, err
	}
	if m.ID == "" {
		m.ID = filepath.Base(dialogDir)
	}
	return m, nil
}

func writeMeta(dialogDir string, m Meta) error {
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return atomicWriteFile(filepath.Join(dialogDir, metaFileName), data)
}

// atomicWriteFile writes via a temp file in the same directory and renames
// over the target, so readers never observe a partial document.
func atomicWriteFile(path string, data []byte) error {
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
	return os.Rename(tmpName, path)
}
