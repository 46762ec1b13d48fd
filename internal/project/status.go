package project

import (
	"log/slog"
	"os"
	"sync"
)

// Status is the status.json document other processes (and /health) read.
type Status struct {
	ServerStatus string `json:"server_status"`
	ServerPID    int    `json:"server_pid,omitempty"`
	Port         int    `json:"port,omitempty"`
	ServerError  string `json:"server_error,omitempty"`
	ScanStatus   string `json:"scan_status,omitempty"`
	ScanProgress int    `json:"scan_progress,omitempty"`
}

// StatusManager serializes updates to status.json. Every write goes through
// the process-local mutex and lands atomically.
type StatusManager struct {
	mu   sync.Mutex
	path string
	cur  Status
	log  *slog.Logger
}

func NewStatusManager(path string) *StatusManager {
	m := &StatusManager{path: path, log: slog.With("component", "status")}
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &m.cur)
	}
	return m
}

// Current returns the last written status.
func (m *StatusManager) Current() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

// Set replaces the whole document.
func (m *StatusManager) Set(s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cur = s
	m.writeLocked()
}

// Update applies a partial mutation under the lock.
func (m *StatusManager) Update(apply func(*Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	apply(&m.cur)
	m.writeLocked()
}

func (m *StatusManager) writeLocked() {
	data, err := json.MarshalIndent(m.cur, "", "  ")
	if err != nil {
		m.log.Warn("failed to encode status", "error", err)
		return
	}
	if err := atomicWriteFile(m.path, data); err != nil {
		m.log.Warn("failed to write status", "error", err)
	}
}
