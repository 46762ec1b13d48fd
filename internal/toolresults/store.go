// Package toolresults persists full tool outputs per dialog and builds the
// envelopes that stand in for them: a full form handed back to the model and
// a slim reference form persisted to history.
package toolresults

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/agentsmithy/agentsmithy/internal/journal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound is returned when no result is stored under a tool call id.
var ErrNotFound = journal.ErrNotFound

// Ref points at a stored tool result.
type Ref struct {
	StorageType string `json:"storage_type"`
	DialogID    string `json:"dialog_id"`
	ToolCallID  string `json:"tool_call_id"`
}

// StoredResult is a fully decoded stored record.
type StoredResult struct {
	ToolCallID string
	ToolName   string
	Args       map[string]any
	Result     map[string]any
	Timestamp  string
	SizeBytes  int
	Summary    string
	Error      string
}

// Store writes tool results into the dialog's journal.
type Store struct {
	db       *journal.DB
	dialogID string
	log      *slog.Logger
}

// NewStore binds a store to one dialog's journal.
func NewStore(db *journal.DB, dialogID string) *Store {
	return &Store{
		db:       db,
		dialogID: dialogID,
		log:      slog.With("component", "toolresults", "dialog", dialogID),
	}
}

// StoreResult writes a compressed record for the call and returns its
// reference. Size is computed over the serialized result; the summary comes
// from the per-tool generator.
func (s *Store) StoreResult(ctx context.Context, toolCallID, toolName string, args, result map[string]any) (Ref, error) {
	packedArgs, err := json.Marshal(args)
	if err != nil {
		return Ref{}, fmt.Errorf("encode args: %w", err)
	}
	packedResult, err := json.Marshal(result)
	if err != nil {
		return Ref{}, fmt.Errorf("encode result: %w", err)
	}

	row := journal.ToolResultRow{
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Args:       packedArgs,
		Result:     packedResult,
		SizeBytes:  len(packedResult),
		Summary:    Summarize(toolName, args, result),
		Error:      resultError(result),
	}
	if err := s.db.PutToolResult(ctx, s.dialogID, row); err != nil {
		return Ref{}, fmt.Errorf("store tool result: %w", err)
	}

	s.log.Info("stored tool result",
		"tool_call_id", toolCallID, "tool", toolName, "size_bytes", row.SizeBytes)

	return Ref{StorageType: "tool_results", DialogID: s.dialogID, ToolCallID: toolCallID}, nil
}

// Get returns the stored record for a tool call, decoded.
func (s *Store) Get(ctx context.Context, toolCallID string) (StoredResult, error) {
	row, err := s.db.GetToolResult(ctx, s.dialogID, toolCallID)
	if err != nil {
		return StoredResult{}, err
	}
	out := StoredResult{
		ToolCallID: row.ToolCallID,
		ToolName:   row.ToolName,
		Timestamp:  row.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		SizeBytes:  row.SizeBytes,
		Summary:    row.Summary,
		Error:      row.Error,
	}
	if len(row.Args) > 0 {
		if err := json.Unmarshal(row.Args, &out.Args); err != nil {
			return StoredResult{}, fmt.Errorf("decode args: %w", err)
		}
	}
	if len(row.Result) > 0 {
		if err := json.Unmarshal(row.Result, &out.Result); err != nil {
			return StoredResult{}, fmt.Errorf("decode result: %w", err)
		}
	}
	return out, nil
}

// resultError normalizes an error string out of unified and legacy result
// shapes; empty for success results.
func resultError(result map[string]any) string {
	rtype, _ := result["type"].(string)
	switch {
	case rtype == "tool_error":
		if e, ok := result["error"].(string); ok && e != "" {
			return e
		}
		if m, ok := result["message"].(string); ok {
			return m
		}
	case strings.HasSuffix(rtype, "_error"):
		if e, ok := result["error"].(string); ok {
			return e
		}
	}
	return ""
}

// resultStatus classifies a result for envelope purposes.
func resultStatus(result map[string]any) string {
	rtype, _ := result["type"].(string)
	if rtype == "tool_error" || strings.Contains(rtype, "error") {
		return "error"
	}
	return "success"
}
