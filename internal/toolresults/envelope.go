package toolresults

import "context"

// Persistence selects how a tool call's output is recorded.
type Persistence int

const (
	// PersistNone keeps the result inline only; nothing is stored and the
	// message never reaches history. Used for ephemeral tools and when no
	// store is available.
	PersistNone Persistence = iota
	// PersistReferenced stores the full result and persists the slim
	// reference form to history.
	PersistReferenced
)

// EnvelopeMetadata describes the stored result without carrying it.
type EnvelopeMetadata struct {
	SizeBytes         int     `json:"size_bytes"`
	Summary           string  `json:"summary,omitempty"`
	TruncatedPreview  *string `json:"truncated_preview,omitempty"`
	ResultPresent     bool    `json:"result_present,omitempty"`
	ResultLengthBytes int     `json:"result_length_bytes,omitempty"`
}

// Envelope is the content of a tool-result message. The full form carries the
// inline result for the model's next turn; Slim strips it down to the
// reference form persisted in history. has_inline_result=false implies
// result_ref resolves in the store.
type Envelope struct {
	ToolCallID      string           `json:"tool_call_id"`
	ToolName        string           `json:"tool_name"`
	Status          string           `json:"status"`
	Metadata        EnvelopeMetadata `json:"metadata"`
	ResultRef       *Ref             `json:"result_ref,omitempty"`
	InlineResult    map[string]any   `json:"inline_result,omitempty"`
	HasInlineResult bool             `json:"has_inline_result"`
}

// Slim returns the history form: metadata reduced to size, no inline result,
// no preview. Only meaningful for referenced envelopes.
func (e Envelope) Slim() Envelope {
	return Envelope{
		ToolCallID:      e.ToolCallID,
		ToolName:        e.ToolName,
		Status:          e.Status,
		Metadata:        EnvelopeMetadata{SizeBytes: e.Metadata.SizeBytes},
		ResultRef:       e.ResultRef,
		HasInlineResult: false,
	}
}

// BuildEnvelope persists the result per mode and returns the full envelope.
// PersistNone produces an inline-only envelope without touching storage.
func (s *Store) BuildEnvelope(ctx context.Context, mode Persistence, toolCallID, toolName string, args, result map[string]any) (Envelope, error) {
	encoded, err := json.Marshal(result)
	if err != nil {
		return Envelope{}, err
	}

	env := Envelope{
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Status:     resultStatus(result),
		Metadata: EnvelopeMetadata{
			SizeBytes:         len(encoded),
			ResultPresent:     true,
			ResultLengthBytes: len(encoded),
		},
		InlineResult:    result,
		HasInlineResult: true,
	}

	if mode == PersistNone || s == nil {
		return env, nil
	}

	ref, err := s.StoreResult(ctx, toolCallID, toolName, args, result)
	if err != nil {
		return Envelope{}, err
	}
	row, err := s.db.GetToolResult(ctx, s.dialogID, toolCallID)
	if err == nil {
		env.Metadata.SizeBytes = row.SizeBytes
		env.Metadata.Summary = row.Summary
	}
	preview := TruncatedPreview(result, 0)
	env.Metadata.TruncatedPreview = &preview
	env.ResultRef = &ref
	return env, nil
}
