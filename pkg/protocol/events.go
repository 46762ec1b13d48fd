package protocol

import (
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventType names the closed set of stream event variants. The set is part of
// the external contract: adding a type is a compatible change, renaming is not.
type EventType string

const (
	EventUser           EventType = "user"
	EventChatStart      EventType = "chat_start"
	EventChat           EventType = "chat"
	EventChatEnd        EventType = "chat_end"
	EventReasoningStart EventType = "reasoning_start"
	EventReasoning      EventType = "reasoning"
	EventReasoningEnd   EventType = "reasoning_end"
	EventSummaryStart   EventType = "summary_start"
	EventSummaryEnd     EventType = "summary_end"
	EventToolCall       EventType = "tool_call"
	EventFileEdit       EventType = "file_edit"
	EventError          EventType = "error"
	EventDone           EventType = "done"
)

// Event is a single server-to-client stream event. Only the fields that make
// sense for the variant are populated; Payload renders the stable wire shape.
type Event struct {
	Type     EventType `json:"type"`
	DialogID string    `json:"dialog_id,omitempty"`

	// user / chat / reasoning text.
	Content string `json:"content,omitempty"`

	// user: checkpoint commit id and session name captured before the turn.
	Checkpoint string `json:"checkpoint,omitempty"`
	Session    string `json:"session,omitempty"`

	// tool_call.
	ToolName string         `json:"name,omitempty"`
	ToolArgs map[string]any `json:"args,omitempty"`

	// file_edit.
	File string `json:"file,omitempty"`
	Diff string `json:"diff,omitempty"`

	// error.
	Err string `json:"error,omitempty"`

	// Idx is the visible-message index, set only on user/chat events emitted
	// by the history reconstructor.
	Idx *int `json:"idx,omitempty"`
}

func UserEvent(content, checkpoint, session string) Event {
	return Event{Type: EventUser, Content: content, Checkpoint: checkpoint, Session: session}
}

func ChatStartEvent() Event { return Event{Type: EventChatStart} }

func ChatEvent(content string) Event { return Event{Type: EventChat, Content: content} }

func ChatEndEvent() Event { return Event{Type: EventChatEnd} }

func ReasoningStartEvent() Event { return Event{Type: EventReasoningStart} }

func ReasoningEvent(content string) Event { return Event{Type: EventReasoning, Content: content} }

func ReasoningEndEvent() Event { return Event{Type: EventReasoningEnd} }

func SummaryStartEvent() Event { return Event{Type: EventSummaryStart} }

func SummaryEndEvent() Event { return Event{Type: EventSummaryEnd} }

func ToolCallEvent(name string, args map[string]any) Event {
	return Event{Type: EventToolCall, ToolName: name, ToolArgs: args}
}

func FileEditEvent(file, diff string) Event {
	return Event{Type: EventFileEdit, File: file, Diff: diff}
}

func ErrorEvent(msg string) Event { return Event{Type: EventError, Err: msg} }

func DoneEvent() Event { return Event{Type: EventDone} }

// Payload returns the event's data object exactly as serialized on the wire.
// Unset optional fields are omitted; done always carries {done: true}.
func (e Event) Payload() map[string]any {
	p := map[string]any{}
	if e.DialogID != "" {
		p["dialog_id"] = e.DialogID
	}
	switch e.Type {
	case EventUser:
		p["content"] = e.Content
		if e.Checkpoint != "" {
			p["checkpoint"] = e.Checkpoint
		}
		if e.Session != "" {
			p["session"] = e.Session
		}
	case EventChat, EventReasoning:
		p["content"] = e.Content
	case EventToolCall:
		p["name"] = e.ToolName
		args := e.ToolArgs
		if args == nil {
			args = map[string]any{}
		}
		p["args"] = args
	case EventFileEdit:
		p["file"] = e.File
		if e.Diff != "" {
			p["diff"] = e.Diff
		}
	case EventError:
		p["error"] = e.Err
	case EventDone:
		p["done"] = true
	}
	if e.Idx != nil {
		p["idx"] = *e.Idx
	}
	return p
}

// SSEFrame is one framed server-sent event: the event name plus its data as
// JSON text.
type SSEFrame struct {
	Event string
	Data  string
}

// ToSSE frames the event for an SSE response.
func (e Event) ToSSE() (SSEFrame, error) {
	data, err := json.Marshal(e.Payload())
	if err != nil {
		return SSEFrame{}, err
	}
	return SSEFrame{Event: string(e.Type), Data: string(data)}, nil
}

// WithDialog returns a copy of the event tagged with a dialog id.
func (e Event) WithDialog(id string) Event {
	e.DialogID = id
	return e
}

// WithIdx returns a copy of the event carrying a visible-message index.
func (e Event) WithIdx(idx int) Event {
	e.Idx = &idx
	return e
}
