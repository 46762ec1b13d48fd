package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/agentsmithy/agentsmithy/pkg/protocol"
)

var errClientGone = errors.New("sse: client disconnected")

// sseStream is a guarded SSE writer. It guarantees the external contract:
// at most one done per stream, nothing after done, and nothing at all once
// the client is gone.
type sseStream struct {
	w http.ResponseWriter
	f http.Flusher

	mu       sync.Mutex
	doneSent bool
	dead     bool
}

// newSSEStream sets the stream headers. Returns an error when the
// ResponseWriter cannot flush (no streaming support).
func newSSEStream(w http.ResponseWriter) (*sseStream, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("sse: response writer does not support streaming")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &sseStream{w: w, f: f}, nil
}

// Send frames and writes one event. Events after done are dropped.
func (s *sseStream) Send(ev protocol.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dead {
		return errClientGone
	}
	if s.doneSent {
		return nil
	}

	frame, err := ev.ToSSE()
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", frame.Event, frame.Data); err != nil {
		s.dead = true
		return errClientGone
	}
	s.f.Flush()

	if ev.Type == protocol.EventDone {
		s.doneSent = true
	}
	return nil
}

// Finish closes the stream contract: if the turn ended without a done and
// the client is still connected, exactly one done is appended.
func (s *sseStream) Finish() {
	s.mu.Lock()
	needDone := !s.doneSent && !s.dead
	s.mu.Unlock()
	if needDone {
		_ = s.Send(protocol.DoneEvent())
	}
}
