package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/slotshare/warranty/internal/domain"
)

// SSE event names. Progress events carry interim messages; the done event
// carries the run's final outcome and closes the stream.
const (
	eventProgress = "progress"
	eventDone     = "done"
)

// sseWriter writes server-sent events to one streaming connection.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newSSEWriter(w http.ResponseWriter, f http.Flusher) *sseWriter {
	return &sseWriter{w: w, f: f}
}

func (s *sseWriter) writeHeaders() {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	// Tell proxies not to buffer the stream.
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.f.Flush()
}

// event writes one progress event in SSE wire format and flushes it.
func (s *sseWriter) event(ev domain.ProgressEvent) error {
	name := eventProgress
	if ev.Terminal {
		name = eventDone
	}

	payload, err := json.Marshal(newStreamEvent(ev))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// comment writes an SSE comment line. Used as a keepalive: comments are
// ignored by EventSource but keep intermediaries from closing idle
// connections.
func (s *sseWriter) comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}
