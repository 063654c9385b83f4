// Package sse implements the server-sent-events framing used between the
// arena gateway and its streaming clients: an encoder over a live HTTP
// response and an incremental decoder for consuming one.
package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// ErrClosed is reported by writes after Close or after a transport failure.
var ErrClosed = errors.New("sse: writer closed")

// Writer frames named events onto a single streaming HTTP response. It is
// safe for concurrent use; the harness and its heartbeat ticker share one
// writer.
type Writer struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
	err     error
}

// NewWriter configures the response for event streaming and returns the
// writer. Headers must not have been written yet.
func NewWriter(w http.ResponseWriter) *Writer {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: flusher}
}

// WriteEvent frames one event as "event: <name>\ndata: <json>\n\n" and
// flushes. A nil payload encodes as an empty object so every event carries
// valid JSON data. A transport write failure poisons the writer: the client
// is gone and no further write may be attempted.
func (s *Writer) WriteEvent(name string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		if s.err != nil {
			return s.err
		}
		return ErrClosed
	}

	data := []byte("{}")
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("sse: marshal %s payload: %w", name, err)
		}
		data = b
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		s.poisonLocked(err)
		return s.err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// WriteHeartbeat emits a comment-only frame. Intermediary proxies see
// traffic; decoders drop comment lines, so consumers never observe it.
func (s *Writer) WriteHeartbeat() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		if s.err != nil {
			return s.err
		}
		return ErrClosed
	}
	if _, err := fmt.Fprint(s.w, ": heartbeat\n\n"); err != nil {
		s.poisonLocked(err)
		return s.err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// Close ends the event stream. Idempotent; later writes return ErrClosed.
func (s *Writer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// Err returns the sticky transport error, if any.
func (s *Writer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Writer) poisonLocked(err error) {
	s.closed = true
	s.err = fmt.Errorf("sse: write: %w", err)
}
