package sse

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriter_FramesEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec)

	if err := w.WriteEvent("status", map[string]string{"phase": "stream_start"}); err != nil {
		t.Fatalf("write event: %v", err)
	}

	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/event-stream") {
		t.Fatalf("unexpected content type %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-cache" {
		t.Fatalf("unexpected cache control %q", got)
	}

	body := rec.Body.String()
	want := "event: status\ndata: {\"phase\":\"stream_start\"}\n\n"
	if body != want {
		t.Fatalf("frame mismatch:\n got %q\nwant %q", body, want)
	}
}

func TestWriter_NilPayloadEncodesEmptyObject(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec)

	if err := w.WriteEvent("init", nil); err != nil {
		t.Fatalf("write event: %v", err)
	}
	if got := rec.Body.String(); got != "event: init\ndata: {}\n\n" {
		t.Fatalf("unexpected frame %q", got)
	}
}

func TestWriter_HeartbeatIsComment(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec)

	if err := w.WriteHeartbeat(); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if got := rec.Body.String(); got != ": heartbeat\n\n" {
		t.Fatalf("unexpected heartbeat frame %q", got)
	}

	// decoders must not surface it
	var d Decoder
	if evs := d.Feed([]byte(rec.Body.String())); len(evs) != 0 {
		t.Fatalf("heartbeat surfaced as events: %+v", evs)
	}
}

func TestWriter_CloseIdempotent(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec)

	w.Close()
	w.Close()

	if err := w.WriteEvent("chunk", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
	if err := w.WriteHeartbeat(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed heartbeat after close, got %v", err)
	}
}

type failingResponseWriter struct {
	*httptest.ResponseRecorder
}

func (f *failingResponseWriter) Write([]byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestWriter_TransportFailurePoisons(t *testing.T) {
	rec := &failingResponseWriter{httptest.NewRecorder()}
	w := NewWriter(rec)

	if err := w.WriteEvent("chunk", nil); err == nil {
		t.Fatal("expected write failure")
	}
	// every later write is a cheap no-op error, never a panic
	if err := w.WriteEvent("complete", nil); err == nil {
		t.Fatal("expected sticky error")
	}
	if w.Err() == nil {
		t.Fatal("expected sticky transport error recorded")
	}
}
