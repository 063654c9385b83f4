package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/debatearena/arena-gateway/internal/metrics"
	"github.com/debatearena/arena-gateway/internal/provider"
	"github.com/debatearena/arena-gateway/internal/provider/loopback"
	"github.com/debatearena/arena-gateway/internal/session"
	"github.com/debatearena/arena-gateway/internal/turn"
	"github.com/debatearena/arena-gateway/internal/turncontrol"
	"github.com/debatearena/arena-gateway/internal/turnstore/memory"
)

type sseEvent struct {
	name string
	data map[string]any
}

// parseSSE splits a complete SSE body into named events, dropping comment
// frames.
func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, frame := range strings.Split(body, "\n\n") {
		frame = strings.TrimSpace(frame)
		if frame == "" || strings.HasPrefix(frame, ":") {
			continue
		}
		var name, data string
		for _, line := range strings.Split(frame, "\n") {
			switch {
			case strings.HasPrefix(line, "event:"):
				name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				if data != "" {
					data += "\n"
				}
				data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			}
		}
		ev := sseEvent{name: name}
		if data != "" {
			if err := json.Unmarshal([]byte(data), &ev.data); err != nil {
				t.Fatalf("event %q carries invalid JSON %q: %v", name, data, err)
			}
		}
		events = append(events, ev)
	}
	return events
}

// countingStreamer records how many times the provider was invoked.
type countingStreamer struct {
	inner provider.Streamer
	calls atomic.Int64
}

func (c *countingStreamer) StreamGenerate(ctx context.Context, req turn.Request, cb provider.Callbacks) error {
	c.calls.Add(1)
	return c.inner.StreamGenerate(ctx, req, cb)
}

func newTestServer(t *testing.T, enabled bool) (*Server, *countingStreamer, *memory.Store) {
	t.Helper()
	store := memory.New()
	streamer := &countingStreamer{inner: loopback.New(0)}
	srv := New(Config{
		Registry:      session.NewRegistry(),
		Controller:    turncontrol.New(store, nil),
		Streamer:      streamer,
		Collector:     metrics.NewCollector(),
		StreamEnabled: enabled,
	})
	return srv, streamer, store
}

func initSession(t *testing.T, handler http.Handler, body map[string]any) map[string]any {
	t.Helper()
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stream/init", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("init status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("init response not JSON: %v", err)
	}
	return resp
}

func TestStreamInitAndOpen(t *testing.T) {
	srv, streamer, store := newTestServer(t, true)
	handler := srv.Router()

	resp := initSession(t, handler, map[string]any{
		"model":       "loopback-1",
		"model_key":   "pro",
		"topic":       "space elevators",
		"position":    "pro",
		"intensity":   0.5,
		"turn_number": 1,
	})
	sessionID, _ := resp["session_id"].(string)
	taskID, _ := resp["task_id"].(string)
	if sessionID == "" || taskID == "" {
		t.Fatalf("init response missing ids: %v", resp)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stream/"+taskID+"/pro/"+sessionID, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("open status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("Content-Type = %q", ct)
	}

	events := parseSSE(t, rec.Body.String())
	if len(events) < 4 {
		t.Fatalf("expected init/status/chunks/complete, got %d events", len(events))
	}
	if events[0].name != "init" {
		t.Fatalf("first event = %q, want init", events[0].name)
	}
	last := events[len(events)-1]
	if last.name != "complete" {
		t.Fatalf("last event = %q, want complete", last.name)
	}
	if p, _ := last.data["progress"].(float64); p != 100 {
		t.Fatalf("complete progress = %v, want 100", p)
	}
	sawChunk := false
	for _, ev := range events[1 : len(events)-1] {
		if ev.name == "chunk" {
			sawChunk = true
		}
		if ev.name == "complete" || ev.name == "error" {
			t.Fatalf("terminal event %q before end of stream", ev.name)
		}
	}
	if !sawChunk {
		t.Fatal("no chunk events in stream")
	}
	if got := streamer.calls.Load(); got != 1 {
		t.Fatalf("provider calls = %d, want 1", got)
	}

	// the turn must be persisted under the conversation for this task
	convID, err := store.EnsureConversation(context.Background(), taskID, "space elevators")
	if err != nil {
		t.Fatalf("EnsureConversation: %v", err)
	}
	turns, err := store.ListTurns(context.Background(), convID)
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("persisted turns = %d, want 1", len(turns))
	}
	if turns[0].ModelKey != "pro" || turns[0].Content == "" {
		t.Fatalf("persisted turn = %+v", turns[0])
	}
}

func TestStreamOpenRejectsMismatchedSession(t *testing.T) {
	srv, streamer, _ := newTestServer(t, true)
	handler := srv.Router()

	resp := initSession(t, handler, map[string]any{
		"model":       "loopback-1",
		"model_key":   "pro",
		"topic":       "space elevators",
		"position":    "pro",
		"turn_number": 1,
	})
	sessionID := resp["session_id"].(string)
	taskID := resp["task_id"].(string)

	// wrong model key in the path must not consume the session or touch
	// the provider
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stream/"+taskID+"/con/"+sessionID, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("mismatched open status = %d", rec.Code)
	}
	if got := streamer.calls.Load(); got != 0 {
		t.Fatalf("provider calls after mismatch = %d, want 0", got)
	}

	// the original triple still works
	req = httptest.NewRequest(http.MethodGet, "/api/v1/stream/"+taskID+"/pro/"+sessionID, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("open after mismatch status = %d", rec.Code)
	}

	// and exactly once
	req = httptest.NewRequest(http.MethodGet, "/api/v1/stream/"+taskID+"/pro/"+sessionID, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("replayed open status = %d, want 404", rec.Code)
	}
	if got := streamer.calls.Load(); got != 1 {
		t.Fatalf("provider calls = %d, want 1", got)
	}
}

func TestStreamingDisabled(t *testing.T) {
	srv, _, _ := newTestServer(t, false)
	handler := srv.Router()

	raw, _ := json.Marshal(map[string]any{
		"model": "loopback-1", "model_key": "pro", "topic": "t", "position": "pro", "turn_number": 1,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stream/init", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("init status = %d, want 503", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/stream/task/pro/session", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("open status = %d, want 503", rec.Code)
	}
}

func TestStreamInitValidation(t *testing.T) {
	srv, _, _ := newTestServer(t, true)
	handler := srv.Router()

	raw, _ := json.Marshal(map[string]any{
		"model_key": "pro", "topic": "t", "position": "pro", "turn_number": 1,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stream/init", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("init without model status = %d, want 400", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/stream/init", strings.NewReader("{"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("init with bad JSON status = %d, want 400", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t, true)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("healthz body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("healthz status field = %v", body["status"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, true)
	srv.collector.StreamStarted("pro")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "arena_streams_started_total") {
		t.Fatalf("metrics output missing counters: %s", rec.Body.String())
	}
}
