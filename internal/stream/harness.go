// Package stream contains the harness that turns provider callbacks into
// the ordered event protocol clients observe. It is the single writer for a
// connection's event encoder and the only place terminal semantics are
// enforced.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/debatearena/arena-gateway/internal/provider"
	"github.com/debatearena/arena-gateway/internal/turn"
	"github.com/debatearena/arena-gateway/internal/turncontrol"
)

// Event names written to the wire. The vocabulary is closed; consumers may
// ignore names they do not know but the harness never invents new ones.
const (
	EventInit     = "init"
	EventStatus   = "status"
	EventChunk    = "chunk"
	EventComplete = "complete"
	EventError    = "error"
)

// Progress ceilings per chunk kind. Reasoning precedes content and must not
// signal near-completion; only complete itself reaches 100.
const (
	reasoningCeiling = 85.0
	contentCeiling   = 98.0
)

// Stable in-stream error codes.
const (
	CodeCanceled      = "canceled"
	CodeProviderError = "provider_error"
	CodePersistFailed = "persist_failed"
	CodeStreamStalled = "stream_stalled"
)

// EventWriter is the encoder surface the harness drives.
type EventWriter interface {
	WriteEvent(name string, payload any) error
	WriteHeartbeat() error
	Close()
}

// TurnSink receives the terminal result for persistence.
type TurnSink interface {
	CompleteTurn(ctx context.Context, resolved turncontrol.ResolvedTurn, result turn.Result) error
}

// Harness accumulates provider output for one turn and emits the typed
// event stream. One harness serves exactly one connection.
type Harness struct {
	w        EventWriter
	sink     TurnSink
	resolved turncontrol.ResolvedTurn
	req      turn.Request
	logger   *log.Logger

	heartbeatInterval time.Duration
	now               func() time.Time
	onChunk           func(kind string)

	mu              sync.Mutex
	started         time.Time
	reasoningChunks []turn.ChunkRecord
	contentChunks   []turn.ChunkRecord
	jsonChunks      []json.RawMessage
	reasoning       string
	content         string
	lastReasoningAt time.Time
	lastContentAt   time.Time
	progress        float64
	phase           string
	terminal        bool
	completed       bool
}

// Options tune harness behaviour; zero values take defaults.
type Options struct {
	// HeartbeatInterval spaces keepalive frames during silent provider
	// phases. Zero disables heartbeats (tests).
	HeartbeatInterval time.Duration
	// Clock is injectable for deterministic intensity/elapsed numbers.
	Clock func() time.Time
	// Logger may be nil.
	Logger *log.Logger
	// OnChunk observes every emitted chunk's kind; used for metrics.
	OnChunk func(kind string)
}

// New constructs a harness for one resolved turn.
func New(w EventWriter, sink TurnSink, resolved turncontrol.ResolvedTurn, req turn.Request, opts Options) *Harness {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Harness{
		w:                 w,
		sink:              sink,
		resolved:          resolved,
		req:               req,
		logger:            opts.Logger,
		heartbeatInterval: opts.HeartbeatInterval,
		onChunk:           opts.OnChunk,
		now:               now,
	}
}

// Run drives the provider and the encoder to a terminal state. It blocks
// until exactly one terminal event (complete or error) has been written,
// then closes the encoder. The returned error reports the failure cause for
// logging; the client has already been told via the error event.
func (h *Harness) Run(ctx context.Context, streamer provider.Streamer) error {
	h.mu.Lock()
	h.started = h.now()
	h.mu.Unlock()

	h.emitInit()
	defer h.w.Close()

	stopHeartbeat := h.startHeartbeat(ctx)
	defer stopHeartbeat()

	h.Status("provider_dispatch", "")

	err := streamer.StreamGenerate(ctx, h.req, provider.Callbacks{
		OnStatus:         func(phase, message string) { h.Status(phase, message) },
		OnReasoningChunk: func(delta string) { h.textChunk(turn.KindReasoning, delta) },
		OnContentChunk:   func(delta string) { h.textChunk(turn.KindContent, delta) },
		OnJSONChunk:      func(value json.RawMessage) { h.jsonChunk(value) },
		OnComplete:       func(c provider.Completion) { h.complete(ctx, c) },
		OnError:          func(err error) { h.fail(err) },
	})

	// Normally the provider fires a terminal callback before returning.
	// Cover the ones that don't.
	h.mu.Lock()
	done := h.terminal
	h.mu.Unlock()
	if !done {
		switch {
		case err != nil:
			h.fail(err)
		case ctx.Err() != nil:
			h.fail(ctx.Err())
		default:
			h.failCode(CodeStreamStalled, errors.New("provider stream ended without completion"))
		}
	}
	return err
}

// Status emits an informational lifecycle event. Dropped silently after the
// terminal event.
func (h *Harness) Status(phase, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.terminal {
		return
	}
	h.phase = phase
	payload := map[string]any{"phase": phase}
	if message != "" {
		payload["message"] = message
	}
	h.writeLocked(EventStatus, payload)
}

func (h *Harness) emitInit() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.writeLocked(EventInit, map[string]any{
		"task_id":              h.resolved.TaskID,
		"model_key":            h.resolved.ModelKey,
		"model":                h.resolved.Model,
		"position":             h.resolved.Position,
		"turn_number":          h.resolved.TurnNumber,
		"conversation_id":      h.resolved.ConversationID,
		"previous_response_id": h.resolved.PreviousResponseID,
	})
}

func (h *Harness) textChunk(kind turn.ChunkKind, delta string) {
	if delta == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.terminal {
		return
	}

	now := h.now()
	var last time.Time
	var ceiling float64
	switch kind {
	case turn.KindReasoning:
		last = h.lastReasoningAt
		ceiling = reasoningCeiling
	default:
		last = h.lastContentAt
		ceiling = contentCeiling
	}
	if last.IsZero() {
		last = h.started
	}
	elapsed := now.Sub(last)
	if elapsed < time.Millisecond {
		elapsed = time.Millisecond
	}
	intensity := float64(len(turn.CollapseWhitespace(delta))) / elapsed.Seconds()

	var cumulative string
	switch kind {
	case turn.KindReasoning:
		h.reasoning += delta
		cumulative = h.reasoning
		h.lastReasoningAt = now
	default:
		h.content += delta
		cumulative = h.content
		h.lastContentAt = now
	}

	rec := turn.ChunkRecord{
		Kind:       kind,
		Timestamp:  now,
		Delta:      delta,
		Cumulative: cumulative,
		CharCount:  len(delta),
		Intensity:  intensity,
	}
	switch kind {
	case turn.KindReasoning:
		h.reasoningChunks = append(h.reasoningChunks, rec)
	default:
		h.contentChunks = append(h.contentChunks, rec)
	}

	// step 5% of the remaining distance toward the kind ceiling; monotone
	// because progress never exceeds the content ceiling before complete
	next := h.progress + (ceiling-h.progress)*0.05
	if next > h.progress {
		h.progress = next
	}

	if h.onChunk != nil {
		h.onChunk(string(kind))
	}
	h.writeLocked(EventChunk, map[string]any{
		"kind":       string(kind),
		"delta":      delta,
		"cumulative": cumulative,
		"char_count": rec.CharCount,
		"intensity":  round2(intensity),
		"progress":   round2(h.progress),
		"timestamp":  now.UnixMilli(),
	})
}

func (h *Harness) jsonChunk(value json.RawMessage) {
	if len(value) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.terminal {
		return
	}
	h.jsonChunks = append(h.jsonChunks, value)
	if h.onChunk != nil {
		h.onChunk("json")
	}
	h.writeLocked(EventChunk, map[string]any{
		"kind":     "json",
		"value":    value,
		"progress": round2(h.progress),
	})
}

func (h *Harness) complete(ctx context.Context, c provider.Completion) {
	h.mu.Lock()
	if h.terminal {
		h.mu.Unlock()
		return
	}
	// claim the terminal slot before releasing the lock for persistence so
	// no chunk or status can interleave between the last delta and the
	// terminal frame
	h.terminal = true

	// the provider is authoritative when it supplies a more complete final
	// string than what streamed
	if len(c.FinalContent) > len(h.content) {
		h.content = c.FinalContent
	}
	if len(c.FinalReasoning) > len(h.reasoning) {
		h.reasoning = c.FinalReasoning
	}

	result := turn.Result{
		TaskID:          h.resolved.TaskID,
		ModelKey:        h.resolved.ModelKey,
		Model:           h.resolved.Model,
		TurnNumber:      h.resolved.TurnNumber,
		Reasoning:       h.reasoning,
		Content:         h.content,
		ReasoningChunks: h.reasoningChunks,
		ContentChunks:   h.contentChunks,
		JSONFragments:   h.jsonChunks,
		ResponseID:      c.ResponseID,
		Usage:           c.Usage,
		Cost:            c.Cost,
		Elapsed:         h.now().Sub(h.started),
	}
	h.mu.Unlock()

	// persistence happens outside the lock; the sink may hit a database
	if h.sink != nil {
		if err := h.sink.CompleteTurn(ctx, h.resolved, result); err != nil {
			if h.logger != nil {
				h.logger.Printf("turn persist failed task=%s model_key=%s: %v", h.resolved.TaskID, h.resolved.ModelKey, err)
			}
			h.mu.Lock()
			defer h.mu.Unlock()
			h.writeLocked(EventError, map[string]any{
				"code":     CodePersistFailed,
				"message":  fmt.Errorf("persist turn: %w", err).Error(),
				"progress": round2(h.progress),
			})
			return
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	// progress reaches 100 only here, never on an error path
	h.progress = 100
	h.completed = true
	h.writeLocked(EventComplete, map[string]any{
		"response_id": result.ResponseID,
		"reasoning":   result.Reasoning,
		"content":     result.Content,
		"usage": map[string]int{
			"prompt_tokens":     result.Usage.PromptTokens,
			"completion_tokens": result.Usage.CompletionTokens,
			"total_tokens":      result.Usage.TotalTokens,
		},
		"cost":       result.Cost,
		"elapsed_ms": result.Elapsed.Milliseconds(),
		"progress":   100,
		"meta": map[string]any{
			"task_id":         h.resolved.TaskID,
			"model_key":       h.resolved.ModelKey,
			"turn_number":     h.resolved.TurnNumber,
			"conversation_id": h.resolved.ConversationID,
			"json_fragments":  h.jsonChunks,
		},
	})
}

func (h *Harness) fail(err error) {
	code := CodeProviderError
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		code = CodeCanceled
	}
	h.failCode(code, err)
}

func (h *Harness) failCode(code string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.terminal {
		return
	}
	h.terminal = true
	h.writeLocked(EventError, map[string]any{
		"code":     code,
		"message":  err.Error(),
		"progress": round2(h.progress),
	})
}

// Progress reports the current progress value. Exposed for tests.
func (h *Harness) Progress() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.progress
}

// Completed reports whether the turn reached its complete event (as opposed
// to ending in an error or disconnect).
func (h *Harness) Completed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.completed
}

func (h *Harness) startHeartbeat(ctx context.Context) func() {
	if h.heartbeatInterval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(h.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.mu.Lock()
				if !h.terminal {
					_ = h.w.WriteHeartbeat()
				}
				h.mu.Unlock()
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// writeLocked forwards one event; caller holds the mutex. Write errors mean
// the client disconnected: the encoder is poisoned and every further write
// becomes a no-op, so nothing else is driven into a dead connection.
func (h *Harness) writeLocked(name string, payload any) {
	if err := h.w.WriteEvent(name, payload); err != nil && h.logger != nil {
		h.logger.Printf("event write failed (%s) task=%s: %v", name, h.resolved.TaskID, err)
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
