// Package client consumes the gateway's two-phase streaming protocol: a
// fast init POST followed by a long-lived SSE GET. It buffers incoming
// deltas and commits them to the caller as coalesced snapshots so a
// renderer is never driven once per token.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/debatearena/arena-gateway/internal/sse"
	"github.com/debatearena/arena-gateway/internal/turn"
)

// HTTPClient is the subset of *http.Client the consumer needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// InitRequest is the body of the init phase.
type InitRequest struct {
	TaskID             string  `json:"task_id,omitempty"`
	Model              string  `json:"model"`
	ModelKey           string  `json:"model_key"`
	Topic              string  `json:"topic"`
	Position           string  `json:"position"`
	Intensity          float64 `json:"intensity"`
	TurnNumber         int     `json:"turn_number"`
	PreviousResponseID string  `json:"previous_response_id,omitempty"`
}

// Handle addresses the stream phase. All three ids must be presented
// exactly as issued.
type Handle struct {
	SessionID string `json:"session_id"`
	TaskID    string `json:"task_id"`
	ModelKey  string `json:"model_key"`
	ExpiresAt string `json:"expires_at"`
}

// Chunk is one committed delta as observed on the wire.
type Chunk struct {
	Kind       string
	Delta      string
	Cumulative string
	CharCount  int
	Intensity  float64
}

// Snapshot is the rendered-state view handed to onCommit. It is a value
// copy; the consumer's internal buffers keep mutating after the commit.
type Snapshot struct {
	Reasoning   string
	Content     string
	Chunks      []Chunk
	Progress    float64
	Cost        float64
	Phase       string
	ResponseID  string
	Usage       turn.Usage
	IsStreaming bool
	Err         string
}

// Consumer drives one streaming turn. It is not reusable across turns.
type Consumer struct {
	baseURL string
	http    HTTPClient
	sched   Scheduler

	mu           sync.Mutex
	snap         Snapshot
	onCommit     func(Snapshot)
	flushPending bool
	cancelFlush  func()
	cancelReq    context.CancelFunc
	body         io.ReadCloser
	finished     bool
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithHTTPClient replaces the transport; tests inject recorders here.
func WithHTTPClient(hc HTTPClient) Option {
	return func(c *Consumer) { c.http = hc }
}

// WithScheduler replaces the flush scheduler; tests inject a manual one.
func WithScheduler(s Scheduler) Option {
	return func(c *Consumer) { c.sched = s }
}

// New creates a consumer for the gateway at baseURL.
func New(baseURL string, opts ...Option) *Consumer {
	c := &Consumer{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 0},
		sched:   TimerScheduler{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init performs the fast phase and returns the session handle. Safe to
// retry; no generation side effects happen until the stream opens.
func (c *Consumer) Init(ctx context.Context, req InitRequest) (Handle, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return Handle{}, fmt.Errorf("encode init request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/stream/init", bytes.NewReader(raw))
	if err != nil {
		return Handle{}, fmt.Errorf("build init request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Handle{}, fmt.Errorf("init request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Handle{}, fmt.Errorf("init rejected: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var h Handle
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return Handle{}, fmt.Errorf("decode init response: %w", err)
	}
	if h.SessionID == "" {
		return Handle{}, fmt.Errorf("init response missing session id")
	}
	return h, nil
}

// Stream opens the long-lived phase and blocks until the stream reaches a
// terminal state or Cancel is called. onCommit receives coalesced
// snapshots; the final one is always delivered.
func (c *Consumer) Stream(ctx context.Context, h Handle, onCommit func(Snapshot)) error {
	reqCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		cancel()
		return fmt.Errorf("consumer already finished")
	}
	c.onCommit = onCommit
	c.cancelReq = cancel
	c.snap.IsStreaming = true
	c.mu.Unlock()

	url := fmt.Sprintf("%s/api/v1/stream/%s/%s/%s", c.baseURL, h.TaskID, h.ModelKey, h.SessionID)
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		c.finish(fmt.Sprintf("build stream request: %v", err))
		return err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.finish(fmt.Sprintf("open stream: %v", err))
		return fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		msg := fmt.Sprintf("stream rejected: status %d", resp.StatusCode)
		c.finish(msg)
		return fmt.Errorf("%s", msg)
	}

	c.mu.Lock()
	if c.finished {
		// Cancel raced the connection; drop it
		c.mu.Unlock()
		resp.Body.Close()
		return nil
	}
	c.body = resp.Body
	c.mu.Unlock()

	var dec sse.Decoder
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, ev := range dec.Feed(buf[:n]) {
				c.dispatch(ev)
			}
		}
		if readErr != nil {
			if ev, ok := dec.Flush(); ok {
				c.dispatch(ev)
			}
			resp.Body.Close()
			c.mu.Lock()
			done := c.finished
			c.mu.Unlock()
			if done {
				return nil
			}
			if readErr == io.EOF {
				c.finish("stream ended without a terminal event")
				return nil
			}
			c.finish(fmt.Sprintf("read stream: %v", readErr))
			if reqCtx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read stream: %w", readErr)
		}
	}
}

// Cancel aborts the stream at any lifecycle point: before the first byte,
// mid-stream, or after completion (a no-op then). It commits whatever was
// buffered exactly once.
func (c *Consumer) Cancel() {
	c.finish("")
}

// chunkEvent mirrors the wire shape of a chunk frame.
type chunkEvent struct {
	Kind       string          `json:"kind"`
	Delta      string          `json:"delta"`
	Cumulative string          `json:"cumulative"`
	CharCount  int             `json:"char_count"`
	Intensity  float64         `json:"intensity"`
	Progress   float64         `json:"progress"`
	Value      json.RawMessage `json:"value"`
}

type completeEvent struct {
	ResponseID string     `json:"response_id"`
	Reasoning  string     `json:"reasoning"`
	Content    string     `json:"content"`
	Usage      turn.Usage `json:"usage"`
	Cost       float64    `json:"cost"`
	Progress   float64    `json:"progress"`
}

type errorEvent struct {
	Code     string  `json:"code"`
	Message  string  `json:"message"`
	Progress float64 `json:"progress"`
}

type statusEvent struct {
	Phase   string `json:"phase"`
	Message string `json:"message"`
}

func (c *Consumer) dispatch(ev sse.Event) {
	switch ev.Name {
	case "init":
		// connection acknowledged; nothing to buffer
	case "status":
		var se statusEvent
		if json.Unmarshal([]byte(ev.Data), &se) != nil {
			return
		}
		c.mu.Lock()
		if !c.finished {
			c.snap.Phase = se.Phase
			c.scheduleFlushLocked()
		}
		c.mu.Unlock()
	case "chunk":
		var ce chunkEvent
		if json.Unmarshal([]byte(ev.Data), &ce) != nil {
			return
		}
		c.mu.Lock()
		if c.finished {
			c.mu.Unlock()
			return
		}
		switch ce.Kind {
		case "reasoning":
			c.snap.Reasoning = ce.Cumulative
		case "content":
			c.snap.Content = ce.Cumulative
		}
		if ce.Kind != "json" {
			c.snap.Chunks = append(c.snap.Chunks, Chunk{
				Kind:       ce.Kind,
				Delta:      ce.Delta,
				Cumulative: ce.Cumulative,
				CharCount:  ce.CharCount,
				Intensity:  ce.Intensity,
			})
		}
		c.applyProgressLocked(ce.Progress)
		c.scheduleFlushLocked()
		c.mu.Unlock()
	case "complete":
		var fin completeEvent
		if json.Unmarshal([]byte(ev.Data), &fin) != nil {
			return
		}
		c.mu.Lock()
		if c.finished {
			c.mu.Unlock()
			return
		}
		c.snap.Reasoning = fin.Reasoning
		c.snap.Content = fin.Content
		c.snap.ResponseID = fin.ResponseID
		c.snap.Usage = fin.Usage
		c.snap.Cost = fin.Cost
		c.applyProgressLocked(fin.Progress)
		c.mu.Unlock()
		c.finish("")
	case "error":
		var ee errorEvent
		if json.Unmarshal([]byte(ev.Data), &ee) != nil {
			return
		}
		msg := ee.Message
		if ee.Code != "" {
			msg = ee.Code + ": " + ee.Message
		}
		c.finish(msg)
	}
}

// applyProgressLocked keeps progress monotone non-decreasing within
// [0, 100] regardless of wire ordering.
func (c *Consumer) applyProgressLocked(p float64) {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	if p > c.snap.Progress {
		c.snap.Progress = p
	}
}

// scheduleFlushLocked arms one coalesced commit. A pending flush is never
// re-armed; the commit that fires sees all buffer updates made meanwhile.
func (c *Consumer) scheduleFlushLocked() {
	if c.flushPending {
		return
	}
	c.flushPending = true
	c.cancelFlush = c.sched.Schedule(c.flushFired)
}

func (c *Consumer) flushFired() {
	c.mu.Lock()
	if !c.flushPending {
		c.mu.Unlock()
		return
	}
	c.flushPending = false
	c.cancelFlush = nil
	snap := c.snapshotLocked()
	commit := c.onCommit
	c.mu.Unlock()
	if commit != nil {
		commit(snap)
	}
}

// finish is the single teardown path for complete, error, cancel and
// stream teardown. Idempotent; commits the final snapshot exactly once.
func (c *Consumer) finish(errMsg string) {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return
	}
	c.finished = true
	c.snap.IsStreaming = false
	if errMsg != "" {
		c.snap.Err = errMsg
	}

	if c.cancelFlush != nil {
		c.cancelFlush()
		c.cancelFlush = nil
	}
	c.flushPending = false
	cancelReq := c.cancelReq
	c.cancelReq = nil
	body := c.body
	c.body = nil
	snap := c.snapshotLocked()
	commit := c.onCommit
	c.mu.Unlock()

	if cancelReq != nil {
		cancelReq()
	}
	if body != nil {
		body.Close()
	}
	if commit != nil {
		commit(snap)
	}
}

func (c *Consumer) snapshotLocked() Snapshot {
	snap := c.snap
	snap.Chunks = append([]Chunk(nil), c.snap.Chunks...)
	return snap
}

// State returns the current buffered state as a snapshot copy. Intended
// for inspection after the stream ends.
func (c *Consumer) State() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}
