package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/debatearena/arena-gateway/internal/metrics"
	"github.com/debatearena/arena-gateway/internal/sse"
	"github.com/debatearena/arena-gateway/internal/stream"
	"github.com/debatearena/arena-gateway/internal/turn"
	"github.com/debatearena/arena-gateway/internal/turncontrol"
)

// initRequest is the body of POST /api/v1/stream/init.
type initRequest struct {
	TaskID             string  `json:"task_id,omitempty"`
	Model              string  `json:"model"`
	ModelKey           string  `json:"model_key"`
	Topic              string  `json:"topic"`
	Position           string  `json:"position"`
	Intensity          float64 `json:"intensity"`
	TurnNumber         int     `json:"turn_number"`
	PreviousResponseID string  `json:"previous_response_id,omitempty"`
}

// handleStreamInit validates the payload, resolves the owning conversation
// and mints a single-use session. No provider call happens here; splitting
// the fast, retryable init from the long-lived GET keeps client retries
// from ever duplicating a generation.
func (s *Server) handleStreamInit(w http.ResponseWriter, r *http.Request) {
	if !s.streamEnabled {
		writeError(w, http.StatusServiceUnavailable, "streaming is disabled")
		return
	}

	var req initRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	payload := turn.Request{
		Model:              strings.TrimSpace(req.Model),
		ModelKey:           strings.TrimSpace(req.ModelKey),
		Topic:              strings.TrimSpace(req.Topic),
		Position:           strings.TrimSpace(req.Position),
		Intensity:          req.Intensity,
		TurnNumber:         req.TurnNumber,
		PreviousResponseID: strings.TrimSpace(req.PreviousResponseID),
	}
	if err := payload.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	taskID := strings.TrimSpace(req.TaskID)
	if taskID == "" {
		taskID = uuid.NewString()
	}

	// ensure the conversation exists up front so init surfaces storage
	// problems as a retryable 5xx instead of killing the stream later
	if _, err := s.controller.ResolveTurn(r.Context(), taskID, payload); err != nil {
		s.logf("stream.init resolve failed task=%s: %v", taskID, err)
		writeError(w, http.StatusInternalServerError, "could not resolve conversation")
		return
	}

	handle := s.registry.Create(taskID, payload.ModelKey, payload)
	s.collector.SessionCreated()
	s.debugf("stream.init session=%s task=%s model_key=%s turn=%d", handle.SessionID, taskID, payload.ModelKey, payload.TurnNumber)

	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": handle.SessionID,
		"task_id":    handle.TaskID,
		"model_key":  handle.ModelKey,
		"expires_at": handle.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// handleStreamOpen consumes the session and drives the harness over a
// single SSE response. A mismatched, expired, or replayed session answers
// 404 before any provider work starts.
func (s *Server) handleStreamOpen(w http.ResponseWriter, r *http.Request) {
	if !s.streamEnabled {
		writeError(w, http.StatusServiceUnavailable, "streaming is disabled")
		return
	}

	taskID := chi.URLParam(r, "taskID")
	modelKey := chi.URLParam(r, "modelKey")
	sessionID := chi.URLParam(r, "sessionID")

	payload, ok := s.registry.Consume(sessionID, taskID, modelKey)
	if !ok {
		s.collector.SessionDenied()
		s.debugf("stream.open denied session=%s task=%s model_key=%s", sessionID, taskID, modelKey)
		writeError(w, http.StatusNotFound, "session not found or expired")
		return
	}

	resolved, err := s.controller.ResolveTurn(r.Context(), taskID, payload)
	if err != nil {
		s.logf("stream.open resolve failed task=%s: %v", taskID, err)
		writeError(w, http.StatusInternalServerError, "could not resolve conversation")
		return
	}

	s.collector.StreamStarted(modelKey)
	s.logf("stream.open task=%s model_key=%s model=%s turn=%d", taskID, modelKey, payload.Model, resolved.TurnNumber)

	writer := sse.NewWriter(w)
	sink := &meteredSink{inner: s.controller, collector: s.collector}
	h := stream.New(writer, sink, resolved, payload, stream.Options{
		HeartbeatInterval: s.heartbeatInterval,
		Logger:            s.logger,
		OnChunk:           s.collector.ChunkEmitted,
	})

	// r.Context() ends when the client disconnects; the provider call and
	// all callback-driven writes stop with it
	runErr := h.Run(r.Context(), s.streamer)

	if h.Completed() {
		s.collector.StreamCompleted(modelKey)
	} else {
		s.collector.StreamFailed(modelKey)
	}
	if runErr != nil && !isDisconnect(r.Context(), runErr) {
		s.logf("stream.run task=%s model_key=%s: %v", taskID, modelKey, runErr)
	}
}

func isDisconnect(ctx context.Context, err error) bool {
	return ctx.Err() != nil && err == ctx.Err()
}

// meteredSink records token usage on successful persistence.
type meteredSink struct {
	inner     stream.TurnSink
	collector *metrics.Collector
}

func (m *meteredSink) CompleteTurn(ctx context.Context, resolved turncontrol.ResolvedTurn, result turn.Result) error {
	if err := m.inner.CompleteTurn(ctx, resolved, result); err != nil {
		return err
	}
	m.collector.RecordTokenUsage(result.Model, int64(result.Usage.PromptTokens), int64(result.Usage.CompletionTokens))
	return nil
}
