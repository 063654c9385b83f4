// Package openai streams debate turns from any OpenAI-compatible
// chat-completions endpoint and adapts the upstream SSE into the gateway's
// provider callbacks.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/debatearena/arena-gateway/internal/provider"
	"github.com/debatearena/arena-gateway/internal/sse"
	"github.com/debatearena/arena-gateway/internal/turn"
)

// Ensure Streamer implements provider.Streamer.
var _ provider.Streamer = (*Streamer)(nil)

// Pricer estimates turn cost from usage; nil disables cost reporting.
type Pricer interface {
	Cost(model string, usage turn.Usage) (float64, bool)
}

// Streamer drives an OpenAI-compatible /v1/chat/completions SSE upstream.
type Streamer struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	pricer     Pricer
}

// New constructs a streamer. baseURL defaults to the public OpenAI API; a
// nil client gets a long streaming timeout.
func New(baseURL, apiKey string, httpClient *http.Client, pricer Pricer) *Streamer {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://api.openai.com"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Streamer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		pricer:     pricer,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type streamDelta struct {
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content"`
}

type streamChoice struct {
	Delta        streamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type streamChunk struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []streamChoice `json:"choices"`
	Usage   *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// StreamGenerate posts a streaming chat completion and forwards deltas to
// the callbacks. Reasoning deltas arrive as the DeepSeek-style
// reasoning_content field some compatible servers emit.
func (s *Streamer) StreamGenerate(ctx context.Context, req turn.Request, cb provider.Callbacks) error {
	payload := map[string]any{
		"model":       req.Model,
		"messages":    buildMessages(req),
		"stream":      true,
		"temperature": 0.3 + req.Intensity,
		"stream_options": map[string]any{
			"include_usage": true,
		},
	}
	// compatible upstreams with server-side state continue the chained
	// turn from this id; others ignore the unknown field
	if req.PreviousResponseID != "" {
		payload["previous_response_id"] = req.PreviousResponseID
	}
	body, err := json.Marshal(payload)
	if err != nil {
		err = fmt.Errorf("openai: marshal request: %w", err)
		cb.Error(err)
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		err = fmt.Errorf("openai: create request: %w", err)
		cb.Error(err)
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	cb.Status("resolving_provider", "contacting upstream model")
	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		err = fmt.Errorf("openai: send request: %w", err)
		cb.Error(err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err = fmt.Errorf("openai: http %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		cb.Error(err)
		return err
	}

	cb.Status("stream_start", "")
	return s.consume(ctx, resp.Body, req, cb)
}

func (s *Streamer) consume(ctx context.Context, body io.Reader, req turn.Request, cb provider.Callbacks) error {
	var dec sse.Decoder
	state := &turnState{}
	buf := make([]byte, 8192)
	for {
		if err := ctx.Err(); err != nil {
			cb.Error(err)
			return err
		}
		n, readErr := body.Read(buf)
		if n > 0 {
			for _, ev := range dec.Feed(buf[:n]) {
				done, err := s.handleFrame(ev.Data, state, cb)
				if err != nil {
					cb.Error(err)
					return err
				}
				if done {
					return s.finish(state, req, cb)
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				if ev, ok := dec.Flush(); ok {
					if _, err := s.handleFrame(ev.Data, state, cb); err != nil {
						cb.Error(err)
						return err
					}
				}
				return s.finish(state, req, cb)
			}
			err := fmt.Errorf("openai: read stream: %w", readErr)
			cb.Error(err)
			return err
		}
	}
}

type turnState struct {
	responseID string
	model      string
	usage      turn.Usage
	completed  bool
}

func (s *Streamer) handleFrame(data string, state *turnState, cb provider.Callbacks) (bool, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return false, nil
	}
	if data == "[DONE]" {
		return true, nil
	}
	var chunk streamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return false, fmt.Errorf("openai: parse stream chunk: %w", err)
	}
	if chunk.ID != "" {
		state.responseID = chunk.ID
	}
	if chunk.Model != "" {
		state.model = chunk.Model
	}
	if chunk.Usage != nil {
		state.usage = turn.Usage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
		}
	}
	for _, choice := range chunk.Choices {
		if choice.Delta.ReasoningContent != "" {
			cb.Reasoning(choice.Delta.ReasoningContent)
		}
		if choice.Delta.Content != "" {
			cb.Content(choice.Delta.Content)
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			state.completed = true
		}
	}
	return false, nil
}

func (s *Streamer) finish(state *turnState, req turn.Request, cb provider.Callbacks) error {
	model := state.model
	if model == "" {
		model = req.Model
	}
	var cost float64
	if s.pricer != nil {
		if c, ok := s.pricer.Cost(model, state.usage); ok {
			cost = c
		}
	}
	cb.Complete(provider.Completion{
		ResponseID: state.responseID,
		Usage:      state.usage,
		Cost:       cost,
	})
	return nil
}

func buildMessages(req turn.Request) []chatMessage {
	system := fmt.Sprintf(
		"You are debating the topic %q, arguing the %s position. This is turn %d. Respond with one focused statement.",
		req.Topic, req.Position, req.TurnNumber,
	)
	user := "Deliver your statement for this turn."
	if req.PreviousResponseID != "" {
		user = "Continue the line of argument from your previous statement in this debate, then deliver your statement for this turn."
	}
	return []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}
