package turn

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ChunkKind distinguishes the two text streams a model produces during a turn.
type ChunkKind string

const (
	KindReasoning ChunkKind = "reasoning"
	KindContent   ChunkKind = "content"
)

// Request describes what to generate for one debate turn. It is validated
// once at init time and stored immutably in the session registry until the
// streaming connection consumes it.
type Request struct {
	Model      string  `json:"model"`
	ModelKey   string  `json:"model_key"`
	Topic      string  `json:"topic"`
	Position   string  `json:"position"`
	Intensity  float64 `json:"intensity"`
	TurnNumber int     `json:"turn_number"`
	// PreviousResponseID chains this turn onto the same model's prior turn
	// server-side. Empty means a fresh turn.
	PreviousResponseID string `json:"previous_response_id,omitempty"`
}

// Validate reports the first problem with the request, if any.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Model) == "" {
		return errors.New("model is required")
	}
	if strings.TrimSpace(r.ModelKey) == "" {
		return errors.New("model_key is required")
	}
	if strings.TrimSpace(r.Topic) == "" {
		return errors.New("topic is required")
	}
	if r.TurnNumber < 1 {
		return errors.New("turn_number must be >= 1")
	}
	if r.Intensity < 0 || r.Intensity > 1 {
		return errors.New("intensity must be within [0,1]")
	}
	return nil
}

// ChunkRecord captures one streamed delta of a given kind. Cumulative is the
// concatenation of every delta of that kind up to and including this one.
type ChunkRecord struct {
	Kind       ChunkKind `json:"kind"`
	Timestamp  time.Time `json:"timestamp"`
	Delta      string    `json:"delta"`
	Cumulative string    `json:"cumulative"`
	CharCount  int       `json:"char_count"`
	// Intensity is characters-per-second of whitespace-collapsed delta text
	// against the gap since the previous chunk of the same kind.
	Intensity float64 `json:"intensity"`
}

// Usage mirrors provider token accounting for one turn.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is the terminal record of one turn, produced exactly once at
// harness completion and handed to the turn controller for persistence.
type Result struct {
	TaskID          string            `json:"task_id"`
	ModelKey        string            `json:"model_key"`
	Model           string            `json:"model"`
	TurnNumber      int               `json:"turn_number"`
	Reasoning       string            `json:"reasoning"`
	Content         string            `json:"content"`
	ReasoningChunks []ChunkRecord     `json:"reasoning_chunks,omitempty"`
	ContentChunks   []ChunkRecord     `json:"content_chunks,omitempty"`
	JSONFragments   []json.RawMessage `json:"json_fragments,omitempty"`
	ResponseID      string            `json:"response_id"`
	Usage           Usage             `json:"usage"`
	Cost            float64           `json:"cost"`
	Elapsed         time.Duration     `json:"elapsed"`
}

// CollapseWhitespace folds every run of whitespace into a single space and
// trims the ends. Used for intensity accounting so indentation-heavy deltas
// do not inflate the rate.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
