// Package provider defines the streaming contract the arena gateway expects
// from a model backend. The harness is the only adapter between this
// callback style and the ordered event stream clients observe, so backends
// can vary freely.
package provider

import (
	"context"
	"encoding/json"

	"github.com/debatearena/arena-gateway/internal/turn"
)

// Completion carries the provider's terminal accounting for one turn.
// FinalContent/FinalReasoning may supply a more complete text than what
// streamed (for example after client-visible truncation); when set and
// longer, they are authoritative.
type Completion struct {
	ResponseID     string
	Usage          turn.Usage
	Cost           float64
	FinalContent   string
	FinalReasoning string
}

// Callbacks receive the raw stream from a backend. All callbacks for one
// turn are invoked from a single goroutine, in arrival order. Either
// OnComplete or OnError fires exactly once, last.
type Callbacks struct {
	OnStatus         func(phase, message string)
	OnReasoningChunk func(delta string)
	OnContentChunk   func(delta string)
	OnJSONChunk      func(value json.RawMessage)
	OnComplete       func(c Completion)
	OnError          func(err error)
}

// Streamer is the abstract capability the streaming core consumes. A nil
// callback field must be tolerated. StreamGenerate blocks until the turn is
// terminal; the returned error duplicates OnError for callers that only
// care about the outcome.
type Streamer interface {
	StreamGenerate(ctx context.Context, req turn.Request, cb Callbacks) error
}

func (cb Callbacks) Status(phase, message string) {
	if cb.OnStatus != nil {
		cb.OnStatus(phase, message)
	}
}

func (cb Callbacks) Reasoning(delta string) {
	if cb.OnReasoningChunk != nil {
		cb.OnReasoningChunk(delta)
	}
}

func (cb Callbacks) Content(delta string) {
	if cb.OnContentChunk != nil {
		cb.OnContentChunk(delta)
	}
}

func (cb Callbacks) JSON(value json.RawMessage) {
	if cb.OnJSONChunk != nil {
		cb.OnJSONChunk(value)
	}
}

func (cb Callbacks) Complete(c Completion) {
	if cb.OnComplete != nil {
		cb.OnComplete(c)
	}
}

func (cb Callbacks) Error(err error) {
	if cb.OnError != nil {
		cb.OnError(err)
	}
}
