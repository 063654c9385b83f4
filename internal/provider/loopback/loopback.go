// Package loopback fabricates a deterministic debate turn without calling
// any upstream model. Useful for development and for exercising the full
// streaming pipeline in tests.
package loopback

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/debatearena/arena-gateway/internal/provider"
	"github.com/debatearena/arena-gateway/internal/turn"
)

// Ensure Streamer implements provider.Streamer.
var _ provider.Streamer = (*Streamer)(nil)

// Streamer echoes a canned argument about the requested topic, split into
// word-sized chunks.
type Streamer struct {
	// ChunkDelay spaces out chunks to simulate token pacing; zero streams
	// as fast as the consumer can read.
	ChunkDelay time.Duration
}

// New creates a loopback streamer with the given inter-chunk delay.
func New(delay time.Duration) *Streamer {
	return &Streamer{ChunkDelay: delay}
}

// StreamGenerate emits a scripted reasoning phase, a content phase, one
// structured stage-summary fragment, and a fabricated completion. Honors
// ctx cancellation between chunks.
func (s *Streamer) StreamGenerate(ctx context.Context, req turn.Request, cb provider.Callbacks) error {
	cb.Status("stream_start", "loopback provider engaged")

	reasoning := fmt.Sprintf(
		"Considering the topic %q from the %s side. Turn %d should open with the strongest available framing.",
		req.Topic, req.Position, req.TurnNumber,
	)
	content := fmt.Sprintf(
		"[loopback] Arguing %s on %q: this position holds because the counterpoint has not addressed its core premise.",
		req.Position, req.Topic,
	)

	if err := s.emitWords(ctx, reasoning, cb.Reasoning); err != nil {
		cb.Error(err)
		return err
	}
	if err := s.emitWords(ctx, content, cb.Content); err != nil {
		cb.Error(err)
		return err
	}

	stage, _ := json.Marshal(map[string]any{
		"stage":       "closing",
		"turn_number": req.TurnNumber,
	})
	cb.JSON(stage)

	usage := turn.Usage{
		PromptTokens:     len(strings.Fields(req.Topic)) + 20,
		CompletionTokens: len(content) / 4,
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	cb.Complete(provider.Completion{
		ResponseID: fmt.Sprintf("loopback_%s_%d", req.ModelKey, req.TurnNumber),
		Usage:      usage,
	})
	return nil
}

func (s *Streamer) emitWords(ctx context.Context, text string, emit func(string)) error {
	words := strings.Fields(text)
	for i, w := range words {
		if err := ctx.Err(); err != nil {
			return err
		}
		delta := w
		if i < len(words)-1 {
			delta += " "
		}
		emit(delta)
		if s.ChunkDelay > 0 {
			select {
			case <-time.After(s.ChunkDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}
