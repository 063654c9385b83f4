// Package turncontrol resolves conversation-chaining identity for new turns
// and persists completed ones. The streaming core calls it at exactly two
// points: session resolution and harness completion.
package turncontrol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/debatearena/arena-gateway/internal/turn"
	"github.com/debatearena/arena-gateway/internal/turnstore"
)

// ResolvedTurn pins down the identity a turn streams under.
type ResolvedTurn struct {
	ConversationID int64  `json:"conversation_id"`
	TaskID         string `json:"task_id"`
	ModelKey       string `json:"model_key"`
	Model          string `json:"model"`
	Position       string `json:"position"`
	TurnNumber     int    `json:"turn_number"`
	// PreviousResponseID is the same model's latest stored response id;
	// empty for a fresh turn.
	PreviousResponseID string `json:"previous_response_id,omitempty"`
}

// Controller mediates between the streaming core and the turn store.
type Controller struct {
	store  turnstore.Store
	logger *log.Logger
}

// New constructs a controller. logger may be nil.
func New(store turnstore.Store, logger *log.Logger) *Controller {
	return &Controller{store: store, logger: logger}
}

// ResolveTurn ensures the conversation exists for the task and resolves the
// chaining id. An explicit id in the request wins; otherwise the model's own
// latest persisted response id is used. The lookup is scoped to the model
// key so a debater never continues the opponent's context.
func (c *Controller) ResolveTurn(ctx context.Context, taskID string, req turn.Request) (ResolvedTurn, error) {
	convID, err := c.store.EnsureConversation(ctx, taskID, req.Topic)
	if err != nil {
		return ResolvedTurn{}, fmt.Errorf("resolve conversation: %w", err)
	}

	prev := req.PreviousResponseID
	if prev == "" {
		prev, err = c.store.LastResponseID(ctx, convID, req.ModelKey)
		if errors.Is(err, turnstore.ErrNotFound) {
			prev = ""
		} else if err != nil {
			return ResolvedTurn{}, fmt.Errorf("resolve chaining id: %w", err)
		}
	}

	return ResolvedTurn{
		ConversationID:     convID,
		TaskID:             taskID,
		ModelKey:           req.ModelKey,
		Model:              req.Model,
		Position:           req.Position,
		TurnNumber:         req.TurnNumber,
		PreviousResponseID: prev,
	}, nil
}

// CompleteTurn persists the terminal result of a turn.
func (c *Controller) CompleteTurn(ctx context.Context, resolved ResolvedTurn, result turn.Result) error {
	var fragments string
	if len(result.JSONFragments) > 0 {
		b, err := json.Marshal(result.JSONFragments)
		if err != nil {
			return fmt.Errorf("encode json fragments: %w", err)
		}
		fragments = string(b)
	}

	rec := turnstore.TurnRecord{
		ConversationID:   resolved.ConversationID,
		TurnNumber:       resolved.TurnNumber,
		ModelKey:         resolved.ModelKey,
		Model:            resolved.Model,
		Reasoning:        result.Reasoning,
		Content:          result.Content,
		JSONFragments:    fragments,
		ResponseID:       result.ResponseID,
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
		Cost:             result.Cost,
		ElapsedMS:        result.Elapsed.Milliseconds(),
	}
	if err := c.store.SaveTurn(ctx, rec); err != nil {
		return fmt.Errorf("persist turn: %w", err)
	}
	if c.logger != nil {
		c.logger.Printf("turn persisted task=%s model_key=%s turn=%d tokens=%d cost=%.6f",
			resolved.TaskID, resolved.ModelKey, resolved.TurnNumber, result.Usage.TotalTokens, result.Cost)
	}
	return nil
}
