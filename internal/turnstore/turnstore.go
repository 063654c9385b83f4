// Package turnstore persists debates and their completed turns.
package turnstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for lookups that match nothing.
var ErrNotFound = errors.New("turnstore: not found")

// TurnRecord is one persisted turn as stored.
type TurnRecord struct {
	ID               int64     `json:"id"`
	ConversationID   int64     `json:"conversation_id"`
	TurnNumber       int       `json:"turn_number"`
	ModelKey         string    `json:"model_key"`
	Model            string    `json:"model"`
	Reasoning        string    `json:"reasoning"`
	Content          string    `json:"content"`
	JSONFragments    string    `json:"json_fragments,omitempty"`
	ResponseID       string    `json:"response_id"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	Cost             float64   `json:"cost"`
	ElapsedMS        int64     `json:"elapsed_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// Store defines persistence behaviour for debates and turns.
type Store interface {
	// EnsureConversation returns the conversation id for a task, creating
	// the row on first sight.
	EnsureConversation(ctx context.Context, taskID, topic string) (int64, error)
	// SaveTurn appends one completed turn.
	SaveTurn(ctx context.Context, rec TurnRecord) error
	// LastResponseID returns the most recent provider response id stored
	// for the given model key within a conversation, or ErrNotFound. The
	// model key scoping matters: chaining must continue a model's own
	// context, never the opponent's.
	LastResponseID(ctx context.Context, conversationID int64, modelKey string) (string, error)
	// ListTurns returns a conversation's turns in turn order.
	ListTurns(ctx context.Context, conversationID int64) ([]TurnRecord, error)
	Close() error
}
