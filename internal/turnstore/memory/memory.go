// Package memory provides a volatile turnstore.Store for tests and
// single-process development runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/debatearena/arena-gateway/internal/turnstore"
)

// Store keeps conversations and turns in process-local maps. Safe for
// concurrent use.
type Store struct {
	mu       sync.Mutex
	nextConv int64
	nextTurn int64
	convs    map[string]int64 // taskID -> conversation id
	turns    map[int64][]turnstore.TurnRecord
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{
		convs: make(map[string]int64),
		turns: make(map[int64][]turnstore.TurnRecord),
	}
}

// EnsureConversation finds or creates the conversation for a task.
func (s *Store) EnsureConversation(_ context.Context, taskID, _ string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.convs[taskID]; ok {
		return id, nil
	}
	s.nextConv++
	s.convs[taskID] = s.nextConv
	return s.nextConv, nil
}

// SaveTurn appends one completed turn.
func (s *Store) SaveTurn(_ context.Context, rec turnstore.TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTurn++
	rec.ID = s.nextTurn
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.turns[rec.ConversationID] = append(s.turns[rec.ConversationID], rec)
	return nil
}

// LastResponseID returns the newest stored response id for a model key.
func (s *Store) LastResponseID(_ context.Context, conversationID int64, modelKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := s.turns[conversationID]
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].ModelKey == modelKey && turns[i].ResponseID != "" {
			return turns[i].ResponseID, nil
		}
	}
	return "", turnstore.ErrNotFound
}

// ListTurns returns a conversation's turns in insertion order.
func (s *Store) ListTurns(_ context.Context, conversationID int64) ([]turnstore.TurnRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]turnstore.TurnRecord, len(s.turns[conversationID]))
	copy(out, s.turns[conversationID])
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
