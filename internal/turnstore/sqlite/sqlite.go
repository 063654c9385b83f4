package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/debatearena/arena-gateway/internal/turnstore"
)

// Store implements turnstore.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create turnstore directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT NOT NULL UNIQUE,
	topic TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS turns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id INTEGER NOT NULL REFERENCES conversations(id),
	turn_number INTEGER NOT NULL,
	model_key TEXT NOT NULL,
	model TEXT NOT NULL,
	reasoning TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	json_fragments TEXT,
	response_id TEXT NOT NULL DEFAULT '',
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	cost REAL NOT NULL DEFAULT 0,
	elapsed_ms INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_turns_conv_model ON turns(conversation_id, model_key, id DESC);
CREATE INDEX IF NOT EXISTS idx_turns_conv_number ON turns(conversation_id, turn_number);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureConversation finds or creates the conversation row for a task.
func (s *Store) EnsureConversation(ctx context.Context, taskID, topic string) (int64, error) {
	if taskID == "" {
		return 0, errors.New("turnstore: task id required")
	}
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO conversations(task_id, topic) VALUES(?, ?)
ON CONFLICT(task_id) DO NOTHING`, taskID, topic); err != nil {
		return 0, fmt.Errorf("ensure conversation: %w", err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE task_id = ?`, taskID).Scan(&id); err != nil {
		return 0, fmt.Errorf("lookup conversation: %w", err)
	}
	return id, nil
}

// SaveTurn appends one completed turn.
func (s *Store) SaveTurn(ctx context.Context, rec turnstore.TurnRecord) error {
	if rec.ConversationID == 0 {
		return errors.New("turnstore: conversation id required")
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO turns(conversation_id, turn_number, model_key, model, reasoning, content,
	json_fragments, response_id, prompt_tokens, completion_tokens, cost, elapsed_ms, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ConversationID,
		rec.TurnNumber,
		rec.ModelKey,
		rec.Model,
		rec.Reasoning,
		rec.Content,
		nullableText(rec.JSONFragments),
		rec.ResponseID,
		rec.PromptTokens,
		rec.CompletionTokens,
		rec.Cost,
		rec.ElapsedMS,
		created,
	)
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

// LastResponseID returns the newest stored response id for a model key.
func (s *Store) LastResponseID(ctx context.Context, conversationID int64, modelKey string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
SELECT response_id FROM turns
WHERE conversation_id = ? AND model_key = ? AND response_id != ''
ORDER BY id DESC LIMIT 1`, conversationID, modelKey).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", turnstore.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("last response id: %w", err)
	}
	return id, nil
}

// ListTurns returns a conversation's turns ordered by turn number.
func (s *Store) ListTurns(ctx context.Context, conversationID int64) ([]turnstore.TurnRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, conversation_id, turn_number, model_key, model, reasoning, content,
	COALESCE(json_fragments, ''), response_id, prompt_tokens, completion_tokens,
	cost, elapsed_ms, created_at
FROM turns WHERE conversation_id = ?
ORDER BY turn_number ASC, id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var out []turnstore.TurnRecord
	for rows.Next() {
		var rec turnstore.TurnRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.ConversationID,
			&rec.TurnNumber,
			&rec.ModelKey,
			&rec.Model,
			&rec.Reasoning,
			&rec.Content,
			&rec.JSONFragments,
			&rec.ResponseID,
			&rec.PromptTokens,
			&rec.CompletionTokens,
			&rec.Cost,
			&rec.ElapsedMS,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullableText(s string) any {
	if s == "" {
		return nil
	}
	return s
}
