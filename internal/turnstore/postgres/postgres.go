package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// register pgx stdlib driver
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/debatearena/arena-gateway/internal/turnstore"
)

// Store implements turnstore.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL-backed turn store using the provided DSN and
// connection pool settings.
func New(dsn string, maxOpen, maxIdle, lifetimeMinutes int) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if lifetimeMinutes > 0 {
		db.SetConnMaxLifetime(time.Duration(lifetimeMinutes) * time.Minute)
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
	id BIGSERIAL PRIMARY KEY,
	task_id TEXT NOT NULL UNIQUE,
	topic TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS turns (
	id BIGSERIAL PRIMARY KEY,
	conversation_id BIGINT NOT NULL REFERENCES conversations(id),
	turn_number INT NOT NULL,
	model_key TEXT NOT NULL,
	model TEXT NOT NULL,
	reasoning TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	json_fragments TEXT,
	response_id TEXT NOT NULL DEFAULT '',
	prompt_tokens INT NOT NULL DEFAULT 0,
	completion_tokens INT NOT NULL DEFAULT 0,
	cost DOUBLE PRECISION NOT NULL DEFAULT 0,
	elapsed_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
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
	var id int64
	err := s.db.QueryRowContext(ctx, `
INSERT INTO conversations(task_id, topic) VALUES($1, $2)
ON CONFLICT(task_id) DO UPDATE SET task_id = EXCLUDED.task_id
RETURNING id`, taskID, topic).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ensure conversation: %w", err)
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
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
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
WHERE conversation_id = $1 AND model_key = $2 AND response_id != ''
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
FROM turns WHERE conversation_id = $1
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
