package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the durable-log backend for multi-instance deployments
// sharing a single database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	channel TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id BIGSERIAL PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	is_summary BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);
CREATE TABLE IF NOT EXISTS summaries (
	conversation_id TEXT PRIMARY KEY REFERENCES conversations(id) ON DELETE CASCADE,
	content TEXT NOT NULL,
	covers_up_to BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("memory: connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("memory: apply schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) ensureConversation(ctx context.Context, conversationID string) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (id, channel, created_at, updated_at)
		VALUES ($1, '', $2, $2)
		ON CONFLICT (id) DO UPDATE SET updated_at = $2
	`, conversationID, now)
	return err
}

func (s *PostgresStore) AppendMessage(ctx context.Context, conversationID string, msg Message) (int64, error) {
	if err := s.ensureConversation(ctx, conversationID); err != nil {
		return 0, fmt.Errorf("memory: ensure conversation: %w", err)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, role, content, is_summary, created_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id
	`, conversationID, msg.Role, msg.Content, msg.IsSummary, msg.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("memory: append message: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) History(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	query := `SELECT id, conversation_id, role, content, is_summary, created_at
	          FROM messages WHERE conversation_id = $1 ORDER BY id ASC`
	args := []any{conversationID}
	if limit > 0 {
		query = `SELECT * FROM (` + query + ` DESC LIMIT $2) s ORDER BY id ASC`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: query history: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.IsSummary, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("memory: scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetSummary(ctx context.Context, conversationID string) (*Summary, error) {
	var sum Summary
	err := s.pool.QueryRow(ctx, `
		SELECT conversation_id, content, covers_up_to, created_at
		FROM summaries WHERE conversation_id = $1
	`, conversationID).Scan(&sum.ConversationID, &sum.Content, &sum.CoversUpTo, &sum.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("memory: get summary: %w", err)
	}
	return &sum, nil
}

func (s *PostgresStore) SetSummary(ctx context.Context, conversationID string, summary Summary) error {
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO summaries (conversation_id, content, covers_up_to, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (conversation_id) DO UPDATE SET
			content = $2, covers_up_to = $3, created_at = $4
	`, conversationID, summary.Content, summary.CoversUpTo, summary.CreatedAt)
	if err != nil {
		return fmt.Errorf("memory: set summary: %w", err)
	}
	return nil
}

func (s *PostgresStore) TruncateBefore(ctx context.Context, conversationID string, upTo int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1 AND id <= $2`, conversationID, upTo)
	if err != nil {
		return fmt.Errorf("memory: truncate: %w", err)
	}
	return nil
}

func (s *PostgresStore) MessageCount(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE conversation_id = $1`, conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("memory: count messages: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
