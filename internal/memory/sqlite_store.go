package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the default durable-log backend: a single local file,
// migrated with golang-migrate on open.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memory: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: one writer at a time
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) ensureConversation(ctx context.Context, conversationID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, channel, created_at, updated_at)
		VALUES (?, '', ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at
	`, conversationID, now, now)
	return err
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID string, msg Message) (int64, error) {
	if err := s.ensureConversation(ctx, conversationID); err != nil {
		return 0, fmt.Errorf("memory: ensure conversation: %w", err)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, role, content, is_summary, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, conversationID, msg.Role, msg.Content, msg.IsSummary, msg.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("memory: append message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("memory: last insert id: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) History(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	query := `SELECT id, conversation_id, role, content, is_summary, created_at
	          FROM messages WHERE conversation_id = ? ORDER BY id ASC`
	args := []any{conversationID}
	if limit > 0 {
		query = `SELECT * FROM (` + query + ` DESC LIMIT ?) ORDER BY id ASC`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *SQLiteStore) GetSummary(ctx context.Context, conversationID string) (*Summary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, content, covers_up_to, created_at
		FROM summaries WHERE conversation_id = ?
	`, conversationID)
	var sum Summary
	if err := row.Scan(&sum.ConversationID, &sum.Content, &sum.CoversUpTo, &sum.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("memory: get summary: %w", err)
	}
	return &sum, nil
}

func (s *SQLiteStore) SetSummary(ctx context.Context, conversationID string, summary Summary) error {
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO summaries (conversation_id, content, covers_up_to, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			content = excluded.content,
			covers_up_to = excluded.covers_up_to,
			created_at = excluded.created_at
	`, conversationID, summary.Content, summary.CoversUpTo, summary.CreatedAt)
	if err != nil {
		return fmt.Errorf("memory: set summary: %w", err)
	}
	return nil
}

func (s *SQLiteStore) TruncateBefore(ctx context.Context, conversationID string, upTo int64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM messages WHERE conversation_id = ? AND id <= ?
	`, conversationID, upTo)
	if err != nil {
		return fmt.Errorf("memory: truncate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MessageCount(ctx context.Context, conversationID string) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("memory: count messages: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
