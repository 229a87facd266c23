package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"ragfolio/internal/models"
	"ragfolio/internal/util"
)

const DefaultSessionTitle = "New Chat"

const sessionColumns = `id::text, tenant_id, COALESCE(user_id,''), title, message_count, created_at, updated_at, deleted_at`

type ChatRepo struct {
	db *DB
}

func NewChatRepo(db *DB) *ChatRepo {
	return &ChatRepo{db: db}
}

func (r *ChatRepo) CreateSession(ctx context.Context, s models.ChatSession) (models.ChatSession, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Title == "" {
		s.Title = DefaultSessionTitle
	}
	out, err := scanSession(r.db.Pool.QueryRow(ctx, `
INSERT INTO chat_sessions (id, tenant_id, user_id, title)
VALUES ($1, $2, NULLIF($3,''), $4)
RETURNING `+sessionColumns, s.ID, s.TenantID, s.UserID, s.Title))
	if err != nil {
		return models.ChatSession{}, fmt.Errorf("insert chat session: %w", err)
	}
	return out, nil
}

func (r *ChatRepo) GetSession(ctx context.Context, tenantID, id string) (models.ChatSession, error) {
	out, err := scanSession(r.db.Pool.QueryRow(ctx, `
SELECT `+sessionColumns+` FROM chat_sessions
WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ChatSession{}, fmt.Errorf("chat session %s: %w", id, util.ErrNotFound)
	}
	if err != nil {
		return models.ChatSession{}, fmt.Errorf("get chat session: %w", err)
	}
	return out, nil
}

func (r *ChatRepo) ListSessions(ctx context.Context, tenantID string, offset, limit int) ([]models.ChatSession, int, error) {
	var total int
	if err := r.db.Pool.QueryRow(ctx, `
SELECT COUNT(*) FROM chat_sessions WHERE tenant_id = $1 AND deleted_at IS NULL`, tenantID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count chat sessions: %w", err)
	}
	rows, err := r.db.Pool.Query(ctx, `
SELECT `+sessionColumns+` FROM chat_sessions
WHERE tenant_id = $1 AND deleted_at IS NULL
ORDER BY updated_at DESC
OFFSET $2 LIMIT $3`, tenantID, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list chat sessions: %w", err)
	}
	defer rows.Close()
	out := make([]models.ChatSession, 0, limit)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan chat session: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate chat sessions: %w", err)
	}
	return out, total, nil
}

func (r *ChatRepo) RenameSession(ctx context.Context, tenantID, id, title string) (models.ChatSession, error) {
	out, err := scanSession(r.db.Pool.QueryRow(ctx, `
UPDATE chat_sessions SET title = $3, updated_at = NOW()
WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
RETURNING `+sessionColumns, id, tenantID, title))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ChatSession{}, fmt.Errorf("chat session %s: %w", id, util.ErrNotFound)
	}
	if err != nil {
		return models.ChatSession{}, fmt.Errorf("rename chat session: %w", err)
	}
	return out, nil
}

// SetTitleIfDefault replaces the placeholder title only, so a title the
// user already chose is kept.
func (r *ChatRepo) SetTitleIfDefault(ctx context.Context, id, title string) error {
	_, err := r.db.Pool.Exec(ctx, `
UPDATE chat_sessions SET title = $2 WHERE id = $1 AND title = $3`, id, title, DefaultSessionTitle)
	if err != nil {
		return fmt.Errorf("set chat title: %w", err)
	}
	return nil
}

func (r *ChatRepo) SoftDeleteSession(ctx context.Context, tenantID, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `
UPDATE chat_sessions SET deleted_at = NOW(), updated_at = NOW()
WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete chat session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("chat session %s: %w", id, util.ErrNotFound)
	}
	return nil
}

// AppendMessage stores a message with its sources and bumps the session's
// message count.
func (r *ChatRepo) AppendMessage(ctx context.Context, m models.ChatMessage) (models.ChatMessage, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
INSERT INTO chat_messages (id, session_id, role, content)
VALUES ($1, $2, $3, $4)
RETURNING created_at`, m.ID, m.SessionID, m.Role, m.Content).Scan(&m.CreatedAt); err != nil {
			return fmt.Errorf("insert chat message: %w", err)
		}
		for i, s := range m.Sources {
			_, err := tx.Exec(ctx, `
INSERT INTO message_sources (message_id, position, document_id, chunk_id, file_name, relevance_score, text_preview)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, m.ID, i, s.DocumentID, s.ChunkID, s.FileName, s.RelevanceScore, s.TextPreview)
			if err != nil {
				return fmt.Errorf("insert message source: %w", err)
			}
		}
		if _, err := tx.Exec(ctx, `
UPDATE chat_sessions SET message_count = message_count + 1, updated_at = NOW() WHERE id = $1`, m.SessionID); err != nil {
			return fmt.Errorf("bump message count: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.ChatMessage{}, err
	}
	return m, nil
}

// RecentMessages returns the last limit messages in chronological order,
// without sources.
func (r *ChatRepo) RecentMessages(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT id, session_id, role, content, created_at FROM (
  SELECT id::text, session_id::text, role, content, created_at
  FROM chat_messages
  WHERE session_id = $1
  ORDER BY created_at DESC
  LIMIT $2
) recent
ORDER BY created_at ASC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent chat messages: %w", err)
	}
	defer rows.Close()
	var out []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}
	return out, nil
}

// Messages returns the whole session transcript with sources attached.
func (r *ChatRepo) Messages(ctx context.Context, sessionID string) ([]models.ChatMessage, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT id::text, session_id::text, role, content, created_at
FROM chat_messages
WHERE session_id = $1
ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()
	var out []models.ChatMessage
	index := map[string]int{}
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		index[m.ID] = len(out)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}
	rows.Close()

	srcRows, err := r.db.Pool.Query(ctx, `
SELECT s.message_id::text, s.document_id::text, s.chunk_id::text, s.file_name, s.relevance_score, s.text_preview
FROM message_sources s
JOIN chat_messages m ON m.id = s.message_id
WHERE m.session_id = $1
ORDER BY s.message_id, s.position`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list message sources: %w", err)
	}
	defer srcRows.Close()
	for srcRows.Next() {
		var (
			msgID string
			s     models.MessageSource
		)
		if err := srcRows.Scan(&msgID, &s.DocumentID, &s.ChunkID, &s.FileName, &s.RelevanceScore, &s.TextPreview); err != nil {
			return nil, fmt.Errorf("scan message source: %w", err)
		}
		if i, ok := index[msgID]; ok {
			out[i].Sources = append(out[i].Sources, s)
		}
	}
	if err := srcRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message sources: %w", err)
	}
	return out, nil
}

func scanSession(row pgx.Row) (models.ChatSession, error) {
	var s models.ChatSession
	err := row.Scan(&s.ID, &s.TenantID, &s.UserID, &s.Title, &s.MessageCount, &s.CreatedAt, &s.UpdatedAt, &s.DeletedAt)
	return s, err
}
