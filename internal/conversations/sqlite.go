package conversations

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alexandertaboriskiy/navixmind/pkg/models"
)

// SQLiteStore implements Store on the shared SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a conversation store backed by an opened database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, title string) (*models.Conversation, error) {
	now := s.now()
	id := uuid.NewString()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (uuid, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		id, title, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("conversation id: %w", err)
	}
	return &models.Conversation{
		ID:        rowID,
		UUID:      id,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

const conversationColumns = `id, uuid, title, archived, summary, summarized_up_to_id, created_at, updated_at`

func (s *SQLiteStore) scanConversation(row *sql.Row) (*models.Conversation, error) {
	var conv models.Conversation
	err := row.Scan(&conv.ID, &conv.UUID, &conv.Title, &conv.Archived,
		&conv.Summary, &conv.SummarizedUpToID, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	return &conv, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	return s.scanConversation(row)
}

func (s *SQLiteStore) GetByUUID(ctx context.Context, id string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE uuid = ?`, id)
	return s.scanConversation(row)
}

func (s *SQLiteStore) ListConversations(ctx context.Context, includeArchived bool) ([]*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations`
	if !includeArchived {
		query += ` WHERE archived = 0`
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []*models.Conversation
	for rows.Next() {
		var conv models.Conversation
		if err := rows.Scan(&conv.ID, &conv.UUID, &conv.Title, &conv.Archived,
			&conv.Summary, &conv.SummarizedUpToID, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, &conv)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetTitle(ctx context.Context, id int64, title string) error {
	return s.updateConversation(ctx, id, `UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`, title)
}

func (s *SQLiteStore) SetArchived(ctx context.Context, id int64, archived bool) error {
	return s.updateConversation(ctx, id, `UPDATE conversations SET archived = ?, updated_at = ? WHERE id = ?`, archived)
}

func (s *SQLiteStore) updateConversation(ctx context.Context, id int64, query string, value any) error {
	res, err := s.db.ExecContext(ctx, query, value, s.now(), id)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) AddMessage(ctx context.Context, conversationID int64, role models.Role, content string, attachments []models.Attachment, toolCalls []models.ToolCall) (*models.Message, error) {
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	msg := &models.Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		TokenCount:     models.EstimateTokens(content),
		CreatedAt:      now,
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content, token_count, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		conversationID, role, content, msg.TokenCount, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	msg.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}

	for _, att := range attachments {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO attachments (message_id, type, path, filename, mime_type, size)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			msg.ID, att.Type, att.Path, att.Filename, att.MimeType, att.Size,
		)
		if err != nil {
			return nil, fmt.Errorf("insert attachment: %w", err)
		}
		att.ID, _ = res.LastInsertId()
		msg.Attachments = append(msg.Attachments, att)
	}

	for _, tc := range toolCalls {
		if tc.Status == "" {
			tc.Status = models.ToolCallPending
		}
		input := tc.Input
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tool_calls (id, message_id, name, input, status) VALUES (?, ?, ?, ?, ?)`,
			tc.ID, msg.ID, tc.Name, string(input), tc.Status,
		); err != nil {
			return nil, fmt.Errorf("insert tool call: %w", err)
		}
		msg.ToolCalls = append(msg.ToolCalls, tc)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, now, conversationID,
	); err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return msg, nil
}

func (s *SQLiteStore) GetMessages(ctx context.Context, conversationID int64) ([]*models.Message, error) {
	return s.MessagesAfter(ctx, conversationID, 0)
}

func (s *SQLiteStore) MessagesAfter(ctx context.Context, conversationID, afterID int64) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, token_count, created_at
		 FROM messages WHERE conversation_id = ? AND id > ? ORDER BY id ASC`,
		conversationID, afterID,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content,
			&msg.TokenCount, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, msg := range out {
		if err := s.loadMessageChildren(ctx, msg); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteStore) loadMessageChildren(ctx context.Context, msg *models.Message) error {
	attRows, err := s.db.QueryContext(ctx,
		`SELECT id, type, path, filename, mime_type, size FROM attachments WHERE message_id = ?`, msg.ID)
	if err != nil {
		return fmt.Errorf("query attachments: %w", err)
	}
	defer attRows.Close()
	for attRows.Next() {
		var att models.Attachment
		if err := attRows.Scan(&att.ID, &att.Type, &att.Path, &att.Filename, &att.MimeType, &att.Size); err != nil {
			return fmt.Errorf("scan attachment: %w", err)
		}
		msg.Attachments = append(msg.Attachments, att)
	}
	if err := attRows.Err(); err != nil {
		return err
	}

	tcRows, err := s.db.QueryContext(ctx,
		`SELECT id, name, input, output, status, duration_ms FROM tool_calls WHERE message_id = ?`, msg.ID)
	if err != nil {
		return fmt.Errorf("query tool calls: %w", err)
	}
	defer tcRows.Close()
	for tcRows.Next() {
		var tc models.ToolCall
		var input string
		var output sql.NullString
		if err := tcRows.Scan(&tc.ID, &tc.Name, &input, &output, &tc.Status, &tc.DurationMs); err != nil {
			return fmt.Errorf("scan tool call: %w", err)
		}
		tc.Input = json.RawMessage(input)
		if output.Valid {
			tc.Output = json.RawMessage(output.String)
		}
		msg.ToolCalls = append(msg.ToolCalls, tc)
	}
	return tcRows.Err()
}

func (s *SQLiteStore) CountMessages(ctx context.Context, conversationID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) SetSummary(ctx context.Context, conversationID int64, summary string, upToID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET summary = ?, summarized_up_to_id = ?, updated_at = ? WHERE id = ?`,
		summary, upToID, s.now(), conversationID,
	)
	if err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) UpdateToolCall(ctx context.Context, toolCallID string, status models.ToolCallStatus, output json.RawMessage, durationMs int64) error {
	var outputVal any
	if output != nil {
		outputVal = string(output)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tool_calls SET status = ?, output = ?, duration_ms = ? WHERE id = ?`,
		status, outputVal, durationMs, toolCallID,
	)
	if err != nil {
		return fmt.Errorf("update tool call: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
