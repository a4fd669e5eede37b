package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

func (s Store) CreateConversation(ctx context.Context, userID int64, title string) (Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultConversationTitle
	}

	createdAt, createdRaw := s.stamp()
	var id int64
	err := s.db.QueryRowContext(ctx, s.q(`
INSERT INTO conversations (user_id, title, created_at, updated_at)
VALUES (?, ?, ?, ?)
RETURNING id;
`), userID, title, createdRaw, createdRaw).Scan(&id)
	if err != nil {
		return Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}

	return Conversation{
		ID:        id,
		UserID:    userID,
		Title:     title,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}, nil
}

func (s Store) ListConversations(ctx context.Context, userID int64) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
SELECT id, user_id, title, created_at, updated_at
FROM conversations
WHERE user_id = ?
ORDER BY updated_at DESC, id DESC;
`), userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := make([]Conversation, 0, 16)
	for rows.Next() {
		conversation, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, conversation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

// GetConversation returns ErrNotFound when the conversation is missing or
// belongs to another user.
func (s Store) GetConversation(ctx context.Context, userID, conversationID int64) (Conversation, error) {
	return getConversation(ctx, s.db, s.q, userID, conversationID)
}

func (s Store) RenameConversation(ctx context.Context, userID, conversationID int64, title string) (Conversation, error) {
	var out Conversation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, s.q(`UPDATE conversations SET title = ? WHERE id = ? AND user_id = ?;`), title, conversationID, userID)
		if err != nil {
			return fmt.Errorf("rename conversation: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rename conversation: %w", err)
		}
		if affected == 0 {
			return ErrNotFound
		}
		out, err = getConversation(ctx, tx, s.q, userID, conversationID)
		return err
	})
	if err != nil {
		return Conversation{}, err
	}
	return out, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getConversation(ctx context.Context, conn queryRower, q func(string) string, userID, conversationID int64) (Conversation, error) {
	row := conn.QueryRowContext(ctx, q(`
SELECT id, user_id, title, created_at, updated_at
FROM conversations
WHERE id = ? AND user_id = ?
LIMIT 1;
`), conversationID, userID)
	conversation, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return conversation, nil
}

func scanConversation(row rowScanner) (Conversation, error) {
	var (
		out                    Conversation
		createdRaw, updatedRaw string
	)
	if err := row.Scan(&out.ID, &out.UserID, &out.Title, &createdRaw, &updatedRaw); err != nil {
		return Conversation{}, err
	}
	if err := scanTime(createdRaw, &out.CreatedAt); err != nil {
		return Conversation{}, err
	}
	if err := scanTime(updatedRaw, &out.UpdatedAt); err != nil {
		return Conversation{}, err
	}
	return out, nil
}
