package store

import (
	"context"
	"database/sql"
	"fmt"
)

// AppendUserMessage inserts a user-authored message. When it is the first
// message of the conversation the title becomes firstTitle. The conversation's
// updated_at is then set to the message's created_at. All writes share one
// transaction.
func (s Store) AppendUserMessage(ctx context.Context, conversationID int64, content, firstTitle string) (Message, Conversation, error) {
	var (
		message      Message
		conversation Conversation
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		message, err = s.insertMessage(ctx, tx, conversationID, true, content)
		if err != nil {
			return err
		}

		var count int
		if err := tx.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM messages WHERE conversation_id = ?;`), conversationID).Scan(&count); err != nil {
			return fmt.Errorf("count messages: %w", err)
		}
		if count == 1 {
			if _, err := tx.ExecContext(ctx, s.q(`UPDATE conversations SET title = ? WHERE id = ?;`), firstTitle, conversationID); err != nil {
				return fmt.Errorf("set conversation title: %w", err)
			}
		}

		if err := s.touchConversation(ctx, tx, conversationID, message); err != nil {
			return err
		}

		conversation, err = s.conversationByID(ctx, tx, conversationID)
		return err
	})
	if err != nil {
		return Message{}, Conversation{}, err
	}
	return message, conversation, nil
}

// AppendAssistantMessage stores an assistant answer and refreshes updated_at.
func (s Store) AppendAssistantMessage(ctx context.Context, conversationID int64, content string) (Message, error) {
	var message Message
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		message, err = s.insertMessage(ctx, tx, conversationID, false, content)
		if err != nil {
			return err
		}
		return s.touchConversation(ctx, tx, conversationID, message)
	})
	if err != nil {
		return Message{}, err
	}
	return message, nil
}

// ListMessages returns the conversation's messages oldest first.
func (s Store) ListMessages(ctx context.Context, conversationID int64) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
SELECT id, conversation_id, is_user, content, created_at
FROM messages
WHERE conversation_id = ?
ORDER BY created_at ASC, id ASC;
`), conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, 32)
	for rows.Next() {
		var (
			message    Message
			createdRaw string
		)
		if err := rows.Scan(&message.ID, &message.ConversationID, &message.IsUser, &message.Content, &createdRaw); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if err := scanTime(createdRaw, &message.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

func (s Store) insertMessage(ctx context.Context, tx *sql.Tx, conversationID int64, isUser bool, content string) (Message, error) {
	createdAt, createdRaw := s.stamp()
	var id int64
	err := tx.QueryRowContext(ctx, s.q(`
INSERT INTO messages (conversation_id, is_user, content, created_at)
VALUES (?, ?, ?, ?)
RETURNING id;
`), conversationID, isUser, content, createdRaw).Scan(&id)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return Message{
		ID:             id,
		ConversationID: conversationID,
		IsUser:         isUser,
		Content:        content,
		CreatedAt:      createdAt,
	}, nil
}

func (s Store) touchConversation(ctx context.Context, tx *sql.Tx, conversationID int64, message Message) error {
	if _, err := tx.ExecContext(ctx, s.q(`UPDATE conversations SET updated_at = ? WHERE id = ?;`), FormatTime(message.CreatedAt), conversationID); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

func (s Store) conversationByID(ctx context.Context, tx *sql.Tx, conversationID int64) (Conversation, error) {
	row := tx.QueryRowContext(ctx, s.q(`
SELECT id, user_id, title, created_at, updated_at
FROM conversations
WHERE id = ?;
`), conversationID)
	conversation, err := scanConversation(row)
	if err != nil {
		return Conversation{}, fmt.Errorf("reload conversation: %w", err)
	}
	return conversation, nil
}
