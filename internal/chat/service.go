// Package chat ties conversation persistence to upstream dispatch.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mathqa/backend/internal/llm"
	"mathqa/backend/internal/logger"
	"mathqa/backend/internal/store"
)

const titleRunes = 30

var ErrEmptyContent = errors.New("message content is required")

type Store interface {
	GetConversation(ctx context.Context, userID, conversationID int64) (store.Conversation, error)
	AppendUserMessage(ctx context.Context, conversationID int64, content, firstTitle string) (store.Message, store.Conversation, error)
	AppendAssistantMessage(ctx context.Context, conversationID int64, content string) (store.Message, error)
	ListMessages(ctx context.Context, conversationID int64) ([]store.Message, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, mode llm.Mode, query string, history []string) <-chan string
}

type Service struct {
	store      Store
	dispatcher Dispatcher
	log        *logger.Logger
}

func NewService(s Store, d Dispatcher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{store: s, dispatcher: d, log: log.Component("chat")}
}

// PostMessage persists the user's message and returns the live upstream
// stream. The persistence commits before the upstream call starts. The
// answer itself is not persisted here; clients save it via SaveResponse.
func (s *Service) PostMessage(ctx context.Context, userID, conversationID int64, content string, mode llm.Mode) (<-chan string, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	if _, err := s.store.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	message, conversation, err := s.store.AppendUserMessage(ctx, conversationID, content, Title(content))
	if err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}

	s.log.Debug().
		Int64("conversation_id", conversationID).
		Int64("message_id", message.ID).
		Str("mode", mode.String()).
		Str("title", conversation.Title).
		Msg("user message stored")

	if mode == llm.ModeStatelessReasoning {
		return s.dispatcher.Dispatch(ctx, mode, content, nil), nil
	}

	messages, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return s.dispatcher.Dispatch(ctx, mode, content, History(messages)), nil
}

// SaveResponse stores an assistant answer the client assembled from a stream.
func (s *Service) SaveResponse(ctx context.Context, userID, conversationID int64, content string) (store.Message, error) {
	if strings.TrimSpace(content) == "" {
		return store.Message{}, ErrEmptyContent
	}
	if _, err := s.store.GetConversation(ctx, userID, conversationID); err != nil {
		return store.Message{}, err
	}
	message, err := s.store.AppendAssistantMessage(ctx, conversationID, content)
	if err != nil {
		return store.Message{}, fmt.Errorf("persist assistant message: %w", err)
	}
	return message, nil
}

// DirectChat relays to the context-aware service without touching storage.
func (s *Service) DirectChat(ctx context.Context, query string, history []string) <-chan string {
	return s.dispatcher.Dispatch(ctx, llm.ModeContextAware, query, history)
}

// DirectReason relays to the stateless reasoning service without touching storage.
func (s *Service) DirectReason(ctx context.Context, query string) <-chan string {
	return s.dispatcher.Dispatch(ctx, llm.ModeStatelessReasoning, query, nil)
}

// Title derives a conversation title from its first message.
func Title(content string) string {
	runes := []rune(content)
	if len(runes) <= titleRunes {
		return content
	}
	return string(runes[:titleRunes]) + "..."
}

// History flattens messages into upstream history, oldest first, without role tags.
func History(messages []store.Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.Content)
	}
	return out
}
