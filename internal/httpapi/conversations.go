package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"mathqa/backend/internal/chat"
	"mathqa/backend/internal/store"
)

type conversationRequest struct {
	Title *string `json:"title"`
}

// messageRequest mirrors the message body clients send. conversation_id and
// is_user are accepted for compatibility; the path and the endpoint decide them.
type messageRequest struct {
	Content        string `json:"content"`
	IsUser         *bool  `json:"is_user,omitempty"`
	ConversationID *int64 `json:"conversation_id,omitempty"`
}

func (h Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req conversationRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	title := ""
	if req.Title != nil {
		title = *req.Title
	}

	conversation, err := h.store.CreateConversation(r.Context(), user.ID, title)
	if h.storeError(w, r, err, "create conversation") {
		return
	}
	writeJSON(w, http.StatusOK, conversation)
}

func (h Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	conversations, err := h.store.ListConversations(r.Context(), user.ID)
	if h.storeError(w, r, err, "list conversations") {
		return
	}
	if conversations == nil {
		conversations = []store.Conversation{}
	}
	writeJSON(w, http.StatusOK, conversations)
}

func (h Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	conversationID, ok := conversationIDParam(w, r)
	if !ok {
		return
	}

	conversation, err := h.store.GetConversation(r.Context(), user.ID, conversationID)
	if h.storeError(w, r, err, "read conversation") {
		return
	}
	writeJSON(w, http.StatusOK, conversation)
}

// RenameConversation takes the new title from ?title= or a JSON body.
func (h Handler) RenameConversation(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	conversationID, ok := conversationIDParam(w, r)
	if !ok {
		return
	}

	title, present := r.URL.Query()["title"]
	var newTitle string
	if present && len(title) > 0 {
		newTitle = title[0]
	} else {
		var req conversationRequest
		if err := decodeOptionalJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		if req.Title != nil {
			newTitle = *req.Title
		}
	}
	if strings.TrimSpace(newTitle) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "title is required")
		return
	}

	conversation, err := h.store.RenameConversation(r.Context(), user.ID, conversationID, newTitle)
	if h.storeError(w, r, err, "rename conversation") {
		return
	}
	writeJSON(w, http.StatusOK, conversation)
}

func (h Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	conversationID, ok := conversationIDParam(w, r)
	if !ok {
		return
	}

	if _, err := h.store.GetConversation(r.Context(), user.ID, conversationID); h.storeError(w, r, err, "read conversation") {
		return
	}
	messages, err := h.store.ListMessages(r.Context(), conversationID)
	if h.storeError(w, r, err, "list messages") {
		return
	}
	if messages == nil {
		messages = []store.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h Handler) SaveResponse(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	conversationID, ok := conversationIDParam(w, r)
	if !ok {
		return
	}

	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	message, err := h.chat.SaveResponse(r.Context(), user.ID, conversationID, req.Content)
	if errors.Is(err, chat.ErrEmptyContent) {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if h.storeError(w, r, err, "save response") {
		return
	}
	writeJSON(w, http.StatusOK, message)
}
