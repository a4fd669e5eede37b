package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"mathqa/backend/internal/chat"
	"mathqa/backend/internal/llm"
)

const defaultPingInterval = 15 * time.Second

type llmChatRequest struct {
	Query       string   `json:"query"`
	HistoryChat []string `json:"history_chat"`
}

type totChatRequest struct {
	Query string `json:"query"`
}

// PostMessage stores the user's message and streams the upstream answer.
func (h Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	conversationID, ok := conversationIDParam(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "server does not support streaming")
		return
	}

	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	mode := llm.ParseMode(r.URL.Query().Get("model"))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	frames, err := h.chat.PostMessage(ctx, user.ID, conversationID, req.Content, mode)
	if errors.Is(err, chat.ErrEmptyContent) {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if h.storeError(w, r, err, "post message") {
		return
	}

	h.streamFrames(ctx, w, flusher, frames)
}

// LLMChat relays a one-off question to the context-aware service.
func (h Handler) LLMChat(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "server does not support streaming")
		return
	}

	var req llmChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "query is required")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	h.streamFrames(ctx, w, flusher, h.chat.DirectChat(ctx, req.Query, req.HistoryChat))
}

// TOTChat relays a one-off question to the stateless reasoning service.
func (h Handler) TOTChat(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "server does not support streaming")
		return
	}

	var req totChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "query is required")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	h.streamFrames(ctx, w, flusher, h.chat.DirectReason(ctx, req.Query))
}

// streamFrames writes each frame as it arrives and keeps idle connections
// open with comment pings. The caller cancels ctx on return, which stops the
// relay if the client went away first.
func (h Handler) streamFrames(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, frames <-chan string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	interval := h.cfg.SSEPingInterval
	if interval <= 0 {
		interval = defaultPingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if _, err := io.WriteString(w, frame); err != nil {
				h.log.Debug().Err(err).Msg("client went away mid-stream")
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}
