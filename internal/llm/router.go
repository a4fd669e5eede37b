// Package llm picks the upstream model service for a question and builds its payload.
package llm

import (
	"context"
	"strings"
)

type Mode int

const (
	// ModeContextAware sends the full conversation history along with the query.
	ModeContextAware Mode = iota
	// ModeStatelessReasoning sends only the query.
	ModeStatelessReasoning
)

// ParseMode maps the model query parameter to a mode. Only "tot" selects the
// stateless reasoning service. Anything else, including "", "tir" and unknown
// values, falls back to the context-aware service.
func ParseMode(raw string) Mode {
	if strings.EqualFold(strings.TrimSpace(raw), "tot") {
		return ModeStatelessReasoning
	}
	return ModeContextAware
}

func (m Mode) String() string {
	if m == ModeStatelessReasoning {
		return "tot"
	}
	return "tir"
}

// ChatRequest is the body accepted by the context-aware service.
type ChatRequest struct {
	Query       string   `json:"query"`
	HistoryChat []string `json:"history_chat"`
}

// ReasoningRequest is the body accepted by the stateless reasoning service.
type ReasoningRequest struct {
	Query string `json:"query"`
}

// Streamer opens one upstream stream. relay.Relay satisfies it.
type Streamer interface {
	Stream(ctx context.Context, upstream, url string, payload any) <-chan string
}

type Router struct {
	streamer     Streamer
	chatURL      string
	reasoningURL string
}

func NewRouter(streamer Streamer, chatURL, reasoningURL string) *Router {
	return &Router{streamer: streamer, chatURL: chatURL, reasoningURL: reasoningURL}
}

// Dispatch relays query to the service selected by mode. history is ignored
// in stateless mode.
func (r *Router) Dispatch(ctx context.Context, mode Mode, query string, history []string) <-chan string {
	if mode == ModeStatelessReasoning {
		return r.streamer.Stream(ctx, mode.String(), r.reasoningURL, ReasoningRequest{Query: query})
	}
	if history == nil {
		history = []string{}
	}
	return r.streamer.Stream(ctx, mode.String(), r.chatURL, ChatRequest{Query: query, HistoryChat: history})
}
