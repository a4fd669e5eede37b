package chat

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"mathqa/backend/internal/db"
	"mathqa/backend/internal/llm"
	"mathqa/backend/internal/store"

	_ "modernc.org/sqlite"
)

type dispatchCall struct {
	mode    llm.Mode
	query   string
	history []string
}

type fakeDispatcher struct {
	calls []dispatchCall
}

func (f *fakeDispatcher) Dispatch(_ context.Context, mode llm.Mode, query string, history []string) <-chan string {
	f.calls = append(f.calls, dispatchCall{mode: mode, query: query, history: history})
	out := make(chan string, 1)
	out <- "data:ok\n\n"
	close(out)
	return out
}

func newTestService(t *testing.T) (*Service, store.Store, *fakeDispatcher) {
	t.Helper()

	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = conn.Close() })

	database := &db.DB{DB: conn, Dialect: db.DialectSQLite}
	if err := db.Migrate(context.Background(), database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	st := store.New(database)
	dispatcher := &fakeDispatcher{}
	return NewService(st, dispatcher, nil), st, dispatcher
}

func seedConversation(t *testing.T, st store.Store, username string) (store.User, store.Conversation) {
	t.Helper()

	ctx := context.Background()
	user, err := st.CreateUser(ctx, username, username+"@x.com", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	conversation, err := st.CreateConversation(ctx, user.ID, "")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return user, conversation
}

func drain(frames <-chan string) []string {
	var out []string
	for frame := range frames {
		out = append(out, frame)
	}
	return out
}

func TestPostMessageContextAwareSetsTitleAndSendsHistory(t *testing.T) {
	svc, st, dispatcher := newTestService(t)
	ctx := context.Background()
	user, conversation := seedConversation(t, st, "alice")

	frames, err := svc.PostMessage(ctx, user.ID, conversation.ID, "what is 2+2?", llm.ModeContextAware)
	if err != nil {
		t.Fatalf("post message: %v", err)
	}
	if got := drain(frames); len(got) != 1 {
		t.Fatalf("expected dispatched stream to be returned, got %q", got)
	}

	if len(dispatcher.calls) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(dispatcher.calls))
	}
	call := dispatcher.calls[0]
	if call.mode != llm.ModeContextAware || call.query != "what is 2+2?" {
		t.Fatalf("unexpected dispatch: %+v", call)
	}
	if len(call.history) != 1 || call.history[0] != "what is 2+2?" {
		t.Fatalf("history should include the new message: %q", call.history)
	}

	reloaded, err := st.GetConversation(ctx, user.ID, conversation.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Title != "what is 2+2?" {
		t.Fatalf("unexpected title: %q", reloaded.Title)
	}
}

func TestPostMessageStatelessOmitsHistory(t *testing.T) {
	svc, st, dispatcher := newTestService(t)
	ctx := context.Background()
	user, conversation := seedConversation(t, st, "alice")

	for _, content := range []string{"one", "two", "three"} {
		if _, _, err := st.AppendUserMessage(ctx, conversation.ID, content, Title(content)); err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}

	frames, err := svc.PostMessage(ctx, user.ID, conversation.ID, "prove sqrt 2 is irrational", llm.ModeStatelessReasoning)
	if err != nil {
		t.Fatalf("post message: %v", err)
	}
	drain(frames)

	call := dispatcher.calls[0]
	if call.mode != llm.ModeStatelessReasoning || call.history != nil {
		t.Fatalf("stateless dispatch must carry no history: %+v", call)
	}

	messages, err := st.ListMessages(ctx, conversation.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(messages) != 4 {
		t.Fatalf("expected the message to be stored even in stateless mode, got %d", len(messages))
	}
	reloaded, _ := st.GetConversation(ctx, user.ID, conversation.ID)
	if reloaded.Title != "one" {
		t.Fatalf("later messages must not change the title, got %q", reloaded.Title)
	}
}

func TestPostMessageForeignConversationHasNoSideEffects(t *testing.T) {
	svc, st, dispatcher := newTestService(t)
	ctx := context.Background()
	_, conversation := seedConversation(t, st, "alice")
	bob, _ := seedConversation(t, st, "bob")

	_, err := svc.PostMessage(ctx, bob.ID, conversation.ID, "hi", llm.ModeContextAware)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(dispatcher.calls) != 0 {
		t.Fatal("no upstream call expected for a foreign conversation")
	}
	messages, _ := st.ListMessages(ctx, conversation.ID)
	if len(messages) != 0 {
		t.Fatalf("expected no stored messages, got %d", len(messages))
	}
}

func TestPostMessageRejectsEmptyContent(t *testing.T) {
	svc, st, _ := newTestService(t)
	user, conversation := seedConversation(t, st, "alice")

	if _, err := svc.PostMessage(context.Background(), user.ID, conversation.ID, "   ", llm.ModeContextAware); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
}

func TestSaveResponseStoresAssistantMessage(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	user, conversation := seedConversation(t, st, "alice")

	message, err := svc.SaveResponse(ctx, user.ID, conversation.ID, "4")
	if err != nil {
		t.Fatalf("save response: %v", err)
	}
	if message.IsUser || message.Content != "4" {
		t.Fatalf("unexpected message: %+v", message)
	}

	reloaded, _ := st.GetConversation(ctx, user.ID, conversation.ID)
	if !reloaded.UpdatedAt.Equal(message.CreatedAt) {
		t.Fatalf("updated_at %v should equal message created_at %v", reloaded.UpdatedAt, message.CreatedAt)
	}

	if _, err := svc.SaveResponse(ctx, user.ID, conversation.ID+100, "x"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveResponseRejectsEmptyContent(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	user, conversation := seedConversation(t, st, "alice")

	if _, err := svc.SaveResponse(ctx, user.ID, conversation.ID, " \n "); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
	messages, _ := st.ListMessages(ctx, conversation.ID)
	if len(messages) != 0 {
		t.Fatalf("expected no stored messages, got %d", len(messages))
	}
}

func TestDirectCallsDispatchWithoutPersistence(t *testing.T) {
	svc, _, dispatcher := newTestService(t)
	ctx := context.Background()

	drain(svc.DirectChat(ctx, "q", []string{"a", "b"}))
	drain(svc.DirectReason(ctx, "r"))

	if len(dispatcher.calls) != 2 {
		t.Fatalf("expected two dispatches, got %d", len(dispatcher.calls))
	}
	if dispatcher.calls[0].mode != llm.ModeContextAware || len(dispatcher.calls[0].history) != 2 {
		t.Fatalf("unexpected direct chat dispatch: %+v", dispatcher.calls[0])
	}
	if dispatcher.calls[1].mode != llm.ModeStatelessReasoning || dispatcher.calls[1].query != "r" {
		t.Fatalf("unexpected direct reason dispatch: %+v", dispatcher.calls[1])
	}
}

func TestTitle(t *testing.T) {
	exact := strings.Repeat("a", 30)
	if got := Title(exact); got != exact {
		t.Fatalf("30-char content must not be truncated, got %q", got)
	}
	if got := Title(exact + "b"); got != exact+"..." {
		t.Fatalf("unexpected truncated title %q", got)
	}
	cjk := strings.Repeat("数", 31)
	if got := Title(cjk); got != strings.Repeat("数", 30)+"..." {
		t.Fatalf("truncation must count characters, got %q", got)
	}
}
