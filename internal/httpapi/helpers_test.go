package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"mathqa/backend/internal/chat"
	"mathqa/backend/internal/config"
	"mathqa/backend/internal/db"
	"mathqa/backend/internal/llm"
	"mathqa/backend/internal/metrics"
	"mathqa/backend/internal/relay"
	"mathqa/backend/internal/session"
	"mathqa/backend/internal/store"

	_ "modernc.org/sqlite"
)

type upstreamCall struct {
	Path string
	Body string
}

// fakeUpstream stands in for both model services. /chat and /tot record the
// request body and answer with Reply unless Status is set.
type fakeUpstream struct {
	server *httptest.Server

	mu     sync.Mutex
	calls  []upstreamCall
	Reply  string
	Status int
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()

	u := &fakeUpstream{Reply: "data:{\"answer\":\"4\"}\n\n"}
	u.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		u.mu.Lock()
		u.calls = append(u.calls, upstreamCall{Path: r.URL.Path, Body: string(body)})
		status, reply := u.Status, u.Reply
		u.mu.Unlock()

		if status != 0 {
			w.WriteHeader(status)
			return
		}
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(u.server.Close)
	return u
}

func (u *fakeUpstream) Calls() []upstreamCall {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]upstreamCall(nil), u.calls...)
}

type testEnv struct {
	router   http.Handler
	store    store.Store
	conn     *sql.DB
	upstream *fakeUpstream
	metrics  *metrics.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
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

	upstream := newFakeUpstream(t)
	cfg := config.Config{
		AllowedOrigins:  []string{"*"},
		LLMAPIURL:       upstream.server.URL + "/chat",
		TOTAPIURL:       upstream.server.URL + "/tot",
		UpstreamTimeout: 5 * time.Second,
		SSEPingInterval: time.Minute,
		SessionTTL:      time.Hour,
	}

	m := metrics.New()
	st := store.New(database)
	streamer := relay.New(upstream.server.Client(), cfg.UpstreamTimeout, m, nil)
	service := chat.NewService(st, llm.NewRouter(streamer, cfg.LLMAPIURL, cfg.TOTAPIURL), nil)

	h := NewHandler(Deps{
		Config:   cfg,
		Store:    st,
		Sessions: session.NewStore(database),
		Chat:     service,
		Metrics:  m,
	})

	return &testEnv{router: NewRouter(h), store: st, conn: conn, upstream: upstream, metrics: m}
}

func (e *testEnv) do(t *testing.T, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	e.router.ServeHTTP(resp, req)
	return resp
}

func (e *testEnv) login(t *testing.T, username, password string) *httptest.ResponseRecorder {
	t.Helper()

	form := url.Values{"username": {username}, "password": {password}}
	req := httptest.NewRequest(http.MethodPost, "/api/users/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp := httptest.NewRecorder()
	e.router.ServeHTTP(resp, req)
	return resp
}

// registerAndLogin creates a user and returns a bearer token for it.
func (e *testEnv) registerAndLogin(t *testing.T, username string) string {
	t.Helper()

	body := `{"username":"` + username + `","email":"` + username + `@x.com","password":"pw123"}`
	if resp := e.do(t, http.MethodPost, "/api/users/register", "", body); resp.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d (%s)", username, resp.Code, resp.Body.String())
	}

	resp := e.login(t, username, "pw123")
	if resp.Code != http.StatusOK {
		t.Fatalf("login %s: status %d (%s)", username, resp.Code, resp.Body.String())
	}
	var token tokenResponse
	decodeJSONBody(t, resp, &token)
	return token.AccessToken
}

func (e *testEnv) createConversation(t *testing.T, token string) store.Conversation {
	t.Helper()

	resp := e.do(t, http.MethodPost, "/api/conversations", token, `{}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("create conversation: status %d (%s)", resp.Code, resp.Body.String())
	}
	var conversation store.Conversation
	decodeJSONBody(t, resp, &conversation)
	return conversation
}

func decodeJSONBody(t *testing.T, resp *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(resp.Body.Bytes(), target); err != nil {
		t.Fatalf("decode response: %v (body=%s)", err, resp.Body.String())
	}
}

func errorMessage(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	decodeJSONBody(t, resp, &body)
	return body.Error.Message
}

func withSessionUser(req *http.Request, userID int64) context.Context {
	return context.WithValue(req.Context(), sessionUserContextKey, store.User{ID: userID, IsActive: true})
}
