package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"mathqa/backend/internal/store"
)

func TestRegisterRejectsDuplicateUsernameAndEmail(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/users/register", "", `{"username":"alice","email":"a@x.com","password":"pw123"}`)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d (%s)", http.StatusCreated, resp.Code, resp.Body.String())
	}
	var created map[string]any
	decodeJSONBody(t, resp, &created)
	if created["username"] != "alice" || created["is_active"] != true {
		t.Fatalf("unexpected user body: %v", created)
	}
	if _, leaked := created["hashed_password"]; leaked {
		t.Fatal("password hash must not be returned")
	}

	resp = env.do(t, http.MethodPost, "/api/users/register", "", `{"username":"alice","email":"b@x.com","password":"pw123"}`)
	if resp.Code != http.StatusBadRequest || errorMessage(t, resp) != "用户名已被注册" {
		t.Fatalf("unexpected duplicate username response: %d %s", resp.Code, resp.Body.String())
	}

	resp = env.do(t, http.MethodPost, "/api/users/register", "", `{"username":"bob","email":"a@x.com","password":"pw123"}`)
	if resp.Code != http.StatusBadRequest || errorMessage(t, resp) != "邮箱已被注册" {
		t.Fatalf("unexpected duplicate email response: %d %s", resp.Code, resp.Body.String())
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []string{
		`{"username":"","email":"a@x.com","password":"pw"}`,
		`{"username":"alice","email":"not-an-email","password":"pw"}`,
		`{"username":"alice","email":"a@x.com","password":""}`,
		`not json`,
	} {
		if resp := env.do(t, http.MethodPost, "/api/users/register", "", body); resp.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", body, resp.Code)
		}
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.registerAndLogin(t, "alice")

	resp := env.login(t, "alice", "wrong")
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, resp.Code)
	}
	if errorMessage(t, resp) != "用户名或密码错误" {
		t.Fatalf("unexpected message: %s", resp.Body.String())
	}
	if resp.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Fatal("expected WWW-Authenticate header")
	}

	if resp := env.login(t, "nobody", "pw123"); resp.Code != http.StatusUnauthorized {
		t.Fatalf("unknown user should get 401, got %d", resp.Code)
	}
}

func TestLoginAcceptsJSONBody(t *testing.T) {
	env := newTestEnv(t)
	env.registerAndLogin(t, "alice")

	resp := env.do(t, http.MethodPost, "/api/users/login", "", `{"username":"alice","password":"pw123"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d (%s)", http.StatusOK, resp.Code, resp.Body.String())
	}
	var token tokenResponse
	decodeJSONBody(t, resp, &token)
	if token.AccessToken == "" || token.TokenType != "bearer" {
		t.Fatalf("unexpected token response: %+v", token)
	}
}

func TestMeRequiresValidBearerToken(t *testing.T) {
	env := newTestEnv(t)
	token := env.registerAndLogin(t, "alice")

	resp := env.do(t, http.MethodGet, "/api/users/me", token, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	var me store.User
	decodeJSONBody(t, resp, &me)
	if me.Username != "alice" || me.Email != "alice@x.com" {
		t.Fatalf("unexpected user: %+v", me)
	}

	for _, bad := range []string{"", "not-a-token"} {
		resp := env.do(t, http.MethodGet, "/api/users/me", bad, "")
		if resp.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for token %q, got %d", bad, resp.Code)
		}
		if resp.Header().Get("WWW-Authenticate") != "Bearer" {
			t.Fatal("expected WWW-Authenticate header")
		}
	}
}

func TestRequireSessionRejectsInactiveUser(t *testing.T) {
	env := newTestEnv(t)
	token := env.registerAndLogin(t, "alice")

	if _, err := env.conn.ExecContext(context.Background(), `UPDATE users SET is_active = 0 WHERE username = 'alice';`); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	resp := env.do(t, http.MethodGet, "/api/users/me", token, "")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d (%s)", http.StatusBadRequest, resp.Code, resp.Body.String())
	}
}

func TestLogoutInvalidatesToken(t *testing.T) {
	env := newTestEnv(t)
	token := env.registerAndLogin(t, "alice")

	if resp := env.do(t, http.MethodPost, "/api/users/logout", token, ""); resp.Code != http.StatusOK {
		t.Fatalf("logout: status %d", resp.Code)
	}
	if resp := env.do(t, http.MethodGet, "/api/users/me", token, ""); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected revoked token to be rejected, got %d", resp.Code)
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":    "abc",
		"bearer  abc  ": "abc",
		"Basic abc":     "",
		"Bearer":        "",
		"":              "",
	}
	for header, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		got, ok := bearerToken(req)
		if got != want || ok != (want != "") {
			t.Fatalf("bearerToken(%q) = %q, %v", header, got, ok)
		}
	}
}
