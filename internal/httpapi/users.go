package httpapi

import (
	"errors"
	"mime"
	"net/http"
	"net/mail"
	"strings"

	"mathqa/backend/internal/auth"
	"mathqa/backend/internal/store"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (h Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "a valid email is required")
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		h.internalError(w, r, err, "failed to hash password")
		return
	}

	user, err := h.store.CreateUser(r.Context(), req.Username, req.Email, hashed)
	switch {
	case errors.Is(err, store.ErrUsernameTaken):
		writeError(w, http.StatusBadRequest, "username_taken", msgUsernameTaken)
		return
	case errors.Is(err, store.ErrEmailTaken):
		writeError(w, http.StatusBadRequest, "email_taken", msgEmailTaken)
		return
	case err != nil:
		h.internalError(w, r, err, "failed to create user")
		return
	}

	h.log.Info().Int64("user_id", user.ID).Str("username", user.Username).Msg("user registered")
	writeJSON(w, http.StatusCreated, user)
}

// Login accepts the OAuth2 password form as well as a JSON body.
func (h Handler) Login(w http.ResponseWriter, r *http.Request) {
	req, err := readLoginRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	user, err := h.store.UserByUsername(r.Context(), req.Username)
	if errors.Is(err, store.ErrNotFound) {
		writeUnauthorized(w, msgBadCredentials)
		return
	}
	if err != nil {
		h.internalError(w, r, err, "failed to read user")
		return
	}

	if err := auth.CheckPassword(user.HashedPassword, req.Password); err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			h.log.Warn().Err(err).Int64("user_id", user.ID).Msg("stored password hash rejected")
		}
		writeUnauthorized(w, msgBadCredentials)
		return
	}

	token, _, err := h.sessions.CreateSession(r.Context(), user.ID, h.cfg.SessionTTL)
	if err != nil {
		h.internalError(w, r, err, "failed to create session")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

func readLoginRequest(r *http.Request) (loginRequest, error) {
	var req loginRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		if err := decodeJSON(r, &req); err != nil {
			return loginRequest{}, err
		}
	default:
		if err := r.ParseForm(); err != nil {
			return loginRequest{}, err
		}
		req.Username = r.PostForm.Get("username")
		req.Password = r.PostForm.Get("password")
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		return loginRequest{}, errors.New("username and password are required")
	}
	return req, nil
}

func (h Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if rawToken, ok := bearerToken(r); ok {
		if err := h.sessions.DeleteSession(r.Context(), rawToken); err != nil {
			h.internalError(w, r, err, "failed to delete session")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
