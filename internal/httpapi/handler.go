package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"mathqa/backend/internal/chat"
	"mathqa/backend/internal/config"
	"mathqa/backend/internal/logger"
	"mathqa/backend/internal/metrics"
	"mathqa/backend/internal/ocr"
	"mathqa/backend/internal/session"
	"mathqa/backend/internal/store"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

const (
	msgConversationNotFound = "对话不存在"
	msgUsernameTaken        = "用户名已被注册"
	msgEmailTaken           = "邮箱已被注册"
	msgBadCredentials       = "用户名或密码错误"
	msgInvalidCredentials   = "无法验证凭据"
	msgInactiveUser         = "用户未激活"
)

type Handler struct {
	cfg      config.Config
	store    store.Store
	sessions session.Store
	chat     *chat.Service
	ocr      *ocr.Client
	ocrErr   error
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// Deps carries everything the handler needs. OCR may be nil, in which case
// OCRErr explains why and the OCR endpoints report it.
type Deps struct {
	Config   config.Config
	Store    store.Store
	Sessions session.Store
	Chat     *chat.Service
	OCR      *ocr.Client
	OCRErr   error
	Metrics  *metrics.Metrics
	Logger   *logger.Logger
}

func NewHandler(d Deps) Handler {
	log := d.Logger
	if log == nil {
		log = logger.Nop()
	}
	ocrErr := d.OCRErr
	if d.OCR == nil && ocrErr == nil {
		ocrErr = ocr.ErrMissingCredentials
	}
	return Handler{
		cfg:      d.Config,
		store:    d.Store,
		sessions: d.Sessions,
		chat:     d.Chat,
		ocr:      d.OCR,
		ocrErr:   ocrErr,
		metrics:  d.Metrics,
		log:      log.Component("httpapi"),
	}
}

type contextKey string

const sessionUserContextKey contextKey = "session_user"

func (h Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RequireSession resolves the bearer token into the current user.
func (h Handler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawToken, ok := bearerToken(r)
		if !ok {
			writeUnauthorized(w, msgInvalidCredentials)
			return
		}

		user, err := h.sessions.ResolveSession(r.Context(), rawToken)
		if errors.Is(err, session.ErrNotFound) {
			writeUnauthorized(w, msgInvalidCredentials)
			return
		}
		if err != nil {
			h.internalError(w, r, err, "failed to resolve session")
			return
		}
		if !user.IsActive {
			writeError(w, http.StatusBadRequest, "inactive_user", msgInactiveUser)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionUserContextKey, user)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func sessionUserFromContext(ctx context.Context) (store.User, bool) {
	user, ok := ctx.Value(sessionUserContextKey).(store.User)
	return user, ok
}

// currentUser is only called behind RequireSession.
func (h Handler) currentUser(w http.ResponseWriter, r *http.Request) (store.User, bool) {
	user, ok := sessionUserFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, msgInvalidCredentials)
	}
	return user, ok
}

func conversationIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusNotFound, "not_found", msgConversationNotFound)
		return 0, false
	}
	return id, true
}

// storeError maps persistence errors onto responses. It reports whether it
// wrote one.
func (h Handler) storeError(w http.ResponseWriter, r *http.Request, err error, action string) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", msgConversationNotFound)
	default:
		h.internalError(w, r, err, "failed to "+action)
	}
	return true
}

func (h Handler) internalError(w http.ResponseWriter, r *http.Request, err error, message string) {
	h.log.Error().
		Err(err).
		Str("request_id", chimw.GetReqID(r.Context())).
		Str("path", r.URL.Path).
		Msg(message)
	writeError(w, http.StatusInternalServerError, "db_error", message)
}
