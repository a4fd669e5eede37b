package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"mathqa/backend/internal/db"
	"mathqa/backend/internal/store"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("session not found")

// Store issues opaque bearer tokens. Only their SHA-256 hash is persisted.
type Store struct {
	db      *sql.DB
	dialect db.Dialect
	now     func() time.Time
}

func NewStore(database *db.DB) Store {
	return Store{db: database.DB, dialect: database.Dialect, now: store.Now}
}

func (s Store) WithClock(now func() time.Time) Store {
	s.now = now
	return s
}

func (s Store) CreateSession(ctx context.Context, userID int64, ttl time.Duration) (string, time.Time, error) {
	rawToken, err := randomToken(32)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate session token: %w", err)
	}

	now := s.now().UTC()
	expiresAt := now.Add(ttl)
	query := s.dialect.Rebind(`INSERT INTO sessions (id, user_id, token_hash, expires_at, created_at) VALUES (?, ?, ?, ?, ?);`)

	if _, err := s.db.ExecContext(ctx, query, uuid.NewString(), userID, hashToken(rawToken), store.FormatTime(expiresAt), store.FormatTime(now)); err != nil {
		return "", time.Time{}, fmt.Errorf("create session: %w", err)
	}

	return rawToken, expiresAt, nil
}

// ResolveSession returns the user owning an unexpired token.
func (s Store) ResolveSession(ctx context.Context, rawToken string) (store.User, error) {
	query := s.dialect.Rebind(`
SELECT u.id, u.username, u.email, u.hashed_password, u.is_active, u.created_at
FROM sessions s
JOIN users u ON u.id = s.user_id
WHERE s.token_hash = ? AND s.expires_at > ?
LIMIT 1;
`)

	var (
		out        store.User
		createdRaw string
	)
	err := s.db.QueryRowContext(ctx, query, hashToken(rawToken), store.FormatTime(s.now())).Scan(
		&out.ID,
		&out.Username,
		&out.Email,
		&out.HashedPassword,
		&out.IsActive,
		&createdRaw,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, ErrNotFound
	}
	if err != nil {
		return store.User{}, fmt.Errorf("resolve session: %w", err)
	}
	if out.CreatedAt, err = store.ParseTime(createdRaw); err != nil {
		return store.User{}, fmt.Errorf("resolve session: %w", err)
	}
	return out, nil
}

func (s Store) DeleteSession(ctx context.Context, rawToken string) error {
	if strings.TrimSpace(rawToken) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM sessions WHERE token_hash = ?;`), hashToken(rawToken))
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// PurgeExpired removes sessions whose expiry has passed.
func (s Store) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM sessions WHERE expires_at <= ?;`), store.FormatTime(s.now()))
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return result.RowsAffected()
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
