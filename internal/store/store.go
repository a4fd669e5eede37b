package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mathqa/backend/internal/db"
)

const (
	// TimeLayout is the fixed-width UTC format used for every stored timestamp.
	TimeLayout = "2006-01-02T15:04:05.000000Z"

	DefaultConversationTitle = "新对话"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrUsernameTaken = errors.New("username already registered")
	ErrEmailTaken    = errors.New("email already registered")
)

type User struct {
	ID             int64     `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	HashedPassword string    `json:"-"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

type Conversation struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	IsUser         bool      `json:"is_user"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

type Store struct {
	db      *sql.DB
	dialect db.Dialect
	now     func() time.Time
}

func New(database *db.DB) Store {
	return Store{db: database.DB, dialect: database.Dialect, now: Now}
}

// WithClock returns a copy of the store that stamps rows with now.
func (s Store) WithClock(now func() time.Time) Store {
	s.now = now
	return s
}

// Now is the default clock, truncated to the precision that TimeLayout keeps.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func ParseTime(raw string) (time.Time, error) {
	return time.Parse(TimeLayout, raw)
}

func (s Store) q(query string) string {
	return s.dialect.Rebind(query)
}

func (s Store) stamp() (time.Time, string) {
	t := s.now().UTC().Truncate(time.Microsecond)
	return t, FormatTime(t)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTime(raw string, target *time.Time) error {
	parsed, err := ParseTime(raw)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	*target = parsed
	return nil
}

func (s Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
