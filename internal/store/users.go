package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// CreateUser inserts a user after checking username then email, in that order.
func (s Store) CreateUser(ctx context.Context, username, email, hashedPassword string) (User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)

	taken, err := s.UsernameTaken(ctx, username)
	if err != nil {
		return User{}, err
	}
	if taken {
		return User{}, ErrUsernameTaken
	}
	taken, err = s.EmailTaken(ctx, email)
	if err != nil {
		return User{}, err
	}
	if taken {
		return User{}, ErrEmailTaken
	}

	createdAt, createdRaw := s.stamp()
	var id int64
	err = s.db.QueryRowContext(ctx, s.q(`
INSERT INTO users (username, email, hashed_password, is_active, created_at)
VALUES (?, ?, ?, ?, ?)
RETURNING id;
`), username, email, hashedPassword, true, createdRaw).Scan(&id)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}

	return User{
		ID:             id,
		Username:       username,
		Email:          email,
		HashedPassword: hashedPassword,
		IsActive:       true,
		CreatedAt:      createdAt,
	}, nil
}

func (s Store) UsernameTaken(ctx context.Context, username string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM users WHERE username = ? LIMIT 1;`, username)
}

func (s Store) EmailTaken(ctx context.Context, email string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM users WHERE email = ? LIMIT 1;`, email)
}

func (s Store) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.q(query), args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup user: %w", err)
	}
	return true, nil
}

func (s Store) UserByUsername(ctx context.Context, username string) (User, error) {
	return s.getUser(ctx, `WHERE username = ?`, strings.TrimSpace(username))
}

func (s Store) UserByID(ctx context.Context, id int64) (User, error) {
	return s.getUser(ctx, `WHERE id = ?`, id)
}

func (s Store) getUser(ctx context.Context, where string, arg any) (User, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
SELECT id, username, email, hashed_password, is_active, created_at
FROM users `+where+`
LIMIT 1;
`), arg)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func scanUser(row rowScanner) (User, error) {
	var (
		out        User
		createdRaw string
	)
	if err := row.Scan(&out.ID, &out.Username, &out.Email, &out.HashedPassword, &out.IsActive, &createdRaw); err != nil {
		return User{}, err
	}
	if err := scanTime(createdRaw, &out.CreatedAt); err != nil {
		return User{}, err
	}
	return out, nil
}
