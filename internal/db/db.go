package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"mathqa/backend/internal/config"

	_ "github.com/lib/pq"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DB couples a connection pool with the SQL dialect it speaks.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Rebind rewrites ? placeholders for dialects that number them.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func Open(cfg config.Config) (*DB, error) {
	driver, dialect, dsn, err := resolveDriver(cfg.DatabaseURL, cfg.DatabaseAuthToken)
	if err != nil {
		return nil, err
	}

	database, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", driver, err)
	}

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return &DB{DB: database, Dialect: dialect}, nil
}

// resolveDriver picks the database/sql driver from the URL scheme.
func resolveDriver(rawURL, authToken string) (driver string, dialect Dialect, dsn string, err error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", "", "", fmt.Errorf("empty database url")
	}

	switch {
	case strings.HasPrefix(trimmed, "postgres://"), strings.HasPrefix(trimmed, "postgresql://"):
		return "postgres", DialectPostgres, trimmed, nil
	case strings.HasPrefix(trimmed, "libsql://"),
		strings.HasPrefix(trimmed, "https://"),
		strings.HasPrefix(trimmed, "http://"),
		strings.HasPrefix(trimmed, "wss://"),
		strings.HasPrefix(trimmed, "ws://"):
		dsn, err := buildDSN(trimmed, authToken)
		if err != nil {
			return "", "", "", err
		}
		return "libsql", DialectSQLite, dsn, nil
	case strings.HasPrefix(trimmed, "sqlite:///"):
		// SQLAlchemy style: sqlite:///relative.db or sqlite:////abs/path.db
		return "sqlite", DialectSQLite, strings.TrimPrefix(trimmed, "sqlite:///"), nil
	default:
		return "sqlite", DialectSQLite, trimmed, nil
	}
}

func buildDSN(rawURL, authToken string) (string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return "", fmt.Errorf("empty database url")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse database url: %w", err)
	}

	if strings.HasPrefix(rawURL, "libsql://") {
		query := parsed.Query()
		if query.Get("authToken") == "" && strings.TrimSpace(authToken) != "" {
			query.Set("authToken", strings.TrimSpace(authToken))
			parsed.RawQuery = query.Encode()
		}
	}

	return parsed.String(), nil
}

// Migrate creates the schema if it does not exist yet.
func Migrate(ctx context.Context, database *DB) error {
	statements := sqliteSchema
	if database.Dialect == DialectPostgres {
		statements = postgresSchema
	}
	for _, stmt := range statements {
		if _, err := database.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
