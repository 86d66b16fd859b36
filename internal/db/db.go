package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"
)

const defaultDBName = "workplan.db"

// Dialect names a supported SQL backend.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// ParseDialect maps a driver flag to a Dialect. Empty means sqlite.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	default:
		return "", fmt.Errorf("unsupported db driver %q", s)
	}
}

type Config struct {
	Workspace string
	Driver    string
	DSN       string
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".workplan", defaultDBName)
}

// EnsureWorkspace creates workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	path := filepath.Join(workspace, ".workplan")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the configured store. SQLite gets foreign keys, a busy timeout
// and a single connection so writers serialise.
func Open(cfg Config) (*sql.DB, Dialect, error) {
	dialect, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, "", err
	}
	if dialect == Postgres {
		if cfg.DSN == "" {
			return nil, "", fmt.Errorf("postgres driver requires a dsn")
		}
		conn, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, "", fmt.Errorf("open postgres: %w", err)
		}
		return conn, dialect, nil
	}
	dsn := cfg.DSN
	if dsn == "" {
		if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
			return nil, "", err
		}
		dsn = SQLiteDSN(dbPath(cfg.Workspace))
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, "", err
	}
	conn.SetMaxOpenConns(1)
	return conn, dialect, nil
}

// SQLiteDSN builds the pragma-bearing DSN for a database file.
func SQLiteDSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}

// Rebind rewrites ? placeholders into the dialect's form. Quoted literals are
// left alone.
func Rebind(d Dialect, query string) string {
	if d != Postgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
