package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"incident-desk/config"
	"incident-desk/core/utils"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

func DialectFromConfig(cfg *config.AppConfig) Dialect {
	if cfg != nil && strings.EqualFold(strings.TrimSpace(cfg.DBDriver), "postgres") {
		return DialectPostgres
	}
	return DialectSQLite
}

// DBTX is the subset of *sql.DB and *sql.Tx the stores need.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func NewDB(cfg *config.AppConfig, logger *utils.Logger) (*sql.DB, error) {
	switch DialectFromConfig(cfg) {
	case DialectPostgres:
		db, err := sql.Open("pgx", cfg.DBURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		logger.Printf("database connected driver=postgres")
		return db, nil
	default:
		if dir := filepath.Dir(cfg.DBPath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		dsn := "file:" + cfg.DBPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// A single connection serializes writers, which is what gives the
		// read-check-write sequences their isolation on sqlite.
		db.SetMaxOpenConns(1)
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping sqlite: %w", err)
		}
		logger.Printf("database connected driver=sqlite path=%s", cfg.DBPath)
		return db, nil
	}
}

type rebindConn struct {
	DBTX
	dialect Dialect
}

func bind(db DBTX, dialect Dialect) DBTX {
	if dialect != DialectPostgres {
		return db
	}
	if rc, ok := db.(rebindConn); ok {
		return rc
	}
	return rebindConn{DBTX: db, dialect: dialect}
}

func (c rebindConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.DBTX.ExecContext(ctx, rebind(c.dialect, query), args...)
}

func (c rebindConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.DBTX.QueryContext(ctx, rebind(c.dialect, query), args...)
}

func (c rebindConn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.DBTX.QueryRowContext(ctx, rebind(c.dialect, query), args...)
}

// rebind rewrites ? placeholders into $n for postgres. Queries in this
// package never contain a literal question mark.
func rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func nullableString(v *string) any {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil
	}
	return strings.TrimSpace(*v)
}

func nullableCode(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
