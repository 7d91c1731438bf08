package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"github.com/iliyamo/hub-lending/internal/config"
)

// Dialect names the SQL flavour behind a *sql.DB.  Queries are written in
// the common subset of MySQL and SQLite; the few statements that differ
// ask the dialect for their spelling.
type Dialect string

const (
	MySQL  Dialect = config.DriverMySQL
	SQLite Dialect = config.DriverSQLite
)

// InsertIgnore returns the INSERT prefix that silently skips rows
// violating a unique or primary key.
func (d Dialect) InsertIgnore() string {
	if d == SQLite {
		return "INSERT OR IGNORE"
	}
	return "INSERT IGNORE"
}

// DB couples a connection pool with its dialect.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Open connects to the database selected by cfg.DBDriver and verifies
// the connection.
func Open(ctx context.Context, cfg config.Config) (*DB, error) {
	switch cfg.DBDriver {
	case config.DriverMySQL:
		return OpenMySQL(ctx, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	case config.DriverSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath)
	}
	return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
}

// OpenMySQL connects to MySQL and verifies the connection.
func OpenMySQL(ctx context.Context, user, pass, host, port, name string) (*DB, error) {
	auth := user
	if pass != "" {
		auth = fmt.Sprintf("%s:%s", user, pass)
	}
	// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps times consistent
	dsn := fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		auth, host, port, name)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	// Pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := ping(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{DB: db, Dialect: MySQL}, nil
}

// OpenSQLite opens (creating if needed) a SQLite database file with WAL
// journaling, a busy timeout and foreign keys enabled.
func OpenSQLite(ctx context.Context, path string) (*DB, error) {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "NORMAL")
	q.Set("_busy_timeout", "5000")
	q.Set("_foreign_keys", "on")
	q.Set("_loc", "UTC")
	dsn := "file:" + path + "?" + q.Encode()

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite has a single writer; one connection turns contention into
	// queueing on the pool instead of SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := ping(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{DB: db, Dialect: SQLite}, nil
}

func ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Now returns t in the form every timestamp column stores: UTC with the
// sub-second part dropped.  SQLite compares timestamps as text, so all
// writers and query parameters must agree on this form.
func Now(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
