package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// querier is the subset of *sql.DB and *sql.Tx the repositories use.
// Reads that feed a decision inside a unit of work must run on the
// transaction; the SQLite pool has a single connection and a read on the
// pool would wait for the transaction holding it.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// notFound converts sql.ErrNoRows into ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// affected returns the number of rows changed by a statement.
func affected(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// dbTime is the stored form of every timestamp parameter.
func dbTime(t time.Time) time.Time { return t.UTC().Truncate(time.Second) }

// nullTime converts an optional time into a driver parameter.
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return dbTime(*t)
}

// timePtr converts a scanned nullable column.
func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
