package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrLockTimeout means a unit of work could not obtain the locks it needed
// before its deadline.  It is transient; retrying the whole unit is safe.
var ErrLockTimeout = errors.New("lock timeout")

// WithTx runs fn inside one transaction bounded by timeout.  fn's error
// rolls the transaction back; a nil return commits it.  A deadline hit by
// the unit itself, or a lock error reported by the driver, is returned as
// ErrLockTimeout.  Cancellation of the parent context is returned as is.
func (db *DB) WithTx(ctx context.Context, timeout time.Duration, fn func(tx *sql.Tx) error) (err error) {
	uctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		uctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrLockTimeout) {
			err = fmt.Errorf("%w: %w", ErrLockTimeout, err)
		}
	}()

	tx, err := db.BeginTx(uctx, nil)
	if err != nil {
		return lockErr(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return lockErr(err)
	}
	committed = true
	return nil
}

func lockErr(err error) error {
	if IsLockTimeout(err) {
		return fmt.Errorf("%w: %w", ErrLockTimeout, err)
	}
	return err
}
