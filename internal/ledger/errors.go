package ledger

import (
	"errors"
	"fmt"

	"github.com/iliyamo/hub-lending/internal/database"
)

var (
	// ErrInsufficientStock means fewer units are available than requested.
	// It is an expected outcome, not a fault.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrItemInactive means the item variant no longer accepts reservations.
	ErrItemInactive = errors.New("item variant is inactive")
	// ErrInvalidQuantity rejects non-positive quantities.
	ErrInvalidQuantity = errors.New("quantity must be positive")
	// ErrLockTimeout means the ledger could not obtain its row lock in
	// time.  It is transient and distinct from ErrInsufficientStock.
	ErrLockTimeout = database.ErrLockTimeout

	// ErrInvariantViolation means a write would break
	// 0 <= available <= total.  It indicates a bug and is never corrected
	// automatically.
	ErrInvariantViolation = errors.New("ledger invariant violation")
	// ErrDoubleRelease means a commit token was released twice.
	ErrDoubleRelease = errors.New("commit token already released")
)

// IsInvariantViolation reports whether err signals corrupted ledger state
// that must be raised to an operator.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrInvariantViolation) || errors.Is(err, ErrDoubleRelease)
}

// classify maps driver errors onto ledger sentinels.  Unknown errors are
// returned unchanged.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case database.IsLockTimeout(err):
		return fmt.Errorf("%w: %w", ErrLockTimeout, err)
	case database.IsCheckViolation(err):
		return fmt.Errorf("%w: %w", ErrInvariantViolation, err)
	}
	return err
}

// Classify is classify for callers that run their own statements inside a
// ledger unit of work.
func Classify(err error) error { return classify(err) }
