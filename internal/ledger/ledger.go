// Package ledger is the only writer of item quantities.  Every change is
// a single conditional UPDATE executed inside the caller's transaction;
// the ledger never reads a quantity and then writes a value derived from
// it, so concurrent callers cannot both win the last unit.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/iliyamo/hub-lending/internal/clock"
	"github.com/iliyamo/hub-lending/internal/model"
	"github.com/iliyamo/hub-lending/internal/repository"
)

// Ledger commits and releases item quantities.
type Ledger struct {
	items   *repository.ItemRepo
	commits *repository.CommitRepo
	clock   clock.Clock
}

// New constructs a Ledger over the given repositories.
func New(items *repository.ItemRepo, commits *repository.CommitRepo, clk clock.Clock) *Ledger {
	return &Ledger{items: items, commits: commits, clock: clk}
}

// Reserve takes quantity units of an item variant out of circulation and
// returns the commit token recording it.  On ErrInsufficientStock,
// ErrItemInactive or repository.ErrNotFound nothing was written.
func (l *Ledger) Reserve(ctx context.Context, tx *sql.Tx, itemVariantID uint64, quantity int) (model.CommitToken, error) {
	if quantity <= 0 {
		return model.CommitToken{}, ErrInvalidQuantity
	}
	now := l.clock.Now()
	ok, err := l.items.TakeTx(ctx, tx, itemVariantID, quantity, now)
	if err != nil {
		return model.CommitToken{}, classify(err)
	}
	if !ok {
		return model.CommitToken{}, l.explainMiss(ctx, tx, itemVariantID)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return model.CommitToken{}, fmt.Errorf("new commit token id: %w", err)
	}
	tok := model.CommitToken{ID: id.String(), ItemVariantID: itemVariantID, Quantity: quantity, CreatedAt: now}
	if err := l.commits.InsertTx(ctx, tx, &tok); err != nil {
		return model.CommitToken{}, classify(err)
	}
	return tok, nil
}

// explainMiss tells why a conditional take matched no row.  The read only
// chooses the error; the decision was already made by the UPDATE.
func (l *Ledger) explainMiss(ctx context.Context, tx *sql.Tx, itemVariantID uint64) error {
	it, err := l.items.GetByIDTx(ctx, tx, itemVariantID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return repository.ErrNotFound
	case err != nil:
		return classify(err)
	case !it.IsActive:
		return ErrItemInactive
	}
	return ErrInsufficientStock
}

// Release returns a token's quantity to the available pool.  Releasing a
// token twice yields ErrDoubleRelease; a release that would push
// available above total yields ErrInvariantViolation.  Either way the
// caller must roll back.
func (l *Ledger) Release(ctx context.Context, tx *sql.Tx, tokenID string) error {
	tok, err := l.commits.GetTx(ctx, tx, tokenID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: unknown commit token %s", ErrInvariantViolation, tokenID)
		}
		return classify(err)
	}
	now := l.clock.Now()
	ok, err := l.commits.MarkReleasedTx(ctx, tx, tok.ID, now)
	if err != nil {
		return classify(err)
	}
	if !ok {
		return fmt.Errorf("%w: token %s", ErrDoubleRelease, tok.ID)
	}
	ok, err = l.items.GiveBackTx(ctx, tx, tok.ItemVariantID, tok.Quantity, now)
	if err != nil {
		return classify(err)
	}
	if !ok {
		return fmt.Errorf("%w: releasing %d of item %d exceeds total", ErrInvariantViolation, tok.Quantity, tok.ItemVariantID)
	}
	return nil
}

// AdjustTotal records donation intake (delta > 0) or decommissioning
// (delta < 0).  Decommissioning only removes available units and yields
// ErrInsufficientStock when fewer are available.  The reservation path
// never calls this.
func (l *Ledger) AdjustTotal(ctx context.Context, tx *sql.Tx, itemVariantID uint64, delta int) error {
	if delta == 0 {
		return ErrInvalidQuantity
	}
	now := l.clock.Now()
	var (
		ok  bool
		err error
	)
	if delta > 0 {
		ok, err = l.items.GrowTx(ctx, tx, itemVariantID, delta, now)
	} else {
		ok, err = l.items.ShrinkTx(ctx, tx, itemVariantID, -delta, now)
	}
	if err != nil {
		return classify(err)
	}
	if ok {
		return nil
	}
	if _, err := l.items.GetByIDTx(ctx, tx, itemVariantID); err != nil {
		return err
	}
	return ErrInsufficientStock
}
