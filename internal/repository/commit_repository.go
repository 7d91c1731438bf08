package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/hub-lending/internal/model"
)

// CommitRepo stores ledger commit tokens.  Tokens are only touched from
// inside a ledger transaction, so every method takes the *sql.Tx.
type CommitRepo struct{}

// NewCommitRepo constructs a CommitRepo.
func NewCommitRepo() *CommitRepo { return &CommitRepo{} }

// InsertTx records a freshly committed amount.
func (r *CommitRepo) InsertTx(ctx context.Context, tx *sql.Tx, t *model.CommitToken) error {
	t.CreatedAt = dbTime(t.CreatedAt)
	_, err := tx.ExecContext(ctx,
		`INSERT INTO commit_tokens (id, item_variant_id, quantity, created_at) VALUES (?, ?, ?, ?)`,
		t.ID, t.ItemVariantID, t.Quantity, t.CreatedAt)
	return err
}

// MarkReleasedTx sets released_at on an unreleased token.  It reports
// false when the token is unknown or was already released.
func (r *CommitRepo) MarkReleasedTx(ctx context.Context, tx *sql.Tx, id string, at time.Time) (bool, error) {
	n, err := affected(tx.ExecContext(ctx,
		`UPDATE commit_tokens SET released_at = ? WHERE id = ? AND released_at IS NULL`, dbTime(at), id))
	return n == 1, err
}

// GetTx loads a token or returns ErrNotFound.
func (r *CommitRepo) GetTx(ctx context.Context, tx *sql.Tx, id string) (*model.CommitToken, error) {
	var t model.CommitToken
	var released sql.NullTime
	err := tx.QueryRowContext(ctx,
		`SELECT id, item_variant_id, quantity, created_at, released_at FROM commit_tokens WHERE id = ?`, id).
		Scan(&t.ID, &t.ItemVariantID, &t.Quantity, &t.CreatedAt, &released)
	if err != nil {
		return nil, notFound(err)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.ReleasedAt = timePtr(released)
	return &t, nil
}
