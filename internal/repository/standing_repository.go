package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/hub-lending/internal/database"
	"github.com/iliyamo/hub-lending/internal/model"
)

// StandingRepo persists borrower standings.  A borrower without a row has
// a clean record.
type StandingRepo struct {
	db *database.DB
}

// NewStandingRepo constructs a StandingRepo.
func NewStandingRepo(db *database.DB) *StandingRepo { return &StandingRepo{db: db} }

const standingCols = `borrower_id, late_count, consecutive_late, restricted_until, updated_at`

func scanStanding(s rowScanner) (*model.BorrowerStanding, error) {
	var (
		st    model.BorrowerStanding
		until sql.NullTime
	)
	if err := s.Scan(&st.BorrowerID, &st.LateCount, &st.ConsecutiveLate, &until, &st.UpdatedAt); err != nil {
		return nil, err
	}
	st.RestrictedUntil = timePtr(until)
	st.UpdatedAt = st.UpdatedAt.UTC()
	return &st, nil
}

// Get returns a borrower's standing.  A borrower with no row gets a zero
// standing rather than ErrNotFound.
func (r *StandingRepo) Get(ctx context.Context, borrowerID uint64) (*model.BorrowerStanding, error) {
	return r.get(ctx, r.db, borrowerID)
}

// GetTx is Get inside a transaction.
func (r *StandingRepo) GetTx(ctx context.Context, tx *sql.Tx, borrowerID uint64) (*model.BorrowerStanding, error) {
	return r.get(ctx, tx, borrowerID)
}

func (r *StandingRepo) get(ctx context.Context, q querier, borrowerID uint64) (*model.BorrowerStanding, error) {
	st, err := scanStanding(q.QueryRowContext(ctx,
		`SELECT `+standingCols+` FROM borrower_standings WHERE borrower_id = ?`, borrowerID))
	if err == sql.ErrNoRows {
		return &model.BorrowerStanding{BorrowerID: borrowerID}, nil
	}
	return st, err
}

// ensureTx creates an empty row for the borrower if none exists.
func (r *StandingRepo) ensureTx(ctx context.Context, tx *sql.Tx, borrowerID uint64, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		r.db.Dialect.InsertIgnore()+` INTO borrower_standings (borrower_id, late_count, consecutive_late, updated_at) VALUES (?, 0, 0, ?)`,
		borrowerID, dbTime(now))
	return err
}

// AddLateTx increments both late counters and returns the updated row.
func (r *StandingRepo) AddLateTx(ctx context.Context, tx *sql.Tx, borrowerID uint64, now time.Time) (*model.BorrowerStanding, error) {
	if err := r.ensureTx(ctx, tx, borrowerID, now); err != nil {
		return nil, err
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE borrower_standings SET late_count = late_count + 1, consecutive_late = consecutive_late + 1, updated_at = ?
		 WHERE borrower_id = ?`, dbTime(now), borrowerID)
	if err != nil {
		return nil, err
	}
	return r.GetTx(ctx, tx, borrowerID)
}

// ResetConsecutiveTx clears the consecutive late counter after an on-time
// return.  Borrowers without a row are left alone.
func (r *StandingRepo) ResetConsecutiveTx(ctx context.Context, tx *sql.Tx, borrowerID uint64, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE borrower_standings SET consecutive_late = 0, updated_at = ? WHERE borrower_id = ? AND consecutive_late > 0`,
		dbTime(now), borrowerID)
	return err
}

// RestrictTx bars the borrower until the given instant.
func (r *StandingRepo) RestrictTx(ctx context.Context, tx *sql.Tx, borrowerID uint64, until, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE borrower_standings SET restricted_until = ?, updated_at = ? WHERE borrower_id = ?`,
		dbTime(until), dbTime(now), borrowerID)
	return err
}

// Lift clears an active restriction.  It reports false when the borrower
// was not restricted.
func (r *StandingRepo) Lift(ctx context.Context, borrowerID uint64, now time.Time) (bool, error) {
	n, err := affected(r.db.ExecContext(ctx,
		`UPDATE borrower_standings SET restricted_until = NULL, updated_at = ? WHERE borrower_id = ? AND restricted_until IS NOT NULL`,
		dbTime(now), borrowerID))
	return n == 1, err
}

// LiftExpired clears every restriction that ended at or before now and
// returns how many were cleared.
func (r *StandingRepo) LiftExpired(ctx context.Context, now time.Time) (int64, error) {
	return affected(r.db.ExecContext(ctx,
		`UPDATE borrower_standings SET restricted_until = NULL, updated_at = ? WHERE restricted_until IS NOT NULL AND restricted_until <= ?`,
		dbTime(now), dbTime(now)))
}
