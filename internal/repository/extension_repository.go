package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/hub-lending/internal/database"
	"github.com/iliyamo/hub-lending/internal/model"
)

// ExtensionRepo persists extension requests.  A pending request carries
// its reservation id in open_reservation_id, whose unique index admits at
// most one pending request per reservation.  Closing a request clears the
// column.
type ExtensionRepo struct {
	db *database.DB
}

// NewExtensionRepo constructs an ExtensionRepo.
func NewExtensionRepo(db *database.DB) *ExtensionRepo { return &ExtensionRepo{db: db} }

const extensionCols = `id, reservation_id, requested_return_date, status, requested_by, resolved_by, resolved_at, reason, created_at`

func scanExtension(s rowScanner) (*model.ExtensionRequest, error) {
	var (
		e          model.ExtensionRequest
		status     string
		resolvedBy sql.NullInt64
		resolvedAt sql.NullTime
	)
	err := s.Scan(&e.ID, &e.ReservationID, &e.RequestedReturnDate, &status, &e.RequestedBy,
		&resolvedBy, &resolvedAt, &e.Reason, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Status = model.ExtensionStatus(status)
	e.RequestedReturnDate = e.RequestedReturnDate.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	if resolvedBy.Valid {
		by := uint64(resolvedBy.Int64)
		e.ResolvedBy = &by
	}
	e.ResolvedAt = timePtr(resolvedAt)
	return &e, nil
}

// CreateTx inserts a pending request.  A second pending request for the
// same reservation yields ErrConflict.
func (r *ExtensionRepo) CreateTx(ctx context.Context, tx *sql.Tx, e *model.ExtensionRequest, now time.Time) error {
	now = dbTime(now)
	e.RequestedReturnDate = dbTime(e.RequestedReturnDate)
	const q = `INSERT INTO extension_requests (reservation_id, open_reservation_id, requested_return_date, status, requested_by, reason, created_at)
	           VALUES (?, ?, ?, ?, ?, '', ?)`
	res, err := tx.ExecContext(ctx, q, e.ReservationID, e.ReservationID, e.RequestedReturnDate,
		string(model.ExtensionPending), e.RequestedBy, now)
	if err != nil {
		if database.IsDuplicate(err) {
			return ErrConflict
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = uint64(id)
	e.Status = model.ExtensionPending
	e.CreatedAt = now
	return nil
}

// GetByID loads a request or returns ErrNotFound.
func (r *ExtensionRepo) GetByID(ctx context.Context, id uint64) (*model.ExtensionRequest, error) {
	e, err := scanExtension(r.db.QueryRowContext(ctx, `SELECT `+extensionCols+` FROM extension_requests WHERE id = ?`, id))
	return e, notFound(err)
}

// GetByIDTx is GetByID inside a transaction.
func (r *ExtensionRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.ExtensionRequest, error) {
	e, err := scanExtension(tx.QueryRowContext(ctx, `SELECT `+extensionCols+` FROM extension_requests WHERE id = ?`, id))
	return e, notFound(err)
}

// GetPending returns the pending request of a reservation or ErrNotFound.
func (r *ExtensionRepo) GetPending(ctx context.Context, reservationID uint64) (*model.ExtensionRequest, error) {
	e, err := scanExtension(r.db.QueryRowContext(ctx,
		`SELECT `+extensionCols+` FROM extension_requests WHERE open_reservation_id = ?`, reservationID))
	return e, notFound(err)
}

// ListForReservation returns every request made for a reservation, oldest first.
func (r *ExtensionRepo) ListForReservation(ctx context.Context, reservationID uint64) ([]model.ExtensionRequest, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+extensionCols+` FROM extension_requests WHERE reservation_id = ? ORDER BY id`, reservationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ExtensionRequest{}
	for rows.Next() {
		e, err := scanExtension(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// ResolveTx closes a pending request with the given status.  It reports
// false when the request is no longer pending.
func (r *ExtensionRepo) ResolveTx(ctx context.Context, tx *sql.Tx, id uint64, status model.ExtensionStatus, by uint64, reason string, at time.Time) (bool, error) {
	const q = `UPDATE extension_requests
	           SET status = ?, open_reservation_id = NULL, resolved_by = ?, resolved_at = ?, reason = ?
	           WHERE id = ? AND status = ?`
	n, err := affected(tx.ExecContext(ctx, q, string(status), by, dbTime(at), reason, id, string(model.ExtensionPending)))
	return n == 1, err
}

// DenyOpenTx denies whatever request is pending for a reservation without
// a resolving steward.  It returns the id of the denied request, or zero
// when none was pending.
func (r *ExtensionRepo) DenyOpenTx(ctx context.Context, tx *sql.Tx, reservationID uint64, reason string, at time.Time) (uint64, error) {
	var id uint64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM extension_requests WHERE open_reservation_id = ?`, reservationID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	const q = `UPDATE extension_requests
	           SET status = ?, open_reservation_id = NULL, resolved_at = ?, reason = ?
	           WHERE id = ? AND status = ?`
	n, err := affected(tx.ExecContext(ctx, q, string(model.ExtensionDenied), dbTime(at), reason, id, string(model.ExtensionPending)))
	if err != nil || n == 0 {
		return 0, err
	}
	return id, nil
}
